package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
)

func newTestDB(t *testing.T) DB {
	t.Helper()
	dir := t.TempDir()
	db, err := NewSQLite(config.DatabaseConfig{Path: filepath.Join(dir, "govmd.db")})
	if err != nil {
		t.Fatalf("opening test sqlite db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTaskCreateFindSetStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tasks := NewTasks(db)

	task := &model.Task{
		Name:        "nightly sweep",
		Owner:       "owner-1",
		ScannerUUID: "scanner-1",
		TargetUUID:  "target-1",
	}
	if err := tasks.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.UUID == "" {
		t.Fatal("expected CreateTask to assign a UUID")
	}

	got, err := tasks.FindTask(ctx, task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskNew {
		t.Fatalf("expected new task in NEW status, got %s", got.Status)
	}

	if err := tasks.SetTaskStatus(ctx, task.UUID, model.TaskRequested); err != nil {
		t.Fatalf("set task status: %v", err)
	}
	got, err = tasks.FindTask(ctx, task.UUID)
	if err != nil {
		t.Fatalf("find task after status change: %v", err)
	}
	if got.Status != model.TaskRequested {
		t.Fatalf("expected REQUESTED, got %s", got.Status)
	}
}

func TestFindTaskNotFound(t *testing.T) {
	ctx := context.Background()
	tasks := NewTasks(newTestDB(t))
	_, err := tasks.FindTask(ctx, "does-not-exist")
	if !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected NotFound apperror, got %v", err)
	}
}

func TestReportLifecycleAndSeverityTracking(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reports := NewReports(db)

	rep, err := reports.CreateReport(ctx, "task-uuid-1")
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	if rep.RunStatus != model.RunRequested {
		t.Fatalf("expected Requested, got %s", rep.RunStatus)
	}

	for _, next := range []model.RunStatus{model.RunQueued, model.RunRunning, model.RunProcessing} {
		if err := reports.SetRunStatus(ctx, rep.UUID, next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}

	if err := reports.AppendResult(ctx, &model.Result{ReportID: rep.ID, Host: "10.0.0.1", Severity: 9.8}); err != nil {
		t.Fatalf("append result: %v", err)
	}
	if err := reports.AppendResult(ctx, &model.Result{ReportID: rep.ID, Host: "10.0.0.1", Severity: 4.0}); err != nil {
		t.Fatalf("append lower-severity result: %v", err)
	}

	got, err := reports.FindReport(ctx, rep.UUID)
	if err != nil {
		t.Fatalf("find report: %v", err)
	}
	if got.MaxSeverity != 9.8 {
		t.Fatalf("expected max_severity to track the highest appended result, got %v", got.MaxSeverity)
	}

	// Res-1: a regression from Processing back to Running must be refused.
	if err := reports.SetRunStatus(ctx, rep.UUID, model.RunRunning); err == nil {
		t.Fatal("expected regression from Processing to Running to be refused")
	}

	if err := reports.SetRunStatus(ctx, rep.UUID, model.RunDone); err != nil {
		t.Fatalf("advance to Done: %v", err)
	}

	if err := reports.TrimPartialReport(ctx, rep.UUID); err != nil {
		t.Fatalf("trim partial report: %v", err)
	}
	got, err = reports.FindReport(ctx, rep.UUID)
	if err != nil {
		t.Fatalf("find report after trim: %v", err)
	}
	if got.MaxSeverity != model.SeverityLogSentinel {
		t.Fatalf("expected trim to reset max_severity, got %v", got.MaxSeverity)
	}
}

func TestScanQueueAddTakeIsFIFOAndAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	queue := NewQueue(db)

	for i, reportUUID := range []string{"report-a", "report-b", "report-c"} {
		entry := &model.ScanQueueEntry{ReportUUID: reportUUID, TaskUUID: "task-1", ScannerUUID: "scanner-1", OwnerUUID: "owner-1"}
		if err := queue.ScanQueueAdd(ctx, entry); err != nil {
			t.Fatalf("add entry %d: %v", i, err)
		}
	}

	depth, err := queue.ScanQueueDepth(ctx)
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("expected depth 3, got %d", depth)
	}

	first, err := queue.ScanQueueTake(ctx)
	if err != nil {
		t.Fatalf("take first: %v", err)
	}
	if first.ReportUUID != "report-a" {
		t.Fatalf("expected FIFO order, got %s first", first.ReportUUID)
	}

	depth, err = queue.ScanQueueDepth(ctx)
	if err != nil {
		t.Fatalf("queue depth after take: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected depth 2 after one take, got %d", depth)
	}
}

func TestScanQueueTakeOnEmptyQueueIsNotFound(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(newTestDB(t))
	_, err := queue.ScanQueueTake(ctx)
	if !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected NotFound on empty queue, got %v", err)
	}
}

func TestScheduleRoundTripsNullableFields(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	schedules := NewSchedules(db)

	// A bare recurring schedule with no duration/period/next-fire-time set.
	bare := &model.Schedule{UUID: "sched-bare", ICalendar: "FREQ=DAILY", Zone: "UTC"}
	if err := schedules.CreateSchedule(ctx, bare); err != nil {
		t.Fatalf("create bare schedule: %v", err)
	}
	got, err := schedules.FindSchedule(ctx, "sched-bare")
	if err != nil {
		t.Fatalf("find bare schedule: %v", err)
	}
	if got.Duration != nil || got.PeriodCount != nil || got.NextFireTime != nil {
		t.Fatalf("expected nil optional fields to round-trip as nil, got %+v", got)
	}
	if !got.IsOneOff() {
		t.Fatal("a schedule with no duration and no period is one-off")
	}

	dur := 30 * time.Minute
	period := 5
	next := time.Now().UTC().Truncate(time.Second)
	full := &model.Schedule{UUID: "sched-full", ICalendar: "FREQ=WEEKLY", Zone: "America/New_York",
		Duration: &dur, PeriodCount: &period, NextFireTime: &next}
	if err := schedules.CreateSchedule(ctx, full); err != nil {
		t.Fatalf("create full schedule: %v", err)
	}
	got, err = schedules.FindSchedule(ctx, "sched-full")
	if err != nil {
		t.Fatalf("find full schedule: %v", err)
	}
	if got.Duration == nil || *got.Duration != dur {
		t.Fatalf("expected duration %v to round-trip, got %+v", dur, got.Duration)
	}
	if got.PeriodCount == nil || *got.PeriodCount != period {
		t.Fatalf("expected period %d to round-trip, got %+v", period, got.PeriodCount)
	}
	if got.IsOneOff() {
		t.Fatal("a schedule with a period count is not one-off")
	}

	if err := schedules.SetNextFireTime(ctx, "sched-full", nil); err != nil {
		t.Fatalf("clear next fire time: %v", err)
	}
	got, err = schedules.FindSchedule(ctx, "sched-full")
	if err != nil {
		t.Fatalf("find full schedule after clear: %v", err)
	}
	if got.NextFireTime != nil {
		t.Fatal("expected next_fire_time to be cleared")
	}
}

func TestTargetCredentialRefsRoundTrip(t *testing.T) {
	ctx := context.Background()
	targets := NewTargets(newTestDB(t))

	tgt := &model.Target{
		UUID:             "target-1",
		HostsSpec:        "10.0.0.1, 10.0.0.2 ,10.0.0.3",
		ExcludeHostsSpec: "10.0.0.2",
		CredentialRefs:   map[string]string{"ssh": "cred-ssh-1", "snmp": "cred-snmp-1"},
	}
	if err := targets.CreateTarget(ctx, tgt); err != nil {
		t.Fatalf("create target: %v", err)
	}

	got, err := targets.FindTarget(ctx, "target-1")
	if err != nil {
		t.Fatalf("find target: %v", err)
	}
	if got.CredentialRefs["ssh"] != "cred-ssh-1" || got.CredentialRefs["snmp"] != "cred-snmp-1" {
		t.Fatalf("expected credential refs to round-trip, got %+v", got.CredentialRefs)
	}
	hosts := got.Hosts()
	if len(hosts) != 3 || hosts[0] != "10.0.0.1" || hosts[1] != "10.0.0.2" {
		t.Fatalf("expected trimmed comma-split hosts, got %v", hosts)
	}
}
