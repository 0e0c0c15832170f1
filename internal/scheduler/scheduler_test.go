package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

func newSchedulerHarness(t *testing.T) (*Scheduler, *store.Tasks, *store.Schedules) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewSQLite(config.DatabaseConfig{Path: filepath.Join(dir, "govmd.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schedules := store.NewSchedules(db)
	tasks := store.NewTasks(db)
	reports := store.NewReports(db)
	queue := store.NewQueue(db)
	sm := taskstate.New(tasks, reports, queue)

	sched := New(schedules, tasks, reports, sm, stubConnFactory{}, nil, 0, time.Hour, nil)
	return sched, tasks, schedules
}

type stubConnFactory struct{}

func (stubConnFactory) Open(ctx context.Context, ownerUUID string) (taskstate.Principal, error) {
	return taskstate.Principal{
		UUID: ownerUUID,
		Permissions: map[string]bool{
			model.PermStartTask: true,
			model.PermStopTask:  true,
		},
	}, nil
}

// S-1: a schedule's due fire produces exactly one action, and the
// schedule never double-fires once its next-fire-time has been advanced
// past the task's lifetime (here: cleared entirely, since the fixture
// RRULE is a single past occurrence with no future fire).
func TestCollectActionsAdvancesNextFireAndAvoidsDoubleFire(t *testing.T) {
	ctx := context.Background()
	sched, tasks, schedules := newSchedulerHarness(t)

	task := &model.Task{Name: "t1", Owner: "owner-1", ScannerUUID: "s1", TargetUUID: "tgt", ScheduleUUID: "sched-1"}
	if err := tasks.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	s := &model.Schedule{
		UUID:         "sched-1",
		ICalendar:    "DTSTART:20200101T000000Z\nRRULE:FREQ=DAILY;COUNT=1",
		Zone:         "",
		NextFireTime: &past,
	}
	if err := schedules.CreateSchedule(ctx, s); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	actions, err := sched.collectActions(ctx)
	if err != nil {
		t.Fatalf("collectActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected exactly one action on first due tick, got %d", len(actions))
	}
	if actions[0].Kind != ActionStart || actions[0].TaskUUID != task.UUID {
		t.Fatalf("unexpected action: %+v", actions[0])
	}

	again, err := sched.collectActions(ctx)
	if err != nil {
		t.Fatalf("collectActions second call: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no actions once next-fire-time has been cleared, got %d", len(again))
	}
}

func TestCollectActionsDispatchesStopForRunningTask(t *testing.T) {
	ctx := context.Background()
	sched, tasks, schedules := newSchedulerHarness(t)

	task := &model.Task{Name: "t1", Owner: "owner-1", ScannerUUID: "s1", TargetUUID: "tgt", ScheduleUUID: "sched-1"}
	if err := tasks.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := tasks.SetTaskStatus(ctx, task.UUID, model.TaskRunning); err != nil {
		t.Fatalf("set status running: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	s := &model.Schedule{
		UUID:         "sched-1",
		ICalendar:    "DTSTART:20200101T000000Z\nRRULE:FREQ=DAILY;COUNT=1",
		NextFireTime: &past,
	}
	if err := schedules.CreateSchedule(ctx, s); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	actions, err := sched.collectActions(ctx)
	if err != nil {
		t.Fatalf("collectActions: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionStop {
		t.Fatalf("expected a single stop action for a running task, got %+v", actions)
	}
}
