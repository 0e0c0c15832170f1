package taskstate

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

func newMachine(t *testing.T) (*StateMachine, store.DB) {
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
	return New(store.NewTasks(db), store.NewReports(db), store.NewQueue(db)), db
}

func mustCreateTask(t *testing.T, sm *StateMachine) *model.Task {
	t.Helper()
	task := &model.Task{Name: "t", Owner: "owner-1", ScannerUUID: "scanner-1", TargetUUID: "target-1"}
	if err := sm.Tasks.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestStartRequiresPermission(t *testing.T) {
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)

	_, err := sm.Start(context.Background(), task.UUID, Principal{UUID: "u"})
	if !apperror.Is(err, apperror.PermissionDenied) {
		t.Fatalf("expected PermissionDenied without start_task, got %v", err)
	}

	caller := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}
	rep, err := sm.Start(context.Background(), task.UUID, caller)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rep.TaskUUID != task.UUID {
		t.Fatalf("expected report bound to task, got %s", rep.TaskUUID)
	}

	got, err := sm.Tasks.FindTask(context.Background(), task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskRequested {
		t.Fatalf("expected REQUESTED, got %s", got.Status)
	}
	if got.CurrentReport != rep.UUID {
		t.Fatal("expected current_report_uuid to be set to the new report")
	}
}

// SM-1 / dedup: concurrent Start calls against the same NEW task must
// produce exactly one REQUESTED winner, the rest Conflict.
func TestConcurrentStartDedup(t *testing.T) {
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	caller := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}

	const n = 8
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sm.Start(context.Background(), task.UUID, caller)
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range successes {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning Start, got %d", wins)
	}
}

func TestFullLifecycleRunningToDone(t *testing.T) {
	ctx := context.Background()
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	caller := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}

	if _, err := sm.Start(ctx, task.UUID, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sm.AdmitFromQueue(ctx, task.UUID); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := sm.ScanComplete(ctx, task.UUID); err != nil {
		t.Fatalf("scan complete: %v", err)
	}
	if err := sm.PostDone(ctx, task.UUID); err != nil {
		t.Fatalf("post done: %v", err)
	}

	got, err := sm.Tasks.FindTask(ctx, task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskDone {
		t.Fatalf("expected DONE, got %s", got.Status)
	}

	rep, err := sm.Reports.FindReport(ctx, got.CurrentReport)
	if err != nil {
		t.Fatalf("find report: %v", err)
	}
	if rep.RunStatus != model.RunDone {
		t.Fatalf("expected report Done, got %s", rep.RunStatus)
	}
}

// SM-2: DONE is only reachable through PROCESSING; skipping straight
// from RUNNING to post-done must be refused.
func TestDoneRequiresProcessingObservation(t *testing.T) {
	ctx := context.Background()
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	caller := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}

	if _, err := sm.Start(ctx, task.UUID, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sm.AdmitFromQueue(ctx, task.UUID); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := sm.PostDone(ctx, task.UUID); err == nil {
		t.Fatal("expected post-done to be rejected from RUNNING (must pass through PROCESSING)")
	}
}

func TestStopSequence(t *testing.T) {
	ctx := context.Background()
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	startCaller := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}
	stopCaller := Principal{UUID: "u", Permissions: map[string]bool{model.PermStopTask: true}}

	if _, err := sm.Start(ctx, task.UUID, startCaller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sm.AdmitFromQueue(ctx, task.UUID); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := sm.Stop(ctx, task.UUID, stopCaller); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sm.AckStop(ctx, task.UUID); err != nil {
		t.Fatalf("ack stop: %v", err)
	}
	if err := sm.CompleteStop(ctx, task.UUID); err != nil {
		t.Fatalf("complete stop: %v", err)
	}

	got, err := sm.Tasks.FindTask(ctx, task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskStopped {
		t.Fatalf("expected STOPPED, got %s", got.Status)
	}

	rep, err := sm.Reports.FindReport(ctx, got.CurrentReport)
	if err != nil {
		t.Fatalf("find report: %v", err)
	}
	if rep.RunStatus != model.RunStopped {
		t.Fatalf("expected report Stopped, got %s", rep.RunStatus)
	}
	if rep.ScanEnd == nil {
		t.Fatal("expected scan_end to be set on stop")
	}
}

func TestResumeReusesReport(t *testing.T) {
	ctx := context.Background()
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	start := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}
	stop := Principal{UUID: "u", Permissions: map[string]bool{model.PermStopTask: true}}
	resume := Principal{UUID: "u", Permissions: map[string]bool{model.PermResumeTask: true}}

	rep1, err := sm.Start(ctx, task.UUID, start)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sm.AdmitFromQueue(ctx, task.UUID)
	sm.Stop(ctx, task.UUID, stop)
	sm.AckStop(ctx, task.UUID)
	if err := sm.CompleteStop(ctx, task.UUID); err != nil {
		t.Fatalf("complete stop: %v", err)
	}

	rep2, err := sm.Resume(ctx, task.UUID, resume)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if rep2.UUID != rep1.UUID {
		t.Fatalf("expected resume to reuse report %s, got %s", rep1.UUID, rep2.UUID)
	}
	if rep2.RunStatus != model.RunRequested {
		t.Fatalf("expected reused report back in Requested, got %s", rep2.RunStatus)
	}

	got, err := sm.Tasks.FindTask(ctx, task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskRequested {
		t.Fatalf("expected REQUESTED after resume, got %s", got.Status)
	}
}

func TestMoveRefusedWhileRunning(t *testing.T) {
	ctx := context.Background()
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	start := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}
	modify := Principal{UUID: "u", Permissions: map[string]bool{model.PermModifyTask: true}}

	sm.Start(ctx, task.UUID, start)
	sm.AdmitFromQueue(ctx, task.UUID)

	err := sm.Move(ctx, task.UUID, "scanner-2", modify)
	if !apperror.Is(err, apperror.Conflict) {
		t.Fatalf("expected Conflict moving a RUNNING task, got %v", err)
	}
}

func TestWorkerErrorInterruptsTask(t *testing.T) {
	ctx := context.Background()
	sm, _ := newMachine(t)
	task := mustCreateTask(t, sm)
	start := Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}

	sm.Start(ctx, task.UUID, start)
	sm.AdmitFromQueue(ctx, task.UUID)

	if err := sm.WorkerError(ctx, task.UUID, context.DeadlineExceeded); err != nil {
		t.Fatalf("worker error: %v", err)
	}

	got, err := sm.Tasks.FindTask(ctx, task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskInterrupted {
		t.Fatalf("expected INTERRUPTED, got %s", got.Status)
	}
}
