package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/dispatch"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

func newHarness(t *testing.T) (*Supervisor, *taskstate.StateMachine, *model.Task) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "govmd.db")

	newDB := func() (store.DB, error) {
		return store.NewSQLite(config.DatabaseConfig{Path: dbPath})
	}
	db, err := newDB()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tasks := store.NewTasks(db)
	reports := store.NewReports(db)
	queue := store.NewQueue(db)
	sm := taskstate.New(tasks, reports, queue)

	targets := store.NewTargets(db)
	if err := targets.CreateTarget(context.Background(), &model.Target{UUID: "tgt", HostsSpec: "10.0.0.1"}); err != nil {
		t.Fatalf("create target: %v", err)
	}

	task := &model.Task{Name: "t", Owner: "o", ScannerUUID: "s", TargetUUID: "tgt"}
	if err := tasks.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	caller := taskstate.Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}
	if _, err := sm.Start(context.Background(), task.UUID, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sm.AdmitFromQueue(context.Background(), task.UUID); err != nil {
		t.Fatalf("admit: %v", err)
	}

	d := dispatch.New(nil, targets, reports)
	sup := New(newDB, d, sm, time.Millisecond, nil)
	return sup, sm, task
}

func TestSpawnInterruptsOnMissingVariant(t *testing.T) {
	sup, sm, task := newHarness(t)
	scanner := model.Scanner{UUID: "s", Kind: model.ScannerHTTP}

	status := <-sup.Spawn(context.Background(), *task, scanner, dispatch.FromStart)
	if status.Success {
		t.Fatal("expected failure: no variant registered for HTTP scanner kind")
	}
	if status.Err == nil {
		t.Fatal("expected non-nil error")
	}

	got, err := sm.Tasks.FindTask(context.Background(), task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskInterrupted {
		t.Fatalf("expected INTERRUPTED after unregistered-variant failure, got %s", got.Status)
	}
}

func TestSpawnSucceedsAndMarksScanComplete(t *testing.T) {
	sup, sm, task := newHarness(t)
	sup.Dispatcher.Register(model.ScannerHTTP, noopVariant{})
	scanner := model.Scanner{UUID: "s", Kind: model.ScannerHTTP}

	status := <-sup.Spawn(context.Background(), *task, scanner, dispatch.FromStart)
	if !status.Success {
		t.Fatalf("expected success, got error %v", status.Err)
	}

	got, err := sm.Tasks.FindTask(context.Background(), task.UUID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if got.Status != model.TaskProcessing {
		t.Fatalf("expected PROCESSING after a clean scan completion, got %s", got.Status)
	}
}

// noopVariant finishes on the first poll with no results, exercising the
// Supervisor's success path independent of any real scanner transport.
type noopVariant struct{}

func (noopVariant) Prepare(ctx context.Context, task model.Task, target model.Target, from dispatch.From) error {
	return nil
}
func (noopVariant) Start(ctx context.Context, task model.Task, target model.Target, from dispatch.From) (string, error) {
	return "handle", nil
}
func (noopVariant) Poll(ctx context.Context, handle string) (dispatch.RemoteStatus, bool, error) {
	return dispatch.RemoteFinished, true, nil
}
func (noopVariant) Ingest(ctx context.Context, handle string, ing *dispatch.Ingester) error {
	return nil
}
func (noopVariant) Finalize(ctx context.Context, handle string) error { return nil }
func (noopVariant) Stop(ctx context.Context, handle string) error    { return nil }
