package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

func newQueueHarness(t *testing.T) (store.DB, *store.Queue, *store.Tasks, *store.Reports, *store.Scanners, *taskstate.StateMachine) {
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

	q := store.NewQueue(db)
	tasks := store.NewTasks(db)
	reports := store.NewReports(db)
	scanners := store.NewScanners(db)
	sm := taskstate.New(tasks, reports, q)
	return db, q, tasks, reports, scanners, sm
}

// Q-1: the Scan Queue never admits more than K concurrently.
func TestScanQueueAdmissionSemaphoreRespectsCap(t *testing.T) {
	ctx := context.Background()
	_, q, tasks, reports, scanners, sm := newQueueHarness(t)

	if err := scanners.CreateScanner(ctx, &model.Scanner{UUID: "s1", Kind: model.ScannerOSP}); err != nil {
		t.Fatalf("create scanner: %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		task := &model.Task{Name: "t", Owner: "o", ScannerUUID: "s1", TargetUUID: "tgt"}
		if err := tasks.CreateTask(ctx, task); err != nil {
			t.Fatalf("create task: %v", err)
		}
		caller := taskstate.Principal{UUID: "u", Permissions: map[string]bool{model.PermStartTask: true}}
		if _, err := sm.Start(ctx, task.UUID, caller); err != nil {
			t.Fatalf("start: %v", err)
		}
		got, err := tasks.FindTask(ctx, task.UUID)
		if err != nil {
			t.Fatalf("find task: %v", err)
		}
		if err := sm.EnqueueFull(ctx, got, got.CurrentReport); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	depth, err := q.ScanQueueDepth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != n {
		t.Fatalf("expected %d queued entries, got %d", n, depth)
	}

	sq := NewScanQueue(q, scanners, tasks, sm, nil, 2, nil)
	_, err = sq.Store.ScanQueueTake(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !sq.Admission.TryAcquire() {
		t.Fatal("expected first admission slot available")
	}
	if !sq.Admission.TryAcquire() {
		t.Fatal("expected second admission slot available")
	}
	if sq.Admission.TryAcquire() {
		t.Fatal("expected third admission to be refused: cap is 2")
	}
}
