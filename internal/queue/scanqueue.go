// Package queue implements the Scan Queue and Report Import Queue (spec
// §4.G, §4.H): bounded admission of queued scans into worker slots, and
// per-report locked import of finished-but-unimported reports.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/dispatch"
	"github.com/ov-project/govmd/internal/lockutil"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
	"github.com/ov-project/govmd/internal/worker"
)

// ScanQueue admits up to K concurrently RUNNING scans off a FIFO backlog
// (spec §4.G). K is enforced by a SCAN_UPDATE-named counting semaphore so
// admission and release are symmetric regardless of which tick performs
// them.
type ScanQueue struct {
	Store      *store.Queue
	Scanners   *store.Scanners
	Tasks      *store.Tasks
	Machine    *taskstate.StateMachine
	Supervisor *worker.Supervisor
	Admission  *lockutil.NamedSemaphore
	Log        *slog.Logger
}

func NewScanQueue(s *store.Queue, scanners *store.Scanners, tasks *store.Tasks, sm *taskstate.StateMachine, sup *worker.Supervisor, maxConcurrent int, log *slog.Logger) *ScanQueue {
	if log == nil {
		log = slog.Default()
	}
	return &ScanQueue{
		Store:      s,
		Scanners:   scanners,
		Tasks:      tasks,
		Machine:    sm,
		Supervisor: sup,
		Admission:  lockutil.NewNamedSemaphore(lockutil.SemScanUpdate, maxConcurrent),
		Log:        log,
	}
}

// HandleTick pops admissible queue entries and launches them as Scan
// Workers (spec §4.G "on each tick handle_scan_queue() pops admissible
// entries ... and launches them as in §4.F"). It stops popping once the
// admission semaphore is exhausted, leaving the remainder for the next
// tick.
func (q *ScanQueue) HandleTick(ctx context.Context) (admitted int, err error) {
	for {
		if !q.Admission.TryAcquire() {
			return admitted, nil
		}

		entry, err := q.Store.ScanQueueTake(ctx)
		if err != nil {
			q.Admission.Release()
			if apperror.Is(err, apperror.NotFound) {
				return admitted, nil
			}
			return admitted, fmt.Errorf("scan queue tick: %w", err)
		}

		if err := q.admit(ctx, entry); err != nil {
			q.Log.Error("scan queue admission failed", "task", entry.TaskUUID, "error", err)
			q.Admission.Release()
			continue
		}
		admitted++
	}
}

func (q *ScanQueue) admit(ctx context.Context, entry model.ScanQueueEntry) error {
	task, err := q.Tasks.FindTask(ctx, entry.TaskUUID)
	if err != nil {
		return err
	}
	scanner, err := q.Scanners.FindScanner(ctx, entry.ScannerUUID)
	if err != nil {
		return err
	}
	if err := q.Machine.AdmitFromQueue(ctx, task.UUID); err != nil {
		return err
	}

	go func() {
		defer q.Admission.Release()
		<-q.Supervisor.Spawn(ctx, *task, *scanner, dispatch.FromStart)
	}()
	return nil
}
