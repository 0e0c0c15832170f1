package queue

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ov-project/govmd/internal/lockutil"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

// Importer runs one report's import step: turning scanner-ingested
// results already written by the worker into whatever downstream state
// "processing" entails (severity summaries, notification triggers, ...).
// The worker has already appended raw results during Poll/Ingest; import
// here is the persistence-contract postprocessing pass spec §4.H assigns
// to a dedicated, independently-lockable step.
type Importer interface {
	Import(ctx context.Context, report model.Report) error
}

// ReportImportQueue processes reports awaiting import under a per-report
// file lock plus the REPORTS_PROCESSING semaphore (spec §4.H).
type ReportImportQueue struct {
	Reports    *store.Reports
	Importer   Importer
	Machine    *taskstate.StateMachine
	StateDir   string
	Processing *lockutil.NamedSemaphore
	TickLimit  int
	Log        *slog.Logger
}

func NewReportImportQueue(reports *store.Reports, importer Importer, sm *taskstate.StateMachine, stateDir string, maxConcurrent, tickLimit int, log *slog.Logger) *ReportImportQueue {
	if log == nil {
		log = slog.Default()
	}
	if tickLimit <= 0 {
		tickLimit = 10
	}
	return &ReportImportQueue{
		Reports:    reports,
		Importer:   importer,
		Machine:    sm,
		StateDir:   stateDir,
		Processing: lockutil.NewNamedSemaphore(lockutil.SemReportsProcessing, maxConcurrent),
		TickLimit:  tickLimit,
		Log:        log,
	}
}

// HandleTick imports up to TickLimit reports awaiting processing (spec
// §4.H). Each report's file lock is nonblocking — a report already being
// imported by a concurrent tick or process is skipped, not waited on.
func (r *ReportImportQueue) HandleTick(ctx context.Context) (imported int, err error) {
	reports, err := r.Reports.IterReportsAwaitingProcessing(ctx, r.TickLimit)
	if err != nil {
		return 0, fmt.Errorf("report import tick: %w", err)
	}

	for _, report := range reports {
		ok, err := r.importOne(ctx, report)
		if err != nil {
			r.Log.Error("report import failed", "report", report.UUID, "error", err)
			continue
		}
		if ok {
			imported++
		}
	}
	return imported, nil
}

func (r *ReportImportQueue) importOne(ctx context.Context, report model.Report) (bool, error) {
	lockPath := filepath.Join(r.StateDir, fmt.Sprintf("gvm-process-report-%d.lock", report.ID))
	fl := lockutil.NewFileLock(lockPath)

	got, err := fl.Acquire(ctx, true)
	if err != nil {
		return false, fmt.Errorf("acquire report lock for %s: %w", report.UUID, err)
	}
	if !got {
		// Another tick or process already holds this report's lock; skip
		// without error (spec §4.H "nonblocking — if held, skip").
		return false, nil
	}
	defer fl.Release()

	res := r.Processing.SemOp(ctx, -1, ctx)
	if !res.OK {
		return false, res.Err
	}
	defer r.Processing.SemOp(context.Background(), 1, context.Background())

	if err := r.Importer.Import(ctx, report); err != nil {
		if setErr := r.Reports.SetRunStatus(ctx, report.UUID, model.RunInterrupted); setErr != nil {
			r.Log.Error("failed to mark report interrupted after import failure", "report", report.UUID, "error", setErr)
		}
		return false, fmt.Errorf("importing report %s: %w", report.UUID, err)
	}

	if err := r.Machine.PostDone(ctx, report.TaskUUID); err != nil {
		return false, fmt.Errorf("post-done for report %s: %w", report.UUID, err)
	}
	return true, nil
}
