// Package worker implements the Scan Worker (spec §4.F): a supervised
// goroutine per non-queued scan, replacing the original fork-per-scan
// model (spec §9 design note: "no fork primitive is required — a task +
// context + typed connection factory suffices").
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ov-project/govmd/internal/dispatch"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

// ExitStatus mirrors the spec's waitpid framing: Success means "scheduled/
// started cleanly", a nonzero-equivalent failure means "retry/reschedule".
type ExitStatus struct {
	Success bool
	Err     error
}

// DBFactory opens a fresh store.DB handle for one worker goroutine. This is
// the goroutine-era analogue of "reinitialises the database handle (a hard
// requirement after fork)": a pooled connection handed across goroutines
// would be fine for SQLite's own concurrency model, but a dedicated handle
// keeps a worker's lifetime independent of whatever spawned it, matching
// the original's process-isolation intent.
type DBFactory func() (store.DB, error)

// Supervisor runs one scan-worker goroutine per admitted task and reports
// its outcome back through the task state machine.
type Supervisor struct {
	NewDB      DBFactory
	Dispatcher *dispatch.Dispatcher
	Machine    *taskstate.StateMachine
	PollPeriod time.Duration
	Log        *slog.Logger
}

func New(newDB DBFactory, d *dispatch.Dispatcher, sm *taskstate.StateMachine, pollPeriod time.Duration, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{NewDB: newDB, Dispatcher: d, Machine: sm, PollPeriod: pollPeriod, Log: log}
}

// Spawn launches a supervised worker goroutine for task. The returned
// channel receives exactly one ExitStatus when the worker exits — the
// goroutine equivalent of a parent's waitpid on a forked child. The
// worker never returns control to the caller except through this channel:
// "the child never returns; it exits" translates to "the goroutine never
// sends work back onto the caller's stack, only through the channel".
func (s *Supervisor) Spawn(ctx context.Context, task model.Task, scanner model.Scanner, from dispatch.From) <-chan ExitStatus {
	done := make(chan ExitStatus, 1)
	go func() {
		done <- s.run(ctx, task, scanner, from)
		close(done)
	}()
	return done
}

func (s *Supervisor) run(ctx context.Context, task model.Task, scanner model.Scanner, from dispatch.From) (status ExitStatus) {
	log := s.Log.With("task", task.UUID, "scanner", scanner.UUID)

	db, err := s.NewDB()
	if err != nil {
		s.interrupt(ctx, task.UUID, fmt.Errorf("error forking scan handler: opening database handle: %w", err), log)
		return ExitStatus{Success: false, Err: err}
	}
	defer db.Close()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("scan worker panic: %v", r)
			s.interrupt(ctx, task.UUID, err, log)
			status = ExitStatus{Success: false, Err: err}
		}
	}()

	if _, err := s.Dispatcher.RunTask(ctx, task, scanner, s.PollPeriod, from); err != nil {
		s.interrupt(ctx, task.UUID, err, log)
		return ExitStatus{Success: false, Err: err}
	}

	if err := s.Machine.ScanComplete(ctx, task.UUID); err != nil {
		log.Error("scan completed but state transition failed", "error", err)
		return ExitStatus{Success: false, Err: err}
	}
	return ExitStatus{Success: true}
}

// interrupt is the goroutine analogue of "transitions the task to
// INTERRUPTED, records an error result ... and exits nonzero" (spec §4.F).
// taskstate.StateMachine.WorkerError already appends the error result, so
// this just logs and delegates.
func (s *Supervisor) interrupt(ctx context.Context, taskUUID string, cause error, log *slog.Logger) {
	log.Error("scan worker failed", "error", cause)
	if err := s.Machine.WorkerError(ctx, taskUUID, cause); err != nil {
		log.Error("failed to record worker error on task", "error", err)
	}
}
