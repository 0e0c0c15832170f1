// Package dispatch implements Scanner Dispatch (spec §4.E): the
// polymorphic prepare/start/poll/ingest/finalize/stop lifecycle, with one
// variant per scanner.Kind.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// From describes why run_task is being invoked: a fresh start or a resume
// of a previously-interrupted run.
type From string

const (
	FromStart  From = "start"
	FromResume From = "resume"
)

// Variant implements one scanner backend's capability set.
type Variant interface {
	// Prepare validates preconditions (feed synced, VT list non-empty,
	// agent group resolvable, ...) before any network I/O.
	Prepare(ctx context.Context, task model.Task, target model.Target, from From) error
	// Start creates/starts the remote scan and returns a scanner-assigned
	// handle (scan id) that Poll/Ingest/Stop use to address it.
	Start(ctx context.Context, task model.Task, target model.Target, from From) (handle string, err error)
	// Poll fetches the current remote status and, for terminal states,
	// reports done=true.
	Poll(ctx context.Context, handle string) (status RemoteStatus, done bool, err error)
	// Ingest pulls any results newly available since the last poll and
	// writes them through Ingester.
	Ingest(ctx context.Context, handle string, ing *Ingester) error
	// Finalize performs any scanner-side cleanup after the last ingest
	// (e.g. delete_scan) once the run has reached a terminal state.
	Finalize(ctx context.Context, handle string) error
	// Stop requests the remote scan halt.
	Stop(ctx context.Context, handle string) error
}

// RemoteStatus is the scanner-reported run state, normalised across
// backends (spec §4.E OSP polling: Running/Stopped/Finished/Interrupted).
type RemoteStatus string

const (
	RemoteRunning     RemoteStatus = "running"
	RemoteStopped     RemoteStatus = "stopped"
	RemoteFinished    RemoteStatus = "processing"
	RemoteDone        RemoteStatus = "done"
	RemoteInterrupted RemoteStatus = "interrupted"
)

// Dispatcher selects a Variant by scanner.Kind and drives run_task.
type Dispatcher struct {
	Variants map[model.ScannerKind]Variant
	Targets  *store.Targets
	Reports  *store.Reports
	Log      *slog.Logger
}

func New(log *slog.Logger, targets *store.Targets, reports *store.Reports) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{Variants: make(map[model.ScannerKind]Variant), Targets: targets, Reports: reports, Log: log}
}

func (d *Dispatcher) Register(kind model.ScannerKind, v Variant) {
	d.Variants[kind] = v
}

// RunResult summarises one completed run_task invocation for the worker
// supervisor (spec §4.F observes this as the goroutine's "exit status").
type RunResult struct {
	Status RemoteStatus
}

// withResumeExcludeHosts folds a report's captured finished-host list into
// a copy of target's exclude spec, leaving the stored Target untouched
// (spec §3: Target is immutable with respect to a running scan). An empty
// resumeExcludeHosts (the common, non-resumed case) is a no-op.
func withResumeExcludeHosts(target model.Target, resumeExcludeHosts string) model.Target {
	if resumeExcludeHosts == "" {
		return target
	}
	if target.ExcludeHostsSpec == "" {
		target.ExcludeHostsSpec = resumeExcludeHosts
	} else {
		target.ExcludeHostsSpec = target.ExcludeHostsSpec + "," + resumeExcludeHosts
	}
	return target
}

// RunTask selects a variant by scanner.Kind and drives it through
// prepare → start → poll → ingest → finalize (spec §4.E "run_task(task,
// from) -> result"). The returned context error, if any, propagates as a
// worker error for taskstate.StateMachine.WorkerError to record.
func (d *Dispatcher) RunTask(ctx context.Context, task model.Task, scanner model.Scanner, pollInterval time.Duration, from From) (RunResult, error) {
	variant, ok := d.Variants[scanner.Kind]
	if !ok {
		return RunResult{}, fmt.Errorf("no dispatch variant registered for scanner kind %q", scanner.Kind)
	}
	if from == FromResume && !scanner.SupportsResume() {
		return RunResult{}, fmt.Errorf("RESUMING_NOT_SUPPORTED: scanner kind %q does not support resume", scanner.Kind)
	}

	target, err := d.Targets.FindTarget(ctx, task.TargetUUID)
	if err != nil {
		return RunResult{}, fmt.Errorf("run_task: resolve target: %w", err)
	}

	report, err := d.Reports.FindReport(ctx, task.CurrentReport)
	if err != nil {
		return RunResult{}, fmt.Errorf("run_task: find current report: %w", err)
	}
	runTarget := withResumeExcludeHosts(*target, report.ResumeExcludeHosts)

	if err := variant.Prepare(ctx, task, runTarget, from); err != nil {
		return RunResult{}, fmt.Errorf("run_task: prepare: %w", err)
	}

	handle, err := variant.Start(ctx, task, runTarget, from)
	if err != nil {
		return RunResult{}, fmt.Errorf("run_task: start: %w", err)
	}

	now := time.Now().UTC()
	if err := d.Reports.SetScanTimes(ctx, report.UUID, &now, nil); err != nil {
		d.Log.Warn("set scan_start failed", "report", report.UUID, "error", err)
	}

	ing := &Ingester{Reports: d.Reports, ReportID: report.ID, Log: d.Log}

	if pollInterval <= 0 {
		pollInterval = 25 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, done, err := variant.Poll(ctx, handle)
		if err != nil {
			return RunResult{}, fmt.Errorf("run_task: poll: %w", err)
		}
		if err := variant.Ingest(ctx, handle, ing); err != nil {
			return RunResult{}, fmt.Errorf("run_task: ingest: %w", err)
		}
		if done {
			if err := variant.Finalize(ctx, handle); err != nil {
				d.Log.Warn("finalize failed", "handle", handle, "error", err)
			}
			return RunResult{Status: status}, nil
		}

		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
