package taskstate

import (
	"context"
	"fmt"
	"time"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// StateMachine is the authoritative transition engine for a task/report
// pair (spec §4.D). It is the single place permission checks, report
// creation-on-start, and report reuse-on-resume happen.
type StateMachine struct {
	Tasks   *store.Tasks
	Reports *store.Reports
	Queue   *store.Queue
}

func New(tasks *store.Tasks, reports *store.Reports, queue *store.Queue) *StateMachine {
	return &StateMachine{Tasks: tasks, Reports: reports, Queue: queue}
}

// apply checks the transition table and the caller's permission, but does
// not itself touch the store; callers perform the side effect and then
// persist the new status via CompareAndSetStatus (so dedup and the
// transition decision share one atomic write).
func (sm *StateMachine) apply(from model.TaskStatus, event Event, caller Principal) (model.TaskStatus, error) {
	t, ok := lookup(from, event)
	if !ok {
		return "", apperror.New(apperror.Conflict,
			fmt.Sprintf("event %q is not applicable from status %s", event, from))
	}
	if !caller.Has(t.Permission) {
		return "", apperror.New(apperror.PermissionDenied,
			fmt.Sprintf("caller lacks %s required for %q", t.Permission, event))
	}
	return t.To, nil
}

// Start moves a NEW task to REQUESTED and creates its current report
// (spec §4.D "NEW -start-> REQUESTED: create current report").
func (sm *StateMachine) Start(ctx context.Context, taskUUID string, caller Principal) (*model.Report, error) {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return nil, err
	}
	next, err := sm.apply(task.Status, EventStart, caller)
	if err != nil {
		return nil, err
	}

	rep, err := sm.Reports.CreateReport(ctx, taskUUID)
	if err != nil {
		return nil, fmt.Errorf("start task %s: %w", taskUUID, err)
	}

	swapped, err := sm.Tasks.CompareAndSetStatus(ctx, taskUUID, task.Status, next)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Someone else moved the task first; this is the dedup path spec
		// §4.D requires ("concurrent start ... exactly one REQUESTED").
		return nil, apperror.New(apperror.Conflict, "task was started concurrently by another caller")
	}
	if err := sm.Tasks.SetCurrentReport(ctx, taskUUID, rep.UUID); err != nil {
		return nil, err
	}
	return rep, nil
}

// Resume moves a STOPPED or INTERRUPTED task back to REQUESTED, reusing
// its last report and trimming partial data (spec §3 Lifecycles, §4.D).
func (sm *StateMachine) Resume(ctx context.Context, taskUUID string, caller Principal) (*model.Report, error) {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return nil, err
	}
	next, err := sm.apply(task.Status, EventResume, caller)
	if err != nil {
		return nil, err
	}
	if task.CurrentReport == "" {
		return nil, apperror.New(apperror.InternalInvariant,
			fmt.Sprintf("task %s has no current report to resume", taskUUID))
	}

	// Capture which hosts the interrupted run had already finished before
	// TrimPartialReport deletes the report_hosts rows that record it — the
	// resumed run must exclude them rather than rescan from scratch (spec
	// §3 resume semantics).
	finished, err := sm.Reports.FinishedHostsSpec(ctx, task.CurrentReport)
	if err != nil {
		return nil, fmt.Errorf("resume task %s: %w", taskUUID, err)
	}
	if err := sm.Reports.TrimPartialReport(ctx, task.CurrentReport); err != nil {
		return nil, fmt.Errorf("resume task %s: %w", taskUUID, err)
	}
	if err := sm.Reports.SetResumeExcludeHosts(ctx, task.CurrentReport, finished); err != nil {
		return nil, fmt.Errorf("resume task %s: %w", taskUUID, err)
	}
	if err := sm.Reports.ResetForResume(ctx, task.CurrentReport); err != nil {
		return nil, fmt.Errorf("resume task %s: %w", taskUUID, err)
	}

	if _, err := sm.Tasks.CompareAndSetStatus(ctx, taskUUID, task.Status, next); err != nil {
		return nil, err
	}
	return sm.Reports.FindReport(ctx, task.CurrentReport)
}

// AdmitFromQueue moves REQUESTED/QUEUED to RUNNING once the Scan Queue
// grants a slot (worker-raised, no permission check).
func (sm *StateMachine) AdmitFromQueue(ctx context.Context, taskUUID string) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	event := EventAdmittedByQueue
	if task.Status == model.TaskQueued {
		event = EventAdmit
	}
	next, err := sm.apply(task.Status, event, System)
	if err != nil {
		return err
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

// EnqueueFull moves REQUESTED to QUEUED and registers the Scan Queue
// entry (spec §4.D "REQUESTED -queue-full-> QUEUED: add to ScanQueue").
func (sm *StateMachine) EnqueueFull(ctx context.Context, task *model.Task, reportUUID string) error {
	next, err := sm.apply(task.Status, EventQueueFull, System)
	if err != nil {
		return err
	}
	if err := sm.Queue.ScanQueueAdd(ctx, &model.ScanQueueEntry{
		ReportUUID:  reportUUID,
		TaskUUID:    task.UUID,
		ScannerUUID: task.ScannerUUID,
		OwnerUUID:   task.Owner,
	}); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.UUID, err)
	}
	return sm.setStatus(ctx, task.UUID, task.Status, next)
}

// Stop requests a RUNNING task stop (spec §4.D, permission stop_task).
// It only records STOP_REQUESTED. Neither the worker nor the dispatcher
// reads that status: nothing calls the variant's Stop or raises AckStop
// and CompleteStop, so the remote scan is not halted.
func (sm *StateMachine) Stop(ctx context.Context, taskUUID string, caller Principal) error {
	return sm.transition(ctx, taskUUID, EventStop, caller)
}

// AckStop records that the scanner acknowledged the stop request
// (worker-raised).
func (sm *StateMachine) AckStop(ctx context.Context, taskUUID string) error {
	return sm.transition(ctx, taskUUID, EventScannerAck, System)
}

// CompleteStop finalises a stopped task/report pair once the scanner
// confirms the stop (spec §4.D "STOP_WAITING -scanner-done-> STOPPED:
// finalise times").
func (sm *StateMachine) CompleteStop(ctx context.Context, taskUUID string) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	next, err := sm.apply(task.Status, EventScannerDone, System)
	if err != nil {
		return err
	}
	if task.CurrentReport != "" {
		now := time.Now().UTC()
		if err := sm.Reports.SetRunStatus(ctx, task.CurrentReport, model.RunStopped); err != nil {
			return err
		}
		if err := sm.Reports.SetScanTimes(ctx, task.CurrentReport, nil, &now); err != nil {
			return err
		}
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

// ScanComplete moves RUNNING to PROCESSING when the scanner reports its
// run finished (worker-raised).
func (sm *StateMachine) ScanComplete(ctx context.Context, taskUUID string) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	next, err := sm.apply(task.Status, EventScanComplete, System)
	if err != nil {
		return err
	}
	if task.CurrentReport != "" {
		if err := sm.Reports.SetRunStatus(ctx, task.CurrentReport, model.RunProcessing); err != nil {
			return err
		}
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

// PostDone finalises a PROCESSING task to DONE once import completes
// (spec §4.D, SM-2: only reachable via PROCESSING).
func (sm *StateMachine) PostDone(ctx context.Context, taskUUID string) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	next, err := sm.apply(task.Status, EventPostDone, System)
	if err != nil {
		return err
	}
	if task.CurrentReport != "" {
		now := time.Now().UTC()
		if err := sm.Reports.SetRunStatus(ctx, task.CurrentReport, model.RunDone); err != nil {
			return err
		}
		if err := sm.Reports.SetScanTimes(ctx, task.CurrentReport, nil, &now); err != nil {
			return err
		}
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

// WorkerError applies the "any -worker-error-> INTERRUPTED" rule and
// appends a synthetic error result so the user sees why the scan ended
// (spec §4.F, §7).
func (sm *StateMachine) WorkerError(ctx context.Context, taskUUID string, cause error) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	next, err := sm.apply(task.Status, EventWorkerError, System)
	if err != nil {
		return err
	}
	if task.CurrentReport != "" {
		rep, ferr := sm.Reports.FindReport(ctx, task.CurrentReport)
		if ferr == nil {
			_ = sm.Reports.AppendResult(ctx, &model.Result{
				ReportID:    rep.ID,
				Severity:    model.SeverityErrorSentinel,
				Description: fmt.Sprintf("Error Message: %v", cause),
			})
			_ = sm.Reports.SetRunStatus(ctx, task.CurrentReport, model.RunInterrupted)
		}
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

// Delete requests deletion of a REQUESTED/QUEUED/RUNNING task (spec
// §4.D, permission delete_task). It removes the task's Scan Queue entry
// (keyed by its current report) before recording the new status.
func (sm *StateMachine) Delete(ctx context.Context, taskUUID string, caller Principal) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	next, err := sm.apply(task.Status, EventDelete, caller)
	if err != nil {
		return err
	}
	if err := sm.Queue.ScanQueueRemove(ctx, task.CurrentReport); err != nil {
		return fmt.Errorf("delete task %s: %w", taskUUID, err)
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

// Move switches a task to a different scanner. Per spec §4.D, this
// requires the task be quiescent (NEW/STOPPED/DONE); a running task must
// be stopped first — Move returns Conflict rather than silently stopping
// it, leaving the stop-wait-switch-resume sequencing to the caller (the
// `task move` CLI command or the REST API).
func (sm *StateMachine) Move(ctx context.Context, taskUUID, newScannerUUID string, caller Principal) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	if !caller.Has(model.PermModifyTask) {
		return apperror.New(apperror.PermissionDenied, "caller lacks modify_task")
	}
	switch task.Status {
	case model.TaskNew, model.TaskStopped, model.TaskDone:
		return sm.Tasks.SetScanner(ctx, taskUUID, newScannerUUID)
	default:
		return apperror.New(apperror.Conflict,
			fmt.Sprintf("task %s must be quiescent (NEW/STOPPED/DONE) to move scanner, is %s", taskUUID, task.Status))
	}
}

func (sm *StateMachine) transition(ctx context.Context, taskUUID string, event Event, caller Principal) error {
	task, err := sm.Tasks.FindTask(ctx, taskUUID)
	if err != nil {
		return err
	}
	next, err := sm.apply(task.Status, event, caller)
	if err != nil {
		return err
	}
	return sm.setStatus(ctx, taskUUID, task.Status, next)
}

func (sm *StateMachine) setStatus(ctx context.Context, taskUUID string, from, to model.TaskStatus) error {
	swapped, err := sm.Tasks.CompareAndSetStatus(ctx, taskUUID, from, to)
	if err != nil {
		return err
	}
	if !swapped {
		return apperror.New(apperror.Conflict,
			fmt.Sprintf("task %s status changed concurrently before %s could apply", taskUUID, to))
	}
	return nil
}
