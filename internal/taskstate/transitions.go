// Package taskstate implements the Task State Machine (spec §4.D): the
// single source of truth for "can start", "can stop", "can resume", and
// the transition table's side effects.
package taskstate

import "github.com/ov-project/govmd/internal/model"

// Event is one of the named transition triggers in spec §4.D's table.
type Event string

const (
	EventStart            Event = "start"
	EventAdmittedByQueue   Event = "admitted-by-queue"
	EventQueueFull         Event = "queue-full"
	EventAdmit             Event = "admit"
	EventStop              Event = "stop"
	EventScannerAck        Event = "scanner-ack"
	EventScannerDone       Event = "scanner-done"
	EventScanComplete      Event = "scan-complete"
	EventPostDone          Event = "post-done"
	EventWorkerError       Event = "worker-error"
	EventResume            Event = "resume"
	EventDelete            Event = "delete"
)

// transition describes one (From, Event) -> To pair, plus the permission
// a caller must hold to trigger it. An empty Permission means any caller
// (the event is internally raised, e.g. by the worker, not by a client).
type transition struct {
	To         model.TaskStatus
	Permission string
}

// transitionTable is the partial function from spec §4.D's table; for any
// pair absent here StateMachine.apply returns an apperror.Conflict
// ("not applicable") and changes nothing.
var transitionTable = map[model.TaskStatus]map[Event]transition{
	model.TaskNew: {
		EventStart: {To: model.TaskRequested, Permission: model.PermStartTask},
	},
	model.TaskRequested: {
		EventAdmittedByQueue: {To: model.TaskRunning},
		EventQueueFull:       {To: model.TaskQueued},
		EventDelete:          {To: model.TaskDeleteRequested, Permission: model.PermDeleteTask},
	},
	model.TaskQueued: {
		EventAdmit:  {To: model.TaskRunning},
		EventDelete: {To: model.TaskDeleteRequested, Permission: model.PermDeleteTask},
	},
	model.TaskRunning: {
		EventStop:         {To: model.TaskStopRequested, Permission: model.PermStopTask},
		EventScanComplete: {To: model.TaskProcessing},
		EventWorkerError:  {To: model.TaskInterrupted},
		EventDelete:       {To: model.TaskDeleteRequested, Permission: model.PermDeleteTask},
	},
	model.TaskStopRequested: {
		EventScannerAck:  {To: model.TaskStopWaiting},
		EventWorkerError: {To: model.TaskInterrupted},
	},
	model.TaskStopWaiting: {
		EventScannerDone: {To: model.TaskStopped},
		EventWorkerError: {To: model.TaskInterrupted},
	},
	model.TaskProcessing: {
		EventPostDone:    {To: model.TaskDone},
		EventWorkerError: {To: model.TaskInterrupted},
	},
	model.TaskStopped: {
		EventResume: {To: model.TaskRequested, Permission: model.PermResumeTask},
	},
	model.TaskInterrupted: {
		EventResume: {To: model.TaskRequested, Permission: model.PermResumeTask},
	},
}

// lookup returns the transition for (from, event) and whether it exists.
// "any -> worker-error -> INTERRUPTED" applies regardless of from, so
// lookup checks it before falling back to the table.
func lookup(from model.TaskStatus, event Event) (transition, bool) {
	if event == EventWorkerError {
		return transition{To: model.TaskInterrupted}, true
	}
	byEvent, ok := transitionTable[from]
	if !ok {
		return transition{}, false
	}
	t, ok := byEvent[event]
	return t, ok
}
