package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/model"
)

// Tasks wraps a DB with the task-shaped operations the Persistence Contract
// (spec §4.C) names: find_task and set_task_status chief among them.
type Tasks struct {
	db DB
}

func NewTasks(db DB) *Tasks { return &Tasks{db: db} }

// FindTask looks up a task by UUID. Returns a NotFound apperror when absent,
// matching spec §4.C's "find_task(uuid) -> Task | not-found".
func (t *Tasks) FindTask(ctx context.Context, taskUUID string) (*model.Task, error) {
	var task model.Task
	err := t.db.Get(ctx, &task, `SELECT id, uuid, name, owner, scanner_uuid, target_uuid,
		config_uuid, schedule_uuid, agent_group_uuid, preferences, status,
		current_report_uuid, created_at, updated_at
		FROM tasks WHERE uuid = ?`, taskUUID)
	if err != nil {
		return nil, apperror.Wrap(apperror.NotFound, fmt.Sprintf("task %s", taskUUID), err)
	}
	return &task, nil
}

// CreateTask inserts a new task in NEW status.
func (t *Tasks) CreateTask(ctx context.Context, task *model.Task) error {
	if task.UUID == "" {
		task.UUID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = model.TaskNew
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	id, err := t.db.Insert(ctx, "tasks", task)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	task.ID = id
	return nil
}

// SetTaskStatus is the Persistence Contract's set_task_status: the write
// every concurrent reader of task_status must observe atomically (spec
// §5 shared-resource rules). A single UPDATE is the SQL-level atomic unit.
func (t *Tasks) SetTaskStatus(ctx context.Context, taskUUID string, status model.TaskStatus) error {
	return t.db.Exec(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE uuid = ?`,
		status, time.Now().UTC(), taskUUID)
}

// CompareAndSetStatus flips a task to next only if it is still currently
// in from, reporting whether the swap happened. This is how concurrent
// start requests against the same task are deduplicated to exactly one
// winner (spec §4.D: "concurrent start ... must result in exactly one
// REQUESTED").
func (t *Tasks) CompareAndSetStatus(ctx context.Context, taskUUID string, from, next model.TaskStatus) (bool, error) {
	affected, err := t.db.ExecAffected(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE uuid = ? AND status = ?`,
		next, time.Now().UTC(), taskUUID, from)
	if err != nil {
		return false, fmt.Errorf("compare-and-set task %s status: %w", taskUUID, err)
	}
	return affected > 0, nil
}

// SetCurrentReport records which report a task is currently associated
// with, or clears it when reportUUID is empty.
func (t *Tasks) SetCurrentReport(ctx context.Context, taskUUID, reportUUID string) error {
	return t.db.Exec(ctx,
		`UPDATE tasks SET current_report_uuid = ?, updated_at = ? WHERE uuid = ?`,
		reportUUID, time.Now().UTC(), taskUUID)
}

// SetScanner rebinds a quiescent task to a different scanner (spec §4.D
// Move). Callers must have already verified the task is quiescent.
func (t *Tasks) SetScanner(ctx context.Context, taskUUID, scannerUUID string) error {
	return t.db.Exec(ctx,
		`UPDATE tasks SET scanner_uuid = ?, updated_at = ? WHERE uuid = ?`,
		scannerUUID, time.Now().UTC(), taskUUID)
}

// DeleteTask removes a task row outright (spec §4.D's terminal
// DELETE_WAITING -> gone transition).
func (t *Tasks) DeleteTask(ctx context.Context, taskUUID string) error {
	return t.db.Exec(ctx, `DELETE FROM tasks WHERE uuid = ?`, taskUUID)
}

// IterTaskSchedule is the Persistence Contract's iter_task_schedule: every
// task bound to the given schedule (spec §4.I consults this to find which
// tasks a firing schedule should start).
func (t *Tasks) IterTaskSchedule(ctx context.Context, scheduleUUID string) ([]model.Task, error) {
	var tasks []model.Task
	err := t.db.Select(ctx, &tasks, `SELECT id, uuid, name, owner, scanner_uuid, target_uuid,
		config_uuid, schedule_uuid, agent_group_uuid, preferences, status,
		current_report_uuid, created_at, updated_at
		FROM tasks WHERE schedule_uuid = ?`, scheduleUUID)
	if err != nil {
		return nil, fmt.Errorf("iter task schedule %s: %w", scheduleUUID, err)
	}
	return tasks, nil
}

// ListAllTasks returns every task, for the admin API's unfiltered listing.
func (t *Tasks) ListAllTasks(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := t.db.Select(ctx, &tasks, `SELECT id, uuid, name, owner, scanner_uuid, target_uuid,
		config_uuid, schedule_uuid, agent_group_uuid, preferences, status,
		current_report_uuid, created_at, updated_at
		FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	return tasks, nil
}

// ListTasksByStatus backs the admin API's ?status= task filter.
func (t *Tasks) ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error) {
	var tasks []model.Task
	err := t.db.Select(ctx, &tasks, `SELECT id, uuid, name, owner, scanner_uuid, target_uuid,
		config_uuid, schedule_uuid, agent_group_uuid, preferences, status,
		current_report_uuid, created_at, updated_at
		FROM tasks WHERE status = ?`, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	return tasks, nil
}
