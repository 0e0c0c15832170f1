package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/model"
)

// Queue implements the Scan Queue's persistence-contract operations
// (spec §4.C, §4.G): scan_queue_add and scan_queue_take.
type Queue struct {
	db DB
}

func NewQueue(db DB) *Queue { return &Queue{db: db} }

// ScanQueueAdd admits a report into the Scan Queue awaiting a free slot.
func (q *Queue) ScanQueueAdd(ctx context.Context, entry *model.ScanQueueEntry) error {
	entry.AdmissionTime = time.Now().UTC()
	id, err := q.db.Insert(ctx, "scan_queue_entries", entry)
	if err != nil {
		return fmt.Errorf("scan queue add for report %s: %w", entry.ReportUUID, err)
	}
	entry.ID = id
	return nil
}

// ScanQueueTake pops the oldest-admitted entry, atomically removing it so
// no two callers can admit the same report twice (spec §4.G admission
// discipline). Returns apperror.NotFound when the queue is empty.
func (q *Queue) ScanQueueTake(ctx context.Context) (*model.ScanQueueEntry, error) {
	var entry model.ScanQueueEntry
	err := q.db.Get(ctx, &entry, `SELECT id, report_uuid, task_uuid, scanner_uuid, owner_uuid,
		admission_time FROM scan_queue_entries ORDER BY admission_time ASC, id ASC LIMIT 1`)
	if err != nil {
		return nil, apperror.Wrap(apperror.NotFound, "scan queue is empty", err)
	}
	if err := q.db.Exec(ctx, `DELETE FROM scan_queue_entries WHERE id = ?`, entry.ID); err != nil {
		return nil, fmt.Errorf("removing taken scan queue entry %d: %w", entry.ID, err)
	}
	return &entry, nil
}

// ScanQueueRemove drops a specific report from the queue without
// admitting it (spec §4.G: a delete_task must atomically remove a queued
// entry and change task status together).
func (q *Queue) ScanQueueRemove(ctx context.Context, reportUUID string) error {
	return q.db.Exec(ctx, `DELETE FROM scan_queue_entries WHERE report_uuid = ?`, reportUUID)
}

// ScanQueueDepth reports how many reports are currently admitted-awaiting,
// used by the supervising tick to decide how many slots it may still fill.
func (q *Queue) ScanQueueDepth(ctx context.Context) (int, error) {
	var row struct {
		Count int `db:"count"`
	}
	if err := q.db.Get(ctx, &row, `SELECT COUNT(*) AS count FROM scan_queue_entries`); err != nil {
		return 0, fmt.Errorf("scan queue depth: %w", err)
	}
	return row.Count, nil
}
