package model

import "time"

// ScanQueueEntry records a report awaiting admission into a running scan
// slot (spec §3). Membership implies the report's task is in REQUESTED or
// QUEUED.
type ScanQueueEntry struct {
	ID            int64     `db:"id"`
	ReportUUID    string    `db:"report_uuid"`
	TaskUUID      string    `db:"task_uuid"`
	ScannerUUID   string    `db:"scanner_uuid"`
	OwnerUUID     string    `db:"owner_uuid"`
	AdmissionTime time.Time `db:"admission_time"`
}

// FeedLock describes the single process-wide file lock's recorded holder
// identity (spec §3). The lock primitive itself lives in internal/lockutil;
// this struct is just the persisted/observed shape of its contents.
type FeedLock struct {
	HolderPID       int
	AcquiredAt      time.Time
	TimestampNote   string // human-readable, written inside the lock file
}
