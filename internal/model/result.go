package model

// Result is an append-only finding attached to a report (spec §3). Results
// are never mutated once written; re-ingestion of the same scanner result
// appends a new row (de-duplication, if any, is the persistence layer's
// concern, not this package's).
type Result struct {
	ID          int64    `db:"id"`
	ReportID    int64    `db:"report_id"`
	Host        string   `db:"host"`
	Port        string   `db:"port"`
	NVTOID      string   `db:"nvt_oid"`
	Severity    Severity `db:"severity"`
	QoD         int      `db:"qod"` // quality of detection, 0-100
	Description string   `db:"description"`
}

// Level is a convenience wrapper over Severity.ToLevel that swallows the
// out-of-domain error into LevelNone, for call sites that only render text
// and log the anomaly themselves.
func (r Result) Level() Level {
	lvl, _ := r.Severity.ToLevel()
	return lvl
}
