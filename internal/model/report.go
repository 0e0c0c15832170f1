package model

import "time"

// RunStatus mirrors TaskStatus but is the scan's own terminal record; a
// report's run-status must monotonically progress (spec §3 invariant).
type RunStatus string

const (
	RunRequested     RunStatus = "Requested"
	RunQueued        RunStatus = "Queued"
	RunRunning       RunStatus = "Running"
	RunProcessing    RunStatus = "Processing"
	RunStopRequested RunStatus = "Stop Requested"
	RunStopWaiting   RunStatus = "Stop Waiting"
	RunStopped       RunStatus = "Stopped"
	RunDone          RunStatus = "Done"
	RunInterrupted   RunStatus = "Interrupted"
)

// runOrder ranks each RunStatus so Report.CanAdvanceTo can reject
// regressions (the "no DONE -> RUNNING" invariant). Several statuses share
// a rank.
var runOrder = map[RunStatus]int{
	RunRequested:     0,
	RunQueued:        1,
	RunRunning:       2,
	RunProcessing:    3,
	RunStopRequested: 3,
	RunStopWaiting:   4,
	RunStopped:       5,
	RunDone:          5,
	RunInterrupted:   5,
}

// Report is the persistent record of one scan run (spec §3).
type Report struct {
	ID        int64      `db:"id"`
	UUID      string     `db:"uuid"`
	TaskUUID  string     `db:"task_uuid"`
	RunStatus RunStatus  `db:"run_status"`
	ScanStart *time.Time `db:"scan_start"`
	ScanEnd   *time.Time `db:"scan_end"`
	// ResumeExcludeHosts is a comma-joined list of hosts that had already
	// finished (report_hosts.end_time set) the moment this report was last
	// resumed, captured before TrimPartialReport discarded their rows. A
	// resumed run folds these into the target's exclude list so it never
	// rescans a host the interrupted run already completed (spec §3
	// resume semantics).
	ResumeExcludeHosts string   `db:"resume_exclude_hosts"`
	MaxSeverity        Severity `db:"max_severity"`
}

// CanAdvanceTo reports whether moving from r.RunStatus to next is a
// monotonic progression, never a regression.
func (r *Report) CanAdvanceTo(next RunStatus) bool {
	cur, ok1 := runOrder[r.RunStatus]
	nxt, ok2 := runOrder[next]
	if !ok1 || !ok2 {
		return false
	}
	return nxt >= cur
}

// ReportHost is the per-host sub-record of a report.
type ReportHost struct {
	ID        int64      `db:"id"`
	ReportID  int64      `db:"report_id"`
	Host      string     `db:"host"`
	StartTime *time.Time `db:"start_time"`
	EndTime   *time.Time `db:"end_time"`
}

// HostDetail is a single (kind, name, value[, source]) fact about a host,
// e.g. a detected CPE, an OS fingerprint, or an open-port note.
type HostDetail struct {
	ID       int64  `db:"id"`
	ReportID int64  `db:"report_id"`
	Host     string `db:"host"`
	Kind     string `db:"kind"` // e.g. "App", "OS", "hostname"
	Name     string `db:"name"`
	Value    string `db:"value"`
	Source   string `db:"source"`
}
