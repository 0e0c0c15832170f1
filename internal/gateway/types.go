package gateway

// SSEEvent is serialised as JSON and pushed over the GET /events SSE stream.
type SSEEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Status is a live snapshot of the controller's own runtime state,
// returned by GET /api/status and broadcast as a periodic "status.update"
// SSE event.
type Status struct {
	UptimeSeconds  int64  `json:"uptime_seconds"`
	TasksRunning   int    `json:"tasks_running"`
	TasksQueued    int    `json:"tasks_queued"`
	ScanQueueDepth int    `json:"scan_queue_depth"`
	LastTickAt     string `json:"last_tick_at,omitempty"`
}

// countRow is a convenience struct for SELECT COUNT(*) AS n queries.
type countRow struct {
	N int `db:"n"`
}

// taskView is the JSON projection of model.Task returned by the tasks API.
type taskView struct {
	UUID           string `json:"uuid"`
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	ScannerUUID    string `json:"scanner_uuid"`
	TargetUUID     string `json:"target_uuid"`
	ConfigUUID     string `json:"config_uuid"`
	ScheduleUUID   string `json:"schedule_uuid,omitempty"`
	AgentGroupUUID string `json:"agent_group_uuid,omitempty"`
	Status         string `json:"status"`
	CurrentReport  string `json:"current_report_uuid,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// reportView is the JSON projection of model.Report.
type reportView struct {
	UUID        string  `json:"uuid"`
	TaskUUID    string  `json:"task_uuid"`
	RunStatus   string  `json:"run_status"`
	ScanStart   *string `json:"scan_start,omitempty"`
	ScanEnd     *string `json:"scan_end,omitempty"`
	MaxSeverity string  `json:"max_severity,omitempty"`
}

// scannerView is the JSON projection of model.Scanner. ClientKey is never
// echoed back.
type scannerView struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	UnixSocket string `json:"unix_socket,omitempty"`
}

// scheduleView is the JSON projection of model.Schedule.
type scheduleView struct {
	UUID         string  `json:"uuid"`
	ICalendar    string  `json:"icalendar"`
	Zone         string  `json:"zone"`
	DurationSec  *int64  `json:"duration_seconds,omitempty"`
	PeriodCount  *int    `json:"period_count,omitempty"`
	NextFireTime *string `json:"next_fire_time,omitempty"`
}

// feedStatusView is the JSON projection of store.FeedSyncStatus.
type feedStatusView struct {
	Kind       string `json:"kind"`
	LastSyncAt string `json:"last_sync_at,omitempty"`
	Version    string `json:"version,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}
