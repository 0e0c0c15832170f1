package notify

import "context"

// Event represents a notification-worthy lifecycle event. Type names one of
// the kinds the dispatcher filters on; the controller raises only
// task_done (from queue.NotifyImporter), and the gateway raises "test"
// from its notify-test endpoint.
type Event struct {
	Type       string // "task_done" | "task_interrupted" | "feed_busy"
	Title      string
	Body       string
	URL        string // optional deep link into the admin dashboard
	Severity   string // banded level of the associated report, or ""
	TaskUUID   string
	ReportUUID string
	Metadata   map[string]any
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}
