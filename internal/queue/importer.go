package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/notify"
	"github.com/ov-project/govmd/internal/store"
)

// NotifyImporter is the Importer report-import queue uses by default: the
// raw results and host facts are already in place by the time a report
// reaches RunProcessing (the worker appended them during Poll/Ingest), so
// import here means the severity-summary and notification-trigger side of
// spec §4.H — deciding whether the finished run is interesting enough to
// tell somebody about and, if so, raising a task_done event.
type NotifyImporter struct {
	Reports  *store.Reports
	Tasks    *store.Tasks
	Notifier *notify.Dispatcher
}

func NewNotifyImporter(reports *store.Reports, tasks *store.Tasks, notifier *notify.Dispatcher) *NotifyImporter {
	return &NotifyImporter{Reports: reports, Tasks: tasks, Notifier: notifier}
}

// Import raises a task_done notification banded by the report's observed
// maximum severity. It never fails the import over a notification-channel
// problem — Dispatcher.Notify already swallows and logs per-channel errors,
// so the only errors returned here are ones that mean the report's own
// state could not be read.
func (im *NotifyImporter) Import(ctx context.Context, report model.Report) error {
	if im.Notifier == nil || !im.Notifier.IsAnyConfigured() {
		return nil
	}

	task, err := im.Tasks.FindTask(ctx, report.TaskUUID)
	if err != nil {
		return fmt.Errorf("import report %s: find task: %w", report.UUID, err)
	}

	level, _ := report.MaxSeverity.ToLevel()

	im.Notifier.Notify(ctx, notify.Event{
		Type:       "task_done",
		Title:      fmt.Sprintf("%s finished", task.Name),
		Body:       fmt.Sprintf("%s finished with maximum severity %s", task.Name, level),
		Severity:   strings.ToLower(string(level)),
		TaskUUID:   task.UUID,
		ReportUUID: report.UUID,
		Metadata: map[string]any{
			"max_severity": float64(report.MaxSeverity),
		},
	})
	return nil
}
