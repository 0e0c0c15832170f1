package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/feedsync"
	"github.com/ov-project/govmd/internal/notify"
	"github.com/ov-project/govmd/internal/scheduler"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

// Gateway is the controller's own localhost admin surface: a REST + SSE
// HTTP server that exposes task/report/scanner/schedule/feed state and
// lets an operator drive the task state machine directly, alongside a
// /metrics endpoint whose task and scan-queue gauges are read from the store.
//
// It does not itself run the scheduler or feed coordinator ticks — those
// are started independently by the daemon entrypoint — but it reads their
// persisted state through the same store handles.
type Gateway struct {
	cfg *config.Config

	db       store.DB
	tasks    *store.Tasks
	reports  *store.Reports
	scanners *store.Scanners
	schedules *store.Schedules
	feed     *store.Feed
	queue    *store.Queue

	machine   *taskstate.StateMachine
	sched     *scheduler.Scheduler
	feedCoord *feedsync.Coordinator
	notifier  *notify.Dispatcher

	broadcaster *Broadcaster

	mu         sync.RWMutex
	startedAt  time.Time
	lastTickAt string
}

// New creates a Gateway wired to db. The scheduler, feed coordinator and
// notifier are optional collaborators (nil is fine) used only to surface
// status and to accept manual-trigger requests; their tick loops are
// started and owned elsewhere.
func New(cfg *config.Config, db store.DB, machine *taskstate.StateMachine,
	sched *scheduler.Scheduler, feedCoord *feedsync.Coordinator, notifier *notify.Dispatcher) *Gateway {
	return &Gateway{
		cfg:         cfg,
		db:          db,
		tasks:       store.NewTasks(db),
		reports:     store.NewReports(db),
		scanners:    store.NewScanners(db),
		schedules:   store.NewSchedules(db),
		feed:        store.NewFeed(db),
		queue:       store.NewQueue(db),
		machine:     machine,
		sched:       sched,
		feedCoord:   feedCoord,
		notifier:    notifier,
		broadcaster: newBroadcaster(),
		startedAt:   time.Now(),
	}
}

// NotifyTaskDone broadcasts a task_done SSE event and routes the same
// event through the notify dispatcher. Nothing in the daemon calls it; the
// task_done notification after a report import comes from
// queue.NotifyImporter.
func (gw *Gateway) NotifyTaskDone(ctx context.Context, taskUUID, reportUUID string, maxSeverity string) {
	gw.broadcaster.send(SSEEvent{Type: "task.done", Payload: map[string]string{
		"task_uuid": taskUUID, "report_uuid": reportUUID,
	}})
	if gw.notifier == nil {
		return
	}
	gw.notifier.Notify(ctx, notify.Event{
		Type:       "task_done",
		Title:      "Scan complete",
		Body:       fmt.Sprintf("task %s finished, report %s", taskUUID, reportUUID),
		Severity:   maxSeverity,
		TaskUUID:   taskUUID,
		ReportUUID: reportUUID,
	})
}

// Start binds the HTTP server and blocks until ctx is cancelled, then
// shuts the server down gracefully (grounded on the teacher's own
// SIGINT/SIGTERM-driven gateway Start).
func (gw *Gateway) Start(ctx context.Context) error {
	port := gw.cfg.Gateway.Port
	if port == 0 {
		port = 6080
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	go gw.runStatsTicker(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: buildHandler(gw),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	gw.broadcaster.send(SSEEvent{Type: "gateway.started", Payload: map[string]string{"addr": "http://" + addr}})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// runStatsTicker refreshes Status from the DB every 5 seconds and
// broadcasts a "status.update" SSE event to all connected clients.
func (gw *Gateway) runStatsTicker(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			gw.broadcaster.send(SSEEvent{Type: "status.update", Payload: gw.currentStatus(ctx)})
		}
	}
}

func (gw *Gateway) currentStatus(ctx context.Context) Status {
	var running, queued countRow
	_ = gw.db.Get(ctx, &running, "SELECT COUNT(*) AS n FROM tasks WHERE status = 'RUNNING'")
	_ = gw.db.Get(ctx, &queued, "SELECT COUNT(*) AS n FROM tasks WHERE status IN ('REQUESTED', 'QUEUED')")
	depth, _ := gw.queue.ScanQueueDepth(ctx)

	gw.mu.RLock()
	last := gw.lastTickAt
	gw.mu.RUnlock()

	return Status{
		UptimeSeconds:  int64(time.Since(gw.startedAt).Seconds()),
		TasksRunning:   running.N,
		TasksQueued:    queued.N,
		ScanQueueDepth: depth,
		LastTickAt:     last,
	}
}
