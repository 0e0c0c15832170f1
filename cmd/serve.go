package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ov-project/govmd/internal/broker"
	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/dispatch"
	"github.com/ov-project/govmd/internal/feedsync"
	"github.com/ov-project/govmd/internal/gateway"
	"github.com/ov-project/govmd/internal/lockutil"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/notify"
	"github.com/ov-project/govmd/internal/queue"
	"github.com/ov-project/govmd/internal/scheduler"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
	"github.com/ov-project/govmd/internal/worker"
)

var servePort int
var serveLogDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the govmd controller daemon",
	Long: `Starts the govmd controller: a long-running daemon that drives the
task state machine, polls admitted scanners, imports reports, sweeps
cron schedules and runs a feed-sync pass on every tick (no feed syncers
are wired in, so that pass finds nothing due).

It exposes a local REST + SSE admin surface (default:
http://127.0.0.1:6080) so you can:

  • Inspect tasks, reports, scanners, schedules and feed status
  • Start, stop, resume or move a task between scanners
  • Trigger an out-of-band feed sync
  • Stream live events via GET /events (Server-Sent Events)
  • Scrape /metrics for task/queue gauges

Quick API reference:
  GET  /health                liveness check
  GET  /api/status            controller status snapshot
  GET  /api/tasks             list tasks (?status=RUNNING)
  POST /api/tasks             create a task
  POST /api/tasks/:uuid/start start a task
  POST /api/tasks/:uuid/stop  request a running task stop
  GET  /api/reports/:uuid     fetch a report
  GET  /api/scanners          list scanner backends
  GET  /api/schedules         list cron schedules
  GET  /api/feed/status       feed sync status per kind
  POST /api/feed/sync         trigger an out-of-band feed sync
  GET  /events                SSE stream of live events`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"HTTP port to listen on (default 6080, overrides config)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "logs",
		"directory to write controller logs for later inspection")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down govmd gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	closeLog, err := setupServeFileLogger(serveLogDir)
	if err != nil {
		return fmt.Errorf("initialising controller logger: %w", err)
	}
	defer closeLog()

	if servePort > 0 {
		cfg.Gateway.Port = servePort
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 6080
	}

	db, err := store.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	tasks := store.NewTasks(db)
	reports := store.NewReports(db)
	sq := store.NewQueue(db)
	targets := store.NewTargets(db)
	scanners := store.NewScanners(db)
	schedules := store.NewSchedules(db)
	feed := store.NewFeed(db)

	machine := taskstate.New(tasks, reports, sq)

	dispatcher := dispatch.New(slog.Default(), targets, reports)
	if err := registerDispatchVariants(ctx, dispatcher, db, cfg, scanners, reports); err != nil {
		slog.Warn("dispatch variant registration incomplete", "error", err)
	}
	sup := worker.New(func() (store.DB, error) { return store.New(cfg.Database) },
		dispatcher, machine, cfg.Core.ScannerPollInterval, slog.Default())

	notifier := notify.NewDispatcher(cfg.Notify)

	scanQueue := queue.NewScanQueue(sq, scanners, tasks, machine, sup, cfg.Core.MaxConcurrentScanUpdates, slog.Default())
	importer := queue.NewNotifyImporter(reports, tasks, notifier)
	importQueue := queue.NewReportImportQueue(reports, importer, machine, cfg.Core.StateDir,
		cfg.Core.MaxConcurrentReportProcessing, cfg.Core.ReportImportTickLimit, slog.Default())
	go runQueueTicks(ctx, scanQueue, importQueue, cfg.Core.TickInterval)

	sched := scheduler.New(schedules, tasks, reports, machine,
		scheduler.NewOAuthConnectionFactory(cfg.Gateway), nil,
		cfg.FeedSync.AutoDeleteReportsAfter, cfg.Core.ScheduleTimeout, slog.Default())
	if err := sched.Start(cfg.Core.TickInterval); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	lock := lockutil.NewFileLock(cfg.Core.FeedLockPath)
	feedCoord := feedsync.New(lock, feed, nil, nil,
		cfg.Core.MinMemFeedUpdateMiB, cfg.Core.MemWaitRetries,
		cfg.Core.FeedLockTimeout, cfg.Core.TickInterval, cfg.FeedSync.SyncDataObjects, slog.Default())
	go func() {
		ticker := time.NewTicker(max(cfg.Core.TickInterval, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := feedCoord.RunTick(ctx); err != nil {
					slog.Error("feed sync tick failed", "error", err)
				}
			}
		}
	}()

	gw := gateway.New(cfg, db, machine, sched, feedCoord, notifier)

	fmt.Printf("govmd controller starting\n")
	fmt.Printf("  API        : http://127.0.0.1:%d\n", cfg.Gateway.Port)
	fmt.Printf("  Events     : http://127.0.0.1:%d/events\n", cfg.Gateway.Port)
	fmt.Printf("  Tick       : %s\n\n", cfg.Core.TickInterval)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	slog.Info("controller starting", "port", cfg.Gateway.Port, "tick_interval", cfg.Core.TickInterval)
	return gw.Start(ctx)
}

// registerDispatchVariants builds one dispatch.Variant per distinct
// scanner kind found in the scanner table and registers it on dispatcher.
// A kind with no configured scanner, or whose variant needs a feed the
// syncers haven't populated yet (VT list, match-node table), is skipped
// or registered in its honest, best-effort degraded form rather than
// silently left out — RunTask's own "no dispatch variant registered"
// error still fires for genuinely unconfigured kinds.
func registerDispatchVariants(ctx context.Context, d *dispatch.Dispatcher, db store.DB, cfg *config.Config,
	scanners *store.Scanners, reports *store.Reports) error {
	credentials := store.NewCredentials(db)
	configs := store.NewConfigs(db)
	nvtCache := store.NewNVTCache(db)
	relay := broker.NewRelayResolver(cfg.Relay)
	conn := broker.New(cfg.Core.ScannerConnectionRetry, relay)

	cveIndex := dispatch.NewStoreCVEIndex(db, reports)
	d.Register(model.ScannerCVE, dispatch.NewCVEVariant(cveIndex, slog.Default()))

	all, err := scanners.ListScanners(ctx)
	if err != nil {
		return fmt.Errorf("listing scanners: %w", err)
	}
	seen := make(map[model.ScannerKind]bool)
	for _, sc := range all {
		if seen[sc.Kind] {
			continue
		}
		switch sc.Kind {
		case model.ScannerOSP, model.ScannerOSPSensor:
			d.Register(sc.Kind, dispatch.NewOSPVariant(conn, sc, credentials, configs, slog.Default()))
		case model.ScannerHTTP, model.ScannerHTTPSensor:
			d.Register(sc.Kind, dispatch.NewHTTPScannerVariant(conn, sc, credentials, configs, nvtCache, slog.Default()))
		case model.ScannerAgentController, model.ScannerAgentControllerSensor:
			d.Register(sc.Kind, dispatch.NewAgentControllerVariant(conn, sc, configs, nvtCache, dispatch.UnresolvedAgentGroups{}, slog.Default()))
		default:
			continue
		}
		seen[sc.Kind] = true
	}
	return nil
}

// runQueueTicks drives the Scan Queue and Report Import Queue on the
// controller's shared tick interval (spec §4.G, §4.H): each tick admits as
// many queued scans as the SCAN_UPDATE semaphore allows, then imports up to
// the report-import tick limit of reports sitting in RunProcessing.
func runQueueTicks(ctx context.Context, scanQueue *queue.ScanQueue, importQueue *queue.ReportImportQueue, tickInterval time.Duration) {
	if tickInterval <= 0 {
		tickInterval = 15 * time.Second
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := scanQueue.HandleTick(ctx); err != nil {
				slog.Error("scan queue tick failed", "error", err)
			}
			if _, err := importQueue.HandleTick(ctx); err != nil {
				slog.Error("report import tick failed", "error", err)
			}
		}
	}
}

func setupServeFileLogger(logDir string) (func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("govmd-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "govmd.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	return func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}, nil
}
