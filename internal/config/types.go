package config

import "time"

// Config is the root configuration structure for govmd.
// Serialised to ~/.govmd/config.json.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Core     CoreConfig     `mapstructure:"core"     json:"core"`
	Relay    RelayConfig    `mapstructure:"relay"    json:"relay"`
	FeedSync FeedSyncConfig `mapstructure:"feed_sync" json:"feed_sync"`
	Gateway  GatewayConfig  `mapstructure:"gateway"  json:"gateway"`
	Notify   NotifyConfig   `mapstructure:"notify"   json:"notify"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
	// MaxConnections caps concurrent DB connections (spec §6
	// max_database_connections). Non-positive means "driver default".
	MaxConnections int `mapstructure:"max_connections" json:"max_connections"`
}

// CoreConfig exposes the task-execution-subsystem knobs named in spec §6.
type CoreConfig struct {
	// AuthTimeout holds the auth_timeout knob. It is loaded and defaulted
	// here; no other code reads it.
	AuthTimeout time.Duration `mapstructure:"auth_timeout" json:"auth_timeout"`
	// BrokerAddress is where the Connection Broker listens for scanner
	// callbacks, if the deployment needs one (most scanner protocols are
	// controller-initiated, so this is usually empty).
	BrokerAddress string `mapstructure:"broker_address" json:"broker_address"`
	// StateDir holds lock files and the semaphore key file.
	StateDir string `mapstructure:"state_dir" json:"state_dir"`
	// FeedLockPath overrides the feed lock file location (default:
	// StateDir/feed-update.lock).
	FeedLockPath string `mapstructure:"feed_lock_path" json:"feed_lock_path"`
	// FeedLockTimeout bounds how long manage_sync waits for the feed lock
	// before returning FeedBusy (spec §4.J, §7).
	FeedLockTimeout time.Duration `mapstructure:"feed_lock_timeout" json:"feed_lock_timeout"`
	// MinMemFeedUpdateMiB is the minimum available physical memory (MiB)
	// required before a feed sync is attempted.
	MinMemFeedUpdateMiB int `mapstructure:"min_mem_feed_update_mib" json:"min_mem_feed_update_mib"`
	// MemWaitRetries bounds how many scheduler ticks manage_sync waits for
	// memory to free up before giving up for this tick.
	MemWaitRetries int `mapstructure:"mem_wait_retries" json:"mem_wait_retries"`
	// MaxConcurrentScanUpdates is the Scan Queue admission cap K (spec
	// §4.G). Non-positive means unbounded.
	MaxConcurrentScanUpdates int `mapstructure:"max_concurrent_scan_updates" json:"max_concurrent_scan_updates"`
	// MaxConcurrentReportProcessing is the REPORTS_PROCESSING semaphore cap
	// (spec §4.A, §4.H). Non-positive means unbounded.
	MaxConcurrentReportProcessing int `mapstructure:"max_concurrent_report_processing" json:"max_concurrent_report_processing"`
	// ScannerConnectionRetry bounds Connection Broker retries (spec §4.B).
	ScannerConnectionRetry int `mapstructure:"scanner_connection_retry" json:"scanner_connection_retry"`
	// ScheduleTimeout is the scheduler's "slack" tolerance for deciding a
	// due start has been missed (spec §4.I Cancellation; §9 Open Question
	// turns the original's hard-coded minutes into this single knob).
	ScheduleTimeout time.Duration `mapstructure:"schedule_timeout" json:"schedule_timeout"`
	// TickInterval drives the controller's own main tick (handle_scan_queue,
	// scheduler sweep, report import queue, manage_sync).
	TickInterval time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
	// ReportImportTickLimit bounds reports imported per tick (spec §4.H,
	// default 10).
	ReportImportTickLimit int `mapstructure:"report_import_tick_limit" json:"report_import_tick_limit"`
	// ScannerPollInterval is the OSP/HTTP-scanner poll period (spec §4.E,
	// default 25s).
	ScannerPollInterval time.Duration `mapstructure:"scanner_poll_interval" json:"scanner_poll_interval"`
}

// RelayConfig controls the optional relay-mapper executable (spec §4.B, §6).
type RelayConfig struct {
	// MapperPath is the path to the relay-mapper executable. Empty disables
	// relay resolution (identity transform).
	MapperPath string `mapstructure:"mapper_path" json:"mapper_path"`
	// Timeout bounds how long the mapper subprocess may run.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// FeedSyncConfig controls external data refresh cadence and sources.
type FeedSyncConfig struct {
	NVTFeedURL  string `mapstructure:"nvt_feed_url"  json:"nvt_feed_url"`
	SCAPFeedURL string `mapstructure:"scap_feed_url" json:"scap_feed_url"`
	CERTFeedURL string `mapstructure:"cert_feed_url" json:"cert_feed_url"`
	// SyncDataObjects enables the second manage_sync phase (configs,
	// port-lists, report-formats, agent-installers).
	SyncDataObjects bool `mapstructure:"sync_data_objects" json:"sync_data_objects"`
	// AutoDeleteReportsAfter, when positive, auto-deletes reports older than
	// this duration on each scheduler tick (spec §4.I step 1).
	AutoDeleteReportsAfter time.Duration `mapstructure:"auto_delete_reports_after" json:"auto_delete_reports_after"`
}

// GatewayConfig controls the controller's own localhost admin surface
// (status dashboard data source, /metrics, the scheduler's self-call
// endpoint).
type GatewayConfig struct {
	// Port is the localhost HTTP port the admin surface listens on.
	Port int `mapstructure:"port" json:"port"`
	// SelfCallTokenURL, SelfCallClientID and SelfCallClientSecret configure
	// the OAuth2 client-credentials exchange the scheduler uses to open an
	// authenticated session back into the controller on the owning
	// principal's behalf (spec §4.I step 5's "authenticated client
	// connection back to the controller"). Empty TokenURL disables the
	// exchange and falls back to trusting the schedule's recorded owner
	// directly, for single-process deployments with no separate gateway.
	SelfCallTokenURL     string `mapstructure:"self_call_token_url"     json:"self_call_token_url"`
	SelfCallClientID     string `mapstructure:"self_call_client_id"     json:"self_call_client_id"`
	SelfCallClientSecret string `mapstructure:"self_call_client_secret" json:"self_call_client_secret"`
}

// NotifyConfig controls outbound push notifications on task/report
// lifecycle events (adapted from the teacher's PR/finding notifications).
type NotifyConfig struct {
	Slack    SlackNotifyConfig    `mapstructure:"slack"    json:"slack"`
	Telegram TelegramNotifyConfig `mapstructure:"telegram" json:"telegram"`
	Email    EmailNotifyConfig    `mapstructure:"email"    json:"email"`
	Webhook  WebhookNotifyConfig  `mapstructure:"webhook"  json:"webhook"`
	// Events is the explicit list of event types to notify on. Empty means
	// use the package defaults (task_done, task_interrupted, feed_busy).
	Events []string `mapstructure:"events" json:"events"`
	// MinSeverity filters task_done notifications to reports whose
	// max_severity level is at least this banded level ("critical", "high",
	// "medium", "low"); empty notifies on every level.
	MinSeverity string `mapstructure:"min_severity" json:"min_severity"`
}

// SlackNotifyConfig holds the Slack incoming webhook URL.
type SlackNotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// TelegramNotifyConfig holds Telegram Bot API credentials.
type TelegramNotifyConfig struct {
	BotToken string `mapstructure:"bot_token" json:"bot_token"`
	ChatID   string `mapstructure:"chat_id"   json:"chat_id"`
}

// EmailNotifyConfig holds SMTP settings for email notifications.
type EmailNotifyConfig struct {
	SMTPHost string `mapstructure:"smtp_host" json:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" json:"smtp_port"`
	Username string `mapstructure:"username"  json:"username"`
	Password string `mapstructure:"password"  json:"password"` // #nosec G101 -- config field, not a hardcoded credential
	From     string `mapstructure:"from"      json:"from"`
	To       string `mapstructure:"to"        json:"to"`
	UseTLS   bool   `mapstructure:"use_tls"   json:"use_tls"`
}

// WebhookNotifyConfig holds generic HTTP webhook settings.
type WebhookNotifyConfig struct {
	URL    string `mapstructure:"url"    json:"url"`
	Secret string `mapstructure:"secret" json:"secret"` // HMAC-SHA256 signing key // #nosec G101 -- config field, not a hardcoded credential
}
