package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".govmd"
	DefaultConfigFile = "config.json"
	DefaultStateDir   = ".govmd/state"
	DefaultDBFile     = ".govmd/govmd.db"
)

// Load reads the config file (falling back to defaults if absent; no file is
// written) and returns a populated Config. The configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file exists but is malformed.
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
		// No config yet — the defaults set above are used as they are.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	clampNegatives(&cfg)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(configPath, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// EnsureDir creates ~/.govmd and ~/.govmd/state if they don't exist.
func EnsureDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dirs := []string{
		filepath.Join(home, DefaultConfigDir),
		filepath.Join(home, DefaultStateDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values, one
// entry per knob named in spec §6.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_connections", 16)

	v.SetDefault("core.auth_timeout", 5*time.Minute)
	v.SetDefault("core.broker_address", "")
	v.SetDefault("core.state_dir", filepath.Join(home, DefaultStateDir))
	v.SetDefault("core.feed_lock_path", "")
	v.SetDefault("core.feed_lock_timeout", 30*time.Second)
	v.SetDefault("core.min_mem_feed_update_mib", 2048)
	v.SetDefault("core.mem_wait_retries", 3)
	v.SetDefault("core.max_concurrent_scan_updates", 4)
	v.SetDefault("core.max_concurrent_report_processing", 2)
	v.SetDefault("core.scanner_connection_retry", 3)
	v.SetDefault("core.schedule_timeout", 5*time.Minute)
	v.SetDefault("core.tick_interval", 15*time.Second)
	v.SetDefault("core.report_import_tick_limit", 10)
	v.SetDefault("core.scanner_poll_interval", 25*time.Second)

	v.SetDefault("relay.mapper_path", "")
	v.SetDefault("relay.timeout", 10*time.Second)

	v.SetDefault("feed_sync.sync_data_objects", true)
	v.SetDefault("feed_sync.auto_delete_reports_after", time.Duration(0))

	v.SetDefault("gateway.port", 6080)
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Core.StateDir = expandHome(cfg.Core.StateDir, home)
	cfg.Core.FeedLockPath = expandHome(cfg.Core.FeedLockPath, home)
	if cfg.Core.FeedLockPath == "" {
		cfg.Core.FeedLockPath = filepath.Join(cfg.Core.StateDir, "feed-update.lock")
	}
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// clampNegatives enforces spec §6's "all accept conservative defaults and
// clamp negatives to disabled/unlimited as appropriate".
func clampNegatives(cfg *Config) {
	if cfg.Core.MaxConcurrentScanUpdates < 0 {
		cfg.Core.MaxConcurrentScanUpdates = 0
	}
	if cfg.Core.MaxConcurrentReportProcessing < 0 {
		cfg.Core.MaxConcurrentReportProcessing = 0
	}
	if cfg.Core.ScannerConnectionRetry < 0 {
		cfg.Core.ScannerConnectionRetry = 0
	}
	if cfg.Core.MemWaitRetries < 0 {
		cfg.Core.MemWaitRetries = 0
	}
	if cfg.Database.MaxConnections < 0 {
		cfg.Database.MaxConnections = 0
	}
	if cfg.Core.ReportImportTickLimit <= 0 {
		cfg.Core.ReportImportTickLimit = 10
	}
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
