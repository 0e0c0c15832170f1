package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "govmd",
	Short: "Vulnerability management task-execution controller",
	Long: `govmd is a vulnerability management controller daemon: it drives
scanner tasks through their lifecycle, imports their reports, runs the
NVT/SCAP/CERT feed-sync coordinator, and fires cron-style schedules against the
tasks they own.

Get started:
  govmd doctor     Verify the database, state directory and feed lock
  govmd serve      Start the persistent controller daemon with REST API
  govmd task       Inspect and drive tasks through start/stop/resume
  govmd scanner    Register and list scanner backends
  govmd schedule   Manage cron-style task schedules
  govmd feed       Check feed sync status or trigger a sync
  govmd ui         Launch the terminal dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.govmd/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		serveCmd,
		taskCmd,
		scannerCmd,
		scheduleCmd,
		feedCmd,
		uiCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
