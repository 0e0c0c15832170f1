package cmd

import (
	"context"
	"fmt"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/tui"
	"github.com/spf13/cobra"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long:  `Opens the interactive terminal UI: a dashboard of recent tasks with status counts, and a list of recent reports filterable by severity band. The Schedules and Feed tabs show no data.`,
	RunE:  runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := store.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	app := tui.NewApp(cfg, db)
	return app.Run()
}
