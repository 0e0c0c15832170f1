package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/lockutil"
	"github.com/ov-project/govmd/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify the database, state directory and feed lock",
	Long: `Checks that the configured database can be reached, the state
directory is writable, the relay-mapper executable (if configured) is
present, and the process-wide feed lock can be acquired and released.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println("=== govmd doctor ===")
	fmt.Println()

	fmt.Print("Database ................. ")
	db, err := store.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s: %s)\n", db.Driver(), cfg.Database.Path)
		}
		db.Close()
	}

	fmt.Print("State directory .......... ")
	if err := checkWritableDir(cfg.Core.StateDir); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		fmt.Printf("OK (%s)\n", cfg.Core.StateDir)
	}

	fmt.Print("Relay mapper .............. ")
	switch {
	case cfg.Relay.MapperPath == "":
		fmt.Println("disabled (no mapper_path configured — relay resolution is the identity transform)")
	default:
		if _, err := os.Stat(cfg.Relay.MapperPath); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", cfg.Relay.MapperPath)
		}
	}

	fmt.Print("Feed lock ................. ")
	lock := lockutil.NewFileLock(cfg.Core.FeedLockPath)
	got, err := lock.AcquireTimeout(2 * time.Second)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else if !got {
		fmt.Println("BUSY (held by another process — this is fine if govmd serve is running)")
	} else {
		if err := lock.Release(); err != nil {
			fmt.Printf("FAIL releasing (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", cfg.Core.FeedLockPath)
		}
	}

	fmt.Print("Notify channels ........... ")
	notifyConfigured := cfg.Notify.Slack.WebhookURL != "" || cfg.Notify.Telegram.BotToken != "" ||
		cfg.Notify.Email.SMTPHost != "" || cfg.Notify.Webhook.URL != ""
	if notifyConfigured {
		fmt.Println("OK (at least one channel configured)")
	} else {
		fmt.Println("none configured (task_done/task_interrupted/feed_busy events will not be pushed anywhere)")
	}

	fmt.Println()
	if allOK {
		fmt.Println(successStyle.Render("All checks passed — govmd is ready."))
	} else {
		fmt.Println(warnStyle.Render("Some checks failed — see above."))
	}

	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := dir + "/.govmd-doctor-probe"
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}
