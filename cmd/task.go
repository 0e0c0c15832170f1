package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

// cliPrincipal is the identity the CLI presents to the state machine.
// A govmd operator running the CLI already holds whatever host-level
// access let them reach the database file or the daemon's state dir, so
// the CLI grants itself every client-facing permission rather than
// re-deriving the ACL engine's verdict locally (spec §1 Non-goals).
var cliPrincipal = taskstate.Principal{
	UUID: "cli",
	Permissions: map[string]bool{
		model.PermStartTask:  true,
		model.PermStopTask:   true,
		model.PermResumeTask: true,
		model.PermModifyTask: true,
		model.PermDeleteTask: true,
	},
}

var (
	taskOwner          string
	taskScannerUUID    string
	taskTargetUUID     string
	taskConfigUUID     string
	taskScheduleUUID   string
	taskAgentGroupUUID string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and drive tasks through their lifecycle",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, tasks *store.Tasks, _ *taskstate.StateMachine) error {
			all, err := tasks.ListAllTasks(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UUID\tNAME\tSTATUS\tSCANNER\tREPORT")
			for _, t := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.UUID, t.Name, t.Status, t.ScannerUUID, t.CurrentReport)
			}
			return tw.Flush()
		})
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new task in NEW status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskOwner == "" || taskScannerUUID == "" || taskTargetUUID == "" {
			return fmt.Errorf("--owner, --scanner and --target are required")
		}
		return withTaskStore(func(ctx context.Context, tasks *store.Tasks, _ *taskstate.StateMachine) error {
			task := &model.Task{
				UUID:           uuid.NewString(),
				Name:           args[0],
				Owner:          taskOwner,
				ScannerUUID:    taskScannerUUID,
				TargetUUID:     taskTargetUUID,
				ConfigUUID:     taskConfigUUID,
				ScheduleUUID:   taskScheduleUUID,
				AgentGroupUUID: taskAgentGroupUUID,
			}
			if err := tasks.CreateTask(ctx, task); err != nil {
				return err
			}
			fmt.Println(task.UUID)
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show UUID",
	Short: "Print a task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, tasks *store.Tasks, _ *taskstate.StateMachine) error {
			task, err := tasks.FindTask(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		})
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start UUID",
	Short: "Start a task (creates its current report)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, _ *store.Tasks, machine *taskstate.StateMachine) error {
			report, err := machine.Start(ctx, args[0], cliPrincipal)
			if err != nil {
				return err
			}
			fmt.Printf("started, report %s\n", report.UUID)
			return nil
		})
	},
}

var taskStopCmd = &cobra.Command{
	Use:   "stop UUID",
	Short: "Request a running task stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, _ *store.Tasks, machine *taskstate.StateMachine) error {
			if err := machine.Stop(ctx, args[0], cliPrincipal); err != nil {
				return err
			}
			fmt.Println("stop requested")
			return nil
		})
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume UUID",
	Short: "Resume a stopped or interrupted task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, _ *store.Tasks, machine *taskstate.StateMachine) error {
			report, err := machine.Resume(ctx, args[0], cliPrincipal)
			if err != nil {
				return err
			}
			fmt.Printf("resumed, report %s\n", report.UUID)
			return nil
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete UUID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, _ *store.Tasks, machine *taskstate.StateMachine) error {
			if err := machine.Delete(ctx, args[0], cliPrincipal); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		})
	},
}

var taskMoveCmd = &cobra.Command{
	Use:   "move UUID NEW_SCANNER_UUID",
	Short: "Rebind a quiescent task to a different scanner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTaskStore(func(ctx context.Context, _ *store.Tasks, machine *taskstate.StateMachine) error {
			if err := machine.Move(ctx, args[0], args[1], cliPrincipal); err != nil {
				return err
			}
			fmt.Println("moved")
			return nil
		})
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskOwner, "owner", "", "owner principal uuid (required)")
	taskCreateCmd.Flags().StringVar(&taskScannerUUID, "scanner", "", "scanner uuid (required)")
	taskCreateCmd.Flags().StringVar(&taskTargetUUID, "target", "", "target uuid (required)")
	taskCreateCmd.Flags().StringVar(&taskConfigUUID, "config", "", "scan config uuid")
	taskCreateCmd.Flags().StringVar(&taskScheduleUUID, "schedule", "", "bound schedule uuid")
	taskCreateCmd.Flags().StringVar(&taskAgentGroupUUID, "agent-group", "", "agent group uuid (AGENT_CONTROLLER scanners)")

	taskCmd.AddCommand(taskListCmd, taskCreateCmd, taskShowCmd, taskStartCmd, taskStopCmd,
		taskResumeCmd, taskDeleteCmd, taskMoveCmd)
}

// withTaskStore opens the configured database, runs fn with task-store and
// state-machine handles, and always closes the database afterwards.
func withTaskStore(fn func(ctx context.Context, tasks *store.Tasks, machine *taskstate.StateMachine) error) error {
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

	tasks := store.NewTasks(db)
	reports := store.NewReports(db)
	queue := store.NewQueue(db)
	machine := taskstate.New(tasks, reports, queue)
	return fn(ctx, tasks, machine)
}
