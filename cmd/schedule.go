package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

var (
	scheduleZone        string
	scheduleDuration    time.Duration
	schedulePeriodCount int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron-style task schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db store.DB) error {
			scheds, err := store.NewSchedules(db).ListAllSchedules(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UUID\tICALENDAR\tZONE\tNEXT FIRE")
			for _, s := range scheds {
				next := "-"
				if s.NextFireTime != nil {
					next = s.NextFireTime.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.UUID, s.ICalendar, s.Zone, next)
			}
			return tw.Flush()
		})
	},
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create ICALENDAR",
	Short: "Create a schedule from an RRULE/VEVENT iCalendar fragment",
	Long: `Creates a schedule from an iCalendar recurrence fragment, e.g.:

  govmd schedule create "FREQ=DAILY;BYHOUR=2" --zone America/New_York

A schedule with neither --duration nor --period-count is one-off: when
it fires, its next fire time is cleared so it does not fire again. It
stays bound to its task; nothing removes the task's schedule reference.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db store.DB) error {
			zone := scheduleZone
			if zone == "" {
				zone = "UTC"
			}
			sched := &model.Schedule{
				UUID:      uuid.NewString(),
				ICalendar: args[0],
				Zone:      zone,
			}
			if scheduleDuration > 0 {
				sched.Duration = &scheduleDuration
			}
			if cmd.Flags().Changed("period-count") {
				sched.PeriodCount = &schedulePeriodCount
			}
			if err := store.NewSchedules(db).CreateSchedule(ctx, sched); err != nil {
				return err
			}
			fmt.Println(sched.UUID)
			return nil
		})
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete UUID",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db store.DB) error {
			schedules := store.NewSchedules(db)
			if _, err := schedules.FindSchedule(ctx, args[0]); err != nil {
				return err
			}
			if err := schedules.DeleteSchedule(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		})
	},
}

func init() {
	scheduleCreateCmd.Flags().StringVar(&scheduleZone, "zone", "", "IANA time zone name (default UTC)")
	scheduleCreateCmd.Flags().DurationVar(&scheduleDuration, "duration", 0, "how long the bound task should run once started")
	scheduleCreateCmd.Flags().IntVar(&schedulePeriodCount, "period-count", 0, "remaining number of fires (omit for unbounded)")

	scheduleCmd.AddCommand(scheduleListCmd, scheduleCreateCmd, scheduleDeleteCmd)
}
