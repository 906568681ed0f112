package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/internal/clifmt"
)

var (
	cronSchedule string
	cronInterval time.Duration
	cronRunOnce  bool
	cronDisabled bool
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled tasks",
}

var cronAddCmd = &cobra.Command{
	Use:   "add [name] [task]",
	Short: "Create or update a scheduled task",
	Long: `Creates a job the gateway folds into a heartbeat tick when due.
Give either --schedule (5-field cron expression) or --every.

Example:
  hermitdroid cron add morning-brief "summarize unread notifications" --schedule "0 8 * * *"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context(), log, nil)
		if err != nil {
			return err
		}
		defer st.Close()

		spec := agent.CronJobSpec{
			Name:     args[0],
			Task:     args[1],
			Schedule: cronSchedule,
			RunOnce:  cronRunOnce,
			Enabled:  !cronDisabled,
		}
		if cronInterval > 0 {
			spec.IntervalSeconds = int64(cronInterval / time.Second)
		}
		job, err := st.Cron.Upsert(cmd.Context(), spec)
		if err != nil {
			return err
		}
		fmt.Println(clifmt.Success("saved " + job.Name + " (" + job.ID + ")"))
		return nil
	},
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := buildStack(cmd.Context(), log, nil)
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.Cron.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no cron jobs")
			return nil
		}
		for _, j := range jobs {
			when := "interval"
			if j.Schedule != nil {
				when = *j.Schedule
			} else if j.IntervalSeconds != nil {
				when = fmt.Sprintf("every %ds", *j.IntervalSeconds)
			}
			state := "enabled"
			if !j.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  [%s]  %s  %s\n", clifmt.Key(j.Name), when, state, j.Task)
			if j.NextRunAt != nil {
				fmt.Println(clifmt.Dim("  next " + time.Unix(*j.NextRunAt, 0).UTC().Format(time.RFC3339)))
			}
		}
		return nil
	},
}

func init() {
	cronAddCmd.Flags().StringVar(&cronSchedule, "schedule", "", "5-field cron expression")
	cronAddCmd.Flags().DurationVar(&cronInterval, "every", 0, "fixed interval, e.g. 30m")
	cronAddCmd.Flags().BoolVar(&cronRunOnce, "once", false, "disable the job after it fires")
	cronAddCmd.Flags().BoolVar(&cronDisabled, "disabled", false, "create the job disabled")
	cronCmd.AddCommand(cronAddCmd, cronListCmd)
}
