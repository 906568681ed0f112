package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/internal/clifmt"
)

var (
	runApp      string
	runMaxSteps int
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Run one goal to completion and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx, log, nil)
		if err != nil {
			return err
		}
		defer st.Close()

		goal := strings.Join(args, " ")
		res, err := st.Engine.RunGoal(ctx, goal, runApp, nil, runMaxSteps)
		if err != nil {
			return err
		}
		printGoalResult(res)
		if res.Status == agent.GoalDone || res.Status == agent.GoalAwaiting {
			return nil
		}
		return fmt.Errorf("goal ended with status %s", res.Status)
	},
}

func printGoalResult(res agent.GoalResult) {
	switch res.Status {
	case agent.GoalDone:
		fmt.Println(clifmt.Success(fmt.Sprintf("done in %d steps", res.Steps)))
	case agent.GoalAwaiting:
		fmt.Println(clifmt.Warn("waiting for confirmation:"))
		for _, id := range res.PendingIDs {
			fmt.Println("  hermitdroid confirm", id, "--approve")
		}
	default:
		fmt.Println(clifmt.Warn(fmt.Sprintf("%s after %d steps", res.Status, res.Steps)))
		if res.LastError != nil {
			fmt.Println(clifmt.Dim(res.LastError.Error()))
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runApp, "app", "", "target app package; launched first and drift away from it counts as stuck")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "step limit for this goal (0 uses the configured default)")
}
