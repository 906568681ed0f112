package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/internal/clifmt"
	"github.com/hermitdroid/hermitdroid/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow [file]",
	Short: "Run a multi-step workflow of app-scoped goals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflow.Load(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx, log, nil)
		if err != nil {
			return err
		}
		defer st.Close()

		runner := &workflow.Runner{Engine: st.Engine, Gate: st.Gate, Log: log}
		res, err := runner.Run(ctx, wf)
		if err != nil {
			return err
		}

		for _, step := range res.StepResults {
			line := fmt.Sprintf("step %d (%s): %s, %d actions", step.Index+1, step.Goal, step.Status, step.Steps)
			switch step.Status {
			case agent.GoalDone:
				fmt.Println(clifmt.Success(line))
			case agent.GoalAwaiting:
				fmt.Println(clifmt.Warn(line))
				for _, id := range step.PendingIDs {
					fmt.Println("  hermitdroid confirm", id, "--approve")
				}
			default:
				fmt.Println(clifmt.Warn(line))
				if step.Err != nil {
					fmt.Println(clifmt.Dim(step.Err.Error()))
				}
			}
		}

		if res.Halted {
			return fmt.Errorf("workflow %s halted", wf.Name)
		}
		if n := res.Failed(); n > 0 {
			return fmt.Errorf("workflow %s finished with %d failed steps", wf.Name, n)
		}
		fmt.Println(clifmt.Success("workflow " + wf.Name + " completed"))
		return nil
	},
}
