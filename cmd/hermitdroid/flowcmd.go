package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hermitdroid/hermitdroid/flow"
	"github.com/hermitdroid/hermitdroid/internal/clifmt"
)

var flowCmd = &cobra.Command{
	Use:   "flow [file]",
	Short: "Run a scripted flow file, no model involved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := flow.Load(args[0])
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

		runner := &flow.Runner{
			Gate:        st.Gate,
			Observer:    st.Observer,
			Log:         log,
			SettleDelay: time.Duration(viper.GetInt("agent.settle_delay_ms")) * time.Millisecond,
		}
		res, err := runner.Run(ctx, f)
		if err != nil {
			return err
		}

		switch res.Status {
		case flow.RunCompleted:
			fmt.Println(clifmt.Success(fmt.Sprintf("flow %s completed, %d steps", f.Name, res.StepsRun)))
			return nil
		case flow.RunAwaiting:
			fmt.Println(clifmt.Warn("flow paused, waiting for confirmation:"))
			for _, id := range res.PendingIDs {
				fmt.Println("  hermitdroid confirm", id, "--approve")
			}
			return nil
		default:
			msg := fmt.Sprintf("flow %s %s at step %d", f.Name, res.Status, res.FailedStep)
			if res.LastError != nil {
				msg += ": " + res.LastError.Error()
			}
			return fmt.Errorf("%s", msg)
		}
	},
}
