package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/perception"
	"github.com/hermitdroid/hermitdroid/server"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the agent daemon: heartbeat loop plus the confirmation API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var hub *server.EventHub
		st, err := buildStack(ctx, log, func(next guard.Sink) guard.Sink {
			hub = server.NewEventHub(next)
			return hub
		})
		if err != nil {
			return err
		}
		defer st.Close()

		// Pending rows pinned to a screen that is gone must expire, not
		// dispatch. Best effort when the device is unreachable.
		screenHash := ""
		if snap, _, err := st.Observer.Observe(ctx, perception.ObserveOptions{}); err == nil {
			screenHash = snap.Screen.TreeHash
		} else {
			log.Warn("startup_observe_failed", "error", err.Error())
		}
		if err := st.Gate.ReconcileOnStartup(ctx, screenHash); err != nil {
			return err
		}

		sched := agent.NewScheduler(st.Engine, st.Cron, st.Gate, log)
		sched.Interval = time.Duration(viper.GetInt("agent.heartbeat_seconds")) * time.Second
		sched.GatewayEvery = viper.GetInt("agent.gateway_every")

		srv := &server.Server{
			Gate:      st.Gate,
			Pending:   st.Pending,
			Audit:     st.Audit,
			Events:    hub,
			Workspace: st.Workspace,
			Scheduler: sched,
			Observer:  st.Observer,
			Log:       log,
		}
		httpSrv := &http.Server{Addr: serverAddrFromViper(), Handler: srv.Handler()}

		httpErr := make(chan error, 1)
		go func() {
			log.Info("http_listening", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()

		schedErr := make(chan error, 1)
		go func() { schedErr <- sched.Run(ctx) }()

		var runErr error
		select {
		case runErr = <-httpErr:
			stop()
			<-schedErr
		case runErr = <-schedErr:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)

		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		log.Info("gateway_stopped")
		return nil
	},
}
