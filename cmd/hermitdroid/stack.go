package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/bridge"
	"github.com/hermitdroid/hermitdroid/db"
	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/internal/pathutil"
	"github.com/hermitdroid/hermitdroid/llm"
	"github.com/hermitdroid/hermitdroid/perception"
	"github.com/hermitdroid/hermitdroid/providers/openai"
	"github.com/hermitdroid/hermitdroid/workspace"
)

// stack is everything a device-facing command needs. The daemon uses
// all of it; one-shot commands build it, run, and let the process exit.
type stack struct {
	DB        *gorm.DB
	Pending   *guard.SQLitePendingStore
	Audit     *guard.JSONLSink
	Gate      *guard.Gate
	Bridge    *bridge.ADB
	Observer  *perception.Observer
	LLM       llm.Client
	Engine    *agent.Engine
	Cron      *agent.CronStore
	Workspace *workspace.Workspace
}

func (s *stack) Close() {
	if s.Pending != nil {
		_ = s.Pending.Close()
	}
	if s.Audit != nil {
		_ = s.Audit.Close()
	}
}

// buildStack assembles the device stack from viper. wrapSink, when not
// nil, wraps the audit sink before the gate sees it; the daemon uses it
// to tee audit entries onto the websocket hub.
func buildStack(ctx context.Context, log *slog.Logger, wrapSink func(guard.Sink) guard.Sink) (*stack, error) {
	dsn, err := db.ResolveSQLiteDSN(dbDSNFromViper())
	if err != nil {
		return nil, fmt.Errorf("resolve db dsn: %w", err)
	}
	gdb, err := db.Open(ctx, db.DefaultConfig(dsn))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	pending, err := guard.NewSQLitePendingStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("pending store: %w", err)
	}

	audit, err := guard.NewJSONLSink(auditPathFromViper(), viper.GetInt64("audit.rotate_max_bytes"))
	if err != nil {
		pending.Close()
		return nil, fmt.Errorf("audit sink: %w", err)
	}

	adb := bridge.NewADB(viper.GetString("device.serial"), log)

	var sink guard.Sink = audit
	if wrapSink != nil {
		sink = wrapSink(audit)
	}

	gate := guard.New(guard.Config{
		Policy: guard.Policy{
			RestrictedApps:    viper.GetStringSlice("guard.restricted_apps"),
			IrreversibleVerbs: viper.GetStringSlice("guard.irreversible_verbs"),
		},
		ConfirmTimeout: confirmTimeoutFromViper(),
		DryRun:         viper.GetBool("guard.dry_run"),
	}, pending, sink, adb, log)

	observer := perception.NewObserver(adb, viper.GetStringSlice("perception.priority_apps"), log)

	ws, err := workspace.New(workspaceRootFromViper())
	if err != nil {
		pending.Close()
		audit.Close()
		return nil, fmt.Errorf("workspace: %w", err)
	}

	client := openai.New(llmEndpointFromViper(), llmAPIKeyFromViper())

	engine := &agent.Engine{
		LLM:         client,
		Model:       llmModelFromViper(),
		Observer:    observer,
		Gate:        gate,
		Workspace:   ws,
		Log:         log,
		MaxSteps:    viper.GetInt("agent.max_steps"),
		MaxTokens:   viper.GetInt("agent.max_tokens"),
		SettleDelay: time.Duration(viper.GetInt("agent.settle_delay_ms")) * time.Millisecond,
	}

	return &stack{
		DB:        gdb,
		Pending:   pending,
		Audit:     audit,
		Gate:      gate,
		Bridge:    adb,
		Observer:  observer,
		LLM:       client,
		Engine:    engine,
		Cron:      agent.NewCronStore(gdb),
		Workspace: ws,
	}, nil
}

func dbDSNFromViper() string {
	if dsn := strings.TrimSpace(viper.GetString("db.dsn")); dsn != "" {
		return dsn
	}
	return filepath.Join(defaultHome(), "hermitdroid.db")
}

func auditPathFromViper() string {
	if p := strings.TrimSpace(viper.GetString("audit.jsonl_path")); p != "" {
		return pathutil.ExpandHomePath(p)
	}
	return filepath.Join(defaultHome(), "audit.jsonl")
}

func workspaceRootFromViper() string {
	if p := strings.TrimSpace(viper.GetString("workspace.root")); p != "" {
		return p
	}
	return filepath.Join(defaultHome(), "workspace")
}

func confirmTimeoutFromViper() time.Duration {
	if secs := viper.GetInt("guard.confirm_timeout_seconds"); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func serverAddrFromViper() string {
	if addr := strings.TrimSpace(viper.GetString("server.addr")); addr != "" {
		return addr
	}
	return "127.0.0.1:8787"
}

func llmEndpointFromViper() string {
	if ep := strings.TrimSpace(viper.GetString("llm.endpoint")); ep != "" {
		return ep
	}
	return "https://api.openai.com/v1"
}

func llmAPIKeyFromViper() string {
	return strings.TrimSpace(viper.GetString("llm.api_key"))
}

func llmModelFromViper() string {
	if m := strings.TrimSpace(viper.GetString("llm.model")); m != "" {
		return m
	}
	return "gpt-4o-mini"
}
