package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/perception"
	"github.com/hermitdroid/hermitdroid/plan"
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunHalted    RunStatus = "halted"
	RunAwaiting  RunStatus = "awaiting_confirmation"
)

type RunResult struct {
	Status     RunStatus
	StepsRun   int
	FailedStep int
	PendingIDs []string
	LastError  error
}

// Runner executes flows step by step. tap_text steps resolve their
// coordinates against a fresh snapshot, everything else is literal.
type Runner struct {
	Gate        *guard.Gate
	Observer    *perception.Observer
	Log         *slog.Logger
	SettleDelay time.Duration
}

func (r *Runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Runner) settle(ctx context.Context) {
	d := r.SettleDelay
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (r *Runner) Run(ctx context.Context, f Flow) (RunResult, error) {
	runID := "flow_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	log := r.log().With("run_id", runID, "flow", f.Name)
	log.Info("flow_started", "steps", len(f.Steps))

	// Literal steps classify against the current foreground app, so the
	// run starts from a fresh observation. A stale device is tolerated;
	// the flow will fail on its first real step if the bridge is down.
	if _, _, err := r.Observer.Observe(ctx, perception.ObserveOptions{}); err != nil {
		log.Warn("flow_initial_observe_failed", "error", err)
	}

	res := RunResult{Status: RunCompleted}
	for i, step := range f.Steps {
		if ctx.Err() != nil {
			res.Status = RunHalted
			return res, ctx.Err()
		}
		if r.Gate.Killed() {
			log.Warn("flow_halted_by_kill_switch", "step", i+1)
			res.Status = RunHalted
			return res, nil
		}
		if step.Op == OpDone {
			log.Info("flow_completed", "steps_run", res.StepsRun)
			return res, nil
		}

		action, snap, err := r.resolveStep(ctx, step)
		if err != nil {
			if step.BestEffort {
				log.Warn("flow_step_skipped", "step", i+1, "op", step.Op, "error", err)
				continue
			}
			res.Status = RunFailed
			res.FailedStep = i + 1
			res.LastError = err
			return res, err
		}

		meta := guard.Meta{
			TickID:        runID,
			Step:          i + 1,
			ForegroundApp: snap.Screen.App,
			ScreenHash:    snap.Screen.TreeHash,
			Time:          time.Now(),
		}
		decisions, err := r.Gate.Process(ctx, meta, []plan.ActionRequest{action})
		if err != nil {
			res.Status = RunFailed
			res.FailedStep = i + 1
			res.LastError = err
			return res, err
		}
		res.StepsRun++

		for _, d := range decisions {
			switch d.Outcome {
			case guard.OutcomePending:
				// A policy-raised RED parks here; the flow cannot pass
				// the parked step without the user.
				log.Info("flow_waiting_for_confirmation", "step", i+1, "pending_id", d.PendingID)
				res.Status = RunAwaiting
				res.PendingIDs = append(res.PendingIDs, d.PendingID)
				return res, nil
			case guard.OutcomeHalted:
				res.Status = RunHalted
				return res, nil
			case guard.OutcomeFailed:
				if step.BestEffort {
					log.Warn("flow_step_failed_best_effort", "step", i+1, "error", d.Err)
					continue
				}
				res.Status = RunFailed
				res.FailedStep = i + 1
				res.LastError = d.Err
				return res, d.Err
			}
		}

		if step.Op != OpWait {
			r.settle(ctx)
		}
	}
	log.Info("flow_completed", "steps_run", res.StepsRun)
	return res, nil
}

// resolveStep turns a script step into a gate-ready action, observing
// the device when the step is label addressed.
func (r *Runner) resolveStep(ctx context.Context, step Step) (plan.ActionRequest, perception.Snapshot, error) {
	snap, _ := r.Observer.Last()

	a := plan.ActionRequest{
		ID:             "act_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Classification: plan.TierGreen,
		Reason:         "scripted flow step",
	}

	switch step.Op {
	case OpWait:
		a.Kind = plan.KindWait
		a.Params = map[string]any{"seconds": step.Seconds}
	case OpLaunch:
		a.Kind = plan.KindLaunchApp
		a.Params = map[string]any{"package": step.Text}
	case OpTap:
		a.Kind = plan.KindTap
		a.Params = map[string]any{"x": step.Coords[0], "y": step.Coords[1]}
	case OpTapText:
		fresh, _, err := r.Observer.Observe(ctx, perception.ObserveOptions{})
		if err != nil {
			return a, snap, fmt.Errorf("observe before tap_text: %w", err)
		}
		snap = fresh
		el, ok := fresh.Screen.FindByText(step.Text)
		if !ok {
			return a, snap, fmt.Errorf("no tappable element matching %q on screen", step.Text)
		}
		a.Kind = plan.KindTap
		a.Params = map[string]any{"x": el.CX, "y": el.CY}
		a.Reason = fmt.Sprintf("scripted flow step: tap %q", step.Text)
	case OpType:
		a.Kind = plan.KindTypeText
		a.Params = map[string]any{"text": step.Text}
	case OpSwipe:
		a.Kind = plan.KindSwipe
		a.Params = map[string]any{
			"x1": step.Coords[0], "y1": step.Coords[1],
			"x2": step.Coords[2], "y2": step.Coords[3],
		}
		if len(step.Coords) == 5 {
			a.Params["duration_ms"] = step.Coords[4]
		}
	case OpKey:
		a.Kind = plan.KindPressKey
		a.Params = map[string]any{"key": step.Text}
	case OpHome:
		a.Kind = plan.KindHome
	case OpBack:
		a.Kind = plan.KindBack
	default:
		return a, snap, fmt.Errorf("unknown step op %q", step.Op)
	}
	return a, snap, nil
}
