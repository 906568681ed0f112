package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/llm"
	"github.com/hermitdroid/hermitdroid/perception"
	"github.com/hermitdroid/hermitdroid/plan"
	"github.com/hermitdroid/hermitdroid/workspace"
)

const (
	defaultMaxSteps      = 20
	defaultSettleDelay   = 1500 * time.Millisecond
	uiActionsPerObserve  = 3
	defaultModelMaxToken = 2000
)

// Engine runs decision cycles: observe the device, ask the model for a
// plan, validate it, and push every action through the guardrail gate.
type Engine struct {
	LLM       llm.Client
	Model     string
	Observer  *perception.Observer
	Gate      *guard.Gate
	Workspace *workspace.Workspace
	Log       *slog.Logger

	MaxSteps    int
	SettleDelay time.Duration
	MaxTokens   int
}

// GoalStatus is the terminal state of a goal run.
type GoalStatus string

const (
	GoalDone      GoalStatus = "done"
	GoalGaveUp    GoalStatus = "gave_up"
	GoalHalted    GoalStatus = "halted"
	GoalStepLimit GoalStatus = "step_limit"
	GoalFailed    GoalStatus = "failed"
	GoalAwaiting  GoalStatus = "awaiting_confirmation"
)

type GoalResult struct {
	Status     GoalStatus
	Steps      int
	PendingIDs []string
	LastError  error
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Engine) maxSteps() int {
	if e.MaxSteps > 0 {
		return e.MaxSteps
	}
	return defaultMaxSteps
}

func (e *Engine) settle(ctx context.Context) {
	d := e.SettleDelay
	if d <= 0 {
		d = defaultSettleDelay
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// RunTick performs one heartbeat-style decision cycle: no explicit
// goal, the model reacts to notifications and screen state. Returns
// the parsed plan and the gate decisions.
func (e *Engine) RunTick(ctx context.Context, trigger Trigger, cronNotes []string, session *Session) (plan.Response, []guard.Decision, error) {
	dc, err := e.AssembleTickContext(ctx, trigger, cronNotes, session)
	if err != nil {
		return plan.Response{}, nil, err
	}
	return e.RunAssembled(ctx, dc, session)
}

// AssembleTickContext builds the context a heartbeat tick would see
// without calling the model. The scheduler hashes it for idle-skip and
// runs the model on the same context, so the tick acts on exactly what
// was hashed.
func (e *Engine) AssembleTickContext(ctx context.Context, trigger Trigger, cronNotes []string, session *Session) (DecisionContext, error) {
	tickID := "tick_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	snap, diff, obsErr := e.Observer.Observe(ctx, perception.ObserveOptions{})
	if obsErr != nil && !errors.Is(obsErr, perception.ErrUnavailable) {
		return DecisionContext{}, obsErr
	}
	return e.assemble(tickID, time.Now(), ContextInputs{
		Trigger:   trigger,
		CronNotes: cronNotes,
		Snapshot:  snap,
		Diff:      diff,
		Session:   sessionLines(session),
	})
}

// RunAssembled runs the model half of a tick on an already assembled
// context.
func (e *Engine) RunAssembled(ctx context.Context, dc DecisionContext, session *Session) (plan.Response, []guard.Decision, error) {
	log := e.log().With("tick_id", dc.TickID, "trigger", string(dc.Trigger))

	resp, decisions, err := e.decide(ctx, log, dc, 0)
	if err != nil {
		return resp, decisions, err
	}
	if session != nil && !resp.Idle {
		session.Append(SummarizePlan(dc, resp))
	}
	if resp.MemoryWrite != "" && e.Workspace != nil {
		if werr := e.Workspace.AppendDailyMemory(dc.Time, resp.MemoryWrite); werr != nil {
			log.Warn("memory_write_failed", "error", werr)
		}
	}
	return resp, decisions, nil
}

// RunGoal drives a scoped goal (one app, one objective) to completion:
// observe, decide, act, settle, repeat, with stuck detection and
// escalating recovery.
func (e *Engine) RunGoal(ctx context.Context, goal, targetApp string, formData map[string]string, maxSteps int) (GoalResult, error) {
	if strings.TrimSpace(goal) == "" {
		return GoalResult{Status: GoalFailed}, fmt.Errorf("empty goal")
	}
	if maxSteps <= 0 {
		maxSteps = e.maxSteps()
	}
	runID := "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	log := e.log().With("run_id", runID, "goal", goal)
	detector := &StuckDetector{TargetApp: targetApp}
	result := GoalResult{Status: GoalStepLimit}
	hint := ""

	if targetApp != "" {
		launch := plan.ActionRequest{
			ID:             "act_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Kind:           plan.KindLaunchApp,
			Params:         map[string]any{"package": targetApp},
			Classification: plan.TierGreen,
			Reason:         "open the target app",
		}
		meta := guard.Meta{TickID: runID, Step: 0, Time: time.Now()}
		if _, err := e.Gate.Process(ctx, meta, []plan.ActionRequest{launch}); err != nil {
			return GoalResult{Status: GoalFailed, LastError: err}, err
		}
		e.settle(ctx)
	}

	for step := 1; step <= maxSteps; step++ {
		if ctx.Err() != nil {
			result.Status = GoalHalted
			return result, ctx.Err()
		}
		if e.Gate.Killed() {
			log.Warn("goal_halted_by_kill_switch", "step", step)
			result.Status = GoalHalted
			result.Steps = step - 1
			return result, nil
		}

		snap, diff, obsErr := e.Observer.Observe(ctx, perception.ObserveOptions{})
		if obsErr != nil && !errors.Is(obsErr, perception.ErrUnavailable) {
			result.Status = GoalFailed
			result.LastError = obsErr
			return result, obsErr
		}

		goalText := goal
		if hint != "" {
			goalText = goal + "\n\n" + hint
			hint = ""
		}
		dc, err := e.assemble(runID, time.Now(), ContextInputs{
			Trigger:  TriggerManual,
			Goal:     goalText,
			FormData: formData,
			Snapshot: snap,
			Diff:     diff,
		})
		if err != nil {
			result.Status = GoalFailed
			result.LastError = err
			return result, err
		}

		resp, decisions, err := e.decide(ctx, log.With("step", step), dc, step)
		if err != nil {
			if errors.Is(err, guard.ErrAuditUnavailable) {
				result.Status = GoalFailed
				result.LastError = err
				return result, err
			}
			if errors.Is(err, plan.ErrPlanRejected) {
				// Nothing was queued. Give the model one nudge, then
				// treat repeats like being stuck.
				log.Warn("plan_rejected", "error", err)
				result.LastError = err
				if rec := detector.Escalate(); rec == RecoveryGiveUp {
					result.Status = GoalGaveUp
					result.Steps = step
					return result, nil
				}
				hint = "Your previous response was not a valid plan. " + detector.HintMessage()
				continue
			}
			result.Status = GoalFailed
			result.LastError = err
			return result, err
		}

		result.Steps = step
		for _, d := range decisions {
			if d.Outcome == guard.OutcomePending {
				result.PendingIDs = append(result.PendingIDs, d.PendingID)
			}
		}

		if resp.Idle || planIsDone(resp) {
			if len(result.PendingIDs) > 0 {
				result.Status = GoalAwaiting
			} else {
				result.Status = GoalDone
			}
			return result, nil
		}
		if len(result.PendingIDs) > 0 {
			// A RED action is parked; the run cannot continue past it
			// without the user.
			result.Status = GoalAwaiting
			return result, nil
		}

		e.settle(ctx)

		if detector.ObserveStep(snap.Screen.TreeHash, snap.Screen.App, resp.Actions) {
			switch rec := detector.Escalate(); rec {
			case RecoveryHint:
				log.Info("stuck_recovery", "action", rec.String())
				hint = detector.HintMessage()
			case RecoveryBack:
				log.Info("stuck_recovery", "action", rec.String())
				e.recoverNav(ctx, runID, step, plan.KindBack)
			case RecoveryHome:
				log.Info("stuck_recovery", "action", rec.String())
				e.recoverNav(ctx, runID, step, plan.KindHome)
				if targetApp != "" {
					e.recoverLaunch(ctx, runID, step, targetApp)
				}
			default:
				log.Warn("goal_abandoned_as_stuck", "steps", step)
				result.Status = GoalGaveUp
				return result, nil
			}
		}
	}
	return result, nil
}

// decide runs the model half of a cycle: prompt, chat, parse, gate.
func (e *Engine) decide(ctx context.Context, log *slog.Logger, dc DecisionContext, step int) (plan.Response, []guard.Decision, error) {
	meta := guard.Meta{
		TickID:        dc.TickID,
		Step:          step,
		ForegroundApp: dc.Snapshot.Screen.App,
		ScreenHash:    dc.Snapshot.Screen.TreeHash,
		Time:          dc.Time,
	}

	req := llm.Request{
		Model:     e.Model,
		Messages:  BuildMessages(dc),
		MaxTokens: e.MaxTokens,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultModelMaxToken
	}
	res, err := e.LLM.Chat(ctx, req)
	if err != nil {
		return plan.Response{}, nil, fmt.Errorf("model call: %w", err)
	}
	log.Debug("model_responded", "input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens, "duration_ms", res.Duration.Milliseconds())

	resp, err := plan.Parse(res.Text)
	if err != nil {
		if noteErr := e.Gate.Note(ctx, meta, guard.OutcomeRejected, "plan rejected", err.Error()); noteErr != nil {
			return plan.Response{}, nil, noteErr
		}
		return plan.Response{}, nil, err
	}
	if resp.Idle {
		if err := e.Gate.Note(ctx, meta, guard.OutcomeNoop, "heartbeat ok", ""); err != nil {
			return resp, nil, err
		}
		log.Debug("tick_idle")
		return resp, nil, nil
	}

	// Long plans act blind: after a few UI actions the screen has
	// drifted from what the model saw, so only a prefix is dispatched
	// and the rest is left for the next observation.
	actions := capUIActions(resp.Actions)
	decisions, err := e.Gate.Process(ctx, meta, actions)
	if err != nil {
		return resp, decisions, err
	}
	return resp, decisions, nil
}

func (e *Engine) assemble(tickID string, now time.Time, in ContextInputs) (DecisionContext, error) {
	if e.Workspace != nil {
		// Until SOUL.md exists the bootstrap ritual leads every tick.
		if e.Workspace.BootstrapPending() {
			contents, err := e.Workspace.ReadDoc(workspace.DocBootstrap)
			if err != nil {
				return DecisionContext{}, err
			}
			if contents != "" {
				in.Docs = append(in.Docs, NamedDoc{Name: workspace.DocBootstrap, Contents: contents})
			}
		}
		for _, name := range []string{workspace.DocSoul, workspace.DocIdentity, workspace.DocAgents, workspace.DocUser, workspace.DocHeartbeat} {
			contents, err := e.Workspace.ReadDoc(name)
			if err != nil {
				return DecisionContext{}, err
			}
			if contents != "" {
				in.Docs = append(in.Docs, NamedDoc{Name: name, Contents: contents})
			}
		}
		goals, err := e.Workspace.OpenGoals()
		if err != nil {
			return DecisionContext{}, err
		}
		in.Goals = goals
		mem, err := e.Workspace.RecentDailyMemory(2)
		if err != nil {
			return DecisionContext{}, err
		}
		in.Memory = mem
		app := in.Snapshot.Screen.App
		skills, err := e.Workspace.SkillsForApp(app)
		if err != nil {
			return DecisionContext{}, err
		}
		in.Skills = skills
	}
	return Assemble(tickID, now, in), nil
}

func (e *Engine) recoverNav(ctx context.Context, runID string, step int, kind plan.Kind) {
	a := plan.ActionRequest{
		ID:             "act_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Kind:           kind,
		Classification: plan.TierGreen,
		Reason:         "stuck recovery",
	}
	meta := guard.Meta{TickID: runID, Step: step, Time: time.Now()}
	if _, err := e.Gate.Process(ctx, meta, []plan.ActionRequest{a}); err != nil {
		e.log().Warn("stuck_recovery_failed", "kind", string(kind), "error", err)
	}
	e.settle(ctx)
}

func (e *Engine) recoverLaunch(ctx context.Context, runID string, step int, pkg string) {
	a := plan.ActionRequest{
		ID:             "act_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Kind:           plan.KindLaunchApp,
		Params:         map[string]any{"package": pkg},
		Classification: plan.TierGreen,
		Reason:         "stuck recovery",
	}
	meta := guard.Meta{TickID: runID, Step: step, Time: time.Now()}
	if _, err := e.Gate.Process(ctx, meta, []plan.ActionRequest{a}); err != nil {
		e.log().Warn("stuck_recovery_failed", "kind", "launch_app", "error", err)
	}
	e.settle(ctx)
}

// capUIActions truncates a plan after a run of screen-touching actions
// so the next decision starts from a fresh observation. Trailing
// non-UI actions (wait, notify_user, done) stay.
func capUIActions(actions []plan.ActionRequest) []plan.ActionRequest {
	uiSeen := 0
	for i, a := range actions {
		if isUIAction(a.Kind) {
			uiSeen++
			if uiSeen > uiActionsPerObserve {
				return actions[:i]
			}
		}
	}
	return actions
}

func isUIAction(k plan.Kind) bool {
	switch k {
	case plan.KindTap, plan.KindLongPress, plan.KindSwipe, plan.KindTypeText,
		plan.KindPressKey, plan.KindLaunchApp, plan.KindScrollUp, plan.KindScrollDown,
		plan.KindHome, plan.KindBack, plan.KindRecents, plan.KindOpenNotifications,
		plan.KindDismissNotification:
		return true
	default:
		return false
	}
}

func planIsDone(resp plan.Response) bool {
	for _, a := range resp.Actions {
		if a.Kind == plan.KindDone {
			return true
		}
	}
	return false
}

func sessionLines(s *Session) []string {
	if s == nil {
		return nil
	}
	return s.Lines()
}
