package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hermitdroid/hermitdroid/plan"
)

var (
	// ErrAuditUnavailable means an audit entry could not be persisted.
	// Nothing may dispatch without its audit line, so this stops the loop.
	ErrAuditUnavailable = errors.New("audit log unavailable")

	// ErrDispatchFailed wraps bridge failures. Recoverable.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrConfirmationExpired is returned when a resolution arrives for an
	// already expired pending action.
	ErrConfirmationExpired = errors.New("confirmation expired")
)

// Dispatcher carries an approved action out on the device.
type Dispatcher interface {
	Dispatch(ctx context.Context, a plan.ActionRequest) error
}

// Meta identifies the tick a batch of actions came from.
type Meta struct {
	TickID        string
	Step          int
	ForegroundApp string
	ScreenHash    string
	Time          time.Time
}

// Decision is the gate's verdict on one action.
type Decision struct {
	Action    plan.ActionRequest
	Tier      plan.Tier
	Outcome   Outcome
	PendingID string
	Err       error
}

type Config struct {
	Policy         Policy
	ConfirmTimeout time.Duration
	DryRun         bool
}

// Gate owns the classification state machine: every action proposed by
// the model passes through exactly one Process call, and every pending
// action leaves through exactly one terminal resolution.
type Gate struct {
	cfg      Config
	pending  PendingStore
	audit    Sink
	dispatch Dispatcher
	log      *slog.Logger

	killed atomic.Bool
}

func New(cfg Config, pending PendingStore, audit Sink, dispatch Dispatcher, log *slog.Logger) *Gate {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{cfg: cfg, pending: pending, audit: audit, dispatch: dispatch, log: log}
}

// Kill freezes the gate: no further dispatches happen, including
// approvals of already pending actions.
func (g *Gate) Kill()          { g.killed.Store(true) }
func (g *Gate) Resume()        { g.killed.Store(false) }
func (g *Gate) Killed() bool   { return g.killed.Load() }
func (g *Gate) DryRun() bool   { return g.cfg.DryRun }
func (g *Gate) Policy() Policy { return g.cfg.Policy }

// Process classifies and dispatches a validated plan. GREEN and YELLOW
// actions dispatch immediately; RED actions park in the pending queue.
// RED never dispatches from here, whatever the workspace or model says.
// A dispatch failure is recorded and processing continues; only an audit
// persistence failure aborts.
func (g *Gate) Process(ctx context.Context, meta Meta, actions []plan.ActionRequest) ([]Decision, error) {
	if meta.Time.IsZero() {
		meta.Time = time.Now().UTC()
	}

	out := make([]Decision, 0, len(actions))
	for i, a := range actions {
		meta.Step = i

		if g.killed.Load() {
			g.log.Warn("kill_switch_active", "tick_id", meta.TickID, "remaining", len(actions)-i)
			d := Decision{Action: a, Tier: a.Classification, Outcome: OutcomeHalted}
			if err := g.emit(ctx, meta, d, nil); err != nil {
				return out, err
			}
			out = append(out, d)
			continue
		}

		tier, reasons := g.cfg.Policy.EffectiveTier(a, meta.ForegroundApp)
		if tier != a.Classification {
			// A policy raise is corrected silently toward the model; the
			// operator sees it in the log and the audit trail.
			g.log.Info("policy_tier_raised",
				"tick_id", meta.TickID,
				"action", string(a.Kind),
				"model_tier", string(a.Classification),
				"tier", string(tier),
				"reasons", strings.Join(reasons, "; "),
			)
		}

		d := g.runClassified(ctx, meta, a, tier, reasons)
		if err := g.emit(ctx, meta, d, reasons); err != nil {
			return out, err
		}
		out = append(out, d)

		// done ends the plan early.
		if a.Kind == plan.KindDone {
			break
		}
	}
	return out, nil
}

func (g *Gate) runClassified(ctx context.Context, meta Meta, a plan.ActionRequest, tier plan.Tier, reasons []string) Decision {
	d := Decision{Action: a, Tier: tier}

	// Dry-run still parks RED actions so the confirmation flow can be
	// rehearsed end to end; only the dispatch itself is frozen.
	if tier == plan.TierRed {
		rec := PendingAction{
			TickID:     meta.TickID,
			Action:     a,
			Tier:       tier,
			Reasons:    reasons,
			ScreenHash: meta.ScreenHash,
			CreatedAt:  meta.Time,
			ExpiresAt:  meta.Time.Add(g.cfg.ConfirmTimeout),
		}
		id, err := g.pending.Enqueue(ctx, rec)
		if err != nil {
			d.Outcome = OutcomeFailed
			d.Err = fmt.Errorf("enqueue pending: %w", err)
			g.log.Error("pending_enqueue_error", "error", err.Error())
			return d
		}
		d.Outcome = OutcomePending
		d.PendingID = id
		g.log.Info("guard_pending", "pending_id", id, "action", a.String(), "expires_at", rec.ExpiresAt)
		return d
	}

	if g.cfg.DryRun {
		d.Outcome = OutcomeDryRun
		g.log.Info("dry_run_action", "tick_id", meta.TickID, "action", a.String(), "tier", string(tier))
		return d
	}

	if err := g.dispatch.Dispatch(ctx, a); err != nil {
		d.Outcome = OutcomeFailed
		d.Err = fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		g.log.Warn("dispatch_error", "action", a.String(), "error", err.Error())
		return d
	}
	d.Outcome = OutcomeExecuted
	return d
}

// Confirm resolves a pending action. Approving dispatches it unless the
// gate was killed, the deadline passed, or the screen moved on since it
// was parked; any of those expire it instead. In dry-run the approval
// is recorded but nothing dispatches. Resolving an id that is already
// terminal returns the stored record unchanged.
func (g *Gate) Confirm(ctx context.Context, id string, approved bool, actor string, currentScreenHash string) (PendingAction, error) {
	rec, ok, err := g.pending.Get(ctx, id)
	if err != nil {
		return PendingAction{}, err
	}
	if !ok {
		return PendingAction{}, fmt.Errorf("pending action %q not found", id)
	}
	if rec.Status.Terminal() {
		// Idempotent no-op.
		if rec.Status == PendingExpired {
			return rec, ErrConfirmationExpired
		}
		return rec, nil
	}

	now := time.Now().UTC()

	// Decide the terminal state before touching the store so the record
	// makes exactly one transition.
	target := PendingDenied
	var expireWhy string
	if approved {
		switch {
		case now.After(rec.ExpiresAt):
			target, expireWhy = PendingExpired, "timeout"
		case g.killed.Load():
			target, expireWhy = PendingExpired, "kill_switch"
		case rec.ScreenHash != "" && currentScreenHash != "" && rec.ScreenHash != currentScreenHash:
			target, expireWhy = PendingExpired, "screen_changed"
		default:
			target = PendingApproved
		}
	}

	if expireWhy != "" {
		actor = "system:" + expireWhy
	}
	final, moved, err := g.pending.Resolve(ctx, id, target, actor)
	if err != nil {
		return PendingAction{}, err
	}
	if !moved {
		// Lost a race against another resolution; report the winner.
		if final.Status == PendingExpired {
			return final, ErrConfirmationExpired
		}
		return final, nil
	}
	rec = final

	meta := Meta{TickID: rec.TickID, ScreenHash: rec.ScreenHash, Time: now}
	switch target {
	case PendingDenied:
		err := g.emit(ctx, meta, Decision{Action: rec.Action, Tier: rec.Tier, Outcome: OutcomeDenied, PendingID: rec.ID}, rec.Reasons)
		return rec, err
	case PendingExpired:
		if err := g.emit(ctx, meta, Decision{Action: rec.Action, Tier: rec.Tier, Outcome: OutcomeExpired, PendingID: rec.ID}, []string{expireWhy}); err != nil {
			return rec, err
		}
		return rec, ErrConfirmationExpired
	}

	d := Decision{Action: rec.Action, Tier: rec.Tier, PendingID: rec.ID}
	switch {
	case g.cfg.DryRun:
		// The record resolves to approved, but the transition to
		// Dispatched stays frozen.
		d.Outcome = OutcomeDryRun
		g.log.Info("dry_run_approved", "pending_id", rec.ID, "action", rec.Action.String())
	default:
		if err := g.dispatch.Dispatch(ctx, rec.Action); err != nil {
			d.Outcome = OutcomeFailed
			d.Err = err
			g.log.Warn("approved_dispatch_error", "pending_id", rec.ID, "error", err.Error())
		} else {
			d.Outcome = OutcomeExecuted
		}
	}
	if err := g.emit(ctx, meta, d, rec.Reasons); err != nil {
		return rec, err
	}
	return rec, d.Err
}

// SweepExpired moves overdue awaiting actions to expired and audits each.
func (g *Gate) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := g.pending.ExpireOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, rec := range expired {
		meta := Meta{TickID: rec.TickID, Time: now}
		d := Decision{Action: rec.Action, Tier: rec.Tier, Outcome: OutcomeExpired, PendingID: rec.ID}
		if err := g.emit(ctx, meta, d, []string{"confirmation timeout"}); err != nil {
			return len(expired), err
		}
		g.log.Info("pending_expired", "pending_id", rec.ID, "action", rec.Action.String())
	}
	return len(expired), nil
}

// ReconcileOnStartup expires awaiting actions whose pinned screen no
// longer matches the device. An approval for a screen that is gone must
// never turn into a tap on whatever is showing now.
func (g *Gate) ReconcileOnStartup(ctx context.Context, currentScreenHash string) error {
	awaiting, err := g.pending.ListAwaiting(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, rec := range awaiting {
		if rec.ScreenHash == "" || rec.ScreenHash == currentScreenHash {
			if now.Before(rec.ExpiresAt) {
				continue
			}
		}
		final, moved, err := g.pending.Resolve(ctx, rec.ID, PendingExpired, "system:restart")
		if err != nil {
			return err
		}
		if !moved {
			continue
		}
		meta := Meta{TickID: final.TickID, Time: now}
		d := Decision{Action: final.Action, Tier: final.Tier, Outcome: OutcomeExpired, PendingID: final.ID}
		if err := g.emit(ctx, meta, d, []string{"stale after restart"}); err != nil {
			return err
		}
	}
	return nil
}

// Note records a tick-level event that has no action attached, such as
// an idle heartbeat or a rejected plan. Audit failure is fatal here for
// the same reason it is in Process.
func (g *Gate) Note(ctx context.Context, meta Meta, outcome Outcome, summary, errMsg string) error {
	if g.audit == nil {
		return fmt.Errorf("%w: no sink configured", ErrAuditUnavailable)
	}
	e := Entry{
		TickID:    meta.TickID,
		Timestamp: meta.Time,
		Step:      meta.Step,
		Summary:   summary,
		Outcome:   outcome,
		Error:     errMsg,
	}
	if err := g.audit.Emit(ctx, e); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	return nil
}

func (g *Gate) emit(ctx context.Context, meta Meta, d Decision, reasons []string) error {
	if g.audit == nil {
		return fmt.Errorf("%w: no sink configured", ErrAuditUnavailable)
	}
	e := Entry{
		TickID:     meta.TickID,
		Timestamp:  meta.Time,
		Step:       meta.Step,
		ActionID:   d.Action.ID,
		Kind:       d.Action.Kind,
		ActionHash: d.Action.Hash(),
		Summary:    d.Action.String(),
		ModelTier:  d.Action.Classification,
		Tier:       d.Tier,
		Reasons:    reasons,
		Outcome:    d.Outcome,
		PendingID:  d.PendingID,
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	if err := g.audit.Emit(ctx, e); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	return nil
}
