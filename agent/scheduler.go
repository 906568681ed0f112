package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/plan"
)

const (
	defaultHeartbeat    = 2 * time.Minute
	defaultGatewayEvery = 15
	interruptBuffer     = 16
)

// Interrupt asks the scheduler to tick ahead of the timer.
type Interrupt struct {
	Reason  string
	Goal    string
	Trigger Trigger
}

// Scheduler owns the heartbeat loop. All ticks, timed or interrupt
// driven, run serialized on the loop goroutine; the model and the
// bridge are the only blocking points.
type Scheduler struct {
	Engine   *Engine
	Cron     *CronStore
	Gate     *guard.Gate
	Log      *slog.Logger
	Session  *Session
	Interval time.Duration
	// GatewayEvery is in heartbeat ticks. A gateway tick never
	// idle-skips and asks for a memory flush.
	GatewayEvery int

	interrupts chan Interrupt
	lastHash   string
}

// NewScheduler wires a heartbeat scheduler. The engine and gate are
// required; even a skipped tick gets an audit line through the gate.
func NewScheduler(engine *Engine, cronStore *CronStore, gate *guard.Gate, log *slog.Logger) *Scheduler {
	return &Scheduler{
		Engine:     engine,
		Cron:       cronStore,
		Gate:       gate,
		Log:        log,
		Session:    &Session{},
		interrupts: make(chan Interrupt, interruptBuffer),
	}
}

// Notify queues an interrupt tick. Drops the interrupt when the buffer
// is full; the next heartbeat will pick the state change up anyway.
func (s *Scheduler) Notify(in Interrupt) bool {
	select {
	case s.interrupts <- in:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is done or the audit log becomes unusable.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	gatewayEvery := s.GatewayEvery
	if gatewayEvery <= 0 {
		gatewayEvery = defaultGatewayEvery
	}
	log := s.log()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("scheduler_started", "interval", interval.String(), "gateway_every", gatewayEvery)

	tickCount := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler_stopped", "reason", "context done")
			return ctx.Err()
		case in := <-s.interrupts:
			if err := s.tick(ctx, interruptTrigger(in), in); err != nil {
				if fatal(err) {
					return err
				}
				log.Warn("tick_failed", "trigger", "interrupt", "error", err)
			}
		case <-ticker.C:
			tickCount++
			trigger := TriggerHeartbeat
			if tickCount%gatewayEvery == 0 {
				trigger = TriggerGateway
			}
			if err := s.tick(ctx, trigger, Interrupt{}); err != nil {
				if fatal(err) {
					return err
				}
				log.Warn("tick_failed", "trigger", string(trigger), "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, trigger Trigger, in Interrupt) error {
	log := s.log()

	if n, err := s.Gate.SweepExpired(ctx, time.Now()); err != nil {
		if fatal(err) {
			return err
		}
		log.Warn("pending_sweep_failed", "error", err)
	} else if n > 0 {
		log.Info("pending_expired", "count", n)
	}

	if s.Gate.Killed() {
		log.Warn("tick_skipped", "reason", "kill switch engaged")
		return nil
	}

	var cronNotes []string
	if s.Cron != nil {
		due, err := s.Cron.Due(ctx, time.Now())
		if err != nil {
			log.Warn("cron_poll_failed", "error", err)
		}
		for _, job := range due {
			cronNotes = append(cronNotes, fmt.Sprintf("%s: %s", job.Name, job.Task))
		}
	}
	if trigger == TriggerGateway {
		cronNotes = append(cronNotes, "Gateway tick: review open goals and write a one-line memory_write summarizing the session so far.")
	}
	if reason := strings.TrimSpace(in.Reason); reason != "" {
		cronNotes = append(cronNotes, "Interrupt: "+reason)
	}
	if goal := strings.TrimSpace(in.Goal); goal != "" {
		cronNotes = append(cronNotes, "User request: "+goal)
	}

	dc, err := s.Engine.AssembleTickContext(ctx, trigger, cronNotes, s.Session)
	if err != nil {
		return err
	}

	hash := dc.Hash()
	if trigger == TriggerHeartbeat && len(cronNotes) == 0 && !dc.Diff.HasPriority() && hash == s.lastHash {
		log.Debug("tick_idle_skip", "tick_id", dc.TickID, "context_hash", hash)
		meta := guard.Meta{TickID: dc.TickID, Time: dc.Time, ForegroundApp: dc.Snapshot.Screen.App, ScreenHash: dc.Snapshot.Screen.TreeHash}
		return s.Gate.Note(ctx, meta, guard.OutcomeNoop, "idle skip: context unchanged", "")
	}

	resp, _, err := s.Engine.RunAssembled(ctx, dc, s.Session)
	if err != nil {
		if errors.Is(err, plan.ErrPlanRejected) {
			log.Warn("plan_rejected", "tick_id", dc.TickID, "error", err)
			s.lastHash = hash
			return nil
		}
		return err
	}
	s.lastHash = hash
	if resp.Idle {
		log.Debug("tick_idle", "tick_id", dc.TickID)
	}
	return nil
}

func (s *Scheduler) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func interruptTrigger(in Interrupt) Trigger {
	if in.Trigger != "" {
		return in.Trigger
	}
	return TriggerInterrupt
}

// fatal reports whether an error must stop the scheduler. Only losing
// the audit log qualifies.
func fatal(err error) bool {
	return errors.Is(err, guard.ErrAuditUnavailable)
}
