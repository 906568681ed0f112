package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hermitdroid/hermitdroid/plan"
)

// Outcome records how an action left the gate.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomePending  Outcome = "pending"
	OutcomeDenied   Outcome = "denied"
	OutcomeExpired  Outcome = "expired"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
	OutcomeNoop     Outcome = "noop"
	OutcomeDryRun   Outcome = "dry_run"
	OutcomeHalted   Outcome = "halted"
)

// Entry is one append-only audit line. The audit log is the
// system-of-record for every tier decision and dispatch outcome.
type Entry struct {
	EventID   string    `json:"event_id"`
	TickID    string    `json:"tick_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Step      int       `json:"step,omitempty"`

	ActionID   string    `json:"action_id,omitempty"`
	Kind       plan.Kind `json:"action,omitempty"`
	ActionHash string    `json:"action_hash,omitempty"`
	Summary    string    `json:"summary,omitempty"`

	ModelTier plan.Tier `json:"model_tier,omitempty"`
	Tier      plan.Tier `json:"tier"`
	Reasons   []string  `json:"reasons,omitempty"`

	Outcome   Outcome `json:"outcome"`
	PendingID string  `json:"pending_id,omitempty"`
	Actor     string  `json:"actor,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Sink persists audit entries. Emit failures are the one unrecoverable
// error class in the whole engine.
type Sink interface {
	Emit(ctx context.Context, e Entry) error
	Close() error
}

func newEventID(tickID string, step int, at time.Time) string {
	seed := fmt.Sprintf("%s|%d|%s", tickID, step, at.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return "evt_" + hex.EncodeToString(sum[:8])
}
