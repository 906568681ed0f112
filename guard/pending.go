package guard

import (
	"context"
	"time"

	"github.com/hermitdroid/hermitdroid/plan"
)

type PendingStatus string

const (
	PendingAwaiting PendingStatus = "awaiting"
	PendingApproved PendingStatus = "approved"
	PendingDenied   PendingStatus = "denied"
	PendingExpired  PendingStatus = "expired"
)

// Terminal reports whether the status is a final state. A pending action
// reaches exactly one terminal state in its lifetime.
func (s PendingStatus) Terminal() bool {
	return s == PendingApproved || s == PendingDenied || s == PendingExpired
}

// PendingAction is an action parked for human confirmation. ScreenHash
// pins the approval to the screen the action was planned against; an
// approval arriving after the screen changed must not dispatch.
type PendingAction struct {
	ID         string
	TickID     string
	Action     plan.ActionRequest
	Tier       plan.Tier
	Reasons    []string
	ScreenHash string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time

	Status PendingStatus
	Actor  string
}

type PendingStore interface {
	Enqueue(ctx context.Context, rec PendingAction) (string, error)
	Get(ctx context.Context, id string) (PendingAction, bool, error)
	ListAwaiting(ctx context.Context) ([]PendingAction, error)

	// Resolve moves an awaiting record to the given terminal status. The
	// bool reports whether this call performed the transition; a record
	// that is already terminal is returned unchanged with false, making
	// repeated resolutions idempotent.
	Resolve(ctx context.Context, id string, status PendingStatus, actor string) (PendingAction, bool, error)

	// ExpireOverdue marks every awaiting record whose deadline has passed
	// and returns the records it expired.
	ExpireOverdue(ctx context.Context, now time.Time) ([]PendingAction, error)
}
