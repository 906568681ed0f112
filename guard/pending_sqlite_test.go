package guard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hermitdroid/hermitdroid/plan"
)

func testStore(t *testing.T) *SQLitePendingStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "pending.db")
	s, err := NewSQLitePendingStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLitePendingStore error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePending(hash string) PendingAction {
	return PendingAction{
		TickID: "t1",
		Action: plan.ActionRequest{
			ID:             "act_1",
			Kind:           plan.KindTap,
			Params:         map[string]any{"x": float64(10), "y": float64(20)},
			Classification: plan.TierRed,
		},
		Tier:       plan.TierRed,
		Reasons:    []string{"irreversible pattern \"send\""},
		ScreenHash: hash,
	}
}

func TestSQLitePendingStore_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, samplePending("h1"))
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	rec, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if rec.Status != PendingAwaiting {
		t.Fatalf("status = %s, want awaiting", rec.Status)
	}
	if rec.Action.Kind != plan.KindTap {
		t.Fatalf("action kind = %s", rec.Action.Kind)
	}
	if rec.ScreenHash != "h1" {
		t.Fatalf("screen hash = %q", rec.ScreenHash)
	}
	if len(rec.Reasons) != 1 {
		t.Fatalf("reasons = %v", rec.Reasons)
	}
	if rec.ExpiresAt.Sub(rec.CreatedAt) != DefaultConfirmTimeout {
		t.Fatalf("default expiry window = %s", rec.ExpiresAt.Sub(rec.CreatedAt))
	}
}

func TestSQLitePendingStore_ResolveOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, samplePending(""))

	rec, moved, err := s.Resolve(ctx, id, PendingApproved, "user")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !moved || rec.Status != PendingApproved {
		t.Fatalf("first resolve: moved=%v status=%s", moved, rec.Status)
	}
	if rec.ResolvedAt == nil {
		t.Fatal("resolved_at not set")
	}

	// Second resolution must not transition again, whatever it asks for.
	rec2, moved2, err := s.Resolve(ctx, id, PendingDenied, "someone_else")
	if err != nil {
		t.Fatalf("second Resolve error: %v", err)
	}
	if moved2 {
		t.Fatal("second resolve must be a no-op")
	}
	if rec2.Status != PendingApproved || rec2.Actor != "user" {
		t.Fatalf("record changed after terminal state: %+v", rec2)
	}
}

func TestSQLitePendingStore_ResolveValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, _, err := s.Resolve(ctx, "", PendingApproved, "user"); err == nil {
		t.Fatal("expected error for empty id")
	}
	id, _ := s.Enqueue(ctx, samplePending(""))
	if _, _, err := s.Resolve(ctx, id, PendingAwaiting, "user"); err == nil {
		t.Fatal("expected error for non-terminal target status")
	}
}

func TestSQLitePendingStore_ListAwaitingAndExpire(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := samplePending("")
	overdue.CreatedAt = now.Add(-2 * time.Minute)
	overdue.ExpiresAt = now.Add(-time.Minute)
	idOverdue, _ := s.Enqueue(ctx, overdue)

	fresh := samplePending("")
	fresh.ExpiresAt = now.Add(time.Hour)
	idFresh, _ := s.Enqueue(ctx, fresh)

	awaiting, err := s.ListAwaiting(ctx)
	if err != nil {
		t.Fatalf("ListAwaiting error: %v", err)
	}
	if len(awaiting) != 2 {
		t.Fatalf("awaiting = %d, want 2", len(awaiting))
	}

	expired, err := s.ExpireOverdue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireOverdue error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != idOverdue {
		t.Fatalf("expired = %+v", expired)
	}

	rec, _, _ := s.Get(ctx, idFresh)
	if rec.Status != PendingAwaiting {
		t.Fatalf("fresh record status = %s, want awaiting", rec.Status)
	}
}

// Restart survival: a second store handle over the same file sees the
// queue left behind by the first.
func TestSQLitePendingStore_SurvivesReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "pending.db")
	ctx := context.Background()

	s1, err := NewSQLitePendingStore(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := s1.Enqueue(ctx, samplePending("h1"))
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewSQLitePendingStore(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	rec, ok, err := s2.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if rec.Status != PendingAwaiting || rec.ScreenHash != "h1" {
		t.Fatalf("record after reopen = %+v", rec)
	}
}
