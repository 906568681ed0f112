package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hermitdroid/hermitdroid/db"
)

func newCronStore(t *testing.T) *CronStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "agent.db")
	gdb, err := db.Open(context.Background(), db.DefaultConfig(dsn))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewCronStore(gdb)
}

func TestCronUpsertValidation(t *testing.T) {
	s := newCronStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CronJobSpec{Name: "x", Task: "do it"}); err == nil {
		t.Fatal("expected error without schedule or interval")
	}
	if _, err := s.Upsert(ctx, CronJobSpec{Name: "x", Task: "do it", Schedule: "0 9 * * *", IntervalSeconds: 60}); err == nil {
		t.Fatal("expected error with both schedule and interval")
	}
	if _, err := s.Upsert(ctx, CronJobSpec{Name: "x", Task: "do it", Schedule: "not a cron"}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestCronIntervalJobBecomesDue(t *testing.T) {
	s := newCronStore(t)
	ctx := context.Background()

	job, err := s.Upsert(ctx, CronJobSpec{
		Name: "morning-check", Task: "check unread messages",
		IntervalSeconds: 600, Enabled: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if job.NextRunAt != nil {
		t.Fatal("next_run_at starts unset, the scheduler computes it")
	}

	now := time.Now().UTC()
	// First pass reconciles next_run_at, nothing is due yet.
	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected nothing due on first pass, got %d", len(due))
	}

	due, err = s.Due(ctx, now.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Name != "morning-check" {
		t.Fatalf("expected one due job, got %+v", due)
	}

	// Immediately after running, the job is rescheduled, not due.
	due, err = s.Due(ctx, now.Add(12*time.Minute))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("job just ran, must not be due again")
	}
}

func TestCronRunOnceDisablesAfterRun(t *testing.T) {
	s := newCronStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CronJobSpec{
		Name: "one-shot", Task: "send the weekly report reminder",
		IntervalSeconds: 60, RunOnce: true, Enabled: true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	now := time.Now().UTC()
	if _, err := s.Due(ctx, now); err != nil {
		t.Fatal(err)
	}
	due, err := s.Due(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("expected the one-shot to fire, got %d", len(due))
	}

	jobs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Enabled {
		t.Fatalf("run-once job must be disabled after firing: %+v", jobs)
	}
}

func TestCronUpsertUpdatesAndClearsNextRun(t *testing.T) {
	s := newCronStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CronJobSpec{Name: "j", Task: "old task", IntervalSeconds: 60, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if _, err := s.Due(ctx, now); err != nil {
		t.Fatal(err)
	}

	job, err := s.Upsert(ctx, CronJobSpec{Name: "j", Task: "new task", Schedule: "0 9 * * *", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if job.Task != "new task" || job.Schedule == nil || job.IntervalSeconds != nil {
		t.Fatalf("update not applied: %+v", job)
	}
	if job.NextRunAt != nil {
		t.Fatal("schedule change must clear next_run_at for recompute")
	}

	jobs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("upsert by name must not duplicate, got %d jobs", len(jobs))
	}
}
