package agent

import (
	"testing"

	"github.com/hermitdroid/hermitdroid/plan"
)

func tapAt(x, y int) plan.ActionRequest {
	return plan.ActionRequest{
		ID:     "act_test",
		Kind:   plan.KindTap,
		Params: map[string]any{"x": x, "y": y},
	}
}

func TestStuckDetectorFrozenScreen(t *testing.T) {
	d := &StuckDetector{}
	if d.ObserveStep("aaaa", "com.app", []plan.ActionRequest{tapAt(1, 1)}) {
		t.Fatal("one observation is never stuck")
	}
	if d.ObserveStep("aaaa", "com.app", []plan.ActionRequest{tapAt(2, 2)}) {
		t.Fatal("two repeats below threshold")
	}
	if !d.ObserveStep("aaaa", "com.app", []plan.ActionRequest{tapAt(3, 3)}) {
		t.Fatal("three identical screen hashes should flag stuck")
	}
}

func TestStuckDetectorIgnoresEmptyScreenHash(t *testing.T) {
	d := &StuckDetector{}
	for i := 0; i < 5; i++ {
		if d.ObserveStep("", "com.app", []plan.ActionRequest{tapAt(i, i)}) {
			t.Fatal("missing UI tree must not count as a frozen screen")
		}
	}
}

func TestStuckDetectorActionLoop(t *testing.T) {
	d := &StuckDetector{}
	stuck := false
	for i, hash := range []string{"h1", "h2", "h3"} {
		_ = i
		stuck = d.ObserveStep(hash, "com.app", []plan.ActionRequest{tapAt(100, 200)})
	}
	if !stuck {
		t.Fatal("same action three times should flag stuck even as the screen changes")
	}
}

func TestStuckDetectorAppDrift(t *testing.T) {
	d := &StuckDetector{TargetApp: "com.whatsapp"}
	hashes := []string{"h1", "h2", "h3"}
	stuck := false
	for i, h := range hashes {
		stuck = d.ObserveStep(h, "com.instagram.android", []plan.ActionRequest{tapAt(i, i)})
	}
	if !stuck {
		t.Fatal("three steps off the target app should flag stuck")
	}
}

func TestStuckDetectorEscalationLadder(t *testing.T) {
	d := &StuckDetector{}
	want := []Recovery{RecoveryHint, RecoveryBack, RecoveryHome, RecoveryGiveUp, RecoveryGiveUp}
	for _, w := range want {
		if got := d.Escalate(); got != w {
			t.Fatalf("escalation got %s, want %s", got, w)
		}
	}
}

func TestEscalateResetsHistory(t *testing.T) {
	d := &StuckDetector{}
	for _, h := range []string{"x", "x", "x"} {
		d.ObserveStep(h, "com.app", nil)
	}
	d.Escalate()
	if d.ObserveStep("x", "com.app", nil) {
		t.Fatal("history must be fresh after a recovery attempt")
	}
}
