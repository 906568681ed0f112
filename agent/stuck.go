package agent

import (
	"fmt"

	"github.com/hermitdroid/hermitdroid/plan"
)

// Recovery is the escalating response when a goal run stops making
// progress. Each level is tried once before moving to the next.
type Recovery int

const (
	RecoveryNone Recovery = iota
	RecoveryHint
	RecoveryBack
	RecoveryHome
	RecoveryGiveUp
)

func (r Recovery) String() string {
	switch r {
	case RecoveryHint:
		return "hint"
	case RecoveryBack:
		return "back"
	case RecoveryHome:
		return "home"
	case RecoveryGiveUp:
		return "give_up"
	default:
		return "none"
	}
}

const (
	stuckScreenRepeats = 3
	stuckActionRepeats = 3
	stuckHistoryWindow = 6
)

// StuckDetector watches a goal run for three failure shapes: the screen
// hash not changing across steps, the same action repeated back to
// back, and wandering into an app unrelated to the goal.
type StuckDetector struct {
	TargetApp string

	screenHashes []string
	actionHashes []string
	offTargetRun int
	level        Recovery
}

// ObserveStep records one completed step and reports whether the run
// looks stuck right now.
func (d *StuckDetector) ObserveStep(screenHash, foregroundApp string, actions []plan.ActionRequest) bool {
	d.screenHashes = appendWindow(d.screenHashes, screenHash, stuckHistoryWindow)
	for _, a := range actions {
		d.actionHashes = appendWindow(d.actionHashes, a.Hash(), stuckHistoryWindow)
	}
	if d.TargetApp != "" && foregroundApp != "" && foregroundApp != d.TargetApp {
		d.offTargetRun++
	} else {
		d.offTargetRun = 0
	}
	return d.screenFrozen() || d.actionLooping() || d.offTargetRun >= stuckScreenRepeats
}

func (d *StuckDetector) screenFrozen() bool {
	n := len(d.screenHashes)
	if n < stuckScreenRepeats {
		return false
	}
	last := d.screenHashes[n-1]
	if last == "" {
		return false
	}
	for i := n - stuckScreenRepeats; i < n; i++ {
		if d.screenHashes[i] != last {
			return false
		}
	}
	return true
}

func (d *StuckDetector) actionLooping() bool {
	n := len(d.actionHashes)
	if n < stuckActionRepeats {
		return false
	}
	last := d.actionHashes[n-1]
	for i := n - stuckActionRepeats; i < n; i++ {
		if d.actionHashes[i] != last {
			return false
		}
	}
	return true
}

// Escalate advances to the next recovery level and returns it.
func (d *StuckDetector) Escalate() Recovery {
	if d.level < RecoveryGiveUp {
		d.level++
	}
	// A recovery attempt invalidates the stale history so the next
	// steps are judged fresh.
	d.screenHashes = nil
	d.actionHashes = nil
	d.offTargetRun = 0
	return d.level
}

func (d *StuckDetector) Level() Recovery { return d.level }

// HintMessage is injected into the next prompt at RecoveryHint level.
func (d *StuckDetector) HintMessage() string {
	if d.TargetApp != "" {
		return fmt.Sprintf("You appear to be stuck. The screen has not changed or your actions repeat. Try a different approach to reach the goal in %s, or respond with a done action if the goal is impossible.", d.TargetApp)
	}
	return "You appear to be stuck. The screen has not changed or your actions repeat. Try a different approach, or respond with a done action if the goal is impossible."
}

func appendWindow(s []string, v string, max int) []string {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
