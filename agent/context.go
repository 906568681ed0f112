// Package agent wires perception, the model, and the guardrail gate
// into decision cycles: the periodic heartbeat loop and the one-shot
// goal runner.
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hermitdroid/hermitdroid/internal/strutil"
	"github.com/hermitdroid/hermitdroid/perception"
	"github.com/hermitdroid/hermitdroid/workspace"
)

// Trigger names why a tick fired.
type Trigger string

const (
	TriggerHeartbeat Trigger = "heartbeat"
	TriggerGateway   Trigger = "gateway"
	TriggerInterrupt Trigger = "interrupt"
	TriggerCron      Trigger = "cron"
	TriggerManual    Trigger = "manual"
)

// Per-section byte budgets for the assembled prompt. Order-preserving
// truncation, UTF-8 safe.
const (
	budgetDocs          = 8000
	budgetNotifications = 3000
	budgetScreen        = 4000
	budgetGoals         = 1500
	budgetMemory        = 3000
	budgetSkills        = 2500
	budgetSession       = 4000
)

// DecisionContext is everything the model sees for one tick, already
// rendered to bounded text sections.
type DecisionContext struct {
	TickID    string
	Trigger   Trigger
	Time      time.Time
	Goal      string
	FormData  map[string]string
	CronNotes []string

	Docs          string
	Notifications string
	Screen        string
	GoalsDoc      string
	Memory        string
	Skills        string
	Session       string

	Snapshot perception.Snapshot
	Diff     perception.Diff
}

// ContextInputs are the raw materials for Assemble. The assembler is a
// pure function of these, which keeps the idle-skip hash honest.
type ContextInputs struct {
	Trigger   Trigger
	Goal      string
	FormData  map[string]string
	CronNotes []string

	Snapshot perception.Snapshot
	Diff     perception.Diff

	Docs    []NamedDoc
	Goals   []workspace.Goal
	Memory  []string
	Skills  []workspace.Skill
	Session []string
}

type NamedDoc struct {
	Name     string
	Contents string
}

func Assemble(tickID string, now time.Time, in ContextInputs) DecisionContext {
	dc := DecisionContext{
		TickID:    tickID,
		Trigger:   in.Trigger,
		Time:      now,
		Goal:      strings.TrimSpace(in.Goal),
		FormData:  in.FormData,
		CronNotes: in.CronNotes,
		Snapshot:  in.Snapshot,
		Diff:      in.Diff,
	}

	var docs strings.Builder
	for _, d := range in.Docs {
		if strings.TrimSpace(d.Contents) == "" {
			continue
		}
		fmt.Fprintf(&docs, "## %s\n%s\n\n", d.Name, strings.TrimSpace(d.Contents))
	}
	dc.Docs = strutil.TruncateUTF8(docs.String(), budgetDocs)

	dc.Notifications = renderNotifications(in.Diff.NewNotifications, budgetNotifications)
	dc.Screen = strutil.TruncateUTF8(
		perception.FormatScreen(in.Snapshot.Screen, in.Snapshot.Stale), budgetScreen)

	var goals strings.Builder
	for _, g := range in.Goals {
		line := "- " + g.Description
		if g.Due != nil {
			line += " (due " + g.Due.Format("2006-01-02") + ")"
		}
		goals.WriteString(line + " [" + g.ID + "]\n")
	}
	dc.GoalsDoc = strutil.TruncateUTF8(goals.String(), budgetGoals)

	dc.Memory = strutil.TruncateUTF8(strings.Join(in.Memory, "\n---\n"), budgetMemory)

	var skills strings.Builder
	for _, s := range in.Skills {
		fmt.Fprintf(&skills, "### %s\n%s\n%s\n\n", s.Name, s.Description, s.Body)
	}
	dc.Skills = strutil.TruncateUTF8(skills.String(), budgetSkills)

	dc.Session = strutil.TruncateUTF8(strings.Join(in.Session, "\n"), budgetSession)

	return dc
}

// renderNotifications sorts by arrival and drops whole oldest entries
// first when the block exceeds the budget. Dump order is not arrival
// order, so the slice cannot be trimmed as it comes.
func renderNotifications(notifs []perception.Notification, maxBytes int) string {
	if len(notifs) == 0 {
		return perception.FormatNotifications(nil)
	}
	sorted := make([]perception.Notification, len(notifs))
	copy(sorted, notifs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SeenAt.Before(sorted[j].SeenAt)
	})
	for len(sorted) > 1 && len(perception.FormatNotifications(sorted)) > maxBytes {
		sorted = sorted[1:]
	}
	return strutil.TruncateUTF8(perception.FormatNotifications(sorted), maxBytes)
}

// Hash fingerprints the parts of the context that represent device and
// task state. Timestamps and tick ids are excluded so that two ticks
// over an unchanged device produce the same hash, which is what lets
// the scheduler skip the model call.
func (dc DecisionContext) Hash() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(string(dc.Trigger))
	write(dc.Goal)
	for _, k := range sortedKeys(dc.FormData) {
		write(k + "=" + dc.FormData[k])
	}
	for _, n := range dc.CronNotes {
		write(n)
	}
	write(dc.Docs)
	write(dc.Notifications)
	write(dc.Screen)
	write(dc.GoalsDoc)
	write(dc.Memory)
	write(dc.Skills)
	// Session history is deliberately left out: it records what the
	// agent did, not what the device looks like, and including it would
	// defeat the skip after any tick that acted.
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Map iteration order would break hash stability.
func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
