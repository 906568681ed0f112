package agent

import (
	"fmt"
	"strings"

	"github.com/hermitdroid/hermitdroid/llm"
	"github.com/hermitdroid/hermitdroid/plan"
)

const systemPrompt = `You are an autonomous assistant operating an Android phone on the user's behalf.

You observe the device (notifications, foreground app, UI tree) and decide what, if anything, to do.

If nothing needs attention, respond with exactly:
HEARTBEAT_OK

Otherwise respond with ONLY a JSON object:
{
  "actions": [
    {"action": "<kind>", "params": {...}, "classification": "GREEN|YELLOW|RED", "reason": "<why>"}
  ],
  "reflection": "<one line on what you observed and decided>",
  "memory_write": "<optional fact worth remembering, or omit>"
}

Action kinds and params:
- tap {x, y}, long_press {x, y}
- swipe {x1, y1, x2, y2, duration_ms?}
- type_text {text} (types into the focused field)
- press_key {key}, launch_app {package}
- home, back, recents, open_notifications (no params)
- scroll_up, scroll_down (no params)
- wait {seconds} (0 < seconds <= 60)
- screenshot (no params)
- notify_user {message}
- dismiss_notification {notification_id}
- done (no params, ends the plan)

Classification rules:
- GREEN: trivially reversible (navigation, scrolling, reading).
- YELLOW: reversible with effort (typing drafts, dismissing notifications).
- RED: hard or impossible to reverse (sending, deleting, purchasing, calling). RED actions are NOT executed until the user approves them.
When unsure, classify higher. Never plan around the approval step.
`

// BuildMessages renders the decision context into the chat transcript
// for one model call.
func BuildMessages(dc DecisionContext) []llm.Message {
	var b strings.Builder

	if dc.Docs != "" {
		b.WriteString(dc.Docs)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "## Tick\ntime: %s\ntrigger: %s\n\n", dc.Time.Format("2006-01-02 15:04:05 MST"), dc.Trigger)

	if dc.Goal != "" {
		fmt.Fprintf(&b, "## Current goal\n%s\n", dc.Goal)
		if len(dc.FormData) > 0 {
			b.WriteString("Provided data:\n")
			for _, k := range sortedKeys(dc.FormData) {
				fmt.Fprintf(&b, "- %s: %s\n", k, dc.FormData[k])
			}
		}
		b.WriteString("\n")
	}

	for _, note := range dc.CronNotes {
		fmt.Fprintf(&b, "## Scheduled task due\n%s\n\n", note)
	}

	fmt.Fprintf(&b, "## New notifications\n%s\n\n", dc.Notifications)
	fmt.Fprintf(&b, "## Screen\n%s\n\n", dc.Screen)

	if dc.GoalsDoc != "" {
		fmt.Fprintf(&b, "## Open goals\n%s\n", dc.GoalsDoc)
	}
	if dc.Memory != "" {
		fmt.Fprintf(&b, "## Recent memory\n%s\n\n", dc.Memory)
	}
	if dc.Skills != "" {
		fmt.Fprintf(&b, "## Skills\n%s\n", dc.Skills)
	}
	if dc.Session != "" {
		fmt.Fprintf(&b, "## This session\n%s\n\n", dc.Session)
	}

	b.WriteString("Decide now. HEARTBEAT_OK or the JSON plan, nothing else.")

	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
	}
	user := llm.Message{Role: "user", Content: b.String()}
	if dc.Snapshot.Screen.ScreenshotB64 != "" && dc.Snapshot.Screen.RenderTree() == "" {
		user.ImageB64 = dc.Snapshot.Screen.ScreenshotB64
	}
	return append(msgs, user)
}

// SummarizePlan renders a compact session-history line for a tick.
func SummarizePlan(dc DecisionContext, resp plan.Response) string {
	if resp.Idle {
		return fmt.Sprintf("[%s] %s: idle", dc.Time.Format("15:04"), dc.Trigger)
	}
	kinds := make([]string, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		kinds = append(kinds, string(a.Kind))
	}
	line := fmt.Sprintf("[%s] %s: %s", dc.Time.Format("15:04"), dc.Trigger, strings.Join(kinds, ", "))
	if resp.Reflection != "" {
		line += " (" + resp.Reflection + ")"
	}
	return line
}
