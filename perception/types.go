package perception

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Notification is one status-bar notification as reported by the device.
type Notification struct {
	ID       string    `json:"id"`
	App      string    `json:"app"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	SeenAt   time.Time `json:"seen_at"`
	Priority bool      `json:"priority,omitempty"`
}

// Key is the dedup identity: the same app/title/body is one notification
// however many times the dump repeats it.
func (n Notification) Key() string {
	return n.App + "|" + n.Title + "|" + n.Body
}

// UIElement is a simplified accessibility-tree node with its tap center.
type UIElement struct {
	Class      string `json:"class,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Desc       string `json:"desc,omitempty"`
	Clickable  bool   `json:"clickable,omitempty"`
	Editable   bool   `json:"editable,omitempty"`
	Focused    bool   `json:"focused,omitempty"`
	Depth      int    `json:"depth,omitempty"`
	CX         int    `json:"cx"`
	CY         int    `json:"cy"`
	HasCenter  bool   `json:"has_center,omitempty"`
}

// Render writes the element the way the decision prompt shows it.
func (e UIElement) Render() string {
	var b strings.Builder
	depth := e.Depth
	if depth > 8 {
		depth = 8
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteByte('[')
	b.WriteString(e.Class)
	if e.ResourceID != "" {
		b.WriteString(" #")
		b.WriteString(e.ResourceID)
	}
	if e.Text != "" {
		fmt.Fprintf(&b, " %q", truncRunes(e.Text, 80))
	}
	if e.Desc != "" {
		fmt.Fprintf(&b, " desc=%q", truncRunes(e.Desc, 60))
	}
	if e.Clickable {
		b.WriteString(" *click*")
	}
	if e.Editable {
		b.WriteString(" *editable*")
	}
	if e.Focused {
		b.WriteString(" *focus*")
	}
	if e.HasCenter {
		fmt.Fprintf(&b, " @(%d,%d)", e.CX, e.CY)
	}
	b.WriteByte(']')
	return b.String()
}

func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ScreenState is an immutable description of what the display shows.
// A new observation replaces it wholesale; it is never patched.
type ScreenState struct {
	App           string      `json:"app"`
	Activity      string      `json:"activity"`
	Elements      []UIElement `json:"elements,omitempty"`
	TreeHash      string      `json:"tree_hash"`
	ScreenshotB64 string      `json:"screenshot_b64,omitempty"`
	CapturedAt    time.Time   `json:"captured_at"`
}

// RenderTree writes the simplified tree for the decision prompt.
func (s ScreenState) RenderTree() string {
	if len(s.Elements) == 0 {
		return ""
	}
	lines := make([]string, 0, len(s.Elements))
	for _, e := range s.Elements {
		lines = append(lines, e.Render())
	}
	return strings.Join(lines, "\n")
}

// FindByText locates a clickable element whose text or description
// contains needle, case-insensitively. Used by deterministic flows.
func (s ScreenState) FindByText(needle string) (UIElement, bool) {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return UIElement{}, false
	}
	var fallback *UIElement
	for i := range s.Elements {
		e := s.Elements[i]
		if !e.HasCenter {
			continue
		}
		match := strings.Contains(strings.ToLower(e.Text), needle) ||
			strings.Contains(strings.ToLower(e.Desc), needle)
		if !match {
			continue
		}
		if e.Clickable {
			return e, true
		}
		if fallback == nil {
			fallback = &e
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return UIElement{}, false
}

func screenHash(app, activity, tree string) string {
	sum := sha256.Sum256([]byte(app + "\x00" + activity + "\x00" + tree))
	return hex.EncodeToString(sum[:16])
}

// Snapshot is one complete observation of the device.
type Snapshot struct {
	Notifications []Notification `json:"notifications"`
	Screen        ScreenState    `json:"screen"`
	TakenAt       time.Time      `json:"taken_at"`

	// Stale marks a snapshot carried over after a failed observation.
	Stale bool `json:"stale,omitempty"`
}

// Diff describes what changed between two consecutive snapshots.
type Diff struct {
	NewNotifications []Notification `json:"new_notifications,omitempty"`
	DismissedIDs     []string       `json:"dismissed_ids,omitempty"`
	ScreenChanged    bool           `json:"screen_changed,omitempty"`
	Stale            bool           `json:"stale,omitempty"`
}

// Empty reports whether the diff carries no new information.
func (d Diff) Empty() bool {
	return len(d.NewNotifications) == 0 && len(d.DismissedIDs) == 0 && !d.ScreenChanged && !d.Stale
}
