package perception

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hermitdroid/hermitdroid/internal/strutil"
)

// ErrUnavailable means the device could not be observed this tick. The
// previous snapshot stays valid, marked stale.
var ErrUnavailable = errors.New("perception unavailable")

// Source supplies the raw device dumps. The ADB bridge implements it;
// tests feed canned text.
type Source interface {
	NotificationDump(ctx context.Context) (string, error)
	ActivityDump(ctx context.Context) (string, error)
	UITreeDump(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

const (
	seenKeysMax  = 1000
	seenKeysKeep = 500
)

// Observer builds snapshots and diffs them against the previous one.
// Observing the same device state twice yields an empty diff; state is
// only advanced on successful observation, so the pipeline is idempotent
// with respect to raw input.
type Observer struct {
	src          Source
	log          *slog.Logger
	priorityApps []string

	mu       sync.Mutex
	prev     Snapshot
	hasPrev  bool
	seenKeys map[string]bool
	seenSeq  []string
}

func NewObserver(src Source, priorityApps []string, log *slog.Logger) *Observer {
	if log == nil {
		log = slog.Default()
	}
	return &Observer{
		src:          src,
		log:          log,
		priorityApps: priorityApps,
		seenKeys:     make(map[string]bool),
	}
}

// Options for a single observation.
type ObserveOptions struct {
	WithScreenshot bool
}

// Observe polls the device and returns the new snapshot plus the diff
// against the previous one. On failure the last snapshot comes back with
// its Stale marker set and the error wraps ErrUnavailable.
func (o *Observer) Observe(ctx context.Context, opts ObserveOptions) (Snapshot, Diff, error) {
	now := time.Now().UTC()

	notifRaw, err := o.src.NotificationDump(ctx)
	if err != nil {
		return o.stale(now, fmt.Errorf("%w: notification dump: %v", ErrUnavailable, err))
	}
	actRaw, err := o.src.ActivityDump(ctx)
	if err != nil {
		return o.stale(now, fmt.Errorf("%w: activity dump: %v", ErrUnavailable, err))
	}

	app, activity := ParseForegroundActivity(actRaw)
	screen := ScreenState{App: app, Activity: activity, CapturedAt: now}

	// The UI tree is best-effort: some screens block uiautomator and the
	// snapshot is still useful without it.
	if treeRaw, err := o.src.UITreeDump(ctx); err == nil {
		screen.Elements = SimplifyUITree(treeRaw)
	} else {
		o.log.Debug("ui_tree_unavailable", "error", err.Error())
	}
	screen.TreeHash = screenHash(screen.App, screen.Activity, screen.RenderTree())

	if opts.WithScreenshot {
		if png, err := o.src.Screenshot(ctx); err == nil && len(png) >= 100 {
			screen.ScreenshotB64 = base64.StdEncoding.EncodeToString(png)
		} else if err != nil {
			o.log.Debug("screenshot_unavailable", "error", err.Error())
		}
	}

	notifs := ParseNotificationDump(notifRaw, now)
	for i := range notifs {
		notifs[i].Priority = o.isPriority(notifs[i].App)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	diff := o.diffLocked(notifs, screen)
	snap := Snapshot{Notifications: notifs, Screen: screen, TakenAt: now}
	o.prev = snap
	o.hasPrev = true
	return snap, diff, nil
}

// Last returns the most recent snapshot, if any.
func (o *Observer) Last() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prev, o.hasPrev
}

func (o *Observer) stale(now time.Time, err error) (Snapshot, Diff, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := o.prev
	snap.Stale = true
	o.prev = snap
	o.log.Warn("perception_stale", "error", err.Error())
	return snap, Diff{Stale: true}, err
}

func (o *Observer) diffLocked(notifs []Notification, screen ScreenState) Diff {
	var d Diff

	current := make(map[string]bool, len(notifs))
	for _, n := range notifs {
		key := n.Key()
		current[key] = true
		if o.seenKeys[key] {
			continue
		}
		o.seenKeys[key] = true
		o.seenSeq = append(o.seenSeq, key)
		d.NewNotifications = append(d.NewNotifications, n)
		o.log.Info("notification_new", "app", n.App, "title", n.Title)
	}
	o.trimSeenLocked()

	if o.hasPrev {
		for _, n := range o.prev.Notifications {
			if !current[n.Key()] {
				d.DismissedIDs = append(d.DismissedIDs, n.ID)
			}
		}
		d.ScreenChanged = o.prev.Screen.TreeHash != screen.TreeHash
	} else {
		d.ScreenChanged = true
	}
	return d
}

// trimSeenLocked caps the dedup set so a long-running daemon does not
// accumulate every notification key it ever saw.
func (o *Observer) trimSeenLocked() {
	if len(o.seenSeq) <= seenKeysMax {
		return
	}
	drop := len(o.seenSeq) - seenKeysKeep
	for _, key := range o.seenSeq[:drop] {
		delete(o.seenKeys, key)
	}
	o.seenSeq = append([]string(nil), o.seenSeq[drop:]...)
}

func (o *Observer) isPriority(app string) bool {
	for _, p := range o.priorityApps {
		p = strings.TrimSpace(p)
		if p != "" && strings.Contains(app, p) {
			return true
		}
	}
	return false
}

// HasPriority reports whether any of the diff's new notifications came
// from a priority app. Priority notifications trigger an early tick.
func (d Diff) HasPriority() bool {
	for _, n := range d.NewNotifications {
		if n.Priority {
			return true
		}
	}
	return false
}

// FormatNotifications renders notifications for the decision prompt.
func FormatNotifications(notifs []Notification) string {
	if len(notifs) == 0 {
		return "No new notifications."
	}
	lines := make([]string, 0, len(notifs))
	for _, n := range notifs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", n.App, n.Title, n.Body))
	}
	return strings.Join(lines, "\n")
}

// FormatScreen renders the screen block for the decision prompt.
func FormatScreen(s ScreenState, stale bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "App: %s | Activity: %s", s.App, s.Activity)
	if stale {
		b.WriteString(" (STALE: device unreachable, showing last known state)")
	}
	if tree := s.RenderTree(); tree != "" {
		tree = strutil.TruncateUTF8(tree, 4000)
		b.WriteString("\nUI Tree:\n")
		b.WriteString(tree)
	} else if s.ScreenshotB64 != "" {
		b.WriteString("\nUI Tree: (not available, rely on the screenshot for coordinates)")
	} else {
		b.WriteString("\nUI: (no UI tree or screenshot available)")
	}
	return b.String()
}
