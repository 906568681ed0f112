package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the closed action vocabulary the device bridge understands.
type Kind string

const (
	KindTap                 Kind = "tap"
	KindLongPress           Kind = "long_press"
	KindSwipe               Kind = "swipe"
	KindTypeText            Kind = "type_text"
	KindPressKey            Kind = "press_key"
	KindLaunchApp           Kind = "launch_app"
	KindHome                Kind = "home"
	KindBack                Kind = "back"
	KindRecents             Kind = "recents"
	KindOpenNotifications   Kind = "open_notifications"
	KindScrollUp            Kind = "scroll_up"
	KindScrollDown          Kind = "scroll_down"
	KindWait                Kind = "wait"
	KindScreenshot          Kind = "screenshot"
	KindNotifyUser          Kind = "notify_user"
	KindDismissNotification Kind = "dismiss_notification"
	KindDone                Kind = "done"
)

var knownKinds = map[Kind]bool{
	KindTap: true, KindLongPress: true, KindSwipe: true, KindTypeText: true,
	KindPressKey: true, KindLaunchApp: true, KindHome: true, KindBack: true,
	KindRecents: true, KindOpenNotifications: true, KindScrollUp: true,
	KindScrollDown: true, KindWait: true, KindScreenshot: true,
	KindNotifyUser: true, KindDismissNotification: true, KindDone: true,
}

// KnownKind reports whether k belongs to the action vocabulary.
func KnownKind(k Kind) bool { return knownKinds[k] }

// ActionRequest is one validated step of a plan. Params are immutable after
// validation; only the classification may change, and only upward.
type ActionRequest struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"action"`
	Params         map[string]any `json:"params,omitempty"`
	Classification Tier           `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
}

// Hash returns a stable digest of the action's identity-relevant fields.
// The classification is excluded so escalation does not change the hash.
func (a ActionRequest) Hash() string {
	payload := map[string]any{"action": string(a.Kind)}
	if len(a.Params) > 0 {
		keys := make([]string, 0, len(a.Params))
		for k := range a.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			ordered = append(ordered, k, a.Params[k])
		}
		payload["params"] = ordered
	}
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(fmt.Sprintf("%s|%v", a.Kind, a.Params))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// String renders a short human-readable summary for logs and audit lines.
func (a ActionRequest) String() string {
	if len(a.Params) == 0 {
		return string(a.Kind)
	}
	b, err := json.Marshal(a.Params)
	if err != nil {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s %s", a.Kind, b)
}
