package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hermitdroid/hermitdroid/internal/jsonutil"
)

// ErrPlanRejected wraps every validation failure. One malformed entry
// rejects the whole plan; nothing from a rejected plan is ever queued.
var ErrPlanRejected = errors.New("plan rejected")

// HeartbeatOK is the literal no-op response: the model looked at the
// context and decided nothing needs doing.
const HeartbeatOK = "HEARTBEAT_OK"

// Response is the model's full decision payload for one tick.
type Response struct {
	Actions     []ActionRequest
	Reflection  string
	Message     string
	MemoryWrite string

	// Idle is set when the model answered with the literal no-op token.
	Idle bool
}

type rawResponse struct {
	Actions     []rawAction `json:"actions"`
	Reflection  string      `json:"reflection,omitempty"`
	Message     string      `json:"message,omitempty"`
	MemoryWrite string      `json:"memory_write,omitempty"`
}

type rawAction struct {
	Action         string   `json:"action"`
	X              *int     `json:"x,omitempty"`
	Y              *int     `json:"y,omitempty"`
	X1             *int     `json:"x1,omitempty"`
	Y1             *int     `json:"y1,omitempty"`
	X2             *int     `json:"x2,omitempty"`
	Y2             *int     `json:"y2,omitempty"`
	DurationMs     *int     `json:"duration_ms,omitempty"`
	Text           *string  `json:"text,omitempty"`
	Key            *string  `json:"key,omitempty"`
	Package        *string  `json:"package,omitempty"`
	Seconds        *float64 `json:"seconds,omitempty"`
	Message        *string  `json:"message,omitempty"`
	NotificationID *string  `json:"notification_id,omitempty"`
	Classification string   `json:"classification,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// Parse turns raw model output into a validated Response. The literal
// HEARTBEAT_OK (possibly fenced or surrounded by whitespace) is a valid
// empty plan. Anything else must decode to a response object whose every
// action survives validation; a single bad entry fails the whole parse.
func Parse(text string) (Response, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Response{}, fmt.Errorf("%w: empty model output", ErrPlanRejected)
	}
	if isHeartbeatOK(trimmed) {
		return Response{Idle: true}, nil
	}

	var raw rawResponse
	if err := jsonutil.DecodeWithFallback(trimmed, &raw); err != nil {
		return Response{}, fmt.Errorf("%w: no decodable payload: %v", ErrPlanRejected, err)
	}

	resp := Response{
		Reflection:  strings.TrimSpace(raw.Reflection),
		Message:     strings.TrimSpace(raw.Message),
		MemoryWrite: raw.MemoryWrite,
	}
	for i, ra := range raw.Actions {
		ar, err := buildAction(ra)
		if err != nil {
			return Response{}, fmt.Errorf("%w: action %d (%s): %v", ErrPlanRejected, i, ra.Action, err)
		}
		resp.Actions = append(resp.Actions, ar)
	}
	return resp, nil
}

func isHeartbeatOK(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s) == HeartbeatOK
}

func buildAction(ra rawAction) (ActionRequest, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(ra.Action)))
	if kind == "" {
		return ActionRequest{}, fmt.Errorf("missing action kind")
	}
	if !KnownKind(kind) {
		return ActionRequest{}, fmt.Errorf("unknown action kind %q", kind)
	}

	params, err := validateParams(kind, ra)
	if err != nil {
		return ActionRequest{}, err
	}

	// An unrecognized classification string is a malformed entry, not a
	// GREEN one. Only an absent field defaults.
	tier, ok := ParseTier(ra.Classification)
	if !ok && strings.TrimSpace(ra.Classification) != "" {
		return ActionRequest{}, fmt.Errorf("unknown classification %q", ra.Classification)
	}
	return ActionRequest{
		ID:             "act_" + uuid.NewString(),
		Kind:           kind,
		Params:         params,
		Classification: tier,
		Reason:         strings.TrimSpace(ra.Reason),
	}, nil
}

const maxWaitSeconds = 60

func validateParams(kind Kind, ra rawAction) (map[string]any, error) {
	p := map[string]any{}
	needCoord := func(name string, v *int) error {
		if v == nil {
			return fmt.Errorf("missing %s", name)
		}
		if *v < 0 {
			return fmt.Errorf("negative %s", name)
		}
		p[name] = *v
		return nil
	}

	switch kind {
	case KindTap, KindLongPress:
		if err := needCoord("x", ra.X); err != nil {
			return nil, err
		}
		if err := needCoord("y", ra.Y); err != nil {
			return nil, err
		}
	case KindSwipe:
		for _, c := range []struct {
			name string
			v    *int
		}{{"x1", ra.X1}, {"y1", ra.Y1}, {"x2", ra.X2}, {"y2", ra.Y2}} {
			if err := needCoord(c.name, c.v); err != nil {
				return nil, err
			}
		}
		if ra.DurationMs != nil {
			if *ra.DurationMs <= 0 {
				return nil, fmt.Errorf("non-positive duration_ms")
			}
			p["duration_ms"] = *ra.DurationMs
		}
	case KindTypeText:
		if ra.Text == nil {
			return nil, fmt.Errorf("missing text")
		}
		p["text"] = *ra.Text
	case KindPressKey:
		if ra.Key == nil || strings.TrimSpace(*ra.Key) == "" {
			return nil, fmt.Errorf("missing key")
		}
		p["key"] = strings.TrimSpace(*ra.Key)
	case KindLaunchApp:
		if ra.Package == nil || strings.TrimSpace(*ra.Package) == "" {
			return nil, fmt.Errorf("missing package")
		}
		p["package"] = strings.TrimSpace(*ra.Package)
	case KindWait:
		if ra.Seconds == nil {
			return nil, fmt.Errorf("missing seconds")
		}
		if *ra.Seconds <= 0 || *ra.Seconds > maxWaitSeconds {
			return nil, fmt.Errorf("seconds out of range (0, %d]", maxWaitSeconds)
		}
		p["seconds"] = *ra.Seconds
	case KindNotifyUser:
		if ra.Message == nil || strings.TrimSpace(*ra.Message) == "" {
			return nil, fmt.Errorf("missing message")
		}
		p["message"] = strings.TrimSpace(*ra.Message)
	case KindDismissNotification:
		if ra.NotificationID == nil || strings.TrimSpace(*ra.NotificationID) == "" {
			return nil, fmt.Errorf("missing notification_id")
		}
		p["notification_id"] = strings.TrimSpace(*ra.NotificationID)
	case KindHome, KindBack, KindRecents, KindOpenNotifications,
		KindScrollUp, KindScrollDown, KindScreenshot, KindDone:
		// No parameters.
	default:
		return nil, fmt.Errorf("unhandled kind %q", kind)
	}

	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}
