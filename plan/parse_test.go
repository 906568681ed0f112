package plan

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_HeartbeatOK(t *testing.T) {
	cases := []string{
		"HEARTBEAT_OK",
		"  HEARTBEAT_OK\n",
		"```\nHEARTBEAT_OK\n```",
	}
	for _, in := range cases {
		resp, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", in, err)
		}
		if !resp.Idle {
			t.Fatalf("Parse(%q): expected Idle", in)
		}
		if len(resp.Actions) != 0 {
			t.Fatalf("Parse(%q): expected no actions, got %d", in, len(resp.Actions))
		}
	}
}

func TestParse_ValidPlan(t *testing.T) {
	raw := `{
  "actions": [
    {"action": "tap", "x": 540, "y": 1200, "classification": "GREEN"},
    {"action": "type_text", "text": "hello", "classification": "YELLOW"},
    {"action": "done"}
  ],
  "reflection": "typing a greeting",
  "message": ""
}`
	resp, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(resp.Actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(resp.Actions))
	}
	if resp.Actions[0].Kind != KindTap {
		t.Errorf("action 0 kind = %s, want tap", resp.Actions[0].Kind)
	}
	if got := resp.Actions[0].Params["x"]; got != 540 {
		t.Errorf("tap x = %v, want 540", got)
	}
	if resp.Actions[1].Classification != TierYellow {
		t.Errorf("action 1 tier = %s, want YELLOW", resp.Actions[1].Classification)
	}
	// Unclassified actions default to GREEN.
	if resp.Actions[2].Classification != TierGreen {
		t.Errorf("action 2 tier = %s, want GREEN", resp.Actions[2].Classification)
	}
	if resp.Reflection != "typing a greeting" {
		t.Errorf("reflection = %q", resp.Reflection)
	}
}

func TestParse_FencedJSON(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"actions\":[{\"action\":\"home\"}]}\n```"
	resp, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].Kind != KindHome {
		t.Fatalf("unexpected actions: %+v", resp.Actions)
	}
}

func TestParse_FailClosed(t *testing.T) {
	// One malformed entry rejects the entire plan, even though the first
	// action on its own is valid.
	raw := `{"actions":[
    {"action": "tap", "x": 10, "y": 20},
    {"action": "tap", "y": 20}
  ]}`
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("expected error for plan with malformed entry")
	}
	if !errors.Is(err, ErrPlanRejected) {
		t.Fatalf("expected ErrPlanRejected, got %v", err)
	}
}

func TestParse_UnknownKindRejected(t *testing.T) {
	_, err := Parse(`{"actions":[{"action":"rm_rf"}]}`)
	if !errors.Is(err, ErrPlanRejected) {
		t.Fatalf("expected ErrPlanRejected, got %v", err)
	}
}

func TestParse_UnknownClassificationRejected(t *testing.T) {
	// A classification string outside the tier vocabulary must not fall
	// back to GREEN; only a missing field defaults.
	for _, cls := range []string{"CRITICAL", "high", "ORANGE"} {
		raw := `{"actions":[{"action":"type_text","text":"hi","classification":"` + cls + `"}]}`
		_, err := Parse(raw)
		if !errors.Is(err, ErrPlanRejected) {
			t.Fatalf("classification %q: expected ErrPlanRejected, got %v", cls, err)
		}
	}
}

func TestParse_EmptyAndGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "I could not decide what to do."} {
		_, err := Parse(in)
		if !errors.Is(err, ErrPlanRejected) {
			t.Fatalf("Parse(%q): expected ErrPlanRejected, got %v", in, err)
		}
	}
}

func TestParse_WaitBounds(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{`{"actions":[{"action":"wait","seconds":2}]}`, false},
		{`{"actions":[{"action":"wait","seconds":0}]}`, true},
		{`{"actions":[{"action":"wait","seconds":600}]}`, true},
		{`{"actions":[{"action":"wait"}]}`, true},
	}
	for _, tc := range cases {
		_, err := Parse(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("Parse(%s) error=%v, wantErr=%v", tc.raw, err, tc.wantErr)
		}
	}
}

func TestParseTier(t *testing.T) {
	cases := []struct {
		in     string
		want   Tier
		wantOK bool
	}{
		{"GREEN", TierGreen, true},
		{"yellow", TierYellow, true},
		{" red ", TierRed, true},
		{"", TierGreen, false},
		{"ORANGE", TierGreen, false},
	}
	for _, tc := range cases {
		got, ok := ParseTier(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("ParseTier(%q) = (%s, %v), want (%s, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestMaxTier(t *testing.T) {
	if got := MaxTier(TierGreen, TierRed); got != TierRed {
		t.Fatalf("MaxTier(GREEN, RED) = %s", got)
	}
	if got := MaxTier(TierYellow, TierGreen); got != TierYellow {
		t.Fatalf("MaxTier(YELLOW, GREEN) = %s", got)
	}
}

func TestActionHash_StableUnderEscalation(t *testing.T) {
	a := ActionRequest{Kind: KindTap, Params: map[string]any{"x": 1, "y": 2}, Classification: TierGreen}
	b := a
	b.Classification = TierRed
	if a.Hash() != b.Hash() {
		t.Fatal("hash must not change when classification escalates")
	}
	c := ActionRequest{Kind: KindTap, Params: map[string]any{"x": 1, "y": 3}}
	if a.Hash() == c.Hash() {
		t.Fatal("different params must hash differently")
	}
}

func TestParse_TypeTextKeepsRawText(t *testing.T) {
	resp, err := Parse(`{"actions":[{"action":"type_text","text":"  spaced  "}]}`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got := resp.Actions[0].Params["text"]; got != "  spaced  " {
		t.Fatalf("text param = %q, want untrimmed original", got)
	}
	if !strings.Contains(resp.Actions[0].String(), "type_text") {
		t.Fatalf("String() = %q", resp.Actions[0].String())
	}
}
