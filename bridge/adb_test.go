package bridge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hermitdroid/hermitdroid/plan"
)

type call struct {
	name string
	args []string
}

func captureADB(t *testing.T, stdout string, err error) (*ADB, *[]call) {
	t.Helper()
	var calls []call
	b := NewADB("", nil)
	b.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		calls = append(calls, call{name: name, args: args})
		return []byte(stdout), nil, err
	}
	return b, &calls
}

func TestEscapeInputText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"hello world", "hello%sworld"},
		{"a&b", `a\&b`},
		{"it's", `it\'s`},
		{`say "hi"`, `say%s\"hi\"`},
		{"a$b", `a\$b`},
		{"a|b;c", `a\|b\;c`},
		{`back\slash`, `back\\slash`},
		{"f(x)", `f\(x\)`},
	}
	for _, tc := range cases {
		if got := EscapeInputText(tc.in); got != tc.want {
			t.Errorf("EscapeInputText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDispatch_TapArgs(t *testing.T) {
	b, calls := captureADB(t, "ok", nil)
	a := plan.ActionRequest{Kind: plan.KindTap, Params: map[string]any{"x": 540, "y": 1200}}
	if err := b.Dispatch(context.Background(), a); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(*calls))
	}
	got := strings.Join((*calls)[0].args, " ")
	if got != "shell input tap 540 1200" {
		t.Fatalf("args = %q", got)
	}
}

func TestDispatch_TypeTextEscapes(t *testing.T) {
	b, calls := captureADB(t, "ok", nil)
	a := plan.ActionRequest{Kind: plan.KindTypeText, Params: map[string]any{"text": "hi there"}}
	if err := b.Dispatch(context.Background(), a); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	args := (*calls)[0].args
	if args[len(args)-1] != "hi%sthere" {
		t.Fatalf("last arg = %q", args[len(args)-1])
	}
}

func TestDispatch_SwipeDefaults(t *testing.T) {
	b, calls := captureADB(t, "ok", nil)
	a := plan.ActionRequest{Kind: plan.KindSwipe, Params: map[string]any{"x1": 0, "y1": 100, "x2": 0, "y2": 900}}
	if err := b.Dispatch(context.Background(), a); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	got := strings.Join((*calls)[0].args, " ")
	if got != "shell input swipe 0 100 0 900 300" {
		t.Fatalf("args = %q", got)
	}
}

func TestDispatch_LongPressIsStationarySwipe(t *testing.T) {
	b, calls := captureADB(t, "ok", nil)
	a := plan.ActionRequest{Kind: plan.KindLongPress, Params: map[string]any{"x": 10, "y": 20}}
	if err := b.Dispatch(context.Background(), a); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	got := strings.Join((*calls)[0].args, " ")
	if got != "shell input swipe 10 20 10 20 1000" {
		t.Fatalf("args = %q", got)
	}
}

func TestDispatch_SerialPinned(t *testing.T) {
	var calls []call
	b := NewADB("emulator-5554", nil)
	b.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		calls = append(calls, call{name: name, args: args})
		return []byte("ok"), nil, nil
	}

	a := plan.ActionRequest{Kind: plan.KindHome}
	if err := b.Dispatch(context.Background(), a); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if calls[0].args[0] != "-s" || calls[0].args[1] != "emulator-5554" {
		t.Fatalf("args = %v, want serial prefix", calls[0].args)
	}
}

func TestDispatch_ErrorSurfacesStderr(t *testing.T) {
	b := NewADB("", nil)
	b.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("error: device offline"), fmt.Errorf("exit status 1")
	}

	err := b.Dispatch(context.Background(), plan.ActionRequest{Kind: plan.KindHome})
	if err == nil || !strings.Contains(err.Error(), "device offline") {
		t.Fatalf("err = %v, want stderr surfaced", err)
	}
}

func TestADB_WarningWithOutputSucceeds(t *testing.T) {
	b := NewADB("", nil)
	b.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte("partial output"), []byte("some warning"), fmt.Errorf("exit status 1")
	}

	out, err := b.adb(context.Background(), "shell", "dumpsys", "power")
	if err != nil {
		t.Fatalf("expected success when stdout is non-empty, got %v", err)
	}
	if out != "partial output" {
		t.Fatalf("out = %q", out)
	}
}

func TestUITreeDump_RejectsNonHierarchy(t *testing.T) {
	b := NewADB("", nil)
	b.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte("UI hierchary dumped to: /sdcard/x.xml"), nil, nil
	}

	if _, err := b.UITreeDump(context.Background()); err == nil {
		t.Fatal("expected error for dump without hierarchy XML")
	}
}

func TestDispatch_UnsupportedKind(t *testing.T) {
	b, _ := captureADB(t, "ok", nil)
	err := b.Dispatch(context.Background(), plan.ActionRequest{Kind: plan.Kind("fly")})
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}
