package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/plan"
	"github.com/hermitdroid/hermitdroid/workspace"
)

type memPending struct {
	mu   sync.Mutex
	recs map[string]guard.PendingAction
	seq  int
}

func (m *memPending) Enqueue(_ context.Context, p guard.PendingAction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = map[string]guard.PendingAction{}
	}
	m.seq++
	id := fmt.Sprintf("pnd_%04d", m.seq)
	p.ID = id
	p.Status = guard.PendingAwaiting
	m.recs[id] = p
	return id, nil
}

func (m *memPending) Get(_ context.Context, id string) (guard.PendingAction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.recs[id]
	return p, ok, nil
}

func (m *memPending) ListAwaiting(context.Context) ([]guard.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []guard.PendingAction
	for _, p := range m.recs {
		if p.Status == guard.PendingAwaiting {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPending) Resolve(_ context.Context, id string, status guard.PendingStatus, actor string) (guard.PendingAction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.recs[id]
	if !ok {
		return guard.PendingAction{}, false, fmt.Errorf("not found")
	}
	if p.Status != guard.PendingAwaiting {
		return p, false, nil
	}
	p.Status = status
	p.Actor = actor
	m.recs[id] = p
	return p, true, nil
}

func (m *memPending) ExpireOverdue(context.Context, time.Time) ([]guard.PendingAction, error) {
	return nil, nil
}

type memSink struct {
	mu      sync.Mutex
	entries []guard.Entry
}

func (m *memSink) Emit(_ context.Context, e guard.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}
func (m *memSink) Close() error { return nil }

func (m *memSink) Tail(limit int) ([]guard.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) <= limit {
		out := make([]guard.Entry, len(m.entries))
		copy(out, m.entries)
		return out, nil
	}
	out := make([]guard.Entry, limit)
	copy(out, m.entries[len(m.entries)-limit:])
	return out, nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	kinds []plan.Kind
}

func (d *recordingDispatcher) Dispatch(_ context.Context, a plan.ActionRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds = append(d.kinds, a.Kind)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.kinds)
}

type harness struct {
	srv      *httptest.Server
	gate     *guard.Gate
	pending  *memPending
	sink     *memSink
	dispatch *recordingDispatcher
	ws       *workspace.Workspace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	pending := &memPending{}
	sink := &memSink{}
	dispatch := &recordingDispatcher{}
	gate := guard.New(guard.Config{}, pending, sink, dispatch, log)
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{
		Gate:      gate,
		Pending:   pending,
		Audit:     sink,
		Workspace: ws,
		Log:       log,
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, gate: gate, pending: pending, sink: sink, dispatch: dispatch, ws: ws}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (h *harness) park(t *testing.T) string {
	t.Helper()
	id, err := h.pending.Enqueue(context.Background(), guard.PendingAction{
		TickID: "tick_test",
		Action: plan.ActionRequest{
			ID:             "act_1",
			Kind:           plan.KindTap,
			Params:         map[string]any{"x": 540, "y": 1200},
			Classification: plan.TierRed,
			Reason:         "tap send",
		},
		Tier:      plan.TierRed,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp, out
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	resp, out := getJSON(t, h.srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	if out["killed"] != false || out["dry_run"] != false {
		t.Fatalf("unexpected status: %v", out)
	}
	if out["pending_count"] != float64(0) {
		t.Fatalf("pending_count: %v", out["pending_count"])
	}
}

func TestPendingListAndApprove(t *testing.T) {
	h := newHarness(t)
	id := h.park(t)

	_, out := getJSON(t, h.srv.URL+"/pending")
	items := out["pending"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one pending item, got %v", out)
	}
	first := items[0].(map[string]any)
	if first["id"] != id || first["tier"] != "RED" {
		t.Fatalf("unexpected item: %v", first)
	}

	resp, out := postJSON(t, h.srv.URL+"/confirm/"+id, map[string]any{"approve": true, "actor": "tester"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %v", resp.StatusCode, out)
	}
	if out["status"] != "approved" {
		t.Fatalf("expected approved, got %v", out)
	}
	if h.dispatch.count() != 1 {
		t.Fatal("approval must dispatch exactly once")
	}

	// Second approval is an idempotent read.
	resp, out = postJSON(t, h.srv.URL+"/confirm/"+id, map[string]any{"approve": true})
	if resp.StatusCode != http.StatusOK || out["status"] != "approved" {
		t.Fatalf("re-confirm: %d %v", resp.StatusCode, out)
	}
	if h.dispatch.count() != 1 {
		t.Fatal("re-confirm must not dispatch again")
	}
}

func TestConfirmDeny(t *testing.T) {
	h := newHarness(t)
	id := h.park(t)

	resp, out := postJSON(t, h.srv.URL+"/confirm/"+id, map[string]any{"approve": false})
	if resp.StatusCode != http.StatusOK || out["status"] != "denied" {
		t.Fatalf("deny: %d %v", resp.StatusCode, out)
	}
	if h.dispatch.count() != 0 {
		t.Fatal("denied action must never dispatch")
	}
}

func TestConfirmUnknownID(t *testing.T) {
	h := newHarness(t)
	resp, _ := postJSON(t, h.srv.URL+"/confirm/pnd_nope", map[string]any{"approve": true})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActionsLog(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		if err := h.sink.Emit(context.Background(), guard.Entry{TickID: fmt.Sprintf("tick_%d", i), Outcome: guard.OutcomeExecuted}); err != nil {
			t.Fatal(err)
		}
	}
	_, out := getJSON(t, h.srv.URL+"/actions/log?limit=3")
	entries := out["entries"].([]any)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	resp, _ := getJSON(t, h.srv.URL+"/actions/log?limit=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=0 should 400, got %d", resp.StatusCode)
	}
}

func TestKillAndResume(t *testing.T) {
	h := newHarness(t)

	resp, out := postJSON(t, h.srv.URL+"/kill", map[string]any{})
	if resp.StatusCode != http.StatusOK || out["killed"] != true {
		t.Fatalf("kill: %d %v", resp.StatusCode, out)
	}
	if !h.gate.Killed() {
		t.Fatal("gate must be killed")
	}

	resp, _ = postJSON(t, h.srv.URL+"/resume", map[string]any{})
	if resp.StatusCode != http.StatusOK || h.gate.Killed() {
		t.Fatal("resume must release the kill switch")
	}
}

func TestWorkspaceReadWrite(t *testing.T) {
	h := newHarness(t)

	req, _ := http.NewRequest(http.MethodPut, h.srv.URL+"/workspace/SOUL.md", strings.NewReader(`{"contents":"# Soul\nbe kind\n"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status %d", resp.StatusCode)
	}

	_, out := getJSON(t, h.srv.URL+"/workspace/SOUL.md")
	if !strings.Contains(out["contents"].(string), "be kind") {
		t.Fatalf("read back: %v", out)
	}

	resp, _ = getJSON(t, h.srv.URL+"/workspace/secrets.txt")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown docs must 404, got %d", resp.StatusCode)
	}
}

func TestGoalsRoutes(t *testing.T) {
	h := newHarness(t)

	resp, out := postJSON(t, h.srv.URL+"/goals", map[string]any{"description": "water plants", "due": "2026-09-05"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add goal: %d %v", resp.StatusCode, out)
	}
	id := out["id"].(string)

	_, out = getJSON(t, h.srv.URL+"/goals")
	goals := out["goals"].([]any)
	if len(goals) != 1 {
		t.Fatalf("expected one goal, got %v", out)
	}
	g := goals[0].(map[string]any)
	if g["id"] != id || g["due"] != "2026-09-05" || g["done"] != false {
		t.Fatalf("unexpected goal: %v", g)
	}

	resp, _ = postJSON(t, h.srv.URL+"/goals/"+id+"/complete", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d", resp.StatusCode)
	}
	resp, _ = postJSON(t, h.srv.URL+"/goals/"+id+"/complete", map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second complete should 404, got %d", resp.StatusCode)
	}
}

func TestChatWithoutScheduler(t *testing.T) {
	h := newHarness(t)
	resp, _ := postJSON(t, h.srv.URL+"/chat", map[string]any{"message": "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a scheduler, got %d", resp.StatusCode)
	}
}

func TestEventHubFansOut(t *testing.T) {
	sink := &memSink{}
	hub := NewEventHub(sink)
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	want := guard.Entry{TickID: "tick_hub", Outcome: guard.OutcomePending}
	if err := hub.Emit(context.Background(), want); err != nil {
		t.Fatal(err)
	}

	// The wrapped sink stays the record of truth.
	if len(sink.entries) != 1 {
		t.Fatal("hub must pass entries through to the sink")
	}

	select {
	case payload := <-ch:
		var got guard.Entry
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.TickID != "tick_hub" || got.Outcome != guard.OutcomePending {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}
}
