// Package server exposes the confirmation surface: a small HTTP API for
// inspecting pending actions, approving or denying them, tailing the
// audit log, and talking to the running agent.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/perception"
	"github.com/hermitdroid/hermitdroid/workspace"
)

// AuditTailer is the read side of the audit log.
type AuditTailer interface {
	Tail(limit int) ([]guard.Entry, error)
}

type Server struct {
	Gate      *guard.Gate
	Pending   guard.PendingStore
	Audit     AuditTailer
	Events    *EventHub
	Workspace *workspace.Workspace
	Scheduler *agent.Scheduler
	Observer  *perception.Observer
	Log       *slog.Logger

	started time.Time
}

func (s *Server) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Handler builds the route table. Call once at startup.
func (s *Server) Handler() http.Handler {
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /pending", s.handlePending)
	mux.HandleFunc("POST /confirm/{id}", s.handleConfirm)
	mux.HandleFunc("GET /actions/log", s.handleActionsLog)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /kill", s.handleKill)
	mux.HandleFunc("POST /resume", s.handleResume)
	mux.HandleFunc("GET /workspace/{name}", s.handleWorkspaceRead)
	mux.HandleFunc("PUT /workspace/{name}", s.handleWorkspaceWrite)
	mux.HandleFunc("GET /goals", s.handleGoalsList)
	mux.HandleFunc("POST /goals", s.handleGoalsAdd)
	mux.HandleFunc("POST /goals/{id}/complete", s.handleGoalComplete)
	if s.Events != nil {
		mux.Handle("GET /ws/events", websocket.Handler(s.handleEvents))
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"killed":         s.Gate.Killed(),
		"dry_run":        s.Gate.DryRun(),
	}
	if s.Pending != nil {
		if awaiting, err := s.Pending.ListAwaiting(r.Context()); err == nil {
			out["pending_count"] = len(awaiting)
		}
	}
	if s.Observer != nil {
		if snap, ok := s.Observer.Last(); ok {
			out["foreground_app"] = snap.Screen.App
			out["foreground_activity"] = snap.Screen.Activity
			out["observed_at"] = snap.TakenAt.Format(time.RFC3339)
			out["stale"] = snap.Stale
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.Pending == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": []any{}})
		return
	}
	awaiting, err := s.Pending.ListAwaiting(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	type item struct {
		ID        string   `json:"id"`
		TickID    string   `json:"tick_id"`
		Action    string   `json:"action"`
		Tier      string   `json:"tier"`
		Reasons   []string `json:"reasons,omitempty"`
		CreatedAt string   `json:"created_at"`
		ExpiresAt string   `json:"expires_at"`
	}
	items := make([]item, 0, len(awaiting))
	for _, p := range awaiting {
		items = append(items, item{
			ID:        p.ID,
			TickID:    p.TickID,
			Action:    p.Action.String(),
			Tier:      string(p.Tier),
			Reasons:   p.Reasons,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
			ExpiresAt: p.ExpiresAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": items})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("missing pending id"))
		return
	}
	var body struct {
		Approve bool   `json:"approve"`
		Actor   string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	actor := strings.TrimSpace(body.Actor)
	if actor == "" {
		actor = "http"
	}

	// An approval only counts against the screen the user can see now.
	screenHash := ""
	if s.Observer != nil {
		if snap, _, err := s.Observer.Observe(r.Context(), perception.ObserveOptions{}); err == nil {
			screenHash = snap.Screen.TreeHash
		} else if last, ok := s.Observer.Last(); ok {
			screenHash = last.Screen.TreeHash
		}
	}

	rec, err := s.Gate.Confirm(r.Context(), id, body.Approve, actor, screenHash)
	if err != nil && !errors.Is(err, guard.ErrConfirmationExpired) {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		s.fail(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     rec.ID,
		"status": string(rec.Status),
		"actor":  rec.Actor,
	})
}

func (s *Server) handleActionsLog(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		s.fail(w, http.StatusNotFound, fmt.Errorf("audit log not readable"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", v))
			return
		}
		limit = n
	}
	entries, err := s.Audit.Tail(limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		s.fail(w, http.StatusServiceUnavailable, fmt.Errorf("scheduler not running"))
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	msg := strings.TrimSpace(body.Message)
	if msg == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("empty message"))
		return
	}
	if !s.Scheduler.Notify(agent.Interrupt{Goal: msg, Trigger: agent.TriggerInterrupt}) {
		s.fail(w, http.StatusTooManyRequests, fmt.Errorf("agent is busy, try again shortly"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handleKill(w http.ResponseWriter, _ *http.Request) {
	s.Gate.Kill()
	s.log().Warn("kill_switch_engaged", "via", "http")
	writeJSON(w, http.StatusOK, map[string]any{"killed": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.Gate.Resume()
	s.log().Info("kill_switch_released", "via", "http")
	writeJSON(w, http.StatusOK, map[string]any{"killed": false})
}

func (s *Server) handleWorkspaceRead(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.Workspace == nil || !workspace.KnownDoc(name) {
		s.fail(w, http.StatusNotFound, fmt.Errorf("unknown document: %s", name))
		return
	}
	contents, err := s.Workspace.ReadDoc(name)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "contents": contents})
}

func (s *Server) handleWorkspaceWrite(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.Workspace == nil || !workspace.KnownDoc(name) {
		s.fail(w, http.StatusNotFound, fmt.Errorf("unknown document: %s", name))
		return
	}
	var body struct {
		Contents string `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if err := s.Workspace.WriteDoc(name, body.Contents); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "written": true})
}

func (s *Server) handleGoalsList(w http.ResponseWriter, _ *http.Request) {
	if s.Workspace == nil {
		s.fail(w, http.StatusServiceUnavailable, fmt.Errorf("workspace not configured"))
		return
	}
	goals, err := s.Workspace.ListGoals()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	type item struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Added       string `json:"added,omitempty"`
		Due         string `json:"due,omitempty"`
		Done        bool   `json:"done"`
	}
	items := make([]item, 0, len(goals))
	for _, g := range goals {
		it := item{ID: g.ID, Description: g.Description, Done: g.Done}
		if !g.Added.IsZero() {
			it.Added = g.Added.Format("2006-01-02")
		}
		if g.Due != nil {
			it.Due = g.Due.Format("2006-01-02")
		}
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"goals": items})
}

func (s *Server) handleGoalsAdd(w http.ResponseWriter, r *http.Request) {
	if s.Workspace == nil {
		s.fail(w, http.StatusServiceUnavailable, fmt.Errorf("workspace not configured"))
		return
	}
	var body struct {
		Description string `json:"description"`
		Due         string `json:"due"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	var due *time.Time
	if strings.TrimSpace(body.Due) != "" {
		t, err := time.Parse("2006-01-02", body.Due)
		if err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid due date (want YYYY-MM-DD): %w", err))
			return
		}
		due = &t
	}
	g, err := s.Workspace.AddGoal(body.Description, due, time.Now())
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": g.ID})
}

func (s *Server) handleGoalComplete(w http.ResponseWriter, r *http.Request) {
	if s.Workspace == nil {
		s.fail(w, http.StatusServiceUnavailable, fmt.Errorf("workspace not configured"))
		return
	}
	id := r.PathValue("id")
	ok, err := s.Workspace.CompleteGoal(id)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.fail(w, http.StatusNotFound, fmt.Errorf("no open goal with id %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "done": true})
}

// handleEvents streams audit entries as JSON lines over a websocket.
func (s *Server) handleEvents(ws *websocket.Conn) {
	defer ws.Close()
	ch := s.Events.subscribe()
	defer s.Events.unsubscribe(ch)

	for {
		select {
		case <-ws.Request().Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if _, err := ws.Write(append(payload, '\n')); err != nil {
				return
			}
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.log().Warn("http_error", "status", status, "error", err.Error())
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
