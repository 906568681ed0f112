package guard

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/hermitdroid/hermitdroid/plan"
)

const DefaultConfirmTimeout = 60 * time.Second

// SQLitePendingStore persists the confirmation queue so awaiting actions
// survive a daemon restart.
type SQLitePendingStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLitePendingStore(dsn string) (*SQLitePendingStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLitePendingStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLitePendingStore) Enqueue(ctx context.Context, rec PendingAction) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil pending store")
	}
	if err := s.ensureOpen(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.CreatedAt.Add(DefaultConfirmTimeout)
	}
	rec.Status = PendingAwaiting

	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = "pnd_" + randHex(12)
	}

	actionJSON, err := json.Marshal(rec.Action)
	if err != nil {
		return "", fmt.Errorf("encode action: %w", err)
	}
	reasonsJSON, _ := json.Marshal(rec.Reasons)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO pending_actions (
  id, tick_id, created_at_unix, expires_at_unix, resolved_at_unix,
  status, actor,
  action_id, action_kind, action_json, action_hash,
  tier, reasons_json, screen_hash
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, id, strings.TrimSpace(rec.TickID), rec.CreatedAt.Unix(), rec.ExpiresAt.Unix(), nullTimeUnix(rec.ResolvedAt),
		string(rec.Status), strings.TrimSpace(rec.Actor),
		rec.Action.ID, string(rec.Action.Kind), string(actionJSON), rec.Action.Hash(),
		string(rec.Tier), string(reasonsJSON), strings.TrimSpace(rec.ScreenHash),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLitePendingStore) Get(ctx context.Context, id string) (PendingAction, bool, error) {
	if s == nil {
		return PendingAction{}, false, fmt.Errorf("nil pending store")
	}
	if err := s.ensureOpen(); err != nil {
		return PendingAction{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return PendingAction{}, false, nil
	}

	row := s.db.QueryRowContext(ctx, selectPending+` WHERE id = ?`, id)
	rec, err := scanPending(row)
	if err == sql.ErrNoRows {
		return PendingAction{}, false, nil
	}
	if err != nil {
		return PendingAction{}, false, err
	}
	return rec, true, nil
}

func (s *SQLitePendingStore) ListAwaiting(ctx context.Context) ([]PendingAction, error) {
	if s == nil {
		return nil, fmt.Errorf("nil pending store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectPending+` WHERE status = ? ORDER BY created_at_unix`, string(PendingAwaiting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingAction
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLitePendingStore) Resolve(ctx context.Context, id string, status PendingStatus, actor string) (PendingAction, bool, error) {
	if s == nil {
		return PendingAction{}, false, fmt.Errorf("nil pending store")
	}
	if err := s.ensureOpen(); err != nil {
		return PendingAction{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return PendingAction{}, false, fmt.Errorf("missing pending id")
	}
	if !status.Terminal() {
		return PendingAction{}, false, fmt.Errorf("invalid terminal status: %q", status)
	}

	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
UPDATE pending_actions
SET status = ?, actor = ?, resolved_at_unix = ?
WHERE id = ? AND status = ?
`, string(status), strings.TrimSpace(actor), now, id, string(PendingAwaiting))
	if err != nil {
		return PendingAction{}, false, err
	}
	n, _ := res.RowsAffected()

	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return PendingAction{}, false, err
	}
	if !ok {
		return PendingAction{}, false, fmt.Errorf("pending action %q not found", id)
	}
	return rec, n > 0, nil
}

func (s *SQLitePendingStore) ExpireOverdue(ctx context.Context, now time.Time) ([]PendingAction, error) {
	if s == nil {
		return nil, fmt.Errorf("nil pending store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	cutoff := now.UTC().Unix()
	rows, err := s.db.QueryContext(ctx, selectPending+` WHERE status = ? AND expires_at_unix <= ?`,
		string(PendingAwaiting), cutoff)
	if err != nil {
		return nil, err
	}
	var due []PendingAction
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out []PendingAction
	for _, rec := range due {
		final, moved, err := s.Resolve(ctx, rec.ID, PendingExpired, "system:timeout")
		if err != nil {
			return out, err
		}
		if moved {
			out = append(out, final)
		}
	}
	return out, nil
}

func (s *SQLitePendingStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

const selectPending = `
SELECT
  id, tick_id, created_at_unix, expires_at_unix, resolved_at_unix,
  status, actor,
  action_json, tier, reasons_json, screen_hash
FROM pending_actions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (PendingAction, error) {
	var (
		rec            PendingAction
		createdAtUnix  int64
		expiresAtUnix  int64
		resolvedAtUnix sql.NullInt64
		status         string
		actionJSON     string
		tier           string
		reasonsJSON    string
	)
	err := row.Scan(
		&rec.ID, &rec.TickID, &createdAtUnix, &expiresAtUnix, &resolvedAtUnix,
		&status, &rec.Actor,
		&actionJSON, &tier, &reasonsJSON, &rec.ScreenHash,
	)
	if err != nil {
		return PendingAction{}, err
	}

	rec.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	if resolvedAtUnix.Valid {
		t := time.Unix(resolvedAtUnix.Int64, 0).UTC()
		rec.ResolvedAt = &t
	}
	rec.Status = PendingStatus(status)
	rec.Tier = plan.Tier(tier)

	_ = json.Unmarshal([]byte(actionJSON), &rec.Action)
	_ = json.Unmarshal([]byte(reasonsJSON), &rec.Reasons)
	return rec, nil
}

func (s *SQLitePendingStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *SQLitePendingStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLitePendingStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS pending_actions (
  id TEXT PRIMARY KEY,
  tick_id TEXT,
  created_at_unix INTEGER NOT NULL,
  expires_at_unix INTEGER NOT NULL,
  resolved_at_unix INTEGER,
  status TEXT NOT NULL,
  actor TEXT,
  action_id TEXT,
  action_kind TEXT,
  action_json TEXT NOT NULL,
  action_hash TEXT,
  tier TEXT,
  reasons_json TEXT,
  screen_hash TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_actions_status ON pending_actions(status);
`)
	return err
}

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 12
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func nullTimeUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Unix()
}
