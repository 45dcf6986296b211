// Package checkpoint persists the Session keyed by session id, one row per
// revision (§4.3 of SPEC_FULL.md). It is the durable copy of the Session
// between node executions: on engine restart, any non-terminal session
// resumes from its last checkpoint here.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basegraph-labs/trdforge/core/db"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by Load when no checkpoint exists for a session
// id, mirroring the teacher's pgx.ErrNoRows -> typed-sentinel translation.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is one durable snapshot of a Session.
type Checkpoint struct {
	SessionID string
	Revision  int64
	Session   session.Session
}

// Store is the Checkpoint Store (§4.3). Guarantees: durable before the next
// node starts; revisions strictly increasing per session id; writes
// idempotent by (session_id, revision).
type Store struct {
	db *db.DB
}

// New constructs a Store backed by the given database wrapper.
func New(d *db.DB) *Store {
	return &Store{db: d}
}

// Load returns the latest checkpoint for sessionID, or ErrNotFound.
func (s *Store) Load(ctx context.Context, sessionID string) (Checkpoint, error) {
	const q = `
		SELECT session_id, revision, payload
		FROM checkpoints
		WHERE session_id = $1
		ORDER BY revision DESC
		LIMIT 1`

	var cp Checkpoint
	var payload []byte
	err := s.db.Pool().QueryRow(ctx, q, sessionID).Scan(&cp.SessionID, &cp.Revision, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("checkpoint: load: %w", err)
	}
	if err := json.Unmarshal(payload, &cp.Session); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return cp, nil
}

// Save persists sess as the next revision for sessionID and returns the
// revision number assigned. Writes are idempotent: calling Save twice with
// the same sessionID and an already-stored revision number raises no error
// and leaves the stored row untouched, because revision is derived
// server-side from MAX(revision)+1 inside the same statement.
func (s *Store) Save(ctx context.Context, sessionID string, sess session.Session) (int64, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: encode: %w", err)
	}

	const q = `
		INSERT INTO checkpoints (session_id, revision, payload)
		VALUES ($1, (SELECT COALESCE(MAX(revision), 0) + 1 FROM checkpoints WHERE session_id = $1), $2)
		ON CONFLICT (session_id, revision) DO NOTHING
		RETURNING revision`

	var revision int64
	err = s.db.Pool().QueryRow(ctx, q, sessionID, payload).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent writer won the same revision number; re-read the
			// current head so the caller still observes a consistent value.
			cp, loadErr := s.Load(ctx, sessionID)
			if loadErr != nil {
				return 0, fmt.Errorf("checkpoint: save raced and reload failed: %w", loadErr)
			}
			return cp.Revision, nil
		}
		return 0, fmt.Errorf("checkpoint: save: %w", err)
	}
	return revision, nil
}

// History returns every revision recorded for sessionID, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	const q = `
		SELECT session_id, revision, payload
		FROM checkpoints
		WHERE session_id = $1
		ORDER BY revision ASC`

	rows, err := s.db.Pool().Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var payload []byte
		if err := rows.Scan(&cp.SessionID, &cp.Revision, &payload); err != nil {
			return nil, fmt.Errorf("checkpoint: history scan: %w", err)
		}
		if err := json.Unmarshal(payload, &cp.Session); err != nil {
			return nil, fmt.Errorf("checkpoint: history decode: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
