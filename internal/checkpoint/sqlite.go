package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/foundry/pkg/blackboard"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id  TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoint_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	state       TEXT NOT NULL,
	written_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoint_history_session ON checkpoint_history(session_id, id);
`

// SQLiteStore persists checkpoints in an embedded SQLite database.
// A single connection serializes writers, so concurrent puts never see SQLITE_BUSY.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PutState upserts the latest snapshot and appends it to the history in one transaction.
func (s *SQLiteStore) PutState(ctx context.Context, sessionID string, st *blackboard.State) error {
	if st.SessionID != sessionID {
		return fmt.Errorf("state session_id %q does not match key %q", st.SessionID, sessionID)
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		sessionID, string(st.Status), string(payload), st.CreatedAt.UnixMilli(), st.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoint_history (session_id, state, written_at) VALUES (?, ?, ?)`,
		sessionID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append checkpoint history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// GetState returns the latest snapshot or blackboard.ErrNotFound.
func (s *SQLiteStore) GetState(ctx context.Context, sessionID string) (*blackboard.State, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blackboard.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var st blackboard.State
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}
	st.Normalize()
	return &st, nil
}

// StateExists reports whether a checkpoint exists for the session.
func (s *SQLiteStore) StateExists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM checkpoints WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check checkpoint existence: %w", err)
	}
	return n > 0, nil
}

// GetHistory returns all snapshots for the session in write order.
func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string) ([]*blackboard.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM checkpoint_history WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint history: %w", err)
	}
	defer rows.Close()

	var history []*blackboard.State
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint history: %w", err)
		}
		var st blackboard.State
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %d: %w", len(history), err)
		}
		st.Normalize()
		history = append(history, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint history: %w", err)
	}

	if len(history) == 0 {
		return nil, blackboard.ErrNotFound
	}
	return history, nil
}

// ListSessions returns all session IDs ordered by creation time.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM checkpoints ORDER BY created_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
