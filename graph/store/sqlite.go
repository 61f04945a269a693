package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store implementation.
//
// It uses the pure-Go modernc.org/sqlite driver, so no CGO is required.
// The database runs in WAL mode with a single writer connection, which suits
// a single-process deployment that must survive restarts.
//
// Schema:
//   - thread_checkpoints: one row per thread (upserted)
//   - thread_steps: step history, unique per (thread_id, step)
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id TEXT NOT NULL PRIMARY KEY,
			step INTEGER NOT NULL,
			status TEXT NOT NULL,
			next_node TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			pending TEXT NULL,
			idempotency_key TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("failed to create thread_checkpoints table: %w", err)
	}

	steps := `
		CREATE TABLE IF NOT EXISTS thread_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(thread_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, steps); err != nil {
		return fmt.Errorf("failed to create thread_steps table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_thread_steps_thread ON thread_steps(thread_id, step)"); err != nil {
		return fmt.Errorf("failed to create idx_thread_steps_thread: %w", err)
	}

	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveCheckpoint implements Store.
func (s *SQLiteStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	row, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	var pending any
	if row.pending != nil {
		pending = string(row.pending)
	}

	query := `
		INSERT INTO thread_checkpoints (thread_id, step, status, next_node, state, pending, idempotency_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			step = excluded.step,
			status = excluded.status,
			next_node = excluded.next_node,
			state = excluded.state,
			pending = excluded.pending,
			idempotency_key = excluded.idempotency_key,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		row.threadID, row.step, row.status, row.next, string(row.state), pending, row.idempotencyKey, updatedAt(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements Store.
func (s *SQLiteStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT thread_id, step, status, next_node, state, pending, idempotency_key, updated_at
		FROM thread_checkpoints
		WHERE thread_id = ?
	`

	var (
		row     checkpointRow
		state   string
		pending sql.NullString
		updated time.Time
	)
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(
		&row.threadID, &row.step, &row.status, &row.next, &state, &pending, &row.idempotencyKey, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	row.state = []byte(state)
	if pending.Valid {
		row.pending = []byte(pending.String)
	}

	cp, err := decodeCheckpoint[S](row)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	cp.UpdatedAt = updated
	return cp, nil
}

// SaveStep implements Store.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, threadID string, rec StepRecord[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO thread_steps (thread_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state,
			created_at = excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query, threadID, rec.Step, rec.NodeID, string(stateJSON), updatedAt(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// ListSteps implements Store.
func (s *SQLiteStore[S]) ListSteps(ctx context.Context, threadID string) ([]StepRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, node_id, state, created_at
		FROM thread_steps
		WHERE thread_id = ?
		ORDER BY step ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	records := make([]StepRecord[S], 0)
	for rows.Next() {
		var (
			rec   StepRecord[S]
			state string
		)
		if err := rows.Scan(&rec.Step, &rec.NodeID, &state, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return records, nil
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

// updatedAt normalizes a timestamp for storage, defaulting to now.
func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}
