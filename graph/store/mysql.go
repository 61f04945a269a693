package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/Aurora-backed Store implementation.
//
// DSN format (parseTime is required for timestamp columns):
//
//	user:password@tcp(host:3306)/dbname?parseTime=true
//
// Connection pool defaults suit a small API deployment sharing the database
// with other services.
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to MySQL, verifies the connection and ensures the
// schema exists.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[S]{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			step INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			next_node VARCHAR(255) NOT NULL DEFAULT '',
			state JSON NOT NULL,
			pending JSON NULL,
			idempotency_key VARCHAR(255) NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("failed to create thread_checkpoints table: %w", err)
	}

	steps := `
		CREATE TABLE IF NOT EXISTS thread_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			UNIQUE KEY unique_thread_step (thread_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, steps); err != nil {
		return fmt.Errorf("failed to create thread_steps table: %w", err)
	}

	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveCheckpoint implements Store.
func (m *MySQLStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	row, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	var pending any
	if row.pending != nil {
		pending = row.pending
	}

	query := `
		INSERT INTO thread_checkpoints (thread_id, step, status, next_node, state, pending, idempotency_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			step = VALUES(step),
			status = VALUES(status),
			next_node = VALUES(next_node),
			state = VALUES(state),
			pending = VALUES(pending),
			idempotency_key = VALUES(idempotency_key),
			updated_at = VALUES(updated_at)
	`
	_, err = m.db.ExecContext(ctx, query,
		row.threadID, row.step, row.status, row.next, row.state, pending, row.idempotencyKey, updatedAt(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements Store.
func (m *MySQLStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT thread_id, step, status, next_node, state, pending, idempotency_key, updated_at
		FROM thread_checkpoints
		WHERE thread_id = ?
	`

	var (
		row     checkpointRow
		pending []byte
		updated time.Time
	)
	err := m.db.QueryRowContext(ctx, query, threadID).Scan(
		&row.threadID, &row.step, &row.status, &row.next, &row.state, &pending, &row.idempotencyKey, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	row.pending = pending

	cp, err := decodeCheckpoint[S](row)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	cp.UpdatedAt = updated
	return cp, nil
}

// SaveStep implements Store.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, threadID string, rec StepRecord[S]) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO thread_steps (thread_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state),
			created_at = VALUES(created_at)
	`
	_, err = m.db.ExecContext(ctx, query, threadID, rec.Step, rec.NodeID, stateJSON, updatedAt(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// ListSteps implements Store.
func (m *MySQLStore[S]) ListSteps(ctx context.Context, threadID string) ([]StepRecord[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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
			state []byte
		)
		if err := rows.Scan(&rec.Step, &rec.NodeID, &state, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return records, nil
}

// Close closes the connection pool. Double-close is a no-op.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}
