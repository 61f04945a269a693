// Package store persists thread checkpoints and step history for the graph
// engine.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store is closed")

// Status is the lifecycle state of a thread checkpoint.
type Status string

const (
	// StatusRunning marks a thread with committed steps that has not reached
	// END or a suspension point.
	StatusRunning Status = "running"

	// StatusSuspended marks a thread waiting for a resume value.
	StatusSuspended Status = "suspended"

	// StatusDone marks a thread whose last invocation reached END.
	StatusDone Status = "done"
)

// Store persists thread checkpoints and step history.
//
// A checkpoint is keyed by thread ID and is replaced on every save
// (last writer wins per thread). Implementations must be safe for concurrent
// use across distinct threads; the engine serializes access per thread.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-process use
//   - SQLiteStore / MySQLStore: relational, JSON state columns
//   - RedisStore: JSON values under a key prefix
//   - DynamoStore: single-table DynamoDB items
//
// Type parameter S is the state type to persist.
type Store[S any] interface {
	// SaveCheckpoint replaces the checkpoint for cp.ThreadID.
	SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error

	// LoadCheckpoint returns the checkpoint for threadID, or ErrNotFound.
	LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error)

	// SaveStep appends a step record to the thread's history. Saving the same
	// step number twice replaces the earlier record.
	SaveStep(ctx context.Context, threadID string, rec StepRecord[S]) error

	// ListSteps returns the thread's step history ordered by step number.
	// An unknown thread yields an empty slice.
	ListSteps(ctx context.Context, threadID string) ([]StepRecord[S], error)
}

// Checkpoint is the durable snapshot of one thread.
type Checkpoint[S any] struct {
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`

	// Step is the number of the last committed step (cumulative across
	// invocations of the thread).
	Step int `json:"step"`

	// State is the last fully merged state.
	State S `json:"state"`

	// Status tells whether the thread is running, suspended or done.
	Status Status `json:"status"`

	// Next is the node that would run after the last committed step.
	Next string `json:"next,omitempty"`

	// Pending is set while the thread is suspended.
	Pending *Pending `json:"pending,omitempty"`

	// IdempotencyKey is a content hash of the committed step.
	IdempotencyKey string `json:"idempotency_key"`

	// UpdatedAt is when the checkpoint was written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Suspended reports whether the checkpoint is waiting for a resume value.
func (c Checkpoint[S]) Suspended() bool {
	return c.Status == StatusSuspended && c.Pending != nil
}

// Pending is the exact resumption point of a suspended thread.
type Pending struct {
	// Node is the node that suspended and will be re-entered on resume.
	Node string `json:"node"`

	// Prompt is the JSON-encoded value passed to the suspend call.
	Prompt json.RawMessage `json:"prompt"`

	// Resumes holds the values already supplied to the node's suspend
	// calls, in call order.
	Resumes []json.RawMessage `json:"resumes,omitempty"`
}

// StepRecord represents a single execution step in the thread history.
type StepRecord[S any] struct {
	// Step is the sequential step number (1-indexed, per thread).
	Step int `json:"step"`

	// NodeID identifies which node produced this state.
	NodeID string `json:"node_id"`

	// State is the state after this step was merged.
	State S `json:"state"`

	// CreatedAt is when the step was committed.
	CreatedAt time.Time `json:"created_at"`
}
