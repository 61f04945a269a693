package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// MemStore is an in-memory Store implementation.
//
// Designed for:
//   - Testing (fast, no external dependencies)
//   - Development and the interactive CLI
//
// Checkpoints are copied on the way in and out so callers cannot mutate the
// stored value through shared slices. Data is lost when the process exits,
// unless the store is serialized with MarshalJSON.
type MemStore[S any] struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint[S]   // threadID -> checkpoint
	steps       map[string][]StepRecord[S] // threadID -> ordered steps
}

// NewMemStore creates a new in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		checkpoints: make(map[string]Checkpoint[S]),
		steps:       make(map[string][]StepRecord[S]),
	}
}

// SaveCheckpoint implements Store.
func (m *MemStore[S]) SaveCheckpoint(_ context.Context, cp Checkpoint[S]) error {
	cp, err := cloneJSON(cp)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[cp.ThreadID] = cp
	return nil
}

// LoadCheckpoint implements Store.
func (m *MemStore[S]) LoadCheckpoint(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	cp, ok := m.checkpoints[threadID]
	m.mu.RUnlock()

	if !ok {
		return Checkpoint[S]{}, ErrNotFound
	}
	return cloneJSON(cp)
}

// SaveStep implements Store.
func (m *MemStore[S]) SaveStep(_ context.Context, threadID string, rec StepRecord[S]) error {
	rec, err := cloneJSON(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.steps[threadID]
	i, found := slices.BinarySearchFunc(records, rec.Step, func(r StepRecord[S], step int) int {
		return r.Step - step
	})
	if found {
		records[i] = rec
	} else {
		records = slices.Insert(records, i, rec)
	}
	m.steps[threadID] = records
	return nil
}

// ListSteps implements Store.
func (m *MemStore[S]) ListSteps(_ context.Context, threadID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.steps[threadID]), nil
}

// Threads returns the IDs of all threads with a checkpoint, sorted.
func (m *MemStore[S]) Threads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type serializableMemStore[S any] struct {
	Checkpoints map[string]Checkpoint[S]   `json:"checkpoints"`
	Steps       map[string][]StepRecord[S] `json:"steps"`
}

// MarshalJSON serializes the whole store, e.g. to snapshot a CLI session.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(serializableMemStore[S]{
		Checkpoints: m.checkpoints,
		Steps:       m.steps,
	})
}

// UnmarshalJSON restores a store serialized with MarshalJSON.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	var s serializableMemStore[S]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints = s.Checkpoints
	m.steps = s.Steps
	if m.checkpoints == nil {
		m.checkpoints = make(map[string]Checkpoint[S])
	}
	if m.steps == nil {
		m.steps = make(map[string][]StepRecord[S])
	}
	return nil
}

// cloneJSON copies v through its JSON form.
func cloneJSON[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
