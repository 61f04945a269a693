package store

import (
	"encoding/json"
	"fmt"
	"slices"
)

// checkpointRow is the column form of a Checkpoint shared by the SQL stores.
type checkpointRow struct {
	threadID       string
	step           int
	status         string
	next           string
	state          []byte
	pending        []byte // nil when not suspended
	idempotencyKey string
}

func encodeCheckpoint[S any](cp Checkpoint[S]) (checkpointRow, error) {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return checkpointRow{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	var pending []byte
	if cp.Pending != nil {
		pending, err = json.Marshal(cp.Pending)
		if err != nil {
			return checkpointRow{}, fmt.Errorf("failed to marshal pending interrupt: %w", err)
		}
	}

	return checkpointRow{
		threadID:       cp.ThreadID,
		step:           cp.Step,
		status:         string(cp.Status),
		next:           cp.Next,
		state:          state,
		pending:        pending,
		idempotencyKey: cp.IdempotencyKey,
	}, nil
}

func decodeCheckpoint[S any](row checkpointRow) (Checkpoint[S], error) {
	cp := Checkpoint[S]{
		ThreadID:       row.threadID,
		Step:           row.step,
		Status:         Status(row.status),
		Next:           row.next,
		IdempotencyKey: row.idempotencyKey,
	}

	if err := json.Unmarshal(row.state, &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if len(row.pending) > 0 {
		var p Pending
		if err := json.Unmarshal(row.pending, &p); err != nil {
			return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal pending interrupt: %w", err)
		}
		cp.Pending = &p
	}

	return cp, nil
}

// sortSteps orders records by step number.
func sortSteps[S any](records []StepRecord[S]) {
	slices.SortFunc(records, func(a, b StepRecord[S]) int {
		return a.Step - b.Step
	})
}
