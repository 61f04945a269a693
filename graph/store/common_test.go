package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dshills/convograph/graph/store"
)

// TestState is the state type shared by the store contract tests.
type TestState struct {
	Messages []string `json:"messages"`
	Counter  int      `json:"counter"`
}

// runStoreContract exercises the behavior every Store implementation must
// provide. newStore returns a fresh, empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) store.Store[TestState]) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown thread returns ErrNotFound", func(t *testing.T) {
		st := newStore(t)
		_, err := st.LoadCheckpoint(ctx, "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("checkpoint round trip", func(t *testing.T) {
		st := newStore(t)
		cp := store.Checkpoint[TestState]{
			ThreadID:       "thread-1",
			Step:           3,
			State:          TestState{Messages: []string{"hi", "there"}, Counter: 2},
			Status:         store.StatusRunning,
			Next:           "respond",
			IdempotencyKey: "sha256:abc",
			UpdatedAt:      time.Now(),
		}
		if err := st.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}

		got, err := st.LoadCheckpoint(ctx, "thread-1")
		if err != nil {
			t.Fatalf("LoadCheckpoint failed: %v", err)
		}
		if got.Step != 3 || got.Status != store.StatusRunning || got.Next != "respond" {
			t.Errorf("unexpected checkpoint header: %+v", got)
		}
		if got.State.Counter != 2 || len(got.State.Messages) != 2 || got.State.Messages[1] != "there" {
			t.Errorf("unexpected state: %+v", got.State)
		}
		if got.Pending != nil {
			t.Errorf("expected no pending interrupt, got %+v", got.Pending)
		}
		if got.IdempotencyKey != "sha256:abc" {
			t.Errorf("expected idempotency key to round trip, got %q", got.IdempotencyKey)
		}
	})

	t.Run("pending interrupt round trip", func(t *testing.T) {
		st := newStore(t)
		cp := store.Checkpoint[TestState]{
			ThreadID: "thread-2",
			Step:     1,
			Status:   store.StatusSuspended,
			Next:     "ask",
			Pending: &store.Pending{
				Node:    "ask",
				Prompt:  json.RawMessage(`"which year?"`),
				Resumes: []json.RawMessage{json.RawMessage(`"2024"`)},
			},
		}
		if err := st.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}

		got, err := st.LoadCheckpoint(ctx, "thread-2")
		if err != nil {
			t.Fatalf("LoadCheckpoint failed: %v", err)
		}
		if !got.Suspended() {
			t.Fatalf("expected suspended checkpoint, got %+v", got)
		}
		var prompt string
		if err := json.Unmarshal(got.Pending.Prompt, &prompt); err != nil || prompt != "which year?" {
			t.Errorf("unexpected prompt %s (err %v)", got.Pending.Prompt, err)
		}
		if len(got.Pending.Resumes) != 1 {
			t.Fatalf("expected 1 resume value, got %d", len(got.Pending.Resumes))
		}
	})

	t.Run("last writer wins per thread", func(t *testing.T) {
		st := newStore(t)
		for i := 1; i <= 3; i++ {
			cp := store.Checkpoint[TestState]{
				ThreadID: "thread-3",
				Step:     i,
				State:    TestState{Counter: i},
				Status:   store.StatusRunning,
			}
			if err := st.SaveCheckpoint(ctx, cp); err != nil {
				t.Fatalf("SaveCheckpoint %d failed: %v", i, err)
			}
		}
		other := store.Checkpoint[TestState]{ThreadID: "thread-4", Step: 9, Status: store.StatusDone}
		if err := st.SaveCheckpoint(ctx, other); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}

		got, err := st.LoadCheckpoint(ctx, "thread-3")
		if err != nil {
			t.Fatalf("LoadCheckpoint failed: %v", err)
		}
		if got.Step != 3 || got.State.Counter != 3 {
			t.Errorf("expected last write (step 3), got step %d counter %d", got.Step, got.State.Counter)
		}
	})

	t.Run("step history is ordered and replaceable", func(t *testing.T) {
		st := newStore(t)
		for _, step := range []int{2, 1, 3} {
			rec := store.StepRecord[TestState]{Step: step, NodeID: fmt.Sprintf("node-%d", step), State: TestState{Counter: step}}
			if err := st.SaveStep(ctx, "thread-5", rec); err != nil {
				t.Fatalf("SaveStep failed: %v", err)
			}
		}
		if err := st.SaveStep(ctx, "thread-5", store.StepRecord[TestState]{Step: 2, NodeID: "replaced", State: TestState{Counter: 20}}); err != nil {
			t.Fatalf("SaveStep replace failed: %v", err)
		}

		steps, err := st.ListSteps(ctx, "thread-5")
		if err != nil {
			t.Fatalf("ListSteps failed: %v", err)
		}
		if len(steps) != 3 {
			t.Fatalf("expected 3 steps, got %d", len(steps))
		}
		for i, rec := range steps {
			if rec.Step != i+1 {
				t.Errorf("position %d: expected step %d, got %d", i, i+1, rec.Step)
			}
		}
		if steps[1].NodeID != "replaced" || steps[1].State.Counter != 20 {
			t.Errorf("expected step 2 to be replaced, got %+v", steps[1])
		}
	})

	t.Run("unknown thread has empty history", func(t *testing.T) {
		st := newStore(t)
		steps, err := st.ListSteps(ctx, "nobody")
		if err != nil {
			t.Fatalf("ListSteps failed: %v", err)
		}
		if len(steps) != 0 {
			t.Errorf("expected no steps, got %d", len(steps))
		}
	})

	t.Run("concurrent threads", func(t *testing.T) {
		st := newStore(t)
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cp := store.Checkpoint[TestState]{
					ThreadID: fmt.Sprintf("concurrent-%d", i),
					Step:     1,
					State:    TestState{Counter: i},
					Status:   store.StatusDone,
				}
				if err := st.SaveCheckpoint(ctx, cp); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent save failed: %v", err)
		}

		for i := 0; i < 10; i++ {
			got, err := st.LoadCheckpoint(ctx, fmt.Sprintf("concurrent-%d", i))
			if err != nil {
				t.Fatalf("LoadCheckpoint %d failed: %v", i, err)
			}
			if got.State.Counter != i {
				t.Errorf("thread %d: expected counter %d, got %d", i, i, got.State.Counter)
			}
		}
	})
}
