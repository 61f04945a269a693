package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dshills/convograph/graph/store"
)

func TestMemStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store.Store[TestState] {
		return store.NewMemStore[TestState]()
	})
}

func TestMemStore_Isolation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[TestState]()

	state := TestState{Messages: []string{"a"}}
	if err := st.SaveCheckpoint(ctx, store.Checkpoint[TestState]{ThreadID: "t", State: state}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// Mutating the caller's slice must not leak into the store.
	state.Messages[0] = "mutated"

	got, err := st.LoadCheckpoint(ctx, "t")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if got.State.Messages[0] != "a" {
		t.Errorf("stored state was mutated through caller slice: %v", got.State.Messages)
	}

	// Mutating a loaded copy must not leak either.
	got.State.Messages[0] = "again"
	again, _ := st.LoadCheckpoint(ctx, "t")
	if again.State.Messages[0] != "a" {
		t.Errorf("stored state was mutated through loaded copy: %v", again.State.Messages)
	}
}

func TestMemStore_Serialization(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[TestState]()

	_ = st.SaveCheckpoint(ctx, store.Checkpoint[TestState]{ThreadID: "b", Step: 2, Status: store.StatusDone, State: TestState{Counter: 7}})
	_ = st.SaveCheckpoint(ctx, store.Checkpoint[TestState]{ThreadID: "a", Step: 1, Status: store.StatusRunning})
	_ = st.SaveStep(ctx, "b", store.StepRecord[TestState]{Step: 1, NodeID: "n"})

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	restored := store.NewMemStore[TestState]()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}

	if threads := restored.Threads(); len(threads) != 2 || threads[0] != "a" || threads[1] != "b" {
		t.Errorf("unexpected threads after restore: %v", threads)
	}
	cp, err := restored.LoadCheckpoint(ctx, "b")
	if err != nil || cp.State.Counter != 7 {
		t.Errorf("unexpected restored checkpoint %+v (err %v)", cp, err)
	}
	steps, _ := restored.ListSteps(ctx, "b")
	if len(steps) != 1 || steps[0].NodeID != "n" {
		t.Errorf("unexpected restored steps: %+v", steps)
	}
}
