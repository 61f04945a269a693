package graph

import (
	"context"
	"testing"

	"github.com/dshills/convograph/graph/emit"
	"github.com/dshills/convograph/graph/store"
)

// testState exercises every merge policy.
type testState struct {
	Messages []string      `json:"messages"`
	Answer   Value[string] `json:"answer"`
	Count    Value[int]    `json:"count"`
	Marks    []int         `json:"marks"`
}

var testSchema = MustSchema(
	Append("messages", func(s *testState) *[]string { return &s.Messages }),
	Overwrite("answer", func(s *testState) *Value[string] { return &s.Answer }),
	Overwrite("count", func(s *testState) *Value[int] { return &s.Count }),
	Accumulate("marks", func(s *testState) *[]int { return &s.Marks }),
)

type testEnv struct {
	engine  *Engine[testState]
	store   *store.MemStore[testState]
	emitter *emit.BufferedEmitter
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	st := store.NewMemStore[testState]()
	emitter := emit.NewBufferedEmitter()
	engine, err := New(testSchema.Reducer(), st, emitter, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return testEnv{engine: engine, store: st, emitter: emitter}
}

func (env testEnv) add(t *testing.T, id string, fn func(ctx context.Context, s testState) NodeResult[testState]) {
	t.Helper()
	if err := env.engine.Add(id, NodeFunc[testState](fn)); err != nil {
		t.Fatalf("Add(%s) failed: %v", id, err)
	}
}

func (env testEnv) edge(t *testing.T, from, to string) {
	t.Helper()
	if err := env.engine.AddEdge(from, to); err != nil {
		t.Fatalf("AddEdge(%s, %s) failed: %v", from, to, err)
	}
}

// say returns a node appending msg to Messages.
func say(msg string) func(context.Context, testState) NodeResult[testState] {
	return func(context.Context, testState) NodeResult[testState] {
		return Update(testState{Messages: []string{msg}})
	}
}

func msgs(s ...string) testState {
	return testState{Messages: s}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
