package graph

import (
	"encoding/json"
	"testing"
)

func TestSchema_Append(t *testing.T) {
	t.Run("appends in order and never drops entries", func(t *testing.T) {
		state := msgs("a")
		for _, delta := range [][]string{{"b"}, nil, {"c", "d"}, {}} {
			before := len(state.Messages)
			state = testSchema.Reduce(state, msgs(delta...))
			if len(state.Messages) != before+len(delta) {
				t.Fatalf("length %d after merging %v into %d entries", len(state.Messages), delta, before)
			}
		}
		if !equalStrings(state.Messages, []string{"a", "b", "c", "d"}) {
			t.Errorf("unexpected messages %v", state.Messages)
		}
	})

	t.Run("merged slice does not alias previous state", func(t *testing.T) {
		prev := testState{Messages: make([]string, 1, 10)}
		prev.Messages[0] = "a"

		first := testSchema.Reduce(prev, msgs("b"))
		second := testSchema.Reduce(prev, msgs("c"))

		if first.Messages[1] != "b" || second.Messages[1] != "c" {
			t.Errorf("merges share a backing array: %v %v", first.Messages, second.Messages)
		}
		if len(prev.Messages) != 1 {
			t.Errorf("prev was mutated: %v", prev.Messages)
		}
	})
}

func TestSchema_Overwrite(t *testing.T) {
	prev := testState{Answer: Set("old"), Count: Set(3)}

	tests := []struct {
		name      string
		delta     testState
		wantValue string
		wantSet   bool
	}{
		{"absent leaves value", testState{}, "old", true},
		{"set replaces value", testState{Answer: Set("new")}, "new", true},
		{"set empty string replaces value", testState{Answer: Set("")}, "", true},
		{"clear resets value", testState{Answer: Clear[string]()}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testSchema.Reduce(prev, tt.delta)
			v, ok := got.Answer.Get()
			if v != tt.wantValue || ok != tt.wantSet {
				t.Errorf("Answer = (%q, %v), want (%q, %v)", v, ok, tt.wantValue, tt.wantSet)
			}
			if c, _ := got.Count.Get(); c != 3 {
				t.Errorf("unrelated field changed: %d", c)
			}
		})
	}
}

func TestSchema_Accumulate(t *testing.T) {
	state := testState{}
	state = testSchema.Reduce(state, testState{Marks: []int{4}})
	state = testSchema.Reduce(state, testState{})
	state = testSchema.Reduce(state, testState{Marks: []int{9}})

	if len(state.Marks) != 2 || state.Marks[0] != 4 || state.Marks[1] != 9 {
		t.Errorf("unexpected marks %v", state.Marks)
	}
}

func TestSchema_Fields(t *testing.T) {
	fields := testSchema.Fields()
	want := []struct {
		name   string
		policy Policy
	}{
		{"messages", PolicyAppend},
		{"answer", PolicyOverwrite},
		{"count", PolicyOverwrite},
		{"marks", PolicyAccumulate},
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(fields))
	}
	for i, w := range want {
		if fields[i].Name != w.name || fields[i].Policy != w.policy {
			t.Errorf("field %d = %s/%s, want %s/%s", i, fields[i].Name, fields[i].Policy, w.name, w.policy)
		}
	}
}

func TestNewSchema_Invalid(t *testing.T) {
	t.Run("duplicate field", func(t *testing.T) {
		_, err := NewSchema(
			Append("messages", func(s *testState) *[]string { return &s.Messages }),
			Append("messages", func(s *testState) *[]string { return &s.Messages }),
		)
		if err == nil {
			t.Fatal("expected duplicate field error")
		}
	})

	t.Run("hand-built field", func(t *testing.T) {
		_, err := NewSchema(Field[testState]{Name: "x", Policy: PolicyAppend})
		if err == nil {
			t.Fatal("expected error for field without merge")
		}
	})

	t.Run("MustSchema panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		MustSchema(Field[testState]{})
	})
}

func TestValue_JSON(t *testing.T) {
	state := testState{Answer: Set("yes")}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if want := `{"messages":null,"answer":"yes","count":null,"marks":null}`; string(data) != want {
		t.Errorf("JSON = %s, want %s", data, want)
	}

	var decoded testState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if v, ok := decoded.Answer.Get(); !ok || v != "yes" {
		t.Errorf("Answer = (%q, %v)", v, ok)
	}
	if decoded.Count.Valid() {
		t.Error("null should decode to an unset value")
	}

	// A decoded unset value must still be "absent" when used as a delta.
	merged := testSchema.Reduce(testState{Count: Set(1)}, decoded)
	if c, _ := merged.Count.Get(); c != 1 {
		t.Errorf("decoded null overwrote count: %d", c)
	}
}

func TestValue_Or(t *testing.T) {
	var unset Value[int]
	if unset.Or(15) != 15 {
		t.Error("expected default for unset value")
	}
	if Set(0).Or(15) != 0 {
		t.Error("expected set zero value, not default")
	}
}

func TestDeepCopy(t *testing.T) {
	orig := testState{Messages: []string{"a"}, Answer: Set("x")}

	copied, err := deepCopy(orig)
	if err != nil {
		t.Fatalf("deepCopy failed: %v", err)
	}
	copied.Messages[0] = "changed"

	if orig.Messages[0] != "a" {
		t.Error("deepCopy shares slices with the original")
	}
	if v, _ := copied.Answer.Get(); v != "x" {
		t.Errorf("Answer lost in copy: %q", v)
	}

	if _, err := deepCopy(struct{ C chan int }{C: make(chan int)}); err == nil {
		t.Error("expected error copying a channel")
	}
}
