package emit

import "testing"

func TestBufferedEmitter_History(t *testing.T) {
	t.Run("groups events by thread", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{ThreadID: "t-1", Step: 1, NodeID: "a", Msg: "node completed"})
		emitter.Emit(Event{ThreadID: "t-2", Step: 1, NodeID: "a", Msg: "node completed"})
		emitter.Emit(Event{ThreadID: "t-1", Step: 2, NodeID: "b", Msg: "node completed"})

		history := emitter.GetHistory("t-1")
		if len(history) != 2 {
			t.Fatalf("expected 2 events, got %d", len(history))
		}
		if history[0].NodeID != "a" || history[1].NodeID != "b" {
			t.Errorf("events out of order: %+v", history)
		}

		threads := emitter.Threads()
		if len(threads) != 2 || threads[0] != "t-1" || threads[1] != "t-2" {
			t.Errorf("unexpected threads %v", threads)
		}
	})

	t.Run("unknown thread returns empty slice", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		history := emitter.GetHistory("missing")
		if history == nil || len(history) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", history)
		}
	})

	t.Run("returned history is a copy", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{ThreadID: "t-1", NodeID: "a"})

		history := emitter.GetHistory("t-1")
		history[0].NodeID = "changed"

		if got := emitter.GetHistory("t-1")[0].NodeID; got != "a" {
			t.Errorf("buffer was mutated through returned slice: %q", got)
		}
	})
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()
	for i, e := range []Event{
		{NodeID: "analyze", Msg: "node completed"},
		{NodeID: "ask", Msg: "node interrupted"},
		{NodeID: "analyze", Msg: "node completed"},
		{NodeID: "__start__", Msg: "routing fallback"},
	} {
		e.ThreadID = "t-1"
		e.Step = i + 1
		emitter.Emit(e)
	}

	minStep, maxStep := 2, 3

	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"empty filter", HistoryFilter{}, 4},
		{"by node", HistoryFilter{NodeID: "analyze"}, 2},
		{"by message", HistoryFilter{Msg: "node interrupted"}, 1},
		{"node and message", HistoryFilter{NodeID: "ask", Msg: "node completed"}, 0},
		{"step range", HistoryFilter{MinStep: &minStep, MaxStep: &maxStep}, 2},
		{"min step only", HistoryFilter{MinStep: &maxStep}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := emitter.GetHistoryWithFilter("t-1", tt.filter)
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{ThreadID: "t-1"})
	emitter.Emit(Event{ThreadID: "t-2"})

	emitter.Clear("t-1")
	if len(emitter.GetHistory("t-1")) != 0 {
		t.Error("expected t-1 to be cleared")
	}
	if len(emitter.GetHistory("t-2")) != 1 {
		t.Error("expected t-2 to be kept")
	}

	emitter.Clear("")
	if len(emitter.Threads()) != 0 {
		t.Error("expected all threads to be cleared")
	}
}

