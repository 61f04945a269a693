package model

import (
	"context"
	"errors"
	"testing"
)

func TestComplete(t *testing.T) {
	t.Run("sends a single user message and trims the reply", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "  chatbot\n"}}}

		got, err := Complete(context.Background(), mock, "classify this")
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if got != "chatbot" {
			t.Errorf("got %q, want %q", got, "chatbot")
		}

		calls := mock.Calls()
		if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0].Role != RoleUser {
			t.Errorf("unexpected conversation %+v", calls)
		}
	})

	t.Run("system prompt comes first", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}

		if _, err := CompleteWithSystem(context.Background(), mock, "be brief", "hi"); err != nil {
			t.Fatalf("CompleteWithSystem failed: %v", err)
		}
		conv := mock.Calls()[0]
		if len(conv) != 2 || conv[0].Role != RoleSystem || conv[0].Content != "be brief" {
			t.Errorf("unexpected conversation %+v", conv)
		}
	})

	t.Run("blank reply is an error", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "   "}}}
		if _, err := Complete(context.Background(), mock, "x"); !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("expected ErrEmptyResponse, got %v", err)
		}
	})

	t.Run("model error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		mock := &MockChatModel{Err: boom}
		if _, err := Complete(context.Background(), mock, "x"); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})
}

func TestSplitSystem(t *testing.T) {
	system, conv := SplitSystem([]Message{
		{Role: RoleSystem, Content: "one"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "two"},
		{Role: RoleAssistant, Content: "hello"},
	})

	if system != "one\n\ntwo" {
		t.Errorf("system = %q", system)
	}
	if len(conv) != 2 || conv[0].Content != "hi" || conv[1].Content != "hello" {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestMockChatModel(t *testing.T) {
	ctx := context.Background()

	t.Run("responses advance then repeat the last", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
		var got []string
		for i := 0; i < 3; i++ {
			out, _ := mock.Chat(ctx, nil)
			got = append(got, out.Text)
		}
		if got[0] != "a" || got[1] != "b" || got[2] != "b" {
			t.Errorf("got %v", got)
		}

		mock.Reset()
		if mock.CallCount() != 0 {
			t.Error("Reset should clear calls")
		}
		if out, _ := mock.Chat(ctx, nil); out.Text != "a" {
			t.Errorf("Reset should rewind responses, got %q", out.Text)
		}
	})

	t.Run("respond func sees the conversation", func(t *testing.T) {
		mock := &MockChatModel{Respond: func(msgs []Message) (ChatOut, error) {
			return ChatOut{Text: msgs[len(msgs)-1].Content + "!"}, nil
		}}
		out, err := mock.Chat(ctx, []Message{{Role: RoleUser, Content: "hey"}})
		if err != nil || out.Text != "hey!" {
			t.Errorf("got (%q, %v)", out.Text, err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		mock := &MockChatModel{}
		if _, err := mock.Chat(cctx, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if mock.CallCount() != 0 {
			t.Error("cancelled call should not be recorded")
		}
	})

	t.Run("recorded conversation is a copy", func(t *testing.T) {
		mock := &MockChatModel{}
		msgs := []Message{{Role: RoleUser, Content: "original"}}
		_, _ = mock.Chat(ctx, msgs)
		msgs[0].Content = "changed"
		if mock.Calls()[0][0].Content != "original" {
			t.Error("mock aliases the caller's slice")
		}
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"rate limited", &ProviderError{Provider: "openai", StatusCode: 429}, true},
		{"server error", &ProviderError{Provider: "openai", StatusCode: 503}, true},
		{"bad request", &ProviderError{Provider: "openai", StatusCode: 400}, false},
		{"unauthorized", &ProviderError{Provider: "openai", StatusCode: 401}, false},
		{"wrapped provider error", errors.Join(errors.New("ctx"), &ProviderError{StatusCode: 500}), true},
		{"timeout message", errors.New("i/o timeout"), true},
		{"overloaded message", errors.New("Overloaded"), true},
		{"plain error", errors.New("invalid prompt"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("sdk failure")
	err := &ProviderError{Provider: "anthropic", StatusCode: 529, Message: "overloaded", Cause: cause}

	if err.Error() != "anthropic: status 529: overloaded" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to unwrap")
	}
}
