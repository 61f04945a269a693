package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/convograph/graph/model"
)

type fakeClient struct {
	reply  *anthropic.Message
	err    error
	params []anthropic.MessageNewParams
}

func (f *fakeClient) newMessage(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	f.params = append(f.params, params)
	return f.reply, f.err
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   anthropic.Usage{InputTokens: 12, OutputTokens: 3},
	}
}

func TestNewChatModel(t *testing.T) {
	if m := NewChatModel("key", ""); m.Name() != DefaultModel {
		t.Errorf("default model = %q", m.Name())
	}
	if m := NewChatModel("key", "claude-3-opus-20240229"); m.Name() != "claude-3-opus-20240229" {
		t.Errorf("model = %q", m.Name())
	}
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeClient{reply: textMessage("Paris")}
	m := &ChatModel{modelName: DefaultModel, client: fake}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Answer briefly."},
		{Role: model.RoleUser, Content: "Capital of France?"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Paris" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", out.Usage)
	}

	params := fake.params[0]
	if len(params.System) != 1 || params.System[0].Text != "Answer briefly." {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 || params.Messages[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("messages = %+v", params.Messages)
	}
	if string(params.Model) != DefaultModel || params.MaxTokens != defaultMaxTokens {
		t.Errorf("model=%s maxTokens=%d", params.Model, params.MaxTokens)
	}
}

func TestBuildParams_MergesTurns(t *testing.T) {
	params := buildParams("m", []model.Message{
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleUser, Content: "b"},
		{Role: model.RoleAssistant, Content: "c"},
		{Role: model.RoleUser, Content: "d"},
	})

	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 alternating turns, got %d", len(params.Messages))
	}
	roles := []anthropic.MessageParamRole{
		anthropic.MessageParamRoleUser,
		anthropic.MessageParamRoleAssistant,
		anthropic.MessageParamRoleUser,
	}
	for i, want := range roles {
		if params.Messages[i].Role != want {
			t.Errorf("turn %d role = %s, want %s", i, params.Messages[i].Role, want)
		}
	}
	if params.System != nil {
		t.Error("no system parameter expected")
	}
}

func TestMergeTurns(t *testing.T) {
	turns := mergeTurns([]model.Message{
		{Role: model.RoleUser, Content: "a"},
		{Role: "tool", Content: "b"},
		{Role: model.RoleAssistant, Content: "c"},
	})
	if len(turns) != 2 || turns[0].Content != "a\n\nb" || turns[1].Role != model.RoleAssistant {
		t.Errorf("turns = %+v", turns)
	}
}

func TestChatModel_Errors(t *testing.T) {
	t.Run("api errors become provider errors", func(t *testing.T) {
		fake := &fakeClient{err: &anthropic.Error{StatusCode: 529}}
		m := &ChatModel{modelName: DefaultModel, client: fake}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
		var pe *model.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ProviderError, got %v", err)
		}
		if pe.Provider != "anthropic" || pe.StatusCode != 529 || !pe.Transient() {
			t.Errorf("unexpected provider error %+v", pe)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("dial tcp: no route")
		m := &ChatModel{modelName: DefaultModel, client: &fakeClient{err: boom}}
		if _, err := m.Chat(context.Background(), nil); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})

	t.Run("cancelled context skips the call", func(t *testing.T) {
		fake := &fakeClient{reply: textMessage("x")}
		m := &ChatModel{modelName: DefaultModel, client: fake}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(fake.params) != 0 {
			t.Error("client should not be called")
		}
	})
}

func TestConvertResponse(t *testing.T) {
	msg := &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: "Hello "},
		{Type: "tool_use"},
		{Type: "text", Text: "there"},
	}}
	if out := convertResponse(msg); out.Text != "Hello there" {
		t.Errorf("Text = %q", out.Text)
	}
	if out := convertResponse(nil); out.Text != "" {
		t.Error("nil message should convert to empty output")
	}
}
