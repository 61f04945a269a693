package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/dshills/convograph/graph/model"
)

type fakeClient struct {
	resp   *genai.GenerateContentResponse
	err    error
	reqs   []request
	closed bool
}

func (f *fakeClient) generate(_ context.Context, req request) (*genai.GenerateContentResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func (f *fakeClient) close() error {
	f.closed = true
	return nil
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{
		Candidates:    []*genai.Candidate{{Content: content}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 30, CandidatesTokenCount: 7},
	}
}

func TestNewChatModel(t *testing.T) {
	m := NewChatModel("key", "")
	if m.Name() != DefaultModel {
		t.Errorf("default model = %q", m.Name())
	}
	if err := m.Close(); err != nil {
		t.Errorf("closing an unused model failed: %v", err)
	}
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeClient{resp: textResponse("Paris", "is the capital")}
	m := &ChatModel{modelName: DefaultModel, client: fake}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
		{Role: model.RoleUser, Content: "Capital of France?"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Paris\nis the capital" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 30 || out.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", out.Usage)
	}

	req := fake.reqs[0]
	if req.system != "Be brief." {
		t.Errorf("system = %q", req.system)
	}
	if len(req.history) != 2 || req.history[0].Role != "user" || req.history[1].Role != "model" {
		t.Errorf("unexpected history %+v", req.history)
	}
	if len(req.prompt) != 1 || req.prompt[0] != genai.Text("Capital of France?") {
		t.Errorf("prompt = %+v", req.prompt)
	}

	if err := m.Close(); err != nil || !fake.closed {
		t.Error("Close should close the client")
	}
}

func TestChatModel_EmptyConversation(t *testing.T) {
	fake := &fakeClient{}
	m := &ChatModel{modelName: DefaultModel, client: fake}

	if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "only system"}}); err == nil {
		t.Error("expected error without a message to send")
	}
	if len(fake.reqs) != 0 {
		t.Error("client should not be called")
	}
}

func TestChatModel_SafetyFilter(t *testing.T) {
	blocked := &genai.BlockedError{
		Candidate: &genai.Candidate{
			FinishReason: genai.FinishReasonSafety,
			SafetyRatings: []*genai.SafetyRating{
				{Category: genai.HarmCategoryHateSpeech},
				{Category: genai.HarmCategoryHarassment, Blocked: true},
			},
		},
	}
	m := &ChatModel{modelName: DefaultModel, client: &fakeClient{err: blocked}}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) {
		t.Fatalf("expected SafetyFilterError, got %v", err)
	}
	if safetyErr.Category() != genai.HarmCategoryHarassment.String() {
		t.Errorf("Category = %q", safetyErr.Category())
	}
	if safetyErr.Reason() != genai.FinishReasonSafety.String() {
		t.Errorf("Reason = %q", safetyErr.Reason())
	}
	if model.IsTransient(err) {
		t.Error("safety blocks must not be retried")
	}
}

func TestChatModel_BlockedPrompt(t *testing.T) {
	blocked := &genai.BlockedError{
		PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety},
	}
	err := translateError(blocked)

	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) {
		t.Fatalf("expected SafetyFilterError, got %v", err)
	}
	if safetyErr.Category() != "" || safetyErr.Reason() != genai.BlockReasonSafety.String() {
		t.Errorf("unexpected error %q / %q", safetyErr.Category(), safetyErr.Reason())
	}
}

func TestTranslateError(t *testing.T) {
	err := translateError(&googleapi.Error{Code: 503, Message: "backend unavailable"})

	var pe *model.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Provider != "google" || pe.StatusCode != 503 || !pe.Transient() {
		t.Errorf("unexpected provider error %+v", pe)
	}

	boom := errors.New("boom")
	if got := translateError(boom); got != boom {
		t.Errorf("unknown errors should pass through, got %v", got)
	}
}

func TestConvertResponse(t *testing.T) {
	if out := convertResponse(nil); out.Text != "" {
		t.Error("nil response should be empty")
	}
	if out := convertResponse(&genai.GenerateContentResponse{}); out.Text != "" || out.Usage.InputTokens != 0 {
		t.Errorf("empty response = %+v", out)
	}
}
