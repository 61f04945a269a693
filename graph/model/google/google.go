// Package google provides a model.ChatModel backed by Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/convograph/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// System messages become the model's system instruction, earlier turns the
// chat history and the last message the prompt. Content blocked by Gemini's
// safety filters is reported as *SafetyFilterError.
//
// Example usage:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "")
//	defer m.Close()
//
//	out, err := m.Chat(ctx, messages)
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// request is a conversation split the way the Gemini chat API takes it.
type request struct {
	system  string
	history []*genai.Content
	prompt  []genai.Part
}

// googleClient is the slice of the SDK the adapter uses, replaced by a fake in
// tests.
type googleClient interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
	close() error
}

// NewChatModel creates a ChatModel. An empty modelName selects DefaultModel.
// The SDK client is created on first use.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Name returns the model name requests are sent to.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Close releases the underlying SDK client.
func (m *ChatModel) Close() error {
	return m.client.close()
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(messages)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := m.client.generate(ctx, req)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(resp), nil
}

func buildRequest(messages []model.Message) (request, error) {
	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return request{}, errors.New("google: conversation has no message to send")
	}

	req := request{system: system}
	last := conversation[len(conversation)-1]
	for _, msg := range conversation[:len(conversation)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		req.history = append(req.history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	req.prompt = []genai.Part{genai.Text(last.Content)}
	return req, nil
}

// convertResponse joins the text parts of the first candidate.
func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}

	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			texts = append(texts, string(text))
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out
}

func translateError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return newSafetyFilterError(blocked)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "google",
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Cause:      err,
		}
	}
	return err
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

func newSafetyFilterError(blocked *genai.BlockedError) *SafetyFilterError {
	e := &SafetyFilterError{reason: "SAFETY"}

	var ratings []*genai.SafetyRating
	if blocked.PromptFeedback != nil {
		e.reason = blocked.PromptFeedback.BlockReason.String()
		ratings = blocked.PromptFeedback.SafetyRatings
	}
	if blocked.Candidate != nil {
		e.reason = blocked.Candidate.FinishReason.String()
		ratings = blocked.Candidate.SafetyRatings
	}
	for _, rating := range ratings {
		if rating != nil && rating.Blocked {
			e.category = rating.Category.String()
			break
		}
	}
	return e
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	if e.category == "" {
		return "content blocked by safety filter: " + e.reason
	}
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block, empty when
// the API did not name one.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}

// sdkClient wraps the official Gemini SDK client.
type sdkClient struct {
	apiKey    string
	modelName string

	mu     sync.Mutex
	client *genai.Client
}

func (c *sdkClient) get(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *sdkClient) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	client, err := c.get(ctx)
	if err != nil {
		return nil, err
	}

	gm := client.GenerativeModel(c.modelName)
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}

	session := gm.StartChat()
	session.History = req.history
	return session.SendMessage(ctx, req.prompt...)
}

func (c *sdkClient) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
