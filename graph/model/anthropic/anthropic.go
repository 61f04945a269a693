// Package anthropic provides a model.ChatModel backed by Anthropic's Claude
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/convograph/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "claude-3-5-haiku-20241022"

const defaultMaxTokens = 1024

// ChatModel implements model.ChatModel for Anthropic's Claude API.
//
// System messages are lifted into the separate system parameter the API
// expects. SDK errors are translated to *model.ProviderError.
//
// Example usage:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "What is the capital of France?"},
//	})
type ChatModel struct {
	modelName string
	client    anthropicClient
}

// anthropicClient is the slice of the SDK the adapter uses, replaced by a fake
// in tests.
type anthropicClient interface {
	newMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewChatModel creates a ChatModel. An empty modelName selects DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)

	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: &client},
	}
}

// Name returns the model name requests are sent to.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	msg, err := m.client.newMessage(ctx, buildParams(m.modelName, messages))
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(msg), nil
}

// buildParams converts the conversation. Consecutive messages of the same role
// are merged because the API requires alternating turns.
func buildParams(modelName string, messages []model.Message) anthropic.MessageNewParams {
	system, conversation := model.SplitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: defaultMaxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	for _, turn := range mergeTurns(conversation) {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}

func mergeTurns(messages []model.Message) []model.Message {
	var turns []model.Message
	for _, msg := range messages {
		role := msg.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + msg.Content
			continue
		}
		turns = append(turns, model.Message{Role: role, Content: msg.Content})
	}
	return turns
}

func convertResponse(msg *anthropic.Message) model.ChatOut {
	if msg == nil {
		return model.ChatOut{}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return model.ChatOut{
		Text: text.String(),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// translateError maps SDK API errors (authentication, rate limiting,
// overload, invalid requests) to *model.ProviderError. Other errors, such as
// context cancellation, pass through.
func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Message:    http.StatusText(apiErr.StatusCode),
			Cause:      err,
		}
	}
	return err
}

// sdkClient wraps the official anthropic-sdk-go client.
type sdkClient struct {
	client *anthropic.Client
}

func (c *sdkClient) newMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}
