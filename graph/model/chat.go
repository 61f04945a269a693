// Package model provides the text-completion collaborator used by graph nodes
// and adapters for hosted LLM providers.
package model

import (
	"context"
	"errors"
	"strings"
)

// ChatModel defines the interface for LLM chat providers.
//
// Implementations convert the standard Message format to the provider's wire
// format, report token usage in ChatOut.Usage and respect context
// cancellation. Retries and circuit breaking are layered on with Guarded.
//
// Example:
//
//	m, err := model.NewGuarded(openai.NewChatModel(apiKey, "gpt-4o-mini"))
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Answer with one word."},
//	    {Role: model.RoleUser, Content: "Capital of France?"},
//	})
type ChatModel interface {
	// Chat sends the conversation to the LLM and returns its reply.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single message in an LLM conversation.
type Message struct {
	// Role identifies the sender. Use the Role* constants.
	Role string `json:"role"`

	Content string `json:"content"`
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem sets context or instructions. System messages typically
	// appear first in a conversation.
	RoleSystem = "system"

	// RoleUser is a message from the human user.
	RoleUser = "user"

	// RoleAssistant is a response from the LLM.
	RoleAssistant = "assistant"
)

// ChatOut is the output of a chat completion.
type ChatOut struct {
	Text string `json:"text"`

	// Usage is the token usage reported by the provider. Zero when the
	// provider does not report it.
	Usage Usage `json:"usage"`
}

// Usage counts the tokens consumed by one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrEmptyResponse is returned by Complete when the model produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Complete sends a single user prompt and returns the trimmed reply text.
func Complete(ctx context.Context, m ChatModel, prompt string) (string, error) {
	return CompleteWithSystem(ctx, m, "", prompt)
}

// CompleteWithSystem is Complete with a system instruction. An empty system
// prompt is omitted.
func CompleteWithSystem(ctx context.Context, m ChatModel, system, prompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	out, err := m.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// SplitSystem separates system messages from the conversation. Multiple system
// messages are joined with a blank line. Providers that take the system
// instruction as a separate parameter use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	conversation := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		conversation = append(conversation, msg)
	}
	return strings.Join(system, "\n\n"), conversation
}
