package model

import (
	"context"
	"slices"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// It answers from Respond when set, otherwise from Responses in order,
// repeating the last one once they are consumed. Err, when set, is returned
// instead. Every call is recorded.
//
// Example:
//
//	mock := &MockChatModel{
//	    Respond: func(msgs []Message) (ChatOut, error) {
//	        if strings.Contains(msgs[len(msgs)-1].Content, "classify") {
//	            return ChatOut{Text: "chatbot"}, nil
//	        }
//	        return ChatOut{Text: "NO_AMBIGUITIES"}, nil
//	    },
//	}
type MockChatModel struct {
	// Responses contains the sequence of responses to return.
	Responses []ChatOut

	// Respond, if set, computes the response from the conversation.
	Respond func(messages []Message) (ChatOut, error)

	// Err, if set, is returned by every call.
	Err error

	mu        sync.Mutex
	calls     [][]Message
	callIndex int
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, slices.Clone(messages))

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.Respond != nil {
		return m.Respond(messages)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Calls returns the conversations the mock received, oldest first.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns the number of times Chat has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears the call history and rewinds Responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callIndex = 0
}
