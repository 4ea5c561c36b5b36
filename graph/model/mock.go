package model

import (
	"context"
	"errors"
	"sync"
)

// MockChatModel is a test double for ChatModel.
//
// Responses are returned in order; once exhausted the last one repeats.
// Err, when set, is returned from every call instead.
//
// Example:
//
//	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: `{"ok":true}`}}}
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	// Calls records every invocation for assertions.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall is one recorded Chat invocation.
type MockChatCall struct {
	Messages []Message
	Options  ChatOptions
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{
		Messages: append([]Message(nil), messages...),
		Options:  opts,
	})

	if m.Err != nil {
		return ChatOut{}, m.Err
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

// Reset clears recorded calls and rewinds the response sequence.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls made so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// ErrNoVector is returned by MockEmbedder for text it has no vector for.
var ErrNoVector = errors.New("mock embedder: no vector for text")

// MockEmbedder is a test double for Embedder backed by a fixed table.
type MockEmbedder struct {
	Vectors map[string][]float32
	Err     error

	mu    sync.Mutex
	calls []string
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, text)
	if m.Err != nil {
		return nil, m.Err
	}
	v, ok := m.Vectors[text]
	if !ok {
		return nil, ErrNoVector
	}
	return append([]float32(nil), v...), nil
}

// Calls returns the texts embedded so far, in call order.
func (m *MockEmbedder) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.calls...)
}
