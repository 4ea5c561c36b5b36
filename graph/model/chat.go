// Package model provides LLM integration adapters.
//
// Nodes talk to providers through three small interfaces: ChatModel for
// conversations, Embedder for vector embeddings and UsageRecorder for token
// accounting. The openai, anthropic and google subpackages implement them
// with the vendor SDKs; MockChatModel and MockEmbedder serve tests.
package model

import (
	"context"

	"github.com/dshills/dxgraph/graph"
	"github.com/google/jsonschema-go/jsonschema"
)

// ChatModel defines the interface for LLM chat providers.
//
// Implementations convert the standard Message list to the provider's
// format, honour ctx cancellation, and report token usage in ChatOut.
//
// Example:
//
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Answer in one word."},
//	    {Role: model.RoleUser, Content: "Capital of France?"},
//	}, model.ChatOptions{})
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatOut, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// UsageRecorder receives the token usage of every provider call.
// *graph.CostTracker satisfies it.
type UsageRecorder interface {
	RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) error
}

// Message represents a single message in a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions tunes a single Chat call.
type ChatOptions struct {
	// JSON asks the provider for a JSON object reply where it supports that.
	JSON bool

	// Schema, when set, describes the expected JSON reply. Providers with
	// native schema support pass it on; the others ignore it.
	Schema *jsonschema.Schema

	// MaxTokens caps the reply length. Zero uses the adapter default.
	MaxTokens int
}

// ChatOut is the reply of a ChatModel.
type ChatOut struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the token count of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// RecordUsage reports usage to rec, attributed to the graph node running in
// ctx. A nil recorder is ignored.
func RecordUsage(ctx context.Context, rec UsageRecorder, modelName string, usage Usage) error {
	if rec == nil {
		return nil
	}
	return rec.RecordLLMCall(modelName, usage.InputTokens, usage.OutputTokens, graph.NodeIDFromContext(ctx))
}
