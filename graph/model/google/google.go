// Package google adapts the Gemini API to the model interfaces.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/dxgraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/api/option"
)

const (
	// DefaultModel is used when NewChatModel is given no model name.
	DefaultModel = "gemini-1.5-flash"

	// DefaultEmbeddingModel is used when NewEmbedder is given no model name.
	DefaultEmbeddingModel = "text-embedding-004"
)

type request struct {
	system    string
	history   []*genai.Content
	prompt    string
	json      bool
	schema    *genai.Schema
	maxTokens int
}

type generator interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// ChatModel implements model.ChatModel for Gemini models.
type ChatModel struct {
	modelName  string
	client     *genai.Client
	gen        generator
	usage      model.UsageRecorder
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel creates a Gemini adapter. rec may be nil. Call Close when done.
func NewChatModel(ctx context.Context, apiKey, modelName string, rec model.UsageRecorder) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &ChatModel{
		modelName:  modelName,
		client:     client,
		gen:        &sdkGenerator{client: client, modelName: modelName},
		usage:      rec,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(messages)
	if err != nil {
		return model.ChatOut{}, err
	}
	req.json = opts.JSON
	req.maxTokens = opts.MaxTokens
	if opts.JSON && opts.Schema != nil {
		req.schema = convertSchema(opts.Schema)
	}

	resp, err := model.Retry(ctx, m.maxRetries, m.retryDelay, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return m.gen.generate(ctx, req)
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google chat: %w", err)
	}

	out, err := convertResponse(resp)
	if err != nil {
		return model.ChatOut{}, err
	}
	out.Model = m.modelName
	if err := model.RecordUsage(ctx, m.usage, m.modelName, out.Usage); err != nil {
		return model.ChatOut{}, err
	}
	return out, nil
}

// buildRequest splits messages into system instruction, chat history and
// the final user prompt that is sent.
func buildRequest(messages []model.Message) (request, error) {
	var req request
	var system []string
	var turns []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role == model.RoleAssistant {
		return req, errors.New("google chat: conversation must end with a user message")
	}

	req.system = strings.Join(system, "\n\n")
	req.prompt = turns[len(turns)-1].Content
	for _, msg := range turns[:len(turns)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		req.history = append(req.history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return req, nil
}

// SafetyFilterError reports a reply withheld by Gemini's safety filters.
type SafetyFilterError struct {
	Reason string
}

func (e *SafetyFilterError) Error() string {
	return "google chat: response blocked: " + e.Reason
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	var out model.ChatOut
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return out, &SafetyFilterError{Reason: resp.PromptFeedback.BlockReason.String()}
		}
		return out, errors.New("google chat: no candidates in response")
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{Reason: cand.FinishReason.String()}
	}
	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		out.Text = text.String()
	}
	return out, nil
}

// convertSchema maps the subset of JSON schema Gemini understands.
func convertSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{Description: s.Description}

	typ := s.Type
	for _, t := range s.Types {
		if t == "null" {
			out.Nullable = true
			continue
		}
		if typ == "" {
			typ = t
		}
	}
	switch typ {
	case "object":
		out.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				out.Properties[name] = convertSchema(prop)
			}
		}
		out.Required = append([]string(nil), s.Required...)
	case "array":
		out.Type = genai.TypeArray
		out.Items = convertSchema(s.Items)
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	}
	return out
}

type sdkGenerator struct {
	client    *genai.Client
	modelName string
}

func (g *sdkGenerator) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	gm := g.client.GenerativeModel(g.modelName)
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if req.json {
		gm.ResponseMIMEType = "application/json"
		gm.ResponseSchema = req.schema
	}
	if req.maxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.maxTokens))
	}

	cs := gm.StartChat()
	cs.History = req.history
	return cs.SendMessage(ctx, genai.Text(req.prompt))
}

// Embedder implements model.Embedder with Gemini embedding models.
type Embedder struct {
	client *genai.Client
	em     *genai.EmbeddingModel
}

// NewEmbedder creates a Gemini embeddings adapter. Call Close when done.
func NewEmbedder(ctx context.Context, apiKey, modelName string) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &Embedder{client: client, em: client.EmbeddingModel(modelName)}, nil
}

// Embed implements model.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := model.Retry(ctx, 3, time.Second, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		return e.em.EmbedContent(ctx, genai.Text(text))
	})
	if err != nil {
		return nil, fmt.Errorf("google embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("google embed: empty embedding")
	}
	return res.Embedding.Values, nil
}

// Close releases the underlying client.
func (e *Embedder) Close() error {
	return e.client.Close()
}
