// Package openai adapts the OpenAI and Azure OpenAI APIs to the model
// interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/dxgraph/graph/model"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	// DefaultChatModel is used when NewChatModel is given no model name.
	DefaultChatModel = "gpt-4o"

	// DefaultEmbeddingModel is used when NewEmbedder is given no model name.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

type completions interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

type embeddings interface {
	New(ctx context.Context, body oai.EmbeddingNewParams, opts ...option.RequestOption) (*oai.CreateEmbeddingResponse, error)
}

// ChatModel implements model.ChatModel for OpenAI chat completions.
type ChatModel struct {
	modelName  string
	api        completions
	usage      model.UsageRecorder
	maxRetries int
	retryDelay time.Duration
}

// Option configures an adapter created by this package.
type Option func(*settings)

type settings struct {
	requestOpts []option.RequestOption
	usage       model.UsageRecorder
	maxRetries  int
	retryDelay  time.Duration
}

// WithAzure routes calls to an Azure OpenAI deployment. endpoint is the
// resource URL, e.g. https://example.openai.azure.com.
func WithAzure(endpoint, apiVersion string) Option {
	return func(s *settings) {
		s.requestOpts = append(s.requestOpts, azure.WithEndpoint(endpoint, apiVersion))
	}
}

// WithUsageRecorder reports the token usage of every call to rec.
func WithUsageRecorder(rec model.UsageRecorder) Option {
	return func(s *settings) { s.usage = rec }
}

// WithRetries sets how often transient failures are retried.
func WithRetries(n int, delay time.Duration) Option {
	return func(s *settings) { s.maxRetries, s.retryDelay = n, delay }
}

func newClient(apiKey string, options []Option) (oai.Client, settings) {
	s := settings{maxRetries: 3, retryDelay: time.Second}
	for _, opt := range options {
		opt(&s)
	}

	reqOpts := append([]option.RequestOption{option.WithMaxRetries(0)}, s.requestOpts...)
	if len(s.requestOpts) > 0 {
		// Azure wants the key in the api-key header.
		reqOpts = append(reqOpts, azure.WithAPIKey(apiKey))
	} else {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	return oai.NewClient(reqOpts...), s
}

// NewChatModel creates an OpenAI chat adapter.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o",
//	    openai.WithUsageRecorder(costTracker))
func NewChatModel(apiKey, modelName string, options ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultChatModel
	}
	client, s := newClient(apiKey, options)
	return &ChatModel{
		modelName:  modelName,
		api:        &client.Chat.Completions,
		usage:      s.usage,
		maxRetries: s.maxRetries,
		retryDelay: s.retryDelay,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(opts.MaxTokens))
	}
	if opts.JSON {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: oai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := model.Retry(ctx, m.maxRetries, m.retryDelay, func(ctx context.Context) (*oai.ChatCompletion, error) {
		c, err := m.api.New(ctx, params)
		return c, classify(err)
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat: %w", err)
	}

	out := convertResponse(completion)
	if out.Model == "" {
		out.Model = m.modelName
	}
	if err := model.RecordUsage(ctx, m.usage, m.modelName, out.Usage); err != nil {
		return model.ChatOut{}, err
	}
	return out, nil
}

func convertMessages(messages []model.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, oai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, oai.AssistantMessage(msg.Content))
		default:
			out = append(out, oai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertResponse(c *oai.ChatCompletion) model.ChatOut {
	out := model.ChatOut{
		Model: c.Model,
		Usage: model.Usage{
			InputTokens:  int(c.Usage.PromptTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		},
	}
	if len(c.Choices) > 0 {
		out.Text = c.Choices[0].Message.Content
	}
	return out
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode, err)
	}
	return err
}

// Embedder implements model.Embedder with the OpenAI embeddings endpoint.
type Embedder struct {
	modelName  string
	api        embeddings
	usage      model.UsageRecorder
	maxRetries int
	retryDelay time.Duration
}

// NewEmbedder creates an OpenAI embeddings adapter.
func NewEmbedder(apiKey, modelName string, options ...Option) *Embedder {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	client, s := newClient(apiKey, options)
	return &Embedder{
		modelName:  modelName,
		api:        &client.Embeddings,
		usage:      s.usage,
		maxRetries: s.maxRetries,
		retryDelay: s.retryDelay,
	}
}

// Embed implements model.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(e.modelName),
		Input: oai.EmbeddingNewParamsInputUnion{OfString: oai.String(text)},
	}

	resp, err := model.Retry(ctx, e.maxRetries, e.retryDelay, func(ctx context.Context) (*oai.CreateEmbeddingResponse, error) {
		r, err := e.api.New(ctx, params)
		return r, classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: empty response")
	}

	if err := model.RecordUsage(ctx, e.usage, e.modelName, model.Usage{InputTokens: int(resp.Usage.PromptTokens)}); err != nil {
		return nil, err
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}
