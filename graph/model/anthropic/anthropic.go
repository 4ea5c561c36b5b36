// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/dxgraph/graph/model"
)

const (
	// DefaultModel is used when NewChatModel is given no model name.
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens = 4096
)

type messages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// ChatModel implements model.ChatModel for Claude models.
//
// Claude has no JSON response mode; ChatOptions.JSON is honoured by
// prefilling the assistant turn with "{".
type ChatModel struct {
	modelName  string
	api        messages
	usage      model.UsageRecorder
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel creates a Claude adapter. rec may be nil.
func NewChatModel(apiKey, modelName string, rec model.UsageRecorder) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &ChatModel{
		modelName:  modelName,
		api:        &client.Messages,
		usage:      rec,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, msgs []model.Message, opts model.ChatOptions) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, conversation := extractSystemPrompt(msgs)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.modelName),
		MaxTokens: defaultMaxTokens,
		Messages:  convertMessages(conversation, opts.JSON),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := model.Retry(ctx, m.maxRetries, m.retryDelay, func(ctx context.Context) (*sdk.Message, error) {
		r, err := m.api.New(ctx, params)
		return r, classify(err)
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic chat: %w", err)
	}

	out := convertResponse(msg, opts.JSON)
	out.Model = m.modelName
	if err := model.RecordUsage(ctx, m.usage, m.modelName, out.Usage); err != nil {
		return model.ChatOut{}, err
	}
	return out, nil
}

// extractSystemPrompt joins system messages; Claude takes them separately.
func extractSystemPrompt(msgs []model.Message) (string, []model.Message) {
	var system []string
	var rest []model.Message
	for _, msg := range msgs {
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

func convertMessages(msgs []model.Message, prefillJSON bool) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs)+1)
	for _, msg := range msgs {
		if msg.Role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
			continue
		}
		out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
	}
	if prefillJSON {
		out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock("{")))
	}
	return out
}

func convertResponse(msg *sdk.Message, prefilled bool) model.ChatOut {
	var text strings.Builder
	if prefilled {
		text.WriteString("{")
	}
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

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode, err)
	}
	return err
}
