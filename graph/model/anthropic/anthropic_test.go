package anthropic

import (
	"context"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/graph/model"
)

type fakeMessages struct {
	reply  *sdk.Message
	params []sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.params = append(f.params, body)
	return f.reply, nil
}

func TestExtractSystemPrompt(t *testing.T) {
	system, rest := extractSystemPrompt([]model.Message{
		{Role: model.RoleSystem, Content: "a"},
		{Role: model.RoleUser, Content: "q"},
		{Role: model.RoleSystem, Content: "b"},
	})
	if system != "a\n\nb" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "q" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestChatModel_JSONPrefill(t *testing.T) {
	api := &fakeMessages{reply: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: `"ok":true}`}},
		Usage:   sdk.Usage{InputTokens: 50, OutputTokens: 7},
	}}
	tracker := graph.NewCostTracker("run", "USD")
	m := &ChatModel{modelName: DefaultModel, api: api, usage: tracker, retryDelay: time.Millisecond}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "json only"},
		{Role: model.RoleUser, Content: "hi"},
	}, model.ChatOptions{JSON: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != `{"ok":true}` {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 50 || out.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", out.Usage)
	}

	p := api.params[0]
	if len(p.System) != 1 || p.System[0].Text != "json only" {
		t.Errorf("System = %+v", p.System)
	}
	if len(p.Messages) != 2 || p.Messages[1].Role != sdk.MessageParamRoleAssistant {
		t.Errorf("prefill missing: %+v", p.Messages)
	}
	if p.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	if in, _ := tracker.GetTokenUsage(); in != 50 {
		t.Errorf("tracked input tokens = %d", in)
	}
}
