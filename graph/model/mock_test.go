package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModel_Responses(t *testing.T) {
	t.Run("returns responses in order then repeats the last", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}
		msgs := []Message{{Role: RoleUser, Content: "hi"}}

		var got []string
		for i := 0; i < 3; i++ {
			out, err := mock.Chat(context.Background(), msgs, ChatOptions{})
			if err != nil {
				t.Fatalf("call %d: %v", i, err)
			}
			got = append(got, out.Text)
		}
		want := []string{"first", "second", "second"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("call %d = %q, want %q", i, got[i], want[i])
			}
		}
		if mock.CallCount() != 3 {
			t.Errorf("CallCount = %d, want 3", mock.CallCount())
		}
	})

	t.Run("records options", func(t *testing.T) {
		mock := &MockChatModel{}
		_, _ = mock.Chat(context.Background(), nil, ChatOptions{JSON: true, MaxTokens: 42})
		if !mock.Calls[0].Options.JSON || mock.Calls[0].Options.MaxTokens != 42 {
			t.Errorf("options not recorded: %+v", mock.Calls[0].Options)
		}
	})

	t.Run("reset rewinds", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
		_, _ = mock.Chat(context.Background(), nil, ChatOptions{})
		mock.Reset()
		out, _ := mock.Chat(context.Background(), nil, ChatOptions{})
		if out.Text != "a" {
			t.Errorf("after Reset got %q, want a", out.Text)
		}
		if mock.CallCount() != 1 {
			t.Errorf("CallCount = %d, want 1", mock.CallCount())
		}
	})
}

func TestMockChatModel_Errors(t *testing.T) {
	boom := errors.New("boom")
	mock := &MockChatModel{Err: boom}
	if _, err := mock.Chat(context.Background(), nil, ChatOptions{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mock.Chat(ctx, nil, ChatOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMockEmbedder(t *testing.T) {
	mock := &MockEmbedder{Vectors: map[string][]float32{"a": {1, 0}}}

	v, err := mock.Embed(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	v[0] = 9
	if mock.Vectors["a"][0] != 1 {
		t.Error("Embed returned the table's backing array")
	}

	if _, err := mock.Embed(context.Background(), "b"); !errors.Is(err, ErrNoVector) {
		t.Errorf("err = %v, want ErrNoVector", err)
	}
	if got := mock.Calls(); len(got) != 2 || got[1] != "b" {
		t.Errorf("Calls = %v", got)
	}
}
