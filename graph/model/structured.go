package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tidwall/gjson"
)

// Shape is a named JSON schema a structured reply must conform to.
type Shape struct {
	Name     string
	Schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// ShapeFor infers a Shape from the Go type T. Field descriptions come from
// `jsonschema:"..."` struct tags. Objects accept unknown properties so that
// chatty models adding extra keys are not rejected.
func ShapeFor[T any](name string) (*Shape, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema %s: %w", name, err)
	}
	relax(schema)
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", name, err)
	}
	return &Shape{Name: name, Schema: schema, resolved: resolved}, nil
}

// MustShape is like ShapeFor but panics on error. Use it for package-level
// shapes of static types.
func MustShape[T any](name string) *Shape {
	s, err := ShapeFor[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

func relax(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	s.AdditionalProperties = nil
	for _, p := range s.Properties {
		relax(p)
	}
	relax(s.Items)
}

// Validate checks that raw is a JSON document conforming to the shape.
func (s *Shape) Validate(raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("reply is not valid JSON: %w", err)
	}
	return s.resolved.Validate(instance)
}

// Describe renders the schema for inclusion in a prompt.
func (s *Shape) Describe() string {
	data, err := json.MarshalIndent(s.Schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// StructuredOutputError reports that a model could not produce a reply
// matching Shape within the attempt budget.
type StructuredOutputError struct {
	Shape    string
	Attempts int
	Raw      string
	Err      error
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output %s: no valid reply after %d attempts: %v", e.Shape, e.Attempts, e.Err)
}

func (e *StructuredOutputError) Unwrap() error { return e.Err }

// Structured asks a ChatModel for replies that decode into a Go value.
//
// Each attempt that returns malformed JSON, or JSON violating the shape, is
// answered with a corrective message and retried. Provider errors are
// returned immediately; adapters already retry transient ones.
type Structured struct {
	Model       ChatModel
	System      string
	MaxAttempts int
	MaxTokens   int
}

// Generate sends prompt and decodes the reply into out.
func (g *Structured) Generate(ctx context.Context, prompt string, shape *Shape, out any) error {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	system := "Reply with a single JSON object matching this schema and nothing else.\n" + shape.Describe()
	if g.System != "" {
		system = g.System + "\n\n" + system
	}
	messages := []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: prompt},
	}

	var lastErr error
	var lastRaw string
	for attempt := 1; attempt <= attempts; attempt++ {
		reply, err := g.Model.Chat(ctx, messages, ChatOptions{JSON: true, Schema: shape.Schema, MaxTokens: g.MaxTokens})
		if err != nil {
			return err
		}
		lastRaw = reply.Text

		raw, err := extractJSON(reply.Text)
		if err == nil {
			err = shape.Validate(raw)
		}
		if err == nil {
			dec := json.NewDecoder(bytes.NewReader(raw))
			if err = dec.Decode(out); err == nil {
				return nil
			}
		}

		lastErr = err
		messages = append(messages,
			Message{Role: RoleAssistant, Content: reply.Text},
			Message{Role: RoleUser, Content: "That reply was rejected: " + err.Error() + ". Answer again with only the corrected JSON object."},
		)
	}

	return &StructuredOutputError{Shape: shape.Name, Attempts: attempts, Raw: lastRaw, Err: lastErr}
}

var errNoJSON = errors.New("reply contains no JSON object")

// extractJSON pulls a JSON object out of a model reply, tolerating code
// fences and prose around it.
func extractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimPrefix(after, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return []byte(s), nil
	}

	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return nil, errNoJSON
	}
	return []byte(candidate), nil
}

// Text asks a ChatModel for free-form prose.
type Text struct {
	Model     ChatModel
	System    string
	MaxTokens int
}

// Complete sends prompt and returns the trimmed reply.
func (t *Text) Complete(ctx context.Context, prompt string) (string, error) {
	var messages []Message
	if t.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: t.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	reply, err := t.Model.Chat(ctx, messages, ChatOptions{MaxTokens: t.MaxTokens})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Text), nil
}
