package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured slog.Logger.
//
// Events whose Meta carries an "error" key are logged at error level,
// retries and failed branches at warn, node_start at debug, and everything
// else at info.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter wraps logger. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event with its metadata as attributes, sorted by key.
func (s *SlogEmitter) Emit(event Event) {
	level := levelFor(event)
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(event.Meta)+3)
	attrs = append(attrs,
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
		slog.String("node_id", event.NodeID),
	)
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}
	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}

func levelFor(event Event) slog.Level {
	switch event.Msg {
	case "node_error":
		return slog.LevelError
	case "node_retry", "branch_failed":
		return slog.LevelWarn
	case "node_start", "prompt":
		return slog.LevelDebug
	}
	if _, ok := event.Meta["error"]; ok {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
