package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", ClassifyStatus(429, errors.New("slow down")), true},
		{"server error", ClassifyStatus(503, errors.New("unavailable")), true},
		{"bad request", ClassifyStatus(400, errors.New("bad")), false},
		{"timeout text", errors.New("i/o timeout"), true},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), false},
		{"plain", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		got, err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", ClassifyStatus(502, errors.New("bad gateway"))
			}
			return "ok", nil
		})
		if err != nil || got != "ok" {
			t.Fatalf("got %q, %v", got, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("stops on permanent failure", func(t *testing.T) {
		calls := 0
		perm := errors.New("invalid api key")
		_, err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) (int, error) {
			calls++
			return 0, perm
		})
		if !errors.Is(err, perm) || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), 2, time.Millisecond, func(context.Context) (int, error) {
			calls++
			return 0, ClassifyStatus(500, errors.New("oops"))
		})
		var te *TransientError
		if !errors.As(err, &te) || calls != 3 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("honours cancellation while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := Retry(ctx, 5, time.Hour, func(context.Context) (int, error) {
			cancel()
			return 0, ClassifyStatus(503, errors.New("down"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
