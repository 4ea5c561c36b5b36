package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TransientError marks a provider failure that is worth retrying, such as a
// rate limit or a 5xx response.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return "transient provider error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// ClassifyStatus wraps err as a TransientError when status is 429 or 5xx.
func ClassifyStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{StatusCode: status, Err: err}
	}
	return err
}

// IsTransient reports whether err should trigger a retry.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "temporary", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Retry calls fn until it succeeds, returns a non-transient error, or
// maxRetries retries have been spent. Rate limits back off linearly.
func Retry[T any](ctx context.Context, maxRetries int, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt >= maxRetries {
			break
		}

		wait := delay
		var te *TransientError
		if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
			wait = delay * time.Duration(attempt+1)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}
