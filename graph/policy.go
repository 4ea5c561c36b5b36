package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures the execution behavior for a specific node.
//
// Policies are attached with WithPolicy when a node is added. Zero values
// fall back to the engine defaults.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for one attempt.
	// If zero, the engine's default node timeout is used.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, no retries are attempted.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines automatic retry configuration for transient node failures.
//
// When an attempt fails and Retryable reports true, the engine waits for an
// exponentially growing, jittered delay and runs the node again with the
// same input state.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including the first).
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides if an error is worth another attempt.
	// If nil, all errors are considered non-retryable.
	Retryable func(error) bool
}

// computeBackoff calculates the delay before retrying a failed node execution:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). A nil rng uses the global source.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponentialDelay := base * (1 << attempt)
	if exponentialDelay <= 0 || (maxDelay > 0 && exponentialDelay > maxDelay) {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}

// Validate checks if the RetryPolicy configuration is valid:
//   - MaxAttempts must be >= 1
//   - if both MaxDelay and BaseDelay are set, MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) shouldRetry(err error, attempt int) bool {
	if rp == nil || rp.Retryable == nil {
		return false
	}
	return attempt < rp.MaxAttempts && rp.Retryable(err)
}
