package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// getNodeTimeout determines the timeout for one node attempt:
// the node policy wins, then the engine default, then no timeout.
func getNodeTimeout(policy NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout runs one attempt of a node, bounded by its timeout.
//
// The returned error is the node's own error, or a NODE_TIMEOUT EngineError
// when the attempt's deadline expired while the parent context is still live.
func executeNodeWithTimeout[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[S], error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		result := node.Run(ctx, state)
		return result, result.Err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
			Err:     context.DeadlineExceeded,
		}
	}
	return result, result.Err
}
