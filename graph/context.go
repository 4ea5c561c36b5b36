package graph

import "context"

type ctxKey int

const (
	runIDKey ctxKey = iota
	nodeIDKey
)

func withNode(ctx context.Context, runID, nodeID string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// NodeIDFromContext returns the id of the node whose execution ctx belongs to.
// Collaborators use it to attribute cost and log lines to a node.
func NodeIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey).(string)
	return id
}

// RunIDFromContext returns the run id the engine attached to ctx.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
