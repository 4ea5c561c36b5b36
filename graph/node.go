package graph

import (
	"context"
	"fmt"
)

// Node represents a processing unit in the workflow graph.
// It receives state of type S, performs computation, and returns a NodeResult.
//
// A node must treat the state it receives as read-only. The only way a node
// changes the run's state is through the Delta it returns, which the engine
// merges using the configured Reducer and the node's declared write-set.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	// Only the fields in the node's write-set are merged.
	Delta S

	// Route optionally overrides edge-based routing.
	// Use Stop() for terminal nodes or Goto(id) for explicit routing.
	// The zero value defers to fan-outs, routers and edges.
	Route Next

	// Err contains any error that occurred during node execution.
	// On the sequential path a non-nil error aborts the run; inside a
	// fan-out it only empties that branch's contribution.
	Err error
}

// Next specifies the next step in workflow execution after a node completes.
type Next struct {
	// To specifies the next node to execute.
	To string

	// Terminal indicates workflow execution should stop.
	Terminal bool
}

// Stop returns a Next that terminates workflow execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	classify := graph.NodeFunc[Ticket](func(ctx context.Context, t Ticket) graph.NodeResult[Ticket] {
//	    return graph.NodeResult[Ticket]{Delta: Ticket{Queue: "billing"}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError reports a node failure that aborted a run.
//
// Cycle is the number of times the start node had been entered when the
// failure happened, which lets callers report how far a looping workflow got.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Step is the engine step at which the node ran.
	Step int

	// Cycle counts entries into the start node, starting at 1.
	Cycle int

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.NodeID != "" {
		return fmt.Sprintf("node %s (cycle %d): %s", e.NodeID, e.Cycle, msg)
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
