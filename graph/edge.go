// Package graph provides a small generic execution engine for workflows that
// are expressed as a static graph of nodes over a single state record.
//
// Besides plain edges the engine understands two structural constructs:
// fan-outs, where several branch nodes run concurrently against a snapshot
// of the state and are joined before a named node, and routers, where a
// decision function picks the next node from a fixed set of targets.
// Every node declares the fields it writes; the write-sets of concurrently
// scheduled branches must be disjoint, which Compile checks once.
package graph

// End is the pseudo node id that terminates a run when routed to.
const End = "__end__"

// Edge represents a connection between two nodes in the workflow graph.
//
// Edges can be:
//   - Unconditional: always traverse (When = nil)
//   - Conditional: only traverse if the predicate returns true
//
// Outgoing edges are evaluated in the order they were added; the first match wins.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID, or End.
	To string

	// When is an optional predicate that determines if this edge should be traversed.
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge should be traversed.
// Predicates should be pure functions.
type Predicate[S any] func(state S) bool

// Router picks the next node after From from a closed set of targets.
//
// Routers model conditional edges that are better read as a decision table
// than as a list of predicates. The returned id must be one of the targets
// registered with Engine.Branch, otherwise the run fails with ErrInvalidRoute.
type Router[S any] func(state S) string

type router[S any] struct {
	decide  Router[S]
	targets map[string]struct{}
}

// fanOut describes branches that run concurrently after From and are
// joined before Join.
type fanOut struct {
	from     string
	branches []string
	join     string
}
