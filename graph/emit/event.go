package emit

// Event represents an observability event emitted during workflow execution.
//
// Messages emitted by the engine are node_start, node_end, node_retry,
// node_error, branch_failed, join, route, checkpoint_saved, resume and
// run_complete. Nodes may emit their own through an Emitter they are given;
// prompt text and normalization notes travel this way instead of through
// state.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the engine step number (1-indexed), zero for run-level events.
	Step int

	// NodeID identifies which node emitted this event.
	NodeID string

	// Msg is a short snake_case event name.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys: "cycle", "duration_ms", "error", "attempt", "to".
	Meta map[string]interface{}
}
