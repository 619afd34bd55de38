// Package emit provides pluggable observability for workflow execution.
package emit

// Event is one observability record emitted during a graph run: node
// start/end, routing, run completion, agent results.
type Event struct {
	// RunID identifies the graph execution that emitted this event.
	RunID string

	// Step is the 1-indexed step number within the run. Zero for
	// run-level events.
	Step int

	// NodeID is the node that emitted the event. Empty for run-level
	// events.
	NodeID string

	// Msg names the event: "node_start", "node_end", "node_error",
	// "run_complete", "agent_result".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	// "duration_ms", "error", "agent", "reason".
	Meta map[string]interface{}
}

// Emitter receives execution events. Implementations must be safe for
// concurrent use (parallel agent runs emit concurrently), must not block
// execution, and must not panic; backend failures are swallowed or logged
// internally.
type Emitter interface {
	Emit(event Event)
}
