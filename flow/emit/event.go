package emit

// Event is an observability event produced during a run: node start and
// completion, retries, fan-out dispatch, gate decisions, approvals, and
// run lifecycle transitions.
type Event struct {
	// RunID identifies the run that produced this event.
	RunID string

	// Step is the scheduler step number (1-indexed). Zero for run-level
	// events such as start and completion.
	Step int

	// NodeID is the node this event concerns. Empty for run-level
	// events.
	NodeID string

	// Msg is a short human-readable description, for example
	// "node completed" or "gate retrying".
	Msg string

	// Meta carries structured detail specific to the event. Common keys
	// include "attempt", "branch", "score", "iteration", "error", and
	// "delay_ms".
	Meta map[string]interface{}
}
