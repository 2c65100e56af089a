package flow

import (
	"errors"
	"fmt"
	"time"
)

// Validation error codes surfaced by Build. Validation runs once at graph
// construction time and never during a Run.
const (
	// CodeUnreachableNode marks a node that cannot be reached from the
	// entry node.
	CodeUnreachableNode = "UNREACHABLE_NODE"

	// CodeNonExhaustiveRouting marks a branching node whose conditional
	// edges lack an unconditional or default fallback.
	CodeNonExhaustiveRouting = "NON_EXHAUSTIVE_ROUTING"

	// CodeUnboundedCycle marks a cycle that does not pass through a
	// quality gate with a bounded iteration counter.
	CodeUnboundedCycle = "UNBOUNDED_CYCLE"

	// CodeNoRoute marks a non-terminal node with no outgoing edges.
	CodeNoRoute = "NO_ROUTE"

	// CodeAmbiguousRouting marks a node with multiple unconditional edges
	// that was not declared as a fan-out.
	CodeAmbiguousRouting = "AMBIGUOUS_ROUTING"

	// CodeOverlappingWrites marks fan-out branches whose declared write
	// sets intersect, a guaranteed StateConflict at fan-in.
	CodeOverlappingWrites = "OVERLAPPING_WRITES"

	// CodeUnknownNode marks an edge, entry, or terminal referencing a
	// node that was never added.
	CodeUnknownNode = "UNKNOWN_NODE"

	// CodeDuplicateNode marks a node name registered twice.
	CodeDuplicateNode = "DUPLICATE_NODE"

	// CodeInvalidGate marks a quality gate with a bad configuration.
	CodeInvalidGate = "INVALID_GATE"
)

// ValidationError reports a malformed graph. It is fatal and surfaced by
// Build before any Run starts.
type ValidationError struct {
	Code    string
	Node    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Node != "" {
		return e.Code + ": node " + e.Node + ": " + e.Message
	}
	return e.Code + ": " + e.Message
}

// NodeError reports that a node's transformation failed. It is the
// recoverable execution error: retry policies re-invoke the node.
type NodeError struct {
	Node  string
	Cause error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Cause)
}

func (e *NodeError) Unwrap() error { return e.Cause }

// TimeoutError reports that a node exceeded its configured timeout. It is
// kept distinct from NodeError so retry policies can tune backoff for
// slow dependencies separately from hard failures.
type TimeoutError struct {
	Node    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %v", e.Node, e.Timeout)
}

// ConflictError reports that concurrent fan-out branches wrote different
// values to the same field. It indicates a graph design defect and is
// never retried.
type ConflictError struct {
	Field string
	Left  any
	Right any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state conflict on field %q: %v != %v", e.Field, e.Left, e.Right)
}

// ContractError reports that a node violated its state contract, either
// by writing a field outside its declared write set or by dropping a
// field that was present in its input.
type ContractError struct {
	Node    string
	Field   string
	Deleted bool
}

func (e *ContractError) Error() string {
	if e.Deleted {
		return fmt.Sprintf("node %s deleted field %q", e.Node, e.Field)
	}
	return fmt.Sprintf("node %s wrote undeclared field %q", e.Node, e.Field)
}

// ErrStepBudgetExceeded aborts a Run that reached MaxTotalSteps. It is
// the hard backstop on top of per-cycle iteration ceilings.
var ErrStepBudgetExceeded = errors.New("run exceeded maximum total steps")

// RunError wraps any error that aborted a Run. It carries the traversal
// log up to the failure so callers always get a causal trace, never a
// silently truncated result.
type RunError struct {
	RunID string
	Node  string
	Cause error
	Trace []TraceEntry
}

func (e *RunError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("run %s failed at node %s: %v", e.RunID, e.Node, e.Cause)
	}
	return fmt.Sprintf("run %s failed: %v", e.RunID, e.Cause)
}

func (e *RunError) Unwrap() error { return e.Cause }
