package flow

// Predicate evaluates state to decide whether a conditional edge should
// be traversed. Predicates must be pure: deterministic, no side effects.
//
// Common patterns:
//   - threshold: st.GetFloat("score") returns >= 0.8
//   - presence: st.GetString("review") != ""
//   - tagged routing decision: st.GetString("route") == "security"
type Predicate func(state State) bool

// Edge is a directed connection between two nodes.
//
// An edge is unconditional when When is nil and Default is false. A node
// may have any number of conditional edges, evaluated in declaration
// order; the first matching edge wins. A branching node must also carry
// exactly one Default edge so some route always matches. Build rejects
// the graph otherwise.
type Edge struct {
	// From is the source node name.
	From string

	// To is the destination node name.
	To string

	// When guards a conditional edge. Nil means unconditional.
	When Predicate

	// Default marks the fallback edge taken when no conditional edge
	// matches. A Default edge never has a guard.
	Default bool
}

// conditional reports whether this edge participates in guard evaluation.
func (e Edge) conditional() bool {
	return e.When != nil
}
