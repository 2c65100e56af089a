package flow

import "fmt"

// SelectionPolicy chooses which state a quality gate passes forward when
// its iteration ceiling is exhausted before the score threshold is met.
type SelectionPolicy int

const (
	// SelectLast forwards the most recently produced state.
	SelectLast SelectionPolicy = iota

	// SelectBest forwards the best-scoring state seen across iterations.
	// Comparison is strict greater-than; the first state seen wins ties.
	SelectBest
)

// QualityGate is the loop controller for evaluator-optimizer cycles.
//
// A gate attaches to the node that produces the score (the evaluator).
// After each execution of that node the scheduler increments the gate's
// iteration counter in state, then routes:
//
//	Generate -> Evaluate -> {Accept | Improve}; Improve -> Evaluate
//
// The accept edge is taken when the score meets Threshold OR the
// iteration count reaches MaxIterations; the retry edge is taken
// otherwise. The two outcomes are exhaustive by construction, and the
// bounded counter is what lets Build prove the cycle terminates.
type QualityGate struct {
	// ScoreField is the numeric state field the evaluator writes.
	ScoreField string

	// IterationField is the counter the scheduler increments after each
	// evaluation. The gate owns this field; nodes must not write it.
	IterationField string

	// Threshold is the minimum score that accepts immediately.
	Threshold float64

	// MaxIterations is the evaluation ceiling. Must be >= 1.
	MaxIterations int

	// Selection picks the forwarded state on ceiling exhaustion.
	Selection SelectionPolicy
}

// Validate checks the gate configuration.
func (g *QualityGate) Validate() error {
	if g.ScoreField == "" {
		return &ValidationError{Code: CodeInvalidGate, Message: "quality gate requires a score field"}
	}
	if g.IterationField == "" {
		return &ValidationError{Code: CodeInvalidGate, Message: "quality gate requires an iteration field"}
	}
	if g.MaxIterations < 1 {
		return &ValidationError{Code: CodeInvalidGate, Message: fmt.Sprintf("max iterations must be >= 1, got %d", g.MaxIterations)}
	}
	return nil
}

// Passed reports whether the state's score meets the threshold.
func (g *QualityGate) Passed(st State) bool {
	score, ok := st.GetFloat(g.ScoreField)
	return ok && score >= g.Threshold
}

// Exhausted reports whether the state's iteration count reached the
// ceiling.
func (g *QualityGate) Exhausted(st State) bool {
	iter, _ := st.GetInt(g.IterationField)
	return iter >= g.MaxIterations
}

// Accepts reports whether the gate routes to its accept edge: threshold
// met or ceiling reached.
func (g *QualityGate) Accepts(st State) bool {
	return g.Passed(st) || g.Exhausted(st)
}

// gateRoute pairs a gate with its two targets. Built by AddQualityGate.
type gateRoute struct {
	gate   *QualityGate
	accept string
	retry  string
}

// gateTrack is the per-run best-state memory for one gate.
type gateTrack struct {
	seen  bool
	score float64
	state State
}

// observe records a scored state, keeping the strictly best one.
func (t *gateTrack) observe(score float64, st State) {
	if !t.seen || score > t.score {
		t.seen = true
		t.score = score
		t.state = st
	}
}
