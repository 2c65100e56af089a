package flow

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TraceEntry records one node execution attempt. Retries of the same
// scheduler step share a Step number and differ by Attempt.
type TraceEntry struct {
	Step     int           `json:"step"`
	Node     string        `json:"node"`
	Branch   string        `json:"branch,omitempty"`
	Attempt  int           `json:"attempt"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"err,omitempty"`
}

// run carries the mutable bookkeeping of a single graph execution:
// step budget, trace, per-gate iteration tracking, and the most recent
// approved snapshot for rollback.
type run struct {
	id    string
	graph *Graph

	steps atomic.Int64

	mu           sync.Mutex
	trace        []TraceEntry
	gates        map[string]*gateTrack
	iterations   map[string]int
	lastApproved *approvedState
}

// approvedState is the rollback target: the state as it stood when an
// approval decision last accepted it.
type approvedState struct {
	step  int
	node  string
	state State
}

func newRun(id string, g *Graph) *run {
	return &run{
		id:         id,
		graph:      g,
		gates:      make(map[string]*gateTrack),
		iterations: make(map[string]int),
	}
}

// nextStep claims a step from the budget, returning the claimed step
// number and whether the budget still allows it.
func (r *run) nextStep(budget int64) (int, bool) {
	n := r.steps.Add(1)
	return int(n), n <= budget
}

func (r *run) addTrace(e TraceEntry) {
	r.mu.Lock()
	r.trace = append(r.trace, e)
	r.mu.Unlock()
}

// Trace returns a copy of the trace ordered by step then attempt.
// Concurrent branches append out of order; sorting restores the causal
// sequence.
func (r *run) Trace() []TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEntry, len(r.trace))
	copy(out, r.trace)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out
}

// bumpIteration increments and returns the loop counter for a gate
// source node.
func (r *run) bumpIteration(node string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations[node]++
	return r.iterations[node]
}

func (r *run) setIteration(node string, n int) {
	r.mu.Lock()
	r.iterations[node] = n
	r.mu.Unlock()
}

// iterationsCopy snapshots the loop counters for checkpointing.
func (r *run) iterationsCopy() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.iterations))
	for k, v := range r.iterations {
		out[k] = v
	}
	return out
}

// track returns the best-candidate tracker for a gate source, creating
// it on first use.
func (r *run) track(node string) *gateTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.gates[node]
	if !ok {
		t = &gateTrack{}
		r.gates[node] = t
	}
	return t
}

func (r *run) markApproved(step int, node string, st State) {
	r.mu.Lock()
	r.lastApproved = &approvedState{step: step, node: node, state: st}
	r.mu.Unlock()
}

func (r *run) approved() *approvedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApproved
}

// failureState picks the state reported alongside a run failure: the
// last approved state when one exists, otherwise the supplied
// pre-failure state.
func (r *run) failureState(pre State) State {
	if a := r.approved(); a != nil {
		return a.state
	}
	return pre
}
