package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/flowgraph/flow/emit"
	"github.com/flowgraph/flowgraph/flow/store"
)

// DefaultMaxTotalSteps is the step budget applied when WithMaxTotalSteps
// is not set. It is a hard ceiling on node executions per run, counting
// every retry and every fan-out branch step.
const DefaultMaxTotalSteps = 1000

// Scheduler executes validated graphs. It owns the run loop: claiming
// steps from the budget, invoking nodes with their timeout, retry, and
// approval policies, dispatching fan-outs, merging branch deltas,
// driving quality gates, and persisting snapshots after every step.
//
// A Scheduler is immutable after construction and safe for concurrent
// Runs of the same or different graphs.
type Scheduler struct {
	cfg schedulerConfig
}

// NewScheduler builds a scheduler from options. With no options the
// scheduler runs in-memory: no emitter, no store, no metrics, fail-fast
// fan-outs, and a budget of DefaultMaxTotalSteps.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg := schedulerConfig{
		maxTotalSteps: DefaultMaxTotalSteps,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("scheduler option: %w", err)
		}
	}
	return &Scheduler{cfg: cfg}, nil
}

// Result is the outcome of a run. On failure State holds the last
// known-good state: the most recently approved snapshot if the run ever
// passed an approval, otherwise the state before the failing node.
type Result struct {
	RunID string
	State State
	Steps int
	Trace []TraceEntry
}

// Run executes the graph from its entry node with a generated run ID.
func (s *Scheduler) Run(ctx context.Context, g *Graph, initial State) (Result, error) {
	return s.RunWithID(ctx, g, uuid.NewString(), initial)
}

// RunWithID executes the graph under a caller-chosen run ID, which keys
// snapshots, events, and resume.
func (s *Scheduler) RunWithID(ctx context.Context, g *Graph, runID string, initial State) (Result, error) {
	r := newRun(runID, g)
	s.emit(emit.Event{RunID: runID, Msg: "run started", Meta: map[string]interface{}{
		"graph": g.Name(),
		"entry": g.Entry(),
	}})
	final, err := s.walk(ctx, g, r, g.Entry(), initial, "", "")
	return s.finish(g, r, final, err)
}

// Resume continues a run from its latest persisted snapshot. The node
// recorded in the snapshot has already executed; Resume re-applies the
// routing decision from its state and walks on from there. Snapshots
// are taken on the main line only, so a run that failed inside a
// fan-out re-dispatches all of its branches.
func (s *Scheduler) Resume(ctx context.Context, g *Graph, runID string) (Result, error) {
	if s.cfg.store == nil {
		return Result{}, fmt.Errorf("resume requires a store")
	}
	snap, err := s.cfg.store.LoadLatest(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("load snapshot for run %s: %w", runID, err)
	}
	var st State
	if err := st.UnmarshalJSON(snap.State); err != nil {
		return Result{}, fmt.Errorf("decode snapshot state for run %s: %w", runID, err)
	}

	r := newRun(runID, g)
	r.steps.Store(int64(snap.Step))
	for node, n := range snap.Iterations {
		r.setIteration(node, n)
	}
	// Gate best-candidate tracking does not survive a restart; re-seed it
	// with the snapshot state so SelectBest has at least this candidate.
	if gr, ok := g.gates[snap.NodeID]; ok {
		if score, found := st.GetFloat(gr.gate.ScoreField); found {
			r.track(snap.NodeID).observe(score, st)
		}
	}
	s.emit(emit.Event{RunID: runID, Step: snap.Step, NodeID: snap.NodeID, Msg: "run resumed", Meta: map[string]interface{}{
		"graph": g.Name(),
	}})

	next, st2, done, err := s.advance(ctx, g, r, snap.NodeID, st, "")
	if err != nil {
		return s.finish(g, r, st, err)
	}
	if done {
		return s.finish(g, r, st2, nil)
	}
	final, err := s.walk(ctx, g, r, next, st2, "", "")
	return s.finish(g, r, final, err)
}

// finish assembles the Result and, on error, the RunError carrying the
// full trace and the last known-good state.
func (s *Scheduler) finish(g *Graph, r *run, final State, err error) (Result, error) {
	res := Result{
		RunID: r.id,
		State: final,
		Steps: int(r.steps.Load()),
		Trace: r.Trace(),
	}
	if err == nil {
		s.cfg.metrics.runFinished(g.Name(), "completed")
		s.emit(emit.Event{RunID: r.id, Msg: "run completed", Meta: map[string]interface{}{
			"graph": g.Name(),
			"steps": res.Steps,
		}})
		return res, nil
	}

	res.State = r.failureState(final)
	re := &RunError{RunID: r.id, Cause: err, Trace: res.Trace}
	var ne *NodeError
	var te *TimeoutError
	switch {
	case errors.As(err, &ne):
		re.Node = ne.Node
	case errors.As(err, &te):
		re.Node = te.Node
	}
	status := "failed"
	if errors.Is(err, ErrStepBudgetExceeded) {
		status = "budget_exceeded"
	}
	s.cfg.metrics.runFinished(g.Name(), status)
	s.emit(emit.Event{RunID: r.id, NodeID: re.Node, Msg: "run failed", Meta: map[string]interface{}{
		"graph": g.Name(),
		"error": err.Error(),
	}})
	return res, re
}

// walk executes nodes from nodeID until a terminal node, the stopAt
// node (exclusive, used for fan-out branches converging on a join), or
// an error. It returns the state at the stopping point; on error it
// returns the state from before the failing step.
func (s *Scheduler) walk(ctx context.Context, g *Graph, r *run, nodeID string, st State, branch, stopAt string) (State, error) {
	cur := nodeID
	for {
		if stopAt != "" && cur == stopAt {
			return st, nil
		}
		out, err := s.step(ctx, g, r, cur, st, branch)
		if err != nil {
			return st, err
		}
		next, out2, done, err := s.advance(ctx, g, r, cur, out, branch)
		if err != nil {
			return out, err
		}
		if done {
			return out2, nil
		}
		cur, st = next, out2
	}
}

// step claims a step from the budget, executes one node with its
// policies, applies gate iteration bookkeeping, and persists a snapshot.
func (s *Scheduler) step(ctx context.Context, g *Graph, r *run, nodeID string, st State, branch string) (State, error) {
	step, ok := r.nextStep(s.cfg.maxTotalSteps)
	if !ok {
		return st, fmt.Errorf("at node %s: %w", nodeID, ErrStepBudgetExceeded)
	}

	out, err := s.executeNode(ctx, g, r, step, nodeID, st, branch)
	if err != nil {
		return st, err
	}

	if gr, ok := g.gates[nodeID]; ok {
		iter := r.bumpIteration(nodeID)
		out = out.WithField(gr.gate.IterationField, iter)
		if score, found := out.GetFloat(gr.gate.ScoreField); found {
			r.track(nodeID).observe(score, out)
			s.cfg.metrics.gateIteration(nodeID)
		}
	}

	// Branch steps are never persisted: a branch state lacks its
	// siblings' writes until the join, so it is not a resumable
	// position. A run that fails inside a fan-out resumes from the
	// pre-fan-out snapshot and re-dispatches every branch.
	if branch == "" {
		if err := s.saveStep(ctx, g, r, step, nodeID, out); err != nil {
			return st, err
		}
	}
	return out, nil
}

// advance applies the routing decision for a node that has just
// executed: halt at terminals, dispatch fan-outs, consult gates, or
// evaluate edges in declaration order.
func (s *Scheduler) advance(ctx context.Context, g *Graph, r *run, cur string, st State, branch string) (next string, out State, done bool, err error) {
	if g.IsTerminal(cur) {
		return "", st, true, nil
	}
	if fo, ok := g.fanOuts[cur]; ok {
		merged, err := s.runFanOut(ctx, g, r, fo, st)
		if err != nil {
			return "", st, false, err
		}
		return fo.Join, merged, false, nil
	}
	if gr, ok := g.gates[cur]; ok {
		next, st = s.gateNext(g, r, cur, gr, st)
		return next, st, false, nil
	}
	next, err = s.route(g, cur, st)
	if err != nil {
		return "", st, false, err
	}
	return next, st, false, nil
}

// route evaluates a node's edges: conditional guards in declaration
// order, first match wins, default edge as the fallback.
func (s *Scheduler) route(g *Graph, cur string, st State) (string, error) {
	var fallback string
	hasFallback := false
	for _, e := range g.edgesFrom[cur] {
		switch {
		case e.conditional():
			if e.When(st) {
				return e.To, nil
			}
		case e.Default:
			fallback = e.To
			hasFallback = true
		default:
			return e.To, nil
		}
	}
	if hasFallback {
		return fallback, nil
	}
	return "", &ValidationError{Code: CodeNoRoute, Node: cur, Message: "no edge matched"}
}

// gateNext applies the quality gate decision for a node that just
// produced a score. Accept when the threshold is met; when iterations
// are exhausted accept anyway, substituting the best-scoring candidate
// if the gate selects by best. Otherwise loop back through the retry
// target.
func (s *Scheduler) gateNext(g *Graph, r *run, cur string, gr *gateRoute, st State) (string, State) {
	gate := gr.gate
	score, _ := st.GetFloat(gate.ScoreField)
	iter, _ := st.GetInt(gate.IterationField)

	switch {
	case gate.Passed(st):
		s.emit(emit.Event{RunID: r.id, NodeID: cur, Msg: "gate accepted", Meta: map[string]interface{}{
			"score": score, "iteration": iter,
		}})
		return gr.accept, st
	case gate.Exhausted(st):
		if gate.Selection == SelectBest {
			if t := r.track(cur); t.seen {
				st = t.state
				score = t.score
			}
		}
		s.emit(emit.Event{RunID: r.id, NodeID: cur, Msg: "gate exhausted", Meta: map[string]interface{}{
			"score": score, "iteration": iter, "selection": gate.Selection == SelectBest,
		}})
		return gr.accept, st
	default:
		s.emit(emit.Event{RunID: r.id, NodeID: cur, Msg: "gate retrying", Meta: map[string]interface{}{
			"score": score, "iteration": iter,
		}})
		return gr.retry, st
	}
}

// runFanOut dispatches the branches of a fan-out concurrently, each on
// its own copy of the state, waits for all of them, and merges their
// deltas into the pre-fan-out state. Each branch's delta is computed
// against that branch's own seed, so per-branch scratch fields written
// at seeding time do not register as conflicting writes.
func (s *Scheduler) runFanOut(ctx context.Context, g *Graph, r *run, fo *fanOut, base State) (State, error) {
	var seeds []State
	var starts, names []string
	if fo.dynamic() {
		for i, seed := range fo.Expand(base) {
			seeds = append(seeds, seed)
			starts = append(starts, fo.Worker)
			names = append(names, fmt.Sprintf("%s#%d", fo.Worker, i))
		}
	} else {
		for _, br := range fo.Branches {
			seeds = append(seeds, base)
			starts = append(starts, br)
			names = append(names, br)
		}
	}
	if len(seeds) == 0 {
		return base, nil
	}

	s.emit(emit.Event{RunID: r.id, NodeID: fo.From, Msg: "fan-out dispatched", Meta: map[string]interface{}{
		"branches": len(seeds), "join": fo.Join,
	}})
	s.cfg.metrics.branchesInflight(g.Name(), len(seeds))
	defer s.cfg.metrics.branchesInflight(g.Name(), -len(seeds))

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]State, len(seeds))
	errs := make([]error, len(seeds))
	done := make(chan int, len(seeds))
	for i := range seeds {
		go func(i int) {
			defer func() { done <- i }()
			out, err := s.walk(branchCtx, g, r, starts[i], seeds[i], names[i], fo.Join)
			if err != nil {
				errs[i] = err
				if s.cfg.branchPolicy == FailFast {
					cancel()
				}
				return
			}
			results[i] = out
		}(i)
	}
	for range seeds {
		<-done
	}

	if s.cfg.branchPolicy == FailFast {
		if err := firstBranchError(errs); err != nil {
			return base, err
		}
	}
	return s.mergeBranches(r, fo, base, seeds, results, errs, names)
}

// firstBranchError picks the error to report from a fail-fast fan-out,
// preferring a real failure over the cancellations it triggered in
// sibling branches.
func firstBranchError(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}

// mergeBranches folds each surviving branch's delta into the base state
// in branch declaration order. Two branches writing different values to
// the same field is a ConflictError; identical values merge cleanly.
// Under ContinueOnFailure, failed branches contribute nothing and their
// errors are recorded under the "branch_failures" field.
func (s *Scheduler) mergeBranches(r *run, fo *fanOut, base State, seeds, results []State, errs []error, names []string) (State, error) {
	merged := base
	writtenBy := make(map[string]mergedField)
	failures := map[string]string{}
	for i := range results {
		if errs[i] != nil {
			failures[names[i]] = errs[i].Error()
			continue
		}
		for _, f := range results[i].Changed(seeds[i]) {
			if prev, ok := writtenBy[f.Name]; ok {
				if !jsonEqual(prev.value, f.Value) {
					s.cfg.metrics.mergeConflict(fo.From)
					return base, &ConflictError{Field: f.Name, Left: prev.value, Right: f.Value}
				}
				continue
			}
			writtenBy[f.Name] = mergedField{branch: names[i], value: f.Value}
			merged = merged.WithField(f.Name, f.Value)
		}
	}
	if len(failures) > 0 {
		merged = merged.WithField("branch_failures", failures)
		s.emit(emit.Event{RunID: r.id, NodeID: fo.From, Msg: "fan-out branches failed", Meta: map[string]interface{}{
			"failed": len(failures),
		}})
	}
	return merged, nil
}

type mergedField struct {
	branch string
	value  any
}

// executeNode runs a single node with its timeout, retry, and approval
// policies, recording one trace entry per attempt.
func (s *Scheduler) executeNode(ctx context.Context, g *Graph, r *run, step int, nodeID string, st State, branch string) (State, error) {
	spec, ok := g.registry.Spec(nodeID)
	if !ok {
		return st, &ValidationError{Code: CodeUnknownNode, Node: nodeID, Message: "node not registered"}
	}

	var rp *RetryPolicy
	if spec.Policy != nil {
		rp = spec.Policy.Retry
	}
	maxAttempts := 1
	if rp != nil {
		maxAttempts = rp.MaxAttempts
	}

	var out State
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		s.emit(emit.Event{RunID: r.id, Step: step, NodeID: nodeID, Msg: "node started", Meta: map[string]interface{}{
			"attempt": attempt + 1, "branch": branch,
		}})
		out, err = g.registry.invoke(ctx, nodeID, st, s.cfg.defaultTimeout)
		elapsed := time.Since(start)

		entry := TraceEntry{
			Step:     step,
			Node:     nodeID,
			Branch:   branch,
			Attempt:  attempt + 1,
			Start:    start,
			Duration: elapsed,
		}
		if err != nil {
			entry.Err = err.Error()
		}
		r.addTrace(entry)
		s.cfg.metrics.nodeExecuted(nodeID, elapsed, err == nil)

		if err == nil {
			break
		}
		if ctx.Err() != nil || attempt+1 >= maxAttempts || rp == nil || !rp.shouldRetry(err) {
			s.emit(emit.Event{RunID: r.id, Step: step, NodeID: nodeID, Msg: "node failed", Meta: map[string]interface{}{
				"attempt": attempt + 1, "error": err.Error(),
			}})
			return st, err
		}

		delay := computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay)
		s.cfg.metrics.nodeRetried(nodeID)
		s.emit(emit.Event{RunID: r.id, Step: step, NodeID: nodeID, Msg: "node retrying", Meta: map[string]interface{}{
			"attempt": attempt + 1, "delay_ms": delay.Milliseconds(), "error": err.Error(),
		}})
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(delay):
		}
	}

	s.emit(emit.Event{RunID: r.id, Step: step, NodeID: nodeID, Msg: "node completed", Meta: map[string]interface{}{
		"branch": branch,
	}})

	if spec.Policy != nil && spec.Policy.Approval != nil {
		return s.requestApproval(ctx, r, step, nodeID, spec.Policy.Approval, out)
	}
	return out, nil
}

// requestApproval consults the node's approval provider (or the
// scheduler-wide one), writes the decision into the state, and records
// an approved state as the rollback target.
func (s *Scheduler) requestApproval(ctx context.Context, r *run, step int, nodeID string, ap *ApprovalPolicy, st State) (State, error) {
	provider := ap.Provider
	if provider == nil {
		provider = s.cfg.approvals
	}
	if provider == nil {
		return st, &NodeError{Node: nodeID, Cause: errors.New("approval required but no provider configured")}
	}

	summary := "approve output of node " + nodeID
	if ap.Summary != nil {
		summary = ap.Summary(st)
	}
	approved, err := provider.RequestApproval(ctx, summary)
	if err != nil {
		return st, &NodeError{Node: nodeID, Cause: fmt.Errorf("approval request: %w", err)}
	}

	st = st.WithField(ap.decisionField(), approved)
	s.emit(emit.Event{RunID: r.id, Step: step, NodeID: nodeID, Msg: "approval decided", Meta: map[string]interface{}{
		"approved": approved,
	}})
	if approved {
		r.markApproved(step, nodeID, st)
	}
	return st, nil
}

// saveStep persists a snapshot of the run after a completed step.
func (s *Scheduler) saveStep(ctx context.Context, g *Graph, r *run, step int, nodeID string, st State) error {
	if s.cfg.store == nil {
		return nil
	}
	raw, err := st.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode state for snapshot: %w", err)
	}
	a := r.approved()
	snap := store.Snapshot{
		RunID:      r.id,
		GraphName:  g.Name(),
		Step:       step,
		NodeID:     nodeID,
		State:      raw,
		Iterations: r.iterationsCopy(),
		Approved:   a != nil && a.step == step,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.cfg.store.SaveStep(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot at step %d: %w", step, err)
	}
	return nil
}

// Checkpoint persists a labeled snapshot of the given run's latest
// state, independent of the per-step history.
func (s *Scheduler) Checkpoint(ctx context.Context, runID, label string) error {
	if s.cfg.store == nil {
		return fmt.Errorf("checkpoint requires a store")
	}
	snap, err := s.cfg.store.LoadLatest(ctx, runID)
	if err != nil {
		return fmt.Errorf("load snapshot for run %s: %w", runID, err)
	}
	if err := s.cfg.store.SaveCheckpoint(ctx, label, snap); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", label, err)
	}
	return nil
}

func (s *Scheduler) emit(ev emit.Event) {
	if s.cfg.emitter != nil {
		s.cfg.emitter.Emit(ev)
	}
}
