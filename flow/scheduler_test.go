package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/flowgraph/flowgraph/flow/store"
)

func setSpec(field string, value any) NodeSpec {
	return NodeSpec{
		Writes: []string{field},
		Fn: func(ctx context.Context, st State) (State, error) {
			return st.WithField(field, value), nil
		},
	}
}

func mustBuild(t *testing.T, b *Builder) *Graph {
	t.Helper()
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func mustScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := NewScheduler(opts...)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestRunLinearGraph(t *testing.T) {
	g := mustBuild(t, NewGraph("linear").
		AddNode("a", setSpec("a_out", "A")).
		AddNode("b", setSpec("b_out", "B")).
		AddNode("c", setSpec("c_out", "C")).
		SetEntry("a").
		AddEdge("a", "b").AddEdge("b", "c").
		MarkTerminal("c"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 3 {
		t.Errorf("Steps = %d, want 3", res.Steps)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	for _, f := range []string{"a_out", "b_out", "c_out"} {
		if res.State.GetString(f) == "" {
			t.Errorf("field %q missing", f)
		}
	}
	if len(res.Trace) != 3 {
		t.Fatalf("trace length = %d, want 3", len(res.Trace))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, e := range res.Trace {
		if e.Node != wantOrder[i] || e.Step != i+1 || e.Attempt != 1 {
			t.Errorf("trace[%d] = %+v, want node %s step %d", i, e, wantOrder[i], i+1)
		}
	}
}

func TestRunConditionalRouting(t *testing.T) {
	build := func() *Graph {
		return mustBuild(t, NewGraph("route").
			AddNode("decide", noopSpec()).
			AddNode("high", setSpec("path", "high")).
			AddNode("low", setSpec("path", "low")).
			SetEntry("decide").
			AddConditionalEdge("decide", "high", func(st State) bool {
				n, _ := st.GetFloat("n")
				return n > 10
			}).
			AddDefaultEdge("decide", "low").
			MarkTerminal("high").MarkTerminal("low"))
	}

	tests := []struct {
		n    float64
		want string
	}{
		{42, "high"},
		{3, "low"},
	}
	for _, tt := range tests {
		res, err := mustScheduler(t).Run(context.Background(), build(), NewState().WithField("n", tt.n))
		if err != nil {
			t.Fatalf("Run(n=%v): %v", tt.n, err)
		}
		if got := res.State.GetString("path"); got != tt.want {
			t.Errorf("n=%v: path = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestRunFanOutMergesDisjointWrites(t *testing.T) {
	g := mustBuild(t, NewGraph("fan").
		AddNode("split", setSpec("base", "shared")).
		AddNode("one", setSpec("one_out", "1")).
		AddNode("two", setSpec("two_out", "2")).
		AddNode("three", setSpec("three_out", "3")).
		AddNode("join", setSpec("combined", true)).
		SetEntry("split").
		AddFanOut("split", []string{"one", "two", "three"}, "join").
		AddEdge("one", "join").AddEdge("two", "join").AddEdge("three", "join").
		MarkTerminal("join"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// split + 3 branches + join
	if res.Steps != 5 {
		t.Errorf("Steps = %d, want 5", res.Steps)
	}
	for _, f := range []string{"base", "one_out", "two_out", "three_out", "combined"} {
		if _, ok := res.State.Get(f); !ok {
			t.Errorf("merged state missing %q", f)
		}
	}
}

func TestRunDynamicFanOut(t *testing.T) {
	expand := func(st State) []State {
		var seeds []State
		for i, task := range st.GetStringSlice("tasks") {
			seeds = append(seeds, st.WithFields(map[string]any{"task": task, "idx": i}))
		}
		return seeds
	}
	worker := NodeSpec{
		Writes: []string{"done:*"},
		Fn: func(ctx context.Context, st State) (State, error) {
			idx, _ := st.GetInt("idx")
			return st.WithField(fmt.Sprintf("done:%d", idx), st.GetString("task")), nil
		},
	}
	g := mustBuild(t, NewGraph("dyn").
		AddNode("plan", noopSpec()).
		AddNode("worker", worker).
		AddNode("join", noopSpec()).
		SetEntry("plan").
		AddDynamicFanOut("plan", "worker", "join", expand).
		MarkTerminal("join"))

	res, err := mustScheduler(t).Run(context.Background(), g,
		NewState().WithField("tasks", []string{"x", "y", "z"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, want := range []string{"x", "y", "z"} {
		if got := res.State.GetString(fmt.Sprintf("done:%d", i)); got != want {
			t.Errorf("done:%d = %q, want %q", i, got, want)
		}
	}
	// Per-branch scratch fields stay out of the merged state.
	if _, ok := res.State.Get("task"); ok {
		t.Error("seed scratch field leaked into merged state")
	}
}

func TestRunDynamicFanOutEmptyExpandSkipsToJoin(t *testing.T) {
	g := mustBuild(t, NewGraph("dyn").
		AddNode("plan", noopSpec()).
		AddNode("worker", noopSpec()).
		AddNode("join", setSpec("joined", true)).
		SetEntry("plan").
		AddDynamicFanOut("plan", "worker", "join", func(State) []State { return nil }).
		MarkTerminal("join"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 2 {
		t.Errorf("Steps = %d, want 2 (plan and join only)", res.Steps)
	}
	if !res.State.GetBool("joined") {
		t.Error("join did not run")
	}
}

func TestRunFanOutConflict(t *testing.T) {
	// Workers write the same field with per-seed values; the conflict is
	// only detectable at fan-in.
	worker := NodeSpec{
		Writes: []string{"winner"},
		Fn: func(ctx context.Context, st State) (State, error) {
			return st.WithField("winner", st.GetString("name")), nil
		},
	}
	expand := func(st State) []State {
		return []State{
			st.WithField("name", "first"),
			st.WithField("name", "second"),
		}
	}
	g := mustBuild(t, NewGraph("conflict").
		AddNode("plan", noopSpec()).
		AddNode("worker", worker).
		AddNode("join", noopSpec()).
		SetEntry("plan").
		AddDynamicFanOut("plan", "worker", "join", expand).
		MarkTerminal("join"))

	_, err := mustScheduler(t).Run(context.Background(), g, NewState())
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if conflict.Field != "winner" {
		t.Errorf("conflict field = %q, want winner", conflict.Field)
	}
}

func TestRunFanOutIdenticalWritesMergeCleanly(t *testing.T) {
	worker := NodeSpec{
		Writes: []string{"verdict"},
		Fn: func(ctx context.Context, st State) (State, error) {
			return st.WithField("verdict", "agree"), nil
		},
	}
	expand := func(st State) []State {
		return []State{st.WithField("n", 1), st.WithField("n", 2)}
	}
	g := mustBuild(t, NewGraph("agree").
		AddNode("plan", noopSpec()).
		AddNode("worker", worker).
		AddNode("join", noopSpec()).
		SetEntry("plan").
		AddDynamicFanOut("plan", "worker", "join", expand).
		MarkTerminal("join"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.State.GetString("verdict"); got != "agree" {
		t.Errorf("verdict = %q", got)
	}
}

func TestRunFanOutFailFast(t *testing.T) {
	boom := errors.New("boom")
	g := mustBuild(t, NewGraph("failfast").
		AddNode("split", noopSpec()).
		AddNode("ok", setSpec("ok_out", "fine")).
		AddNode("bad", NodeSpec{
			Writes: []string{"bad_out"},
			Fn: func(ctx context.Context, st State) (State, error) {
				return st, boom
			},
		}).
		AddNode("join", noopSpec()).
		SetEntry("split").
		AddFanOut("split", []string{"ok", "bad"}, "join").
		AddEdge("ok", "join").AddEdge("bad", "join").
		MarkTerminal("join"))

	_, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RunError", err)
	}
	if re.Node != "bad" {
		t.Errorf("RunError.Node = %q, want bad", re.Node)
	}
}

func TestRunFanOutContinueOnFailure(t *testing.T) {
	g := mustBuild(t, NewGraph("continue").
		AddNode("split", noopSpec()).
		AddNode("ok", setSpec("ok_out", "fine")).
		AddNode("bad", NodeSpec{
			Writes: []string{"bad_out"},
			Fn: func(ctx context.Context, st State) (State, error) {
				return st, errors.New("branch exploded")
			},
		}).
		AddNode("join", noopSpec()).
		SetEntry("split").
		AddFanOut("split", []string{"ok", "bad"}, "join").
		AddEdge("ok", "join").AddEdge("bad", "join").
		MarkTerminal("join"))

	res, err := mustScheduler(t, WithBranchFailurePolicy(ContinueOnFailure)).
		Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.State.GetString("ok_out"); got != "fine" {
		t.Errorf("ok_out = %q", got)
	}
	failures, ok := res.State.Get("branch_failures")
	if !ok {
		t.Fatal("branch_failures not recorded")
	}
	// The join node's deep-copied input decodes the map as map[string]any.
	m, ok := failures.(map[string]any)
	if !ok {
		t.Fatalf("branch_failures = %T(%v)", failures, failures)
	}
	msg, _ := m["bad"].(string)
	if !strings.Contains(msg, "branch exploded") {
		t.Errorf("branch_failures[bad] = %q", msg)
	}
}

func TestRunStepBudget(t *testing.T) {
	g := mustBuild(t, NewGraph("long").
		AddNode("a", noopSpec()).
		AddNode("b", noopSpec()).
		AddNode("c", noopSpec()).
		SetEntry("a").
		AddEdge("a", "b").AddEdge("b", "c").
		MarkTerminal("c"))

	_, err := mustScheduler(t, WithMaxTotalSteps(2)).Run(context.Background(), g, NewState())
	if !errors.Is(err, ErrStepBudgetExceeded) {
		t.Fatalf("err = %v, want ErrStepBudgetExceeded", err)
	}
}

func TestRunGateLoopAcceptsAtThreshold(t *testing.T) {
	attempt := 0
	gen := NodeSpec{
		Writes: []string{"code"},
		Fn: func(ctx context.Context, st State) (State, error) {
			attempt++
			return st.WithField("code", fmt.Sprintf("v%d", attempt)), nil
		},
	}
	scores := []float64{4, 9}
	eval := NodeSpec{
		Reads:  []string{"code"},
		Writes: []string{"score"},
		Fn: func(ctx context.Context, st State) (State, error) {
			iter, _ := st.GetInt("iter")
			return st.WithField("score", scores[iter]), nil
		},
	}
	g := mustBuild(t, NewGraph("loop").
		AddNode("gen", gen).
		AddNode("eval", eval).
		AddNode("done", noopSpec()).
		SetEntry("gen").
		AddEdge("gen", "eval").
		AddQualityGate("eval", &QualityGate{
			ScoreField: "score", IterationField: "iter",
			Threshold: 7, MaxIterations: 5,
		}, "done", "gen").
		MarkTerminal("done"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.State.GetString("code"); got != "v2" {
		t.Errorf("code = %q, want v2", got)
	}
	if iter, _ := res.State.GetInt("iter"); iter != 2 {
		t.Errorf("iter = %d, want 2", iter)
	}
	// gen, eval, gen, eval, done
	if res.Steps != 5 {
		t.Errorf("Steps = %d, want 5", res.Steps)
	}
}

func TestRunGateExhaustionSelectBest(t *testing.T) {
	attempt := 0
	gen := NodeSpec{
		Writes: []string{"code"},
		Fn: func(ctx context.Context, st State) (State, error) {
			attempt++
			return st.WithField("code", fmt.Sprintf("v%d", attempt)), nil
		},
	}
	scores := []float64{3, 6, 5}
	eval := NodeSpec{
		Reads:  []string{"code"},
		Writes: []string{"score"},
		Fn: func(ctx context.Context, st State) (State, error) {
			iter, _ := st.GetInt("iter")
			return st.WithField("score", scores[iter]), nil
		},
	}
	g := mustBuild(t, NewGraph("loop").
		AddNode("gen", gen).
		AddNode("eval", eval).
		AddNode("done", noopSpec()).
		SetEntry("gen").
		AddEdge("gen", "eval").
		AddQualityGate("eval", &QualityGate{
			ScoreField: "score", IterationField: "iter",
			Threshold: 7, MaxIterations: 3, Selection: SelectBest,
		}, "done", "gen").
		MarkTerminal("done"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The second candidate scored best; exhaustion forwards it, not the
	// latest one.
	if got := res.State.GetString("code"); got != "v2" {
		t.Errorf("code = %q, want v2", got)
	}
	if score, _ := res.State.GetFloat("score"); score != 6 {
		t.Errorf("score = %v, want 6", score)
	}
}

func TestRunGateExhaustionSelectLast(t *testing.T) {
	attempt := 0
	gen := NodeSpec{
		Writes: []string{"code"},
		Fn: func(ctx context.Context, st State) (State, error) {
			attempt++
			return st.WithField("code", fmt.Sprintf("v%d", attempt)), nil
		},
	}
	scores := []float64{3, 6, 5}
	eval := NodeSpec{
		Reads:  []string{"code"},
		Writes: []string{"score"},
		Fn: func(ctx context.Context, st State) (State, error) {
			iter, _ := st.GetInt("iter")
			return st.WithField("score", scores[iter]), nil
		},
	}
	g := mustBuild(t, NewGraph("loop").
		AddNode("gen", gen).
		AddNode("eval", eval).
		AddNode("done", noopSpec()).
		SetEntry("gen").
		AddEdge("gen", "eval").
		AddQualityGate("eval", &QualityGate{
			ScoreField: "score", IterationField: "iter",
			Threshold: 7, MaxIterations: 3, Selection: SelectLast,
		}, "done", "gen").
		MarkTerminal("done"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.State.GetString("code"); got != "v3" {
		t.Errorf("code = %q, want v3", got)
	}
}

func TestRunRetryPolicy(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := NodeSpec{
		Writes: []string{"out"},
		Policy: &NodePolicy{Retry: &RetryPolicy{MaxAttempts: 3}},
		Fn: func(ctx context.Context, st State) (State, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return st, errors.New("transient")
			}
			return st.WithField("out", "finally"), nil
		},
	}
	g := mustBuild(t, NewGraph("retry").
		AddNode("flaky", flaky).
		SetEntry("flaky").
		MarkTerminal("flaky"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.State.GetString("out"); got != "finally" {
		t.Errorf("out = %q", got)
	}
	if len(res.Trace) != 3 {
		t.Fatalf("trace length = %d, want 3 attempts", len(res.Trace))
	}
	for i, e := range res.Trace {
		if e.Attempt != i+1 || e.Step != 1 {
			t.Errorf("trace[%d] = %+v", i, e)
		}
	}
	if res.Trace[0].Err == "" || res.Trace[2].Err != "" {
		t.Error("attempt error markers wrong")
	}
}

func TestRunRetryExhaustion(t *testing.T) {
	g := mustBuild(t, NewGraph("retry").
		AddNode("flaky", NodeSpec{
			Policy: &NodePolicy{Retry: &RetryPolicy{MaxAttempts: 2}},
			Fn: func(ctx context.Context, st State) (State, error) {
				return st, errors.New("always broken")
			},
		}).
		SetEntry("flaky").
		MarkTerminal("flaky"))

	_, err := mustScheduler(t).Run(context.Background(), g, NewState())
	var ne *NodeError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want *NodeError", err)
	}
	if ne.Node != "flaky" {
		t.Errorf("NodeError.Node = %q", ne.Node)
	}
}

func TestRunApprovalDecidesRouting(t *testing.T) {
	build := func() *Graph {
		return mustBuild(t, NewGraph("approve").
			AddNode("work", NodeSpec{
				Writes: []string{"result", "approved"},
				Fn: func(ctx context.Context, st State) (State, error) {
					return st.WithField("result", "draft"), nil
				},
				Policy: &NodePolicy{Approval: &ApprovalPolicy{}},
			}).
			AddNode("publish", setSpec("published", true)).
			AddNode("discard", setSpec("published", false)).
			SetEntry("work").
			AddConditionalEdge("work", "publish", func(st State) bool { return st.GetBool("approved") }).
			AddDefaultEdge("work", "discard").
			MarkTerminal("publish").MarkTerminal("discard"))
	}

	for _, decision := range []bool{true, false} {
		provider := ApprovalFunc(func(ctx context.Context, summary string) (bool, error) {
			return decision, nil
		})
		res, err := mustScheduler(t, WithApprovalProvider(provider)).
			Run(context.Background(), build(), NewState())
		if err != nil {
			t.Fatalf("Run(decision=%v): %v", decision, err)
		}
		if got := res.State.GetBool("published"); got != decision {
			t.Errorf("decision=%v: published = %v", decision, got)
		}
	}
}

func TestRunApprovalWithoutProviderFails(t *testing.T) {
	g := mustBuild(t, NewGraph("approve").
		AddNode("work", NodeSpec{
			Fn:     func(ctx context.Context, st State) (State, error) { return st, nil },
			Policy: &NodePolicy{Approval: &ApprovalPolicy{}},
		}).
		SetEntry("work").
		MarkTerminal("work"))

	_, err := mustScheduler(t).Run(context.Background(), g, NewState())
	var ne *NodeError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want *NodeError", err)
	}
}

func TestRunFailureStateIsLastApproved(t *testing.T) {
	g := mustBuild(t, NewGraph("rollback").
		AddNode("work", NodeSpec{
			Writes: []string{"result", "approved"},
			Fn: func(ctx context.Context, st State) (State, error) {
				return st.WithField("result", "good"), nil
			},
			Policy: &NodePolicy{Approval: &ApprovalPolicy{}},
		}).
		AddNode("deploy", NodeSpec{
			Fn: func(ctx context.Context, st State) (State, error) {
				return st, errors.New("deploy blew up")
			},
		}).
		SetEntry("work").
		AddEdge("work", "deploy").
		MarkTerminal("deploy"))

	approve := ApprovalFunc(func(ctx context.Context, string2 string) (bool, error) { return true, nil })
	res, err := mustScheduler(t, WithApprovalProvider(approve)).
		Run(context.Background(), g, NewState())
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	// The result state rolls back to the approved snapshot, not the
	// failing node's input aliasing later writes.
	if got := res.State.GetString("result"); got != "good" {
		t.Errorf("result = %q, want good", got)
	}
	if !res.State.GetBool("approved") {
		t.Error("rollback state lost the approval decision")
	}
}

func TestRunPersistsSnapshots(t *testing.T) {
	st := store.NewMemoryStore()
	g := mustBuild(t, NewGraph("persist").
		AddNode("a", setSpec("a_out", "A")).
		AddNode("b", setSpec("b_out", "B")).
		SetEntry("a").
		AddEdge("a", "b").
		MarkTerminal("b"))

	res, err := mustScheduler(t, WithStore(st)).
		RunWithID(context.Background(), g, "run-1", NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 2 {
		t.Fatalf("Steps = %d", res.Steps)
	}
	if snaps := st.Steps("run-1"); snaps != 2 {
		t.Fatalf("snapshots = %d, want 2", snaps)
	}
	latest, err := st.LoadLatest(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.NodeID != "b" || latest.GraphName != "persist" {
		t.Errorf("latest = %+v", latest)
	}
}

func TestResumeContinuesAfterFailure(t *testing.T) {
	st := store.NewMemoryStore()
	healthy := false
	var mu sync.Mutex
	g := mustBuild(t, NewGraph("resume").
		AddNode("a", setSpec("a_out", "A")).
		AddNode("b", NodeSpec{
			Writes: []string{"b_out"},
			Fn: func(ctx context.Context, s State) (State, error) {
				mu.Lock()
				ok := healthy
				mu.Unlock()
				if !ok {
					return s, errors.New("dependency down")
				}
				return s.WithField("b_out", "B"), nil
			},
		}).
		AddNode("c", setSpec("c_out", "C")).
		SetEntry("a").
		AddEdge("a", "b").AddEdge("b", "c").
		MarkTerminal("c"))

	sched := mustScheduler(t, WithStore(st))
	_, err := sched.RunWithID(context.Background(), g, "run-2", NewState())
	if err == nil {
		t.Fatal("first run succeeded, want failure at b")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	res, err := sched.Resume(context.Background(), g, "run-2")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	for _, f := range []string{"a_out", "b_out", "c_out"} {
		if res.State.GetString(f) == "" {
			t.Errorf("field %q missing after resume", f)
		}
	}
	// Step numbering continues from the persisted position: a ran in the
	// first attempt, b and c in the resumed one.
	if res.Steps != 3 {
		t.Errorf("Steps = %d, want 3", res.Steps)
	}
}

func TestResumeRedispatchesFanOut(t *testing.T) {
	st := store.NewMemoryStore()
	healthy := false
	var mu sync.Mutex
	g := mustBuild(t, NewGraph("resume-fan").
		AddNode("split", setSpec("split_out", "S")).
		AddNode("ok", setSpec("ok_out", "fine")).
		AddNode("bad", NodeSpec{
			Writes: []string{"bad_out"},
			Fn: func(ctx context.Context, s State) (State, error) {
				mu.Lock()
				ok := healthy
				mu.Unlock()
				if !ok {
					return s, errors.New("dependency down")
				}
				return s.WithField("bad_out", "recovered"), nil
			},
		}).
		AddNode("join", noopSpec()).
		SetEntry("split").
		AddFanOut("split", []string{"ok", "bad"}, "join").
		AddEdge("ok", "join").AddEdge("bad", "join").
		MarkTerminal("join"))

	sched := mustScheduler(t, WithStore(st))
	_, err := sched.RunWithID(context.Background(), g, "run-fan", NewState())
	if err == nil {
		t.Fatal("first run succeeded, want branch failure")
	}
	// Only the main line is persisted, so the latest snapshot is the
	// pre-fan-out position rather than a lone branch's state.
	latest, err := st.LoadLatest(context.Background(), "run-fan")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.NodeID != "split" {
		t.Fatalf("latest snapshot node = %q, want split", latest.NodeID)
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	res, err := sched.Resume(context.Background(), g, "run-fan")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// Both branches ran again on resume; neither's writes were lost.
	if got := res.State.GetString("ok_out"); got != "fine" {
		t.Errorf("ok_out = %q", got)
	}
	if got := res.State.GetString("bad_out"); got != "recovered" {
		t.Errorf("bad_out = %q", got)
	}
	if snaps := st.Steps("run-fan"); snaps != 2 {
		t.Errorf("snapshots = %d, want 2 (split and join only)", snaps)
	}
}

func TestResumeWithoutStoreFails(t *testing.T) {
	g := mustBuild(t, NewGraph("g").
		AddNode("a", noopSpec()).SetEntry("a").MarkTerminal("a"))
	if _, err := mustScheduler(t).Resume(context.Background(), g, "run-x"); err == nil {
		t.Fatal("Resume without a store succeeded")
	}
}

func TestResumeFinishedRunIsTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	g := mustBuild(t, NewGraph("done").
		AddNode("a", setSpec("a_out", "A")).
		SetEntry("a").
		MarkTerminal("a"))

	sched := mustScheduler(t, WithStore(st))
	if _, err := sched.RunWithID(context.Background(), g, "run-3", NewState()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, err := sched.Resume(context.Background(), g, "run-3")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Steps != 1 {
		t.Errorf("Steps = %d, want 1 (no re-execution)", res.Steps)
	}
}

func TestCheckpointLabelsLatestSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	g := mustBuild(t, NewGraph("ckpt").
		AddNode("a", setSpec("a_out", "A")).
		SetEntry("a").
		MarkTerminal("a"))

	sched := mustScheduler(t, WithStore(st))
	if _, err := sched.RunWithID(context.Background(), g, "run-4", NewState()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := sched.Checkpoint(context.Background(), "run-4", "after-a"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	snap, err := st.LoadCheckpoint(context.Background(), "after-a")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if snap.RunID != "run-4" || snap.NodeID != "a" {
		t.Errorf("checkpoint = %+v", snap)
	}
}

func TestRunTraceIsSortedByStep(t *testing.T) {
	g := mustBuild(t, NewGraph("fan").
		AddNode("split", noopSpec()).
		AddNode("one", setSpec("one_out", "1")).
		AddNode("two", setSpec("two_out", "2")).
		AddNode("join", noopSpec()).
		SetEntry("split").
		AddFanOut("split", []string{"one", "two"}, "join").
		AddEdge("one", "join").AddEdge("two", "join").
		MarkTerminal("join"))

	res, err := mustScheduler(t).Run(context.Background(), g, NewState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sort.SliceIsSorted(res.Trace, func(i, j int) bool {
		return res.Trace[i].Step < res.Trace[j].Step
	}) {
		t.Errorf("trace not ordered by step: %+v", res.Trace)
	}
}
