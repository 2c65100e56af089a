// Package flow is a workflow orchestration engine for multi-step agent
// pipelines. A workflow is a directed graph of named nodes, each a pure
// function from an immutable state to a new state. The scheduler walks
// the graph from its entry node, following conditional edges, running
// declared fan-outs concurrently and merging their writes, looping
// through quality gates until a score threshold or iteration ceiling is
// reached, and applying per-node timeout, retry, and approval policies.
//
// Graphs are validated at build time: unreachable nodes, dead ends,
// non-exhaustive routing, cycles without a bounding gate, and fan-out
// branches with overlapping write sets are all rejected before the
// first run.
//
// A minimal two-node pipeline:
//
//	g, err := flow.NewGraph("review").
//	    AddNode("coder", flow.NodeSpec{Writes: []string{"code"}, Fn: writeCode}).
//	    AddNode("reviewer", flow.NodeSpec{Writes: []string{"review"}, Fn: reviewCode}).
//	    SetEntry("coder").
//	    AddEdge("coder", "reviewer").
//	    MarkTerminal("reviewer").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sched, err := flow.NewScheduler()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := sched.Run(ctx, g, flow.NewState().WithField("input", task))
//
// Snapshots persist after every step when a store is configured (see
// flow/store), events stream to any emitter (see flow/emit), and the
// patterns package builds the common agent topologies on top of this
// package.
package flow
