package flow

import (
	"fmt"
	"sort"
	"strings"
)

// ExpandFunc computes the seed states of a dynamic fan-out. It receives
// the orchestrator's output state and returns one seed per subtask; the
// scheduler dispatches one concurrent worker branch per seed. Returning
// an empty slice skips straight to the join node.
//
// Seeds typically start from the input state plus per-subtask scratch
// fields:
//
//	func(st flow.State) []flow.State {
//	    var seeds []flow.State
//	    for _, task := range st.GetStringSlice("subtasks") {
//	        seeds = append(seeds, st.WithField("subtask", task))
//	    }
//	    return seeds
//	}
type ExpandFunc func(State) []State

// fanOut declares concurrent branching from one node. Exactly one of
// Branches (static) or Worker+Expand (dynamic) is set.
type fanOut struct {
	From     string
	Branches []string
	Worker   string
	Join     string
	Expand   ExpandFunc
}

func (f *fanOut) dynamic() bool { return f.Expand != nil }

// Graph is a validated, immutable workflow topology: nodes, edges, one
// entry node, and one or more terminal markers. Construct with NewGraph
// and Build; a Graph that Build returned is safe for concurrent Runs.
type Graph struct {
	name      string
	registry  *Registry
	edges     []Edge
	edgesFrom map[string][]Edge
	entry     string
	terminals map[string]struct{}
	fanOuts   map[string]*fanOut
	gates     map[string]*gateRoute
}

// Name returns the graph's name, used in snapshots and events.
func (g *Graph) Name() string { return g.name }

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// Registry returns the graph's node registry.
func (g *Graph) Registry() *Registry { return g.registry }

// IsTerminal reports whether execution halts after the named node.
func (g *Graph) IsTerminal(name string) bool {
	_, ok := g.terminals[name]
	return ok
}

// Builder accumulates nodes, edges, and routing declarations, deferring
// all validation to Build. Methods chain; errors are collected and
// surfaced once, so construction code stays linear:
//
//	g, err := flow.NewGraph("review").
//	    AddNode("coder", coderSpec).
//	    AddNode("reviewer", reviewerSpec).
//	    SetEntry("coder").
//	    AddEdge("coder", "reviewer").
//	    MarkTerminal("reviewer").
//	    Build()
type Builder struct {
	name      string
	registry  *Registry
	edges     []Edge
	entry     string
	terminals []string
	fanOuts   []*fanOut
	gates     []*gateRoute
	gateFrom  []string
	errs      []error
}

// NewGraph starts building a graph with the given name.
func NewGraph(name string) *Builder {
	return &Builder{
		name:     name,
		registry: NewRegistry(),
	}
}

// AddNode registers a named node.
func (b *Builder) AddNode(name string, spec NodeSpec) *Builder {
	if err := b.registry.Register(name, spec); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// SetEntry declares the node execution starts at.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// MarkTerminal declares a node at which execution halts.
func (b *Builder) MarkTerminal(name string) *Builder {
	b.terminals = append(b.terminals, name)
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to})
	return b
}

// AddConditionalEdge adds an edge guarded by a predicate. Conditional
// edges from the same node are evaluated in declaration order; the first
// match wins. A node with conditional edges must also have exactly one
// default edge.
func (b *Builder) AddConditionalEdge(from, to string, when Predicate) *Builder {
	if when == nil {
		b.errs = append(b.errs, &ValidationError{
			Code: CodeNonExhaustiveRouting, Node: from,
			Message: "conditional edge requires a predicate",
		})
		return b
	}
	b.edges = append(b.edges, Edge{From: from, To: to, When: when})
	return b
}

// AddDefaultEdge adds the fallback edge taken when no conditional edge
// from the same node matches.
func (b *Builder) AddDefaultEdge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, Default: true})
	return b
}

// AddFanOut declares that after from completes, every branch node runs
// concurrently on an independent state copy, and execution resumes at
// join once all branches arrive and their writes merge cleanly.
func (b *Builder) AddFanOut(from string, branches []string, join string) *Builder {
	b.fanOuts = append(b.fanOuts, &fanOut{From: from, Branches: branches, Join: join})
	return b
}

// AddDynamicFanOut declares a data-dependent fan-out: expand derives the
// branch seeds from from's output at dispatch time, and one concurrent
// worker branch runs per seed. The branch count is decided by the data,
// not the topology.
func (b *Builder) AddDynamicFanOut(from, worker, join string, expand ExpandFunc) *Builder {
	if expand == nil {
		b.errs = append(b.errs, &ValidationError{
			Code: CodeUnknownNode, Node: from,
			Message: "dynamic fan-out requires an expand function",
		})
		return b
	}
	b.fanOuts = append(b.fanOuts, &fanOut{From: from, Worker: worker, Join: join, Expand: expand})
	return b
}

// AddQualityGate attaches a loop controller to the node that produces the
// gate's score. Routing from that node is owned by the gate: accept when
// the threshold is met or iterations are exhausted, retry otherwise.
func (b *Builder) AddQualityGate(from string, gate *QualityGate, accept, retry string) *Builder {
	b.gates = append(b.gates, &gateRoute{gate: gate, accept: accept, retry: retry})
	b.gateFrom = append(b.gateFrom, from)
	return b
}

// Build validates the accumulated topology and returns the immutable
// Graph. All structural defects are caught here, before any Run:
// unknown or unreachable nodes, dead ends, non-exhaustive or ambiguous
// routing, unbounded cycles, and fan-out branches with overlapping
// write sets.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	g := &Graph{
		name:      b.name,
		registry:  b.registry,
		edges:     b.edges,
		edgesFrom: make(map[string][]Edge),
		entry:     b.entry,
		terminals: make(map[string]struct{}),
		fanOuts:   make(map[string]*fanOut),
		gates:     make(map[string]*gateRoute),
	}

	exists := func(name string) bool {
		_, ok := b.registry.Spec(name)
		return ok
	}

	if g.entry == "" {
		return nil, &ValidationError{Code: CodeUnknownNode, Message: "entry node not set"}
	}
	if !exists(g.entry) {
		return nil, &ValidationError{Code: CodeUnknownNode, Node: g.entry, Message: "entry node not registered"}
	}
	if len(b.terminals) == 0 {
		return nil, &ValidationError{Code: CodeNoRoute, Message: "graph has no terminal node"}
	}
	for _, t := range b.terminals {
		if !exists(t) {
			return nil, &ValidationError{Code: CodeUnknownNode, Node: t, Message: "terminal node not registered"}
		}
		g.terminals[t] = struct{}{}
	}

	for _, e := range b.edges {
		if !exists(e.From) {
			return nil, &ValidationError{Code: CodeUnknownNode, Node: e.From, Message: "edge source not registered"}
		}
		if !exists(e.To) {
			return nil, &ValidationError{Code: CodeUnknownNode, Node: e.To, Message: "edge target not registered"}
		}
		g.edgesFrom[e.From] = append(g.edgesFrom[e.From], e)
	}

	for i, gr := range b.gates {
		from := b.gateFrom[i]
		if err := gr.gate.Validate(); err != nil {
			return nil, err
		}
		for _, n := range []string{from, gr.accept, gr.retry} {
			if !exists(n) {
				return nil, &ValidationError{Code: CodeUnknownNode, Node: n, Message: "quality gate references unregistered node"}
			}
		}
		if _, dup := g.gates[from]; dup {
			return nil, &ValidationError{Code: CodeAmbiguousRouting, Node: from, Message: "node has more than one quality gate"}
		}
		g.gates[from] = gr
	}

	for _, fo := range b.fanOuts {
		if !exists(fo.From) || !exists(fo.Join) {
			return nil, &ValidationError{Code: CodeUnknownNode, Node: fo.From, Message: "fan-out references unregistered node"}
		}
		if fo.dynamic() {
			if !exists(fo.Worker) {
				return nil, &ValidationError{Code: CodeUnknownNode, Node: fo.Worker, Message: "fan-out worker not registered"}
			}
			// A worker with no routing of its own flows straight to the join.
			if len(g.edgesFrom[fo.Worker]) == 0 && !g.IsTerminal(fo.Worker) {
				edge := Edge{From: fo.Worker, To: fo.Join}
				g.edges = append(g.edges, edge)
				g.edgesFrom[fo.Worker] = append(g.edgesFrom[fo.Worker], edge)
			}
		} else {
			if len(fo.Branches) == 0 {
				return nil, &ValidationError{Code: CodeNoRoute, Node: fo.From, Message: "fan-out has no branches"}
			}
			for _, br := range fo.Branches {
				if !exists(br) {
					return nil, &ValidationError{Code: CodeUnknownNode, Node: br, Message: "fan-out branch not registered"}
				}
			}
		}
		if _, dup := g.fanOuts[fo.From]; dup {
			return nil, &ValidationError{Code: CodeAmbiguousRouting, Node: fo.From, Message: "node has more than one fan-out"}
		}
		g.fanOuts[fo.From] = fo
	}

	if err := g.validateRouting(); err != nil {
		return nil, err
	}
	if err := g.validateReachability(); err != nil {
		return nil, err
	}
	if err := g.validateCycles(); err != nil {
		return nil, err
	}
	if err := g.validateFanOutWrites(); err != nil {
		return nil, err
	}
	return g, nil
}

// validateRouting checks every node's outgoing routing for dead ends,
// ambiguity, and guard exhaustiveness.
func (g *Graph) validateRouting() error {
	for _, name := range sortedNames(g.registry) {
		_, isGate := g.gates[name]
		_, isFanOut := g.fanOuts[name]
		edges := g.edgesFrom[name]

		if isGate || isFanOut {
			if len(edges) > 0 && !g.autoEdgeOnly(name) {
				return &ValidationError{Code: CodeAmbiguousRouting, Node: name,
					Message: "node routing is owned by its gate or fan-out; remove extra edges"}
			}
			if isGate && isFanOut {
				return &ValidationError{Code: CodeAmbiguousRouting, Node: name,
					Message: "node cannot have both a gate and a fan-out"}
			}
			continue
		}
		if g.IsTerminal(name) {
			continue
		}
		if len(edges) == 0 {
			return &ValidationError{Code: CodeNoRoute, Node: name, Message: "non-terminal node has no outgoing edge"}
		}

		var conditional, defaults, plain int
		for _, e := range edges {
			switch {
			case e.conditional():
				conditional++
			case e.Default:
				defaults++
			default:
				plain++
			}
		}
		switch {
		case conditional > 0 && defaults == 0:
			return &ValidationError{Code: CodeNonExhaustiveRouting, Node: name,
				Message: "conditional edges require an explicit default edge"}
		case conditional > 0 && plain > 0:
			return &ValidationError{Code: CodeAmbiguousRouting, Node: name,
				Message: "mixing conditional and unconditional edges is ambiguous"}
		case defaults > 1:
			return &ValidationError{Code: CodeAmbiguousRouting, Node: name,
				Message: "node has more than one default edge"}
		case conditional == 0 && defaults == 0 && plain > 1:
			return &ValidationError{Code: CodeAmbiguousRouting, Node: name,
				Message: "multiple unconditional edges; declare a fan-out instead"}
		case conditional == 0 && defaults > 0:
			return &ValidationError{Code: CodeAmbiguousRouting, Node: name,
				Message: "default edge without conditional edges"}
		}
	}
	return nil
}

// autoEdgeOnly reports whether a node's only edges are ones Build itself
// inserted (dynamic fan-out worker to join).
func (g *Graph) autoEdgeOnly(name string) bool {
	for _, fo := range g.fanOuts {
		if fo.dynamic() && fo.Worker == name {
			return true
		}
	}
	return false
}

// successors returns the runtime successors of a node, covering edges,
// gate targets, and fan-out branches plus join.
func (g *Graph) successors(name string) []string {
	if gr, ok := g.gates[name]; ok {
		return []string{gr.accept, gr.retry}
	}
	if fo, ok := g.fanOuts[name]; ok {
		if fo.dynamic() {
			return []string{fo.Worker, fo.Join}
		}
		return append(append([]string{}, fo.Branches...), fo.Join)
	}
	if g.IsTerminal(name) {
		return nil
	}
	var out []string
	for _, e := range g.edgesFrom[name] {
		out = append(out, e.To)
	}
	return out
}

// validateReachability runs BFS from the entry and rejects any node the
// walk cannot reach.
func (g *Graph) validateReachability() error {
	visited := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.successors(cur) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, name := range sortedNames(g.registry) {
		if !visited[name] {
			return &ValidationError{Code: CodeUnreachableNode, Node: name, Message: "node is not reachable from entry"}
		}
	}
	return nil
}

// validateCycles proves every cycle bounded: each strongly connected
// component containing a cycle must include a gate source, whose
// iteration ceiling guarantees the cycle is eventually exited.
func (g *Graph) validateCycles() error {
	sccs := g.stronglyConnected()
	for _, scc := range sccs {
		cyclic := len(scc) > 1
		if len(scc) == 1 {
			// Self-loop check.
			for _, next := range g.successors(scc[0]) {
				if next == scc[0] {
					cyclic = true
				}
			}
		}
		if !cyclic {
			continue
		}
		bounded := false
		for _, name := range scc {
			if _, ok := g.gates[name]; ok {
				bounded = true
				break
			}
		}
		if !bounded {
			sort.Strings(scc)
			return &ValidationError{Code: CodeUnboundedCycle, Node: scc[0],
				Message: "cycle {" + strings.Join(scc, ", ") + "} has no quality gate bounding its iterations"}
		}
	}
	return nil
}

// stronglyConnected computes SCCs with Tarjan's algorithm over the
// runtime successor relation.
func (g *Graph) stronglyConnected() [][]string {
	var (
		index    = make(map[string]int)
		lowlink  = make(map[string]int)
		onStack  = make(map[string]bool)
		stack    []string
		counter  int
		sccs     [][]string
		strongly func(v string)
	)
	strongly = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.successors(v) {
			if _, seen := index[w]; !seen {
				strongly(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}
	for _, name := range sortedNames(g.registry) {
		if _, seen := index[name]; !seen {
			strongly(name)
		}
	}
	return sccs
}

// validateFanOutWrites rejects static fan-outs whose branches declare
// overlapping write sets, so two branches can never race on a field
// they both promise to write.
func (g *Graph) validateFanOutWrites() error {
	for _, fo := range g.fanOuts {
		if fo.dynamic() {
			// Branch count and seeds are data-dependent; conflicts are
			// detected at fan-in instead.
			continue
		}
		branchWrites := make([][]string, len(fo.Branches))
		for i, br := range fo.Branches {
			branchWrites[i] = g.branchWrites(br, fo.Join)
		}
		for i := range branchWrites {
			for j := i + 1; j < len(branchWrites); j++ {
				for _, wa := range branchWrites[i] {
					for _, wb := range branchWrites[j] {
						if writesOverlap(wa, wb) {
							return &ValidationError{Code: CodeOverlappingWrites, Node: fo.From,
								Message: fmt.Sprintf("branches %s and %s both declare write %q",
									fo.Branches[i], fo.Branches[j], wa)}
						}
					}
				}
			}
		}
	}
	return nil
}

// branchWrites collects the declared writes of every node reachable from
// start without passing through the join node.
func (g *Graph) branchWrites(start, join string) []string {
	var writes []string
	visited := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == join || visited[cur] {
			continue
		}
		visited[cur] = true
		if spec, ok := g.registry.Spec(cur); ok {
			writes = append(writes, spec.Writes...)
		}
		queue = append(queue, g.successors(cur)...)
	}
	return writes
}

// writesOverlap reports whether two declared write entries can name the
// same field, accounting for "*" prefix entries.
func writesOverlap(a, b string) bool {
	pa := strings.HasSuffix(a, "*")
	pb := strings.HasSuffix(b, "*")
	switch {
	case pa && pb:
		return strings.HasPrefix(strings.TrimSuffix(a, "*"), strings.TrimSuffix(b, "*")) ||
			strings.HasPrefix(strings.TrimSuffix(b, "*"), strings.TrimSuffix(a, "*"))
	case pa:
		return strings.HasPrefix(b, strings.TrimSuffix(a, "*"))
	case pb:
		return strings.HasPrefix(a, strings.TrimSuffix(b, "*"))
	default:
		return a == b
	}
}

// sortedNames returns registry names in stable order so validation
// reports the same defect across runs.
func sortedNames(r *Registry) []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
