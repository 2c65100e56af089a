package flow

import (
	"context"
	"strings"
	"sync"
	"time"
)

// NodeFunc is a node's transformation. It receives a private deep copy of
// the current state and returns the successor state. It must not retain
// or mutate its argument after returning; the engine enforces isolation
// by handing each invocation its own copy.
//
// NodeFuncs should be pure with respect to state: invoking the same
// function twice with an identical input state must produce an identical
// output state. External effects (agent calls, approvals) belong behind
// the injected capability interfaces.
type NodeFunc func(ctx context.Context, state State) (State, error)

// NodeSpec declares a node: its transformation plus the field names it
// reads and writes.
//
// Writes is enforced at runtime: a node whose output changes a field
// outside its declared write set fails with a *ContractError. A write
// entry ending in "*" matches any field with that prefix, which is how
// dynamically keyed outputs (one field per fan-out worker) are declared.
//
// Reads is a design aid used for review and documentation. It cannot be
// enforced without language-level purity guarantees, so the engine does
// not police it.
type NodeSpec struct {
	Reads  []string
	Writes []string
	Fn     NodeFunc
	Policy *NodePolicy
}

// Registry holds the named nodes of a graph and mediates every
// invocation: input isolation, timeout enforcement, and write-contract
// validation.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]NodeSpec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]NodeSpec)}
}

// Register adds a node under a unique name.
func (r *Registry) Register(name string, spec NodeSpec) error {
	if name == "" {
		return &ValidationError{Code: CodeUnknownNode, Message: "node name cannot be empty"}
	}
	if spec.Fn == nil {
		return &ValidationError{Code: CodeUnknownNode, Node: name, Message: "node function cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; exists {
		return &ValidationError{Code: CodeDuplicateNode, Node: name, Message: "node already registered"}
	}
	r.nodes[name] = spec
	return nil
}

// Spec returns the registered spec for a node.
func (r *Registry) Spec(name string) (NodeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.nodes[name]
	return spec, ok
}

// Names returns all registered node names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	return names
}

// Invoke runs a node against the given state with no engine-level default
// timeout. See invoke for the full contract.
func (r *Registry) Invoke(ctx context.Context, name string, state State) (State, error) {
	return r.invoke(ctx, name, state, 0)
}

// invoke executes a single node attempt.
//
// The input state is deep-copied so the node can never mutate shared
// data. On success the output's changed fields are validated against the
// declared write set, and every input field must still be present.
// Failures are wrapped: fn errors become *NodeError, deadline overruns
// become *TimeoutError.
func (r *Registry) invoke(ctx context.Context, name string, state State, defaultTimeout time.Duration) (State, error) {
	spec, ok := r.Spec(name)
	if !ok {
		return State{}, &ValidationError{Code: CodeUnknownNode, Node: name, Message: "node not registered"}
	}

	input, err := state.Clone()
	if err != nil {
		return State{}, &NodeError{Node: name, Cause: err}
	}

	timeout := nodeTimeout(spec.Policy, defaultTimeout)
	out, err := runWithTimeout(ctx, name, timeout, input, spec.Fn)
	if err != nil {
		return State{}, err
	}

	for _, f := range out.Changed(input) {
		if !writeAllowed(spec.Writes, f.Name) {
			return State{}, &ContractError{Node: name, Field: f.Name}
		}
	}
	// Fields only accumulate: a node may add or overwrite, never drop.
	for _, key := range input.Keys() {
		if _, ok := out.Get(key); !ok {
			return State{}, &ContractError{Node: name, Field: key, Deleted: true}
		}
	}
	return out, nil
}

// runWithTimeout executes fn, abandoning the attempt when the node's
// timeout elapses. The node's context is cancelled on timeout so blocked
// capability calls unwind; the goroutine's eventual result is discarded.
func runWithTimeout(ctx context.Context, name string, timeout time.Duration, input State, fn NodeFunc) (State, error) {
	if timeout <= 0 {
		out, err := fn(ctx, input)
		if err != nil {
			return State{}, &NodeError{Node: name, Cause: err}
		}
		return out, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		state State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(timeoutCtx, input)
		done <- result{state: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return State{}, &NodeError{Node: name, Cause: res.err}
		}
		return res.state, nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return State{}, ctx.Err()
		}
		return State{}, &TimeoutError{Node: name, Timeout: timeout}
	}
}

// nodeTimeout resolves the effective timeout: per-node policy first, then
// the engine-wide default, then 0 (unlimited).
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// writeAllowed reports whether a field name matches the declared write
// set. Entries ending in "*" match by prefix.
func writeAllowed(writes []string, field string) bool {
	for _, w := range writes {
		if w == field {
			return true
		}
		if strings.HasSuffix(w, "*") && strings.HasPrefix(field, strings.TrimSuffix(w, "*")) {
			return true
		}
	}
	return false
}
