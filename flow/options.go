package flow

import (
	"fmt"
	"time"

	"github.com/flowgraph/flowgraph/flow/emit"
	"github.com/flowgraph/flowgraph/flow/store"
)

// BranchFailurePolicy decides what a fan-out does when one branch fails.
type BranchFailurePolicy int

const (
	// FailFast cancels the sibling branches and fails the run on the
	// first branch error.
	FailFast BranchFailurePolicy = iota
	// ContinueOnFailure waits for all branches, drops the failed ones,
	// and records their errors under the "branch_failures" field.
	ContinueOnFailure
)

// schedulerConfig holds the settings applied by Option values.
type schedulerConfig struct {
	maxTotalSteps  int64
	defaultTimeout time.Duration
	emitter        emit.Emitter
	store          store.Store
	metrics        *Metrics
	branchPolicy   BranchFailurePolicy
	approvals      ApprovalProvider
}

// Option configures a Scheduler.
type Option func(*schedulerConfig) error

// WithMaxTotalSteps caps the number of node executions in one run. The
// default is 1000; a run that exceeds the cap fails with
// ErrStepBudgetExceeded.
func WithMaxTotalSteps(n int) Option {
	return func(c *schedulerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max total steps must be positive, got %d", n)
		}
		c.maxTotalSteps = int64(n)
		return nil
	}
}

// WithDefaultNodeTimeout bounds every node execution that does not carry
// its own timeout policy. Zero means no default bound.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(c *schedulerConfig) error {
		if d < 0 {
			return fmt.Errorf("default node timeout must not be negative, got %v", d)
		}
		c.defaultTimeout = d
		return nil
	}
}

// WithEmitter routes lifecycle events (node start/finish, retries,
// fan-out dispatch, gate decisions) to the given emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *schedulerConfig) error {
		if e == nil {
			return fmt.Errorf("emitter must not be nil")
		}
		c.emitter = e
		return nil
	}
}

// WithStore persists a snapshot after every completed step, enabling
// Resume and rollback.
func WithStore(s store.Store) Option {
	return func(c *schedulerConfig) error {
		if s == nil {
			return fmt.Errorf("store must not be nil")
		}
		c.store = s
		return nil
	}
}

// WithMetrics records run, node, retry, gate, and fan-out metrics to the
// given Prometheus-backed collector.
func WithMetrics(m *Metrics) Option {
	return func(c *schedulerConfig) error {
		if m == nil {
			return fmt.Errorf("metrics must not be nil")
		}
		c.metrics = m
		return nil
	}
}

// WithBranchFailurePolicy sets how fan-outs react to branch failures.
// The default is FailFast.
func WithBranchFailurePolicy(p BranchFailurePolicy) Option {
	return func(c *schedulerConfig) error {
		if p != FailFast && p != ContinueOnFailure {
			return fmt.Errorf("unknown branch failure policy %d", p)
		}
		c.branchPolicy = p
		return nil
	}
}

// WithApprovalProvider sets the provider consulted by nodes whose policy
// requests approval but names no provider of its own.
func WithApprovalProvider(p ApprovalProvider) Option {
	return func(c *schedulerConfig) error {
		if p == nil {
			return fmt.Errorf("approval provider must not be nil")
		}
		c.approvals = p
		return nil
	}
}
