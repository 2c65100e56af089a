package flow

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// NodePolicy configures the production overlay for one node: timeout,
// retry, and approval. All three are orthogonal decorators applied by the
// scheduler around the node's own transformation; the node contract is
// unchanged.
//
// A nil policy means: engine default timeout, no retries, no approval.
type NodePolicy struct {
	// Timeout bounds a single invocation attempt. Zero falls back to the
	// scheduler's default node timeout.
	Timeout time.Duration

	// Retry re-invokes the node on recoverable failures. Nil disables
	// retries.
	Retry *RetryPolicy

	// Approval suspends execution after the node completes until an
	// external boolean decision arrives.
	Approval *ApprovalPolicy
}

// RetryPolicy defines automatic retry with exponential backoff for
// transient node failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocation attempts, including
	// the first. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. When nil,
	// node execution failures and timeouts are retried; contract and
	// conflict errors never are.
	Retryable func(error) bool
}

// ErrInvalidRetryPolicy is returned by Validate for a misconfigured
// RetryPolicy.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// Validate checks the policy constraints: MaxAttempts >= 1, and MaxDelay
// (when set) >= BaseDelay.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// shouldRetry applies Retryable, defaulting to "execution failures and
// timeouts are transient, everything else is not".
func (rp *RetryPolicy) shouldRetry(err error) bool {
	if rp.Retryable != nil {
		return rp.Retryable(err)
	}
	var nodeErr *NodeError
	var timeoutErr *TimeoutError
	return errors.As(err, &nodeErr) || errors.As(err, &timeoutErr)
}

// ApprovalProvider is the blocking human-in-the-loop decision boundary.
// Implementations typically bridge to a ticketing system, a chat bot, or
// a terminal prompt. RequestApproval must respect context cancellation.
type ApprovalProvider interface {
	RequestApproval(ctx context.Context, summary string) (bool, error)
}

// ApprovalFunc adapts a plain function to ApprovalProvider.
type ApprovalFunc func(ctx context.Context, summary string) (bool, error)

// RequestApproval implements ApprovalProvider.
func (f ApprovalFunc) RequestApproval(ctx context.Context, summary string) (bool, error) {
	return f(ctx, summary)
}

// ApprovalPolicy suspends the run after its node completes and records
// the external decision in the state, so downstream routing stays
// declarative: guards read the decision field.
//
// When the decision is positive the scheduler tags the node's snapshot
// "approved" and retains it as the rollback point for later unrecoverable
// failures.
type ApprovalPolicy struct {
	// Provider receives the blocking approval request. When nil, the
	// scheduler's engine-wide provider is used; Build fails if neither
	// is configured.
	Provider ApprovalProvider

	// Summary renders the decision request shown to the approver. When
	// nil, a default "node <name> completed" summary is used.
	Summary func(State) string

	// DecisionField is the state field the boolean decision is written
	// to. Defaults to "approved".
	DecisionField string
}

// decisionField returns the configured decision field or its default.
func (ap *ApprovalPolicy) decisionField() string {
	if ap.DecisionField != "" {
		return ap.DecisionField
	}
	return "approved"
}

// computeBackoff calculates the delay before the next retry attempt:
// min(base * 2^attempt, maxDelay) plus jitter in [0, base) to avoid
// synchronized retry storms across concurrent branches.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << uint(attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	// Jitter timing only, not security sensitive.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404
	return delay + jitter
}
