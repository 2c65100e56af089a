// Package agent defines the LLM agent abstraction used by workflow
// nodes, plus a scripted mock for tests. Provider-backed
// implementations live in the anthropic, openai, and google
// subpackages.
package agent

import (
	"context"
	"fmt"
)

// Request is one prompt to an agent. System sets the role or
// instructions; Prompt carries the task and any state rendered into
// text.
type Request struct {
	System string
	Prompt string
}

// Agent is a text-in, text-out LLM call. Implementations must be safe
// for concurrent use; fan-out branches invoke agents from multiple
// goroutines.
type Agent interface {
	// Name identifies the provider or role, used in logs and errors.
	Name() string

	// Invoke sends the request and returns the model's text response.
	Invoke(ctx context.Context, req Request) (string, error)
}

// InvocationError describes a failed provider call. Retryable reflects
// the provider's classification: rate limits and timeouts are
// retryable, authentication and quota failures are not.
type InvocationError struct {
	Provider  string
	Code      string
	Retryable bool
	Cause     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s invocation failed (%s): %v", e.Provider, e.Code, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }
