package agent

import (
	"context"
	"errors"
	"strings"
)

// WrapProviderError classifies an SDK error into an InvocationError.
// Classification is by status code and message substring since the
// provider SDKs expose errors in different shapes:
//
//   - 401/403 and API-key failures: invalid_api_key, permanent
//   - 429 and rate limits: rate_limited, retryable
//   - quota and billing: quota_exceeded, permanent
//   - timeouts and cancellation: timeout, retryable
//   - anything else: api_error, retryable
func WrapProviderError(provider string, err error) *InvocationError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &InvocationError{Provider: provider, Code: "timeout", Retryable: true, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "api_key"),
		strings.Contains(msg, "api key"):
		return &InvocationError{Provider: provider, Code: "invalid_api_key", Retryable: false, Cause: err}
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return &InvocationError{Provider: provider, Code: "rate_limited", Retryable: true, Cause: err}
	case strings.Contains(msg, "quota"), strings.Contains(msg, "billing"):
		return &InvocationError{Provider: provider, Code: "quota_exceeded", Retryable: false, Cause: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &InvocationError{Provider: provider, Code: "timeout", Retryable: true, Cause: err}
	default:
		return &InvocationError{Provider: provider, Code: "api_error", Retryable: true, Cause: err}
	}
}
