package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowgraph/flowgraph/flow/agent"
)

func TestMockReplaysResponses(t *testing.T) {
	m := agent.NewMock("reviewer", "first", "second")
	ctx := context.Background()

	got, err := m.Invoke(ctx, agent.Request{Prompt: "review this"})
	if err != nil || got != "first" {
		t.Fatalf("first Invoke = %q, %v", got, err)
	}
	got, err = m.Invoke(ctx, agent.Request{Prompt: "again"})
	if err != nil || got != "second" {
		t.Fatalf("second Invoke = %q, %v", got, err)
	}
	// Script exhausted: last response repeats.
	got, err = m.Invoke(ctx, agent.Request{Prompt: "once more"})
	if err != nil || got != "second" {
		t.Fatalf("third Invoke = %q, %v", got, err)
	}

	calls := m.Calls()
	if len(calls) != 3 {
		t.Fatalf("Calls len = %d, want 3", len(calls))
	}
	if calls[0].Prompt != "review this" {
		t.Errorf("first call prompt = %q", calls[0].Prompt)
	}
}

func TestMockError(t *testing.T) {
	boom := errors.New("boom")
	m := agent.NewMockError("flaky", boom)
	if _, err := m.Invoke(context.Background(), agent.Request{Prompt: "x"}); !errors.Is(err, boom) {
		t.Fatalf("Invoke error = %v, want boom", err)
	}
	if m.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", m.CallCount())
	}
}

func TestMockRespectsContext(t *testing.T) {
	m := agent.NewMock("slow", "response")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Invoke(ctx, agent.Request{Prompt: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke with cancelled ctx = %v, want context.Canceled", err)
	}
	if m.CallCount() != 0 {
		t.Errorf("cancelled invoke was recorded")
	}
}

func TestWrapProviderError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{"auth 401", errors.New("401 unauthorized"), "invalid_api_key", false},
		{"bad api key", errors.New("invalid api_key provided"), "invalid_api_key", false},
		{"rate limit", errors.New("429 too many requests"), "rate_limited", true},
		{"quota", errors.New("insufficient_quota for account"), "quota_exceeded", false},
		{"timeout", errors.New("request timeout"), "timeout", true},
		{"cancelled", context.Canceled, "timeout", true},
		{"unknown", errors.New("internal server error"), "api_error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := agent.WrapProviderError("test", tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("wrapped error does not unwrap to cause")
			}
		})
	}
}
