package agent

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a scripted Agent for tests. Responses are returned in order;
// after the script runs out the last response repeats. Every request is
// recorded for assertions.
type Mock struct {
	name      string
	mu        sync.Mutex
	responses []string
	err       error
	calls     []Request
}

// NewMock creates a mock agent that replays the given responses.
func NewMock(name string, responses ...string) *Mock {
	return &Mock{name: name, responses: responses}
}

// NewMockError creates a mock agent whose every invocation fails.
func NewMockError(name string, err error) *Mock {
	return &Mock{name: name, err: err}
}

// Name returns the mock's name.
func (m *Mock) Name() string { return m.name }

// Invoke records the request and returns the next scripted response.
func (m *Mock) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock %s has no scripted responses", m.name)
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// Calls returns a copy of the recorded requests.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Invoke ran.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
