package patterns

import (
	"context"
	"fmt"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// SequentialAgents names the three roles of the sequential review
// pipeline.
type SequentialAgents struct {
	Coder      agent.Agent
	Reviewer   agent.Agent
	Refactorer agent.Agent
}

// NewSequentialReview builds the simplest pipeline: a coder writes an
// implementation from the "input" field, a reviewer critiques it, and a
// refactorer applies the review. Fields produced: "code", "review",
// "refactored_code".
func NewSequentialReview(agents SequentialAgents) (*flow.Graph, error) {
	if agents.Coder == nil || agents.Reviewer == nil || agents.Refactorer == nil {
		return nil, fmt.Errorf("sequential review requires coder, reviewer, and refactorer agents")
	}

	coder := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Coder.Invoke(ctx, agent.Request{
			System: "You are a senior software engineer. Write only production-ready code with proper error handling.",
			Prompt: st.GetString("input"),
		})
		if err != nil {
			return st, err
		}
		return st.WithField("code", out), nil
	}

	reviewer := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Reviewer.Invoke(ctx, agent.Request{
			System: "You are a code reviewer. Identify bugs, security issues, and style problems.",
			Prompt: "Review this code:\n" + st.GetString("code"),
		})
		if err != nil {
			return st, err
		}
		return st.WithField("review", out), nil
	}

	refactorer := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Refactorer.Invoke(ctx, agent.Request{
			System: "You are a refactoring specialist. Apply the review feedback and return the improved code.",
			Prompt: fmt.Sprintf("Code:\n%s\n\nReview feedback:\n%s", st.GetString("code"), st.GetString("review")),
		})
		if err != nil {
			return st, err
		}
		return st.WithField("refactored_code", out), nil
	}

	return flow.NewGraph("sequential-review").
		AddNode("coder", flow.NodeSpec{
			Reads: []string{"input"}, Writes: []string{"code"}, Fn: coder,
		}).
		AddNode("reviewer", flow.NodeSpec{
			Reads: []string{"code"}, Writes: []string{"review"}, Fn: reviewer,
		}).
		AddNode("refactorer", flow.NodeSpec{
			Reads: []string{"code", "review"}, Writes: []string{"refactored_code"}, Fn: refactorer,
		}).
		SetEntry("coder").
		AddEdge("coder", "reviewer").
		AddEdge("reviewer", "refactorer").
		MarkTerminal("refactorer").
		Build()
}
