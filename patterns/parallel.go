package patterns

import (
	"context"
	"fmt"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// ParallelAgents names the agents of the parallel review workflow:
// three specialists reviewing concurrently plus a synthesizer merging
// their findings.
type ParallelAgents struct {
	Security    agent.Agent
	Performance agent.Agent
	Readability agent.Agent
	Synthesizer agent.Agent
}

// NewParallelReview builds a fan-out workflow: after a coder-provided
// "code" field enters through the intake node, the three specialists
// run concurrently on independent state copies, each writing its own
// report field, and the synthesis node merges the reports into
// "final_review". Branch write sets are disjoint by construction, so
// the fan-in always merges cleanly.
func NewParallelReview(agents ParallelAgents) (*flow.Graph, error) {
	if agents.Security == nil || agents.Performance == nil || agents.Readability == nil || agents.Synthesizer == nil {
		return nil, fmt.Errorf("parallel review requires three specialists and a synthesizer")
	}

	intake := func(ctx context.Context, st flow.State) (flow.State, error) {
		if st.GetString("code") == "" {
			return st, fmt.Errorf("parallel review requires a code field")
		}
		return st, nil
	}

	specialist := func(a agent.Agent, system, field string) flow.NodeSpec {
		return flow.NodeSpec{
			Reads:  []string{"code"},
			Writes: []string{field},
			Fn: func(ctx context.Context, st flow.State) (flow.State, error) {
				out, err := a.Invoke(ctx, agent.Request{
					System: system,
					Prompt: "Review this code:\n" + st.GetString("code"),
				})
				if err != nil {
					return st, err
				}
				return st.WithField(field, out), nil
			},
		}
	}

	synthesis := func(ctx context.Context, st flow.State) (flow.State, error) {
		prompt := fmt.Sprintf(
			"Combine these review reports into one summary with key recommendations.\n\nSecurity:\n%s\n\nPerformance:\n%s\n\nReadability:\n%s",
			st.GetString("security_review"),
			st.GetString("performance_review"),
			st.GetString("readability_review"))
		out, err := agents.Synthesizer.Invoke(ctx, agent.Request{
			System: "You synthesize expert reviews into a single actionable report.",
			Prompt: prompt,
		})
		if err != nil {
			return st, err
		}
		return st.WithField("final_review", out), nil
	}

	return flow.NewGraph("parallel-review").
		AddNode("intake", flow.NodeSpec{Reads: []string{"code"}, Fn: intake}).
		AddNode("security", specialist(agents.Security,
			"You are a security reviewer. Report vulnerabilities and unsafe patterns.", "security_review")).
		AddNode("performance", specialist(agents.Performance,
			"You are a performance reviewer. Report inefficiencies and hot spots.", "performance_review")).
		AddNode("readability", specialist(agents.Readability,
			"You are a readability reviewer. Report naming, structure, and clarity issues.", "readability_review")).
		AddNode("synthesis", flow.NodeSpec{
			Reads:  []string{"security_review", "performance_review", "readability_review"},
			Writes: []string{"final_review"},
			Fn:     synthesis,
		}).
		SetEntry("intake").
		AddFanOut("intake", []string{"security", "performance", "readability"}, "synthesis").
		AddEdge("security", "synthesis").
		AddEdge("performance", "synthesis").
		AddEdge("readability", "synthesis").
		MarkTerminal("synthesis").
		Build()
}
