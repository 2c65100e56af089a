package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// ProductionAgents names the agents of the production release pipeline:
// a generator producing the change and a compliance reviewer checking
// it before the human sign-off.
type ProductionAgents struct {
	Generator  agent.Agent
	Compliance agent.Agent
}

// NewProductionPipeline builds a release workflow with the production
// overlay applied: the generator retries transient provider failures
// with exponential backoff, and the release node blocks on a human
// approval decision. An approving decision routes to deploy; a
// rejection routes to rollback. Both outcomes are terminal.
//
// The approval provider comes from the scheduler
// (flow.WithApprovalProvider), so the same graph serves interactive
// and automated environments.
func NewProductionPipeline(agents ProductionAgents) (*flow.Graph, error) {
	if agents.Generator == nil || agents.Compliance == nil {
		return nil, fmt.Errorf("production pipeline requires a generator and a compliance reviewer")
	}

	generate := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Generator.Invoke(ctx, agent.Request{
			System: "You are a senior software engineer. Write only production-ready code with proper error handling.",
			Prompt: st.GetString("input"),
		})
		if err != nil {
			return st, err
		}
		return st.WithField("code", out), nil
	}

	compliance := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Compliance.Invoke(ctx, agent.Request{
			System: "You are a compliance reviewer. List any licensing, data-handling, or policy concerns in this change. Reply 'No concerns.' if there are none.",
			Prompt: st.GetString("code"),
		})
		if err != nil {
			return st, err
		}
		return st.WithField("compliance_report", out), nil
	}

	release := func(ctx context.Context, st flow.State) (flow.State, error) {
		return st.WithField("release_candidate", true), nil
	}

	deploy := func(ctx context.Context, st flow.State) (flow.State, error) {
		return st.WithField("deployed", true), nil
	}

	rollback := func(ctx context.Context, st flow.State) (flow.State, error) {
		return st.WithFields(map[string]any{
			"deployed":        false,
			"rollback_reason": "release rejected during approval",
		}), nil
	}

	approved := func(st flow.State) bool { return st.GetBool("approved") }

	return flow.NewGraph("production-pipeline").
		AddNode("generate", flow.NodeSpec{
			Reads:  []string{"input"},
			Writes: []string{"code"},
			Fn:     generate,
			Policy: &flow.NodePolicy{
				Timeout: 2 * time.Minute,
				Retry: &flow.RetryPolicy{
					MaxAttempts: 3,
					BaseDelay:   500 * time.Millisecond,
					MaxDelay:    10 * time.Second,
				},
			},
		}).
		AddNode("compliance", flow.NodeSpec{
			Reads: []string{"code"}, Writes: []string{"compliance_report"}, Fn: compliance,
		}).
		AddNode("release", flow.NodeSpec{
			Reads:  []string{"code", "compliance_report"},
			Writes: []string{"release_candidate", "approved"},
			Fn:     release,
			Policy: &flow.NodePolicy{
				Approval: &flow.ApprovalPolicy{
					Summary: func(st flow.State) string {
						return fmt.Sprintf("Release candidate ready.\n\nCompliance:\n%s", st.GetString("compliance_report"))
					},
				},
			},
		}).
		AddNode("deploy", flow.NodeSpec{
			Reads: []string{"code"}, Writes: []string{"deployed"}, Fn: deploy,
		}).
		AddNode("rollback", flow.NodeSpec{
			Writes: []string{"deployed", "rollback_reason"}, Fn: rollback,
		}).
		SetEntry("generate").
		AddEdge("generate", "compliance").
		AddEdge("compliance", "release").
		AddConditionalEdge("release", "deploy", approved).
		AddDefaultEdge("release", "rollback").
		MarkTerminal("deploy").
		MarkTerminal("rollback").
		Build()
}
