package patterns

import (
	"context"
	"fmt"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// RoutingAgents names the agents of the conditional routing workflow:
// one expert per review domain.
type RoutingAgents struct {
	Security    agent.Agent
	Performance agent.Agent
	Database    agent.Agent
	General     agent.Agent
}

// NewExpertRouting builds a workflow that classifies the "input" task
// and routes it to the matching expert. The router writes
// "route_decision"; the chosen expert writes "analysis". Tasks that
// match no specialty fall through to the general expert.
func NewExpertRouting(agents RoutingAgents) (*flow.Graph, error) {
	if agents.Security == nil || agents.Performance == nil || agents.Database == nil || agents.General == nil {
		return nil, fmt.Errorf("expert routing requires all four expert agents")
	}

	router := func(ctx context.Context, st flow.State) (flow.State, error) {
		return st.WithField("route_decision", classifyTask(st.GetString("input"))), nil
	}

	expert := func(a agent.Agent, system string) flow.NodeFunc {
		return func(ctx context.Context, st flow.State) (flow.State, error) {
			out, err := a.Invoke(ctx, agent.Request{
				System: system,
				Prompt: st.GetString("input"),
			})
			if err != nil {
				return st, err
			}
			return st.WithField("analysis", out).WithField("analyzed_by", a.Name()), nil
		}
	}

	routeTo := func(decision string) flow.Predicate {
		return func(st flow.State) bool {
			return st.GetString("route_decision") == decision
		}
	}

	expertSpec := func(a agent.Agent, system string) flow.NodeSpec {
		return flow.NodeSpec{
			Reads:  []string{"input"},
			Writes: []string{"analysis", "analyzed_by"},
			Fn:     expert(a, system),
		}
	}

	return flow.NewGraph("expert-routing").
		AddNode("router", flow.NodeSpec{
			Reads: []string{"input"}, Writes: []string{"route_decision"}, Fn: router,
		}).
		AddNode("security", expertSpec(agents.Security,
			"You are a security expert. Focus on vulnerabilities, authentication flaws, and unsafe input handling.")).
		AddNode("performance", expertSpec(agents.Performance,
			"You are a performance expert. Focus on algorithmic complexity, allocations, and caching.")).
		AddNode("database", expertSpec(agents.Database,
			"You are a database expert. Review SQL queries, schema design, and data access patterns.")).
		AddNode("general", expertSpec(agents.General,
			"You are a senior engineer. Give a broad review covering correctness and maintainability.")).
		SetEntry("router").
		AddConditionalEdge("router", "security", routeTo("security")).
		AddConditionalEdge("router", "performance", routeTo("performance")).
		AddConditionalEdge("router", "database", routeTo("database")).
		AddDefaultEdge("router", "general").
		MarkTerminal("security").
		MarkTerminal("performance").
		MarkTerminal("database").
		MarkTerminal("general").
		Build()
}
