package patterns

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// SupervisorAgents names the agents of the supervisor workflow: a coder
// producing the code under analysis, three experts, and a synthesizer.
type SupervisorAgents struct {
	Coder       agent.Agent
	Security    agent.Agent
	Quality     agent.Agent
	Database    agent.Agent
	Synthesizer agent.Agent
}

// supervisorRounds bounds the delegation loop: three experts plus the
// completion round, with headroom for re-delegation.
const supervisorRounds = 6

// NewSupervisor builds a delegation loop. The coder writes "code" and
// classifies the task; the supervisor then repeatedly picks the next
// expert until every relevant expert has reported, prioritizing the
// security expert for authentication tasks and the database expert
// when the code touches SQL. Experts append to "completed_agents" and
// write their report fields; synthesis merges the reports into
// "final_analysis".
//
// The loop is bounded by a quality gate on the supervisor: completion
// scores 1 when all experts are done, and the iteration ceiling
// guarantees termination even if delegation misbehaves.
func NewSupervisor(agents SupervisorAgents) (*flow.Graph, error) {
	if agents.Coder == nil || agents.Security == nil || agents.Quality == nil ||
		agents.Database == nil || agents.Synthesizer == nil {
		return nil, fmt.Errorf("supervisor requires coder, three experts, and a synthesizer")
	}

	coder := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Coder.Invoke(ctx, agent.Request{
			System: "You are a senior software engineer. Write only production-ready code with proper error handling.",
			Prompt: st.GetString("input"),
		})
		if err != nil {
			return st, err
		}
		return st.WithFields(map[string]any{
			"code":      out,
			"task_type": classifyTask(st.GetString("input")),
		}), nil
	}

	supervisor := func(ctx context.Context, st flow.State) (flow.State, error) {
		next := pickNextExpert(st)
		completion := 0.0
		if next == "" {
			completion = 1.0
		}
		return st.WithFields(map[string]any{
			"next_agent": next,
			"completion": completion,
		}), nil
	}

	expert := func(a agent.Agent, name, system, field string) flow.NodeSpec {
		return flow.NodeSpec{
			Reads:  []string{"code"},
			Writes: []string{field, "completed_agents"},
			Fn: func(ctx context.Context, st flow.State) (flow.State, error) {
				out, err := a.Invoke(ctx, agent.Request{
					System: system,
					Prompt: "Analyze this code:\n" + st.GetString("code"),
				})
				if err != nil {
					return st, err
				}
				completed := append(st.GetStringSlice("completed_agents"), name)
				return st.WithField(field, out).WithField("completed_agents", completed), nil
			},
		}
	}

	synthesis := func(ctx context.Context, st flow.State) (flow.State, error) {
		prompt := fmt.Sprintf(
			"Create a final analysis with key recommendations from these expert reports.\n\nSecurity:\n%s\n\nQuality:\n%s\n\nDatabase:\n%s",
			st.GetString("security_report"),
			st.GetString("quality_report"),
			st.GetString("database_report"))
		out, err := agents.Synthesizer.Invoke(ctx, agent.Request{
			System: "You synthesize expert reports into a final summary.",
			Prompt: prompt,
		})
		if err != nil {
			return st, err
		}
		return st.WithField("final_analysis", out), nil
	}

	delegate := func(ctx context.Context, st flow.State) (flow.State, error) {
		return st, nil
	}

	nextIs := func(name string) flow.Predicate {
		return func(st flow.State) bool { return st.GetString("next_agent") == name }
	}

	return flow.NewGraph("supervisor").
		AddNode("coder", flow.NodeSpec{
			Reads: []string{"input"}, Writes: []string{"code", "task_type"}, Fn: coder,
		}).
		AddNode("supervisor", flow.NodeSpec{
			Reads:  []string{"code", "task_type", "completed_agents"},
			Writes: []string{"next_agent", "completion"},
			Fn:     supervisor,
		}).
		AddNode("delegate", flow.NodeSpec{Fn: delegate}).
		AddNode("security_expert", expert(agents.Security, "security_expert",
			"You are a security expert. Focus on vulnerabilities and security best practices.", "security_report")).
		AddNode("quality_expert", expert(agents.Quality, "quality_expert",
			"You are a quality expert. Review code structure and maintainability.", "quality_report")).
		AddNode("database_expert", expert(agents.Database, "database_expert",
			"You are a database expert. Review SQL queries, schema design, and database interactions.", "database_report")).
		AddNode("synthesis", flow.NodeSpec{
			Reads:  []string{"security_report", "quality_report", "database_report"},
			Writes: []string{"final_analysis"},
			Fn:     synthesis,
		}).
		SetEntry("coder").
		AddEdge("coder", "supervisor").
		AddQualityGate("supervisor", &flow.QualityGate{
			ScoreField:     "completion",
			IterationField: "supervisor_rounds",
			Threshold:      1,
			MaxIterations:  supervisorRounds,
		}, "synthesis", "delegate").
		AddConditionalEdge("delegate", "security_expert", nextIs("security_expert")).
		AddConditionalEdge("delegate", "database_expert", nextIs("database_expert")).
		AddDefaultEdge("delegate", "quality_expert").
		AddEdge("security_expert", "supervisor").
		AddEdge("quality_expert", "supervisor").
		AddEdge("database_expert", "supervisor").
		MarkTerminal("synthesis").
		Build()
}

// pickNextExpert returns the next expert to consult, or "" when all
// relevant experts have reported. Authentication tasks go to the
// security expert first; SQL in the code pulls in the database expert.
func pickNextExpert(st flow.State) string {
	completed := make(map[string]bool)
	for _, name := range st.GetStringSlice("completed_agents") {
		completed[name] = true
	}
	code := strings.ToLower(st.GetString("code"))
	needsDatabase := st.GetString("task_type") == "database" ||
		containsAny(code, "sql", "select ", "insert ", "database", "schema")

	switch {
	case st.GetString("task_type") == "security" && !completed["security_expert"]:
		return "security_expert"
	case needsDatabase && !completed["database_expert"]:
		return "database_expert"
	case !completed["security_expert"]:
		return "security_expert"
	case !completed["quality_expert"]:
		return "quality_expert"
	default:
		return ""
	}
}
