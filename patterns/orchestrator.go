package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// OrchestratorAgents names the agents of the orchestrator-worker
// workflow: a planner decomposing the request, one worker agent shared
// by all subtask branches, and a synthesizer.
type OrchestratorAgents struct {
	Planner     agent.Agent
	Worker      agent.Agent
	Synthesizer agent.Agent
}

// NewOrchestrator builds a dynamic fan-out workflow. The orchestrator
// asks the planner to break "input" into independent subtasks, one per
// line; the scheduler then runs one worker branch per subtask
// concurrently. Each worker writes its result under a
// "worker_output:N" field keyed by subtask position, so branch write
// sets never collide. Synthesis joins the branches and combines the
// outputs into "final_result".
func NewOrchestrator(agents OrchestratorAgents) (*flow.Graph, error) {
	if agents.Planner == nil || agents.Worker == nil || agents.Synthesizer == nil {
		return nil, fmt.Errorf("orchestrator requires a planner, a worker, and a synthesizer")
	}

	orchestrator := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Planner.Invoke(ctx, agent.Request{
			System: "You are a project planner. Break the request into 2-4 independent subtasks, one per line. Respond with the subtask lines only.",
			Prompt: st.GetString("input"),
		})
		if err != nil {
			return st, err
		}
		subtasks := splitLines(out)
		if len(subtasks) == 0 {
			subtasks = []string{st.GetString("input")}
		}
		return st.WithField("subtasks", subtasks), nil
	}

	expand := func(st flow.State) []flow.State {
		subtasks := st.GetStringSlice("subtasks")
		seeds := make([]flow.State, len(subtasks))
		for i, task := range subtasks {
			seeds[i] = st.WithFields(map[string]any{
				"subtask":       task,
				"subtask_index": i,
			})
		}
		return seeds
	}

	worker := func(ctx context.Context, st flow.State) (flow.State, error) {
		task := st.GetString("subtask")
		out, err := agents.Worker.Invoke(ctx, agent.Request{
			System: "You are a software engineer. Complete the assigned subtask concisely.",
			Prompt: fmt.Sprintf("Overall goal: %s\n\nYour subtask: %s", st.GetString("input"), task),
		})
		if err != nil {
			return st, err
		}
		idx, _ := st.GetInt("subtask_index")
		return st.WithField(fmt.Sprintf("worker_output:%d", idx), out), nil
	}

	synthesis := func(ctx context.Context, st flow.State) (flow.State, error) {
		subtasks := st.GetStringSlice("subtasks")
		var sb strings.Builder
		for i, task := range subtasks {
			fmt.Fprintf(&sb, "Subtask: %s\nResult:\n%s\n\n",
				task, st.GetString(fmt.Sprintf("worker_output:%d", i)))
		}
		out, err := agents.Synthesizer.Invoke(ctx, agent.Request{
			System: "You combine subtask results into one coherent deliverable.",
			Prompt: fmt.Sprintf("Goal: %s\n\n%s", st.GetString("input"), sb.String()),
		})
		if err != nil {
			return st, err
		}
		return st.WithField("final_result", out), nil
	}

	return flow.NewGraph("orchestrator").
		AddNode("orchestrator", flow.NodeSpec{
			Reads: []string{"input"}, Writes: []string{"subtasks"}, Fn: orchestrator,
		}).
		AddNode("worker", flow.NodeSpec{
			Reads:  []string{"input", "subtask", "subtask_index"},
			Writes: []string{"worker_output:*"},
			Fn:     worker,
		}).
		AddNode("synthesis", flow.NodeSpec{
			Reads:  []string{"input", "subtasks"},
			Writes: []string{"final_result"},
			Fn:     synthesis,
		}).
		SetEntry("orchestrator").
		AddDynamicFanOut("orchestrator", "worker", "synthesis", expand).
		MarkTerminal("synthesis").
		Build()
}

// WorkerOutputs collects the per-subtask results from a finished
// orchestrator run, ordered by subtask position.
func WorkerOutputs(st flow.State) []string {
	var keys []string
	for _, k := range st.Keys() {
		if strings.HasPrefix(k, "worker_output:") {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return workerIndex(keys[i]) < workerIndex(keys[j])
	})
	outputs := make([]string, 0, len(keys))
	for _, k := range keys {
		outputs = append(outputs, st.GetString(k))
	}
	return outputs
}

func workerIndex(key string) int {
	var n int
	fmt.Sscanf(strings.TrimPrefix(key, "worker_output:"), "%d", &n)
	return n
}
