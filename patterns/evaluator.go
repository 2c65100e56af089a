package patterns

import (
	"context"
	"fmt"

	"github.com/flowgraph/flowgraph/flow"
	"github.com/flowgraph/flowgraph/flow/agent"
)

// EvaluatorAgents names the agents of the evaluator-optimizer loop: a
// generator producing code and an evaluator scoring it.
type EvaluatorAgents struct {
	Generator agent.Agent
	Evaluator agent.Agent
}

// Evaluator loop defaults. Quality must reach the threshold within the
// iteration ceiling; otherwise the best-scoring candidate wins.
const (
	EvaluatorThreshold     = 7
	EvaluatorMaxIterations = 3
)

// NewEvaluatorOptimizer builds a quality-gated refinement loop. The
// generator writes "code" from "input", improving on the previous
// attempt when evaluator feedback is present. The evaluator scores the
// code on security, performance, and readability; "quality_score" is
// the minimum of the three, so one weak dimension holds the whole
// candidate back. The gate accepts at the threshold, retries below it,
// and when the iteration ceiling is hit releases the best-scoring
// candidate seen so far.
func NewEvaluatorOptimizer(agents EvaluatorAgents) (*flow.Graph, error) {
	if agents.Generator == nil || agents.Evaluator == nil {
		return nil, fmt.Errorf("evaluator-optimizer requires a generator and an evaluator")
	}

	generator := func(ctx context.Context, st flow.State) (flow.State, error) {
		prompt := st.GetString("input")
		if feedback := st.GetString("evaluation"); feedback != "" {
			prompt = fmt.Sprintf(
				"Improve this code based on the evaluation.\n\nTask: %s\n\nCurrent code:\n%s\n\nEvaluation:\n%s",
				st.GetString("input"), st.GetString("code"), feedback)
		}
		out, err := agents.Generator.Invoke(ctx, agent.Request{
			System: "You are a senior software engineer. Write clean, secure, efficient code.",
			Prompt: prompt,
		})
		if err != nil {
			return st, err
		}
		return st.WithField("code", out), nil
	}

	evaluator := func(ctx context.Context, st flow.State) (flow.State, error) {
		out, err := agents.Evaluator.Invoke(ctx, agent.Request{
			System: "Rate this code on THREE separate criteria from 1-10. Respond ONLY in this format: 'Security: X, Performance: Y, Readability: Z'",
			Prompt: st.GetString("code"),
		})
		if err != nil {
			return st, err
		}
		scores := ParseScores(out)
		return st.WithFields(map[string]any{
			"evaluation":        out,
			"security_score":    float64(scores.Security),
			"performance_score": float64(scores.Performance),
			"readability_score": float64(scores.Readability),
			"quality_score":     float64(scores.Min()),
		}), nil
	}

	finalize := func(ctx context.Context, st flow.State) (flow.State, error) {
		return st.WithField("final_code", st.GetString("code")), nil
	}

	return flow.NewGraph("evaluator-optimizer").
		AddNode("generator", flow.NodeSpec{
			Reads:  []string{"input", "code", "evaluation"},
			Writes: []string{"code"},
			Fn:     generator,
		}).
		AddNode("evaluator", flow.NodeSpec{
			Reads: []string{"code"},
			Writes: []string{
				"evaluation", "security_score", "performance_score",
				"readability_score", "quality_score",
			},
			Fn: evaluator,
		}).
		AddNode("finalize", flow.NodeSpec{
			Reads: []string{"code"}, Writes: []string{"final_code"}, Fn: finalize,
		}).
		SetEntry("generator").
		AddEdge("generator", "evaluator").
		AddQualityGate("evaluator", &flow.QualityGate{
			ScoreField:     "quality_score",
			IterationField: "iteration_count",
			Threshold:      EvaluatorThreshold,
			MaxIterations:  EvaluatorMaxIterations,
			Selection:      flow.SelectBest,
		}, "finalize", "generator").
		MarkTerminal("finalize").
		Build()
}
