package flow

import (
	"strings"
	"testing"
)

func TestMermaidRendersTopology(t *testing.T) {
	g := mustBuild(t, NewGraph("review").
		AddNode("gen", noopSpec("code")).
		AddNode("eval", noopSpec("score")).
		AddNode("route", noopSpec()).
		AddNode("fast", noopSpec()).
		AddNode("done", noopSpec()).
		SetEntry("gen").
		AddEdge("gen", "eval").
		AddQualityGate("eval", &QualityGate{
			ScoreField: "score", IterationField: "iter",
			Threshold: 7, MaxIterations: 3,
		}, "route", "gen").
		AddConditionalEdge("route", "fast", func(st State) bool { return st.GetBool("fast") }).
		AddDefaultEdge("route", "done").
		MarkTerminal("fast").MarkTerminal("done"))

	out := g.Mermaid()
	want := []string{
		"graph TD;",
		"gen([gen]);",
		"fast[[fast]];",
		"done[[done]];",
		"eval -->|accept| route;",
		"eval -->|retry| gen;",
		"route -.-> fast;",
		"route -->|default| done;",
		"gen --> eval;",
	}
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Errorf("Mermaid output missing %q:\n%s", line, out)
		}
	}
}

func TestMermaidRendersFanOut(t *testing.T) {
	g := mustBuild(t, NewGraph("fan").
		AddNode("split", noopSpec()).
		AddNode("left", noopSpec("l")).
		AddNode("right", noopSpec("r")).
		AddNode("join", noopSpec()).
		SetEntry("split").
		AddFanOut("split", []string{"left", "right"}, "join").
		AddEdge("left", "join").AddEdge("right", "join").
		MarkTerminal("join"))

	out := g.Mermaid()
	for _, line := range []string{"split ==> left;", "split ==> right;", "left --> join;"} {
		if !strings.Contains(out, line) {
			t.Errorf("Mermaid output missing %q:\n%s", line, out)
		}
	}
}
