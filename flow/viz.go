package flow

import (
	"fmt"
	"sort"
	"strings"
)

// Mermaid renders the graph as a Mermaid flowchart for documentation
// and debugging. Conditional edges are drawn dashed, default edges
// labeled, gate routes labeled with the accept/retry decision, and
// fan-outs drawn from the source through each branch to the join.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD;\n")

	names := sortedNames(g.registry)
	for _, name := range names {
		switch {
		case name == g.entry:
			fmt.Fprintf(&b, "\t%s([%s]);\n", name, name)
		case g.IsTerminal(name):
			fmt.Fprintf(&b, "\t%s[[%s]];\n", name, name)
		default:
			fmt.Fprintf(&b, "\t%s[%s];\n", name, name)
		}
	}

	for _, name := range names {
		if gr, ok := g.gates[name]; ok {
			fmt.Fprintf(&b, "\t%s -->|accept| %s;\n", name, gr.accept)
			fmt.Fprintf(&b, "\t%s -->|retry| %s;\n", name, gr.retry)
			continue
		}
		if fo, ok := g.fanOuts[name]; ok {
			if fo.dynamic() {
				fmt.Fprintf(&b, "\t%s ==>|expand| %s;\n", name, fo.Worker)
			} else {
				branches := append([]string{}, fo.Branches...)
				sort.Strings(branches)
				for _, br := range branches {
					fmt.Fprintf(&b, "\t%s ==> %s;\n", name, br)
				}
			}
			continue
		}
		for _, e := range g.edgesFrom[name] {
			switch {
			case e.conditional():
				fmt.Fprintf(&b, "\t%s -.-> %s;\n", e.From, e.To)
			case e.Default:
				fmt.Fprintf(&b, "\t%s -->|default| %s;\n", e.From, e.To)
			default:
				fmt.Fprintf(&b, "\t%s --> %s;\n", e.From, e.To)
			}
		}
	}
	return b.String()
}
