package patterns

import (
	"strconv"
	"strings"
)

// Scores holds the three per-criterion ratings an evaluator produces.
type Scores struct {
	Security    int
	Performance int
	Readability int
}

// Min returns the lowest of the three scores; loops route on the
// weakest criterion.
func (s Scores) Min() int {
	m := s.Security
	if s.Performance < m {
		m = s.Performance
	}
	if s.Readability < m {
		m = s.Readability
	}
	return m
}

// ParseScores extracts ratings from an evaluator response in the form
// "Security: X, Performance: Y, Readability: Z". Any part that cannot
// be parsed falls back to 5, a neutral midpoint, so a malformed model
// response degrades instead of failing the run.
func ParseScores(response string) Scores {
	scores := Scores{Security: 5, Performance: 5, Readability: 5}
	parts := strings.Split(response, ",")
	if len(parts) < 3 {
		return scores
	}
	if v, ok := parseScorePart(parts[0]); ok {
		scores.Security = v
	}
	if v, ok := parseScorePart(parts[1]); ok {
		scores.Performance = v
	}
	if v, ok := parseScorePart(parts[2]); ok {
		scores.Readability = v
	}
	return scores
}

func parseScorePart(part string) (int, bool) {
	_, after, found := strings.Cut(part, ":")
	if !found {
		return 0, false
	}
	after = strings.TrimSpace(after)
	end := 0
	for end < len(after) && after[end] >= '0' && after[end] <= '9' {
		end++
	}
	v, err := strconv.Atoi(after[:end])
	if err != nil || v < 1 || v > 10 {
		return 0, false
	}
	return v, true
}

// classifyTask buckets a task description for expert routing by
// keyword, mirroring how review requests are triaged.
func classifyTask(input string) string {
	lower := strings.ToLower(input)
	switch {
	case containsAny(lower, "authentication", "login", "auth", "password", "security"):
		return "security"
	case containsAny(lower, "database", "sql", "query", "schema", "db"):
		return "database"
	case containsAny(lower, "performance", "optimize", "slow", "latency", "cache"):
		return "performance"
	default:
		return "general"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// splitLines returns the non-empty trimmed lines of a response, used to
// read list-shaped model output such as subtask breakdowns.
func splitLines(response string) []string {
	var out []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
