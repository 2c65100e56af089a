package emit

import (
	"strings"

	"github.com/kataras/golog"
)

// GologEmitter routes events to a golog logger, mapping event kinds to
// levels: failures log at error, retries and exhausted gates at warn,
// everything else at info.
type GologEmitter struct {
	logger *golog.Logger
}

// NewGologEmitter wraps a golog logger. A nil logger uses the golog
// default.
func NewGologEmitter(logger *golog.Logger) *GologEmitter {
	if logger == nil {
		logger = golog.Default
	}
	return &GologEmitter{logger: logger}
}

// Emit logs one event with run, step, and node context.
func (g *GologEmitter) Emit(event Event) {
	logf := g.logger.Infof
	switch {
	case strings.Contains(event.Msg, "failed"):
		logf = g.logger.Errorf
	case strings.Contains(event.Msg, "retrying"), strings.Contains(event.Msg, "exhausted"):
		logf = g.logger.Warnf
	}

	if event.NodeID == "" {
		logf("%s run=%s meta=%v", event.Msg, event.RunID, event.Meta)
		return
	}
	logf("%s run=%s step=%d node=%s meta=%v", event.Msg, event.RunID, event.Step, event.NodeID, event.Meta)
}
