// Package emit provides pluggable observability for run execution.
//
// The scheduler emits an Event for every lifecycle transition; an
// Emitter routes them to a backend. Implementations here cover plain
// structured logging (LogEmitter), the golog logger (GologEmitter),
// OpenTelemetry spans (OTelEmitter), in-memory capture for tests and
// dashboards (BufferedEmitter), and discard (NullEmitter).
package emit

// Emitter receives observability events from run execution.
//
// Implementations must be safe for concurrent use: fan-out branches
// emit from multiple goroutines. Emit must not panic and should not
// block; a slow backend should buffer or drop rather than stall the
// run.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans events out to several emitters in order.
type MultiEmitter []Emitter

// Emit forwards the event to every wrapped emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
