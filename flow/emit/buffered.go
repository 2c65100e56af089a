package emit

import "sync"

// BufferedEmitter captures events in memory, keyed by run ID. Intended
// for tests, debugging, and post-run analysis; long-running production
// workloads should prefer a streaming backend since nothing is evicted
// automatically.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty buffer.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of the events emitted for a run, in emission
// order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryByMsg returns a run's events with a matching message.
func (b *BufferedEmitter) HistoryByMsg(runID, msg string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events[runID] {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops one run's history, or everything when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
