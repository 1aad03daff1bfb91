package events

import (
	"sync"

	"tokensale/core/types"
)

// Event represents a structured state change emitted by the sale.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the audit log,
// metrics, HTTP streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to every wrapped emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events matching the supplied type.
func (r *Recorder) OfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
