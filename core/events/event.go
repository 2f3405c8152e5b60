package events

import (
	"sync"

	"valuechain/core/types"
)

// Event represents a structured state change emitted by the oracle core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder accumulates emitted events in order. Emission order within one
// operation is preserved; across operations it follows execution order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder constructs an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType filters the recorded events down to the supplied type.
func (r *Recorder) ByType(eventType string) []Event {
	var matched []Event
	for _, evt := range r.Events() {
		if evt.EventType() == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

// Reset clears the recorded events.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type typedEvent interface {
	Event
	Event() *types.Event
}

// Flatten renders any typed event into its wire representation when supported.
func Flatten(evt Event) *types.Event {
	typed, ok := evt.(typedEvent)
	if !ok {
		return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}
	return typed.Event()
}
