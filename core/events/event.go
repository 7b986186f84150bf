package events

import (
	"sync"

	"kylan/core/types"
)

// Event represents a structured state change emitted by the printer.
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

// Render converts a typed event into its attribute form. Events without a
// richer rendering only carry their type.
func Render(e Event) *types.Event {
	if e == nil {
		return nil
	}
	if r, ok := e.(interface{ Event() *types.Event }); ok {
		return r.Event()
	}
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
}

// Buffer holds events until the enclosing operation commits.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Flush forwards every buffered event to dst and clears the buffer.
func (b *Buffer) Flush(dst Emitter) {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if dst == nil {
		return
	}
	for _, e := range pending {
		dst.Emit(e)
	}
}

// Fanout delivers each event to every emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(e Event) {
	for _, dst := range f {
		if dst != nil {
			dst.Emit(e)
		}
	}
}
