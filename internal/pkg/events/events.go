// Package events provides a minimal typed event bus shared by the session
// store and cron scheduler, generalizing the teacher's single bespoke
// job-state callback into a channel-of-callbacks keyed by event name so
// store.reset and cron.* events can share one emission mechanism.
package events

import "sync"

// Event is a named payload dispatched to every handler registered for Name.
type Event struct {
	Name    string
	Payload any
}

// Handler receives an Event synchronously on the emitting goroutine. Handlers
// must not block; slow work should be dispatched onto a lane.
type Handler func(Event)

// Emitter is a mutex-guarded registry of handlers-by-event-name.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewEmitter constructs an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]Handler)}
}

// On registers h to be invoked for every Emit with the given name. Passing an
// empty name registers a wildcard handler invoked for every event.
func (e *Emitter) On(name string, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], h)
}

// Emit dispatches payload to every handler registered for name, then to any
// wildcard handlers registered under "".
func (e *Emitter) Emit(name string, payload any) {
	e.mu.RLock()
	named := append([]Handler(nil), e.handlers[name]...)
	wild := append([]Handler(nil), e.handlers[""]...)
	e.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, h := range named {
		h(ev)
	}
	for _, h := range wild {
		h(ev)
	}
}
