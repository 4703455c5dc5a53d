// Package events is the intra-process signal bus. It carries the signals a tab must see
// immediately for its own actions, which storage change notifications never deliver back to
// the writing tab.
package events

import (
	"sync"
	"time"
)

// Event is any signal published on the bus.
type Event interface {
	eventName() string
}

// SessionLocked is raised when the server reports the session as locked (a 403
// SESSION_LOCKED response or a pushed lock). At is the best known lock instant; ServerTime
// reports whether it came from the server clock.
type SessionLocked struct {
	At         time.Time
	ServerTime bool
}

// SessionUnlocked is raised when the server reports the session unlocked elsewhere.
type SessionUnlocked struct{}

// SessionTerminated is raised after credentials were cleared because the session can no
// longer be recovered (refresh failure or a terminal error code).
type SessionTerminated struct {
	Cause error
}

func (SessionLocked) eventName() string     { return "session-locked" }
func (SessionUnlocked) eventName() string   { return "session-unlocked" }
func (SessionTerminated) eventName() string { return "session-terminated" }

// Name returns the wire name of an event.
func Name(e Event) string {
	return e.eventName()
}

// Handler receives published events.
type Handler func(Event)

// Bus delivers every published event to every subscriber, synchronously and in
// subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, candidate := range b.order {
				if candidate == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to the current subscribers. Handlers run on the caller's goroutine
// without any bus lock held, so they may publish or unsubscribe.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
