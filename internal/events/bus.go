// Package events provides an in-process broadcast bus used to announce
// changes of the authenticated identity to unrelated consumers.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event
type Type string

const (
	// IdentityChanged is published whenever the authenticated subject changes:
	// sign-in as a different principal, sign-out, or reinstall cleanup
	IdentityChanged Type = "identity_changed"
)

// Event is a payload-free notification carrying only its sender
type Event struct {
	Type   Type
	Sender string
	At     time.Time
}

// Handler receives published events
type Handler func(Event)

// Bus fans events out to all subscribers synchronously, in subscription order
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a func that removes it
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every current subscriber.
// Handlers run on the caller's goroutine and must not publish re-entrantly.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
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
