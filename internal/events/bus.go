// Package events provides the in-process action bus. Every persisted action
// is republished here so subscribers (the observer, dashboards, metrics) see
// a live stream without polling the database. The bus is an explicit value
// passed to its consumers, never a package-level singleton, and is nil-safe:
// calling Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"time"
)

// Action is the bus form of a persisted action row.
type Action struct {
	// SessionID references the owning session.
	SessionID int64 `json:"sessionId"`
	// Type is the action type, one of the actions.* constants.
	Type string `json:"actionType"`
	// Data holds action-specific key/value pairs. May be nil.
	Data map[string]any `json:"data,omitempty"`
	// CreatedAt is the persistence timestamp.
	CreatedAt time.Time `json:"createdAt"`
}

// Bus is a broadcast bus for action events. Subscribers receive events on
// buffered channels; a full subscriber misses events rather than blocking
// the publisher. Publication happens after the database write commits, so a
// subscriber never observes an action that was not persisted.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Action]struct{}
	// recvToSend maps the receive-only channel handed to the subscriber
	// back to the bidirectional channel stored in subs, so Unsubscribe can
	// accept the caller's view of the channel.
	recvToSend map[<-chan Action]chan Action
}

// NewBus creates an empty bus ready for use.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Action]struct{}),
		recvToSend: make(map[<-chan Action]chan Action),
	}
}

// Publish delivers the action to all subscribers. Non-blocking: if a
// subscriber's buffer is full the event is dropped for that subscriber.
// Safe to call on a nil receiver.
func (b *Bus) Publish(a Action) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- a:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel. bufSize
// controls the channel buffer; the observer uses 256. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Action {
	ch := make(chan Action, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Calling it
// twice with the same channel is a no-op.
func (b *Bus) Unsubscribe(ch <-chan Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
