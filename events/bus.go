// Package events broadcasts change notifications from the core to UI
// subscribers. Publishing on a nil *Bus is a no-op.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind constants describe what changed.
const (
	// KindDataChanged fires after any mutation of conversations, memory or
	// settings. Data: scope, conversation_id (optional), reason.
	KindDataChanged = "data_changed"
	// KindLog carries a newly appended diagnostic log entry.
	// Data: entry.
	KindLog = "log_appended"
)

// Scopes carried in the "scope" field of data_changed events.
const (
	ScopeConversations = "conversations"
	ScopeMemory        = "memory"
	ScopeSettings      = "settings"
)

// Event is a single change notification.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// subscriber is one UI connection. Events that do not fit in its buffer are
// counted and discarded; the UI refetches on the next event anyway.
type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// Bus fans events out to subscribers without ever blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]*subscriber
	now  func() time.Time
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[<-chan Event]*subscriber),
		now:  time.Now,
	}
}

// Emit publishes an event of kind with data, stamped now.
func (b *Bus) Emit(kind string, data map[string]any) {
	b.Publish(Event{Kind: kind, Data: data})
}

// Publish delivers e to every subscriber with room in its buffer. A zero
// Timestamp is filled in.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with a buffer of size events.
func (b *Bus) Subscribe(size int) <-chan Event {
	if size < 0 {
		size = 0
	}
	sub := &subscriber{ch: make(chan Event, size)}

	b.mu.Lock()
	b.subs[sub.ch] = sub
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes the subscription and closes its channel. It returns the
// number of events the subscriber missed, or 0 for an unknown channel.
func (b *Bus) Unsubscribe(ch <-chan Event) uint64 {
	b.mu.Lock()
	sub, ok := b.subs[ch]
	if ok {
		delete(b.subs, ch)
	}
	b.mu.Unlock()

	if !ok {
		return 0
	}
	close(sub.ch)
	return sub.dropped.Load()
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
