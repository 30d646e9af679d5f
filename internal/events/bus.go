package events

import (
	"sync"
	"sync/atomic"
)

// EventBus is a channel-based pub-sub bus carrying task lifecycle and
// dependency events. Supports topic subscriptions and SubscribeAll for
// cross-topic consumers (e.g., the websocket broadcaster).
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool
	dropped atomic.Uint64 // events dropped due to full subscriber channels
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:    make(map[string][]chan Event),
		allSubs: make([]chan Event, 0),
	}
}

// Subscribe creates a subscription to a single topic.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[topic] = append(b.subs[topic], ch)

	return ch
}

// SubscribeAll creates a subscription that receives events from every topic.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.allSubs = append(b.allSubs, ch)

	return ch
}

// Publish sends an event to all subscribers of the given topic and to all
// SubscribeAll channels. Non-blocking: a full subscriber channel drops the
// event for that subscriber and increments the drop counter.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}

	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped because a subscriber channel
// was full. Delivery is best-effort; the count exists for diagnostics.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range b.allSubs {
		close(ch)
	}
}
