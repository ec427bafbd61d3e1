package live

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel depth. A speaker display
// that stalls for a few seconds survives a burst of finishes without
// losing the newest events.
const DefaultBuffer = 64

// Hub fans observer events out to subscribers. Each subscriber owns a
// buffered channel; when a consumer falls behind, the oldest buffered
// event is dropped to make room for the newest. Consumers detect the
// loss from the seq gap.
//
// Thread-safety: Publish, Subscribe and Close may be called from any
// goroutine.
type Hub struct {
	mu    sync.Mutex
	clock *Clock
	idGen IDGenerator
	subs  map[*Subscriber]struct{}
	buf   int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber channel depth. Values below 1 are
// raised to 1.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n < 1 {
			n = 1
		}
		h.buf = n
	}
}

// WithIDGenerator replaces the UUIDv7 id generator, letting tests pin
// event ids.
func WithIDGenerator(g IDGenerator) HubOption {
	return func(h *Hub) {
		h.idGen = g
	}
}

// NewHub creates a hub with no subscribers.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clock: NewClock(),
		idGen: UUIDv7Generator{},
		subs:  make(map[*Subscriber]struct{}),
		buf:   DefaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscriber is one consumer's view of the hub.
type Subscriber struct {
	hub     *Hub
	ch      chan Event
	dropped atomic.Int64
	closed  bool
}

// Subscribe registers a new consumer. The caller must drain Events()
// or accept drop-oldest losses, and must Close() when done.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscriber{hub: h, ch: make(chan Event, h.buf)}
	h.subs[s] = struct{}{}
	return s
}

// Publish stamps the payload with the next seq and a fresh id, then
// delivers it to every subscriber. Never blocks: slow subscribers lose
// their oldest buffered event instead.
func (h *Hub) Publish(kind Kind, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:      h.idGen.Generate(),
		Seq:     h.clock.Next(),
		Kind:    kind,
		Payload: payload,
	}

	for s := range h.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		// Full buffer: evict the oldest, then retry once.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	return h.clock.Current()
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Publish after Close is a
// no-op delivery to nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		delete(h.subs, s)
	}
}

// Events returns the subscriber's delivery channel. The channel closes
// when the subscriber or the hub is closed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber has lost to
// drop-oldest eviction.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Close removes the subscriber from the hub and closes its channel.
// Safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.hub.subs, s)
	close(s.ch)
}
