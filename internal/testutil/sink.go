package testutil

import (
	"sync"

	"github.com/eklind/gravitytiming/internal/live"
)

// Published is one observer event a CaptureSink recorded.
type Published struct {
	Kind    live.Kind
	Payload any
}

// CaptureSink records every observer event the engine publishes, in
// order, for test assertions. Safe for concurrent use.
type CaptureSink struct {
	mu   sync.Mutex
	msgs []Published
}

var _ live.Sink = (*CaptureSink)(nil)

func (c *CaptureSink) Publish(kind live.Kind, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, Published{Kind: kind, Payload: payload})
}

// All returns a copy of everything published so far.
func (c *CaptureSink) All() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// ByKind returns the published events of one kind, in publish order.
func (c *CaptureSink) ByKind(kind live.Kind) []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Published
	for _, m := range c.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (c *CaptureSink) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}
