package live

import "sync/atomic"

// Clock assigns the process-wide monotonic sequence numbers carried by
// observer events. Consumers use seq gaps to detect dropped events
// after a slow spell.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last assigned sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
