// Package engine implements the punch-processing pipeline: ingest with
// deduplication and admission control, stage-run assembly with source
// override and cross-chip completion, per-format overall aggregation
// and class ranking, dual-slalom start grouping, and deterministic
// recompute from the immutable punch log.
//
// Punches are the source of truth. Every derived row (stage runs,
// overall results) can be rebuilt by replaying the log in
// (punch_time, id) order; RecomputeAll verifies this is a fixed point.
//
// Concurrency model: all mutations for one event run inside that
// event's critical section. Ingest on distinct events proceeds in
// parallel; pipeline steps inside the section are strictly
// synchronous. Per-punch failures inside batch loops are logged and
// skipped so one bad row cannot stall a race.
package engine

import (
	"sync"
	"time"

	"github.com/eklind/gravitytiming/internal/live"
	"github.com/eklind/gravitytiming/internal/store"
)

// DefaultDedupWindow is how far apart two punches on the same control
// can be and still describe the same passage. A rider rolling over a
// beacon produces bursts well inside two seconds.
const DefaultDedupWindow = 2 * time.Second

// DefaultCloseFinishGap is the margin to the class leader under which
// a finish is called out as a close one.
const DefaultCloseFinishGap = 2.0

// Engine drives the timing pipeline over one repository.
type Engine struct {
	store       *store.Store
	sink        live.Sink
	dedupWindow time.Duration
	closeGap    float64

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink routes observer events (punches, standings, highlights,
// stage status) to the given sink. Default is live.NopSink.
func WithSink(s live.Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithDedupWindow overrides the duplicate window.
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.dedupWindow = d
	}
}

// WithCloseFinishGap overrides the close-finish highlight margin.
func WithCloseFinishGap(seconds float64) Option {
	return func(e *Engine) {
		e.closeGap = seconds
	}
}

// New creates an Engine over the given repository.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		sink:        live.NopSink{},
		dedupWindow: DefaultDedupWindow,
		closeGap:    DefaultCloseFinishGap,
		locks:       make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the repository the engine mutates. Read surfaces
// (standings listings, exports) go straight to the store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// lockEvent enters the event's critical section and returns the leave
// function. Mutexes are created on first use and live for the process.
func (e *Engine) lockEvent(eventID int64) func() {
	e.mu.Lock()
	m, ok := e.locks[eventID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[eventID] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}
