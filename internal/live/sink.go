package live

// Sink receives observer events from the engine. The Hub is the
// production sink; NopSink serves engines running without observers
// (imports, recompute from the CLI).
//
// Publish must not block: the engine calls it inside its per-event
// critical section.
type Sink interface {
	Publish(kind Kind, payload any)
}

// NopSink discards every event.
type NopSink struct{}

// Publish does nothing.
func (NopSink) Publish(Kind, any) {}
