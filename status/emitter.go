package status

import "context"

// Emitter receives and publishes status transitions from the Worker
// and control.Service. Implementations must be non-blocking and
// thread-safe, and must never panic — a failing status backend must
// never crash a backtest.
type Emitter interface {
	// Publish sends a single event. Implementations should not block
	// the caller; buffer or send asynchronously if the backend is
	// slow.
	Publish(event Event)

	// PublishBatch sends multiple events in one operation, preserving
	// order. Returns an error only on catastrophic failures;
	// individual delivery failures should be logged, not returned.
	PublishBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events are sent or ctx is done.
	// Safe to call multiple times.
	Flush(ctx context.Context) error
}
