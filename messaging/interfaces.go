package messaging

import (
	"context"
	"time"

	"github.com/docuflow/relay-go/contracts"
)

// Producer sends envelopes over a single transport. Implementations must be
// safe for concurrent use by multiple goroutines; thread-safety of the
// underlying wire client is delegated to that client.
type Producer interface {
	// Send dispatches the envelope asynchronously and returns a future that
	// completes with the transport outcome. A non-nil error is returned only
	// for pre-send programming mistakes (nil or invalid envelope, closed
	// producer); transport-level failures surface inside the future's Result.
	Send(ctx context.Context, env *contracts.Envelope) (*SendFuture, error)

	// SendAndWait blocks up to timeout for the transport outcome. It returns
	// a *TransportError if the timeout elapses or the underlying send fails;
	// callers needing a hard delivery guarantee use this path.
	SendAndWait(ctx context.Context, env *contracts.Envelope, timeout time.Duration) (contracts.Result, error)

	// Close releases the transport resources. In-flight sends complete or
	// fail; new sends are rejected.
	Close() error
}

// Handler processes a single delivery. Returning nil acknowledges the
// delivery; returning an error leaves it unacknowledged so the transport
// redelivers or dead-letters it.
type Handler interface {
	Handle(ctx context.Context, delivery *Delivery) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, delivery *Delivery) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, delivery *Delivery) error {
	return f(ctx, delivery)
}

// MetricsCollector records transport metrics. Implementations must be safe
// for concurrent use from transport callback goroutines.
type MetricsCollector interface {
	// RecordSend records one send attempt per broker and destination,
	// including its latency regardless of outcome.
	RecordSend(broker, destination string, duration time.Duration, success bool)

	// RecordConsume records one processed delivery per destination.
	RecordConsume(destination string, duration time.Duration, success bool)

	// RecordReturned records an unroutable message returned by the queue
	// broker. This is distinct from a confirm failure.
	RecordReturned(exchange, routingKey string)

	// RecordDeadLetter records a dead-letter routing action ("routed" or
	// "replayed") per exchange.
	RecordDeadLetter(exchange, action string)
}

// NoOpMetricsCollector discards all metrics.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSend(broker, destination string, duration time.Duration, success bool) {
}
func (NoOpMetricsCollector) RecordConsume(destination string, duration time.Duration, success bool) {}
func (NoOpMetricsCollector) RecordReturned(exchange, routingKey string)                            {}
func (NoOpMetricsCollector) RecordDeadLetter(exchange, action string)                              {}
