package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher routes deliveries to handlers by business event type. The
// registry is built explicitly at startup; there is no runtime scanning.
// Dispatcher itself implements Handler so it can be plugged directly into a
// transport consumer.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Register binds a handler to an event type. Registering the same type twice
// is an error.
func (d *Dispatcher) Register(eventType string, handler Handler) error {
	if eventType == "" {
		return fmt.Errorf("messaging: event type must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("messaging: handler for %s must not be nil", eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[eventType]; exists {
		return fmt.Errorf("messaging: handler for %s already registered", eventType)
	}
	d.handlers[eventType] = handler
	return nil
}

// Handle implements Handler by dispatching on the delivery's event type.
// An unknown event type is an error so the consumer leaves the delivery
// unacknowledged instead of silently dropping it.
func (d *Dispatcher) Handle(ctx context.Context, delivery *Delivery) error {
	eventType := delivery.EventType()

	d.mu.RLock()
	handler, ok := d.handlers[eventType]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("no handler for event type",
			"eventType", eventType,
			"messageId", delivery.MessageID,
			"destination", delivery.Destination,
		)
		return fmt.Errorf("%w: %q", ErrNoHandler, eventType)
	}

	return handler.Handle(ctx, delivery)
}

// EventTypes lists the registered event types.
func (d *Dispatcher) EventTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}
