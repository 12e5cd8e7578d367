package messaging

import (
	"fmt"
	"sync"
)

// BrokerType identifies a transport implementation.
type BrokerType string

const (
	// BrokerKafka is the partitioned, offset-addressable log transport.
	BrokerKafka BrokerType = "kafka"

	// BrokerRabbitMQ is the exchange/queue transport.
	BrokerRabbitMQ BrokerType = "rabbitmq"
)

// Known reports whether t names a transport this core supports at all.
func (t BrokerType) Known() bool {
	return t == BrokerKafka || t == BrokerRabbitMQ
}

// BrokerFactory resolves producers by broker type. It is constructed with
// only the producers for enabled transports; resolving a disabled transport
// fails with ErrBrokerNotConfigured rather than being wired up implicitly.
type BrokerFactory struct {
	mu          sync.RWMutex
	producers   map[BrokerType]Producer
	defaultType BrokerType
}

// FactoryOption configures the broker factory.
type FactoryOption func(*BrokerFactory)

// WithDefaultBroker overrides the preferred default transport.
func WithDefaultBroker(t BrokerType) FactoryOption {
	return func(f *BrokerFactory) {
		f.defaultType = t
	}
}

// NewBrokerFactory creates an empty factory.
func NewBrokerFactory(options ...FactoryOption) *BrokerFactory {
	f := &BrokerFactory{
		producers: make(map[BrokerType]Producer),
	}

	for _, opt := range options {
		opt(f)
	}

	return f
}

// Register adds a producer for the given broker type.
func (f *BrokerFactory) Register(t BrokerType, p Producer) error {
	if !t.Known() {
		return fmt.Errorf("%w: %q", ErrUnsupportedBroker, t)
	}
	if p == nil {
		return fmt.Errorf("messaging: producer for %s must not be nil", t)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.producers[t]; exists {
		return fmt.Errorf("messaging: producer for %s already registered", t)
	}
	f.producers[t] = p
	return nil
}

// Get resolves the producer for the given broker type.
func (f *BrokerFactory) Get(t BrokerType) (Producer, error) {
	if !t.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBroker, t)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.producers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBrokerNotConfigured, t)
	}
	return p, nil
}

// Default returns the configured default producer for callers that do not
// care which transport is used. The log transport is preferred when both
// are registered.
func (f *BrokerFactory) Default() (Producer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.defaultType != "" {
		if p, ok := f.producers[f.defaultType]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrBrokerNotConfigured, f.defaultType)
	}

	if p, ok := f.producers[BrokerKafka]; ok {
		return p, nil
	}
	if p, ok := f.producers[BrokerRabbitMQ]; ok {
		return p, nil
	}
	return nil, ErrNoProducers
}

// Registered lists the broker types with a registered producer.
func (f *BrokerFactory) Registered() []BrokerType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]BrokerType, 0, len(f.producers))
	for t := range f.producers {
		types = append(types, t)
	}
	return types
}

// Close closes every registered producer, returning the first error seen.
func (f *BrokerFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for t, p := range f.producers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("messaging: closing %s producer: %w", t, err)
		}
		delete(f.producers, t)
	}
	return firstErr
}
