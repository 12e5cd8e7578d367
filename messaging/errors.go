package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrNilEnvelope is returned when Send is called with a nil envelope.
	ErrNilEnvelope = errors.New("messaging: envelope must not be nil")

	// ErrUnsupportedBroker is returned by the factory for a broker type it
	// does not know at all.
	ErrUnsupportedBroker = errors.New("messaging: unsupported broker type")

	// ErrBrokerNotConfigured is returned by the factory for a known broker
	// type whose transport is not enabled in the configuration.
	ErrBrokerNotConfigured = errors.New("messaging: broker transport not configured")

	// ErrNoProducers is returned by Default when no transport is registered.
	ErrNoProducers = errors.New("messaging: no producers registered")

	// ErrSendTimeout is the cause carried by a TransportError when a blocking
	// send exceeds its timeout.
	ErrSendTimeout = errors.New("messaging: send timed out")

	// ErrProducerClosed is returned for sends on a closed producer.
	ErrProducerClosed = errors.New("messaging: producer is closed")

	// ErrNoHandler is returned by the dispatcher when no handler is
	// registered for the delivery's event type.
	ErrNoHandler = errors.New("messaging: no handler registered for event type")
)

// TransportError is the typed failure raised by blocking sends. It carries
// enough context to identify the broker, message and destination involved.
type TransportError struct {
	Broker      BrokerType
	MessageID   string
	Destination string
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("messaging: %s send failed for message %s to %s: %v",
		e.Broker, e.MessageID, e.Destination, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
