package rabbitmq

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConnectionClosed   = errors.New("rabbitmq: connection is closed")
	ErrMaxRetriesExceeded = errors.New("rabbitmq: maximum reconnection attempts exceeded")

	ErrChannelPoolClosed    = errors.New("rabbitmq: channel pool is closed")
	ErrChannelPoolExhausted = errors.New("rabbitmq: channel pool exhausted")

	ErrPublishNotConfirmed = errors.New("rabbitmq: publish not confirmed by broker")
	ErrConfirmTimeout      = errors.New("rabbitmq: timeout waiting for publisher confirm")

	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// ConnectionError wraps a connection-level failure with its operation
// context.
type ConnectionError struct {
	Op       string
	Err      error
	Attempts int
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError wraps a publish failure with the exchange and routing key
// involved.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
