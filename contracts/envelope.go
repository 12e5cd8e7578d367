package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header names shared by both transports. Keys are ASCII; values must be
// UTF-8 encodable strings.
const (
	// HeaderMessageID carries the envelope id on the wire so the broker ack
	// can be correlated back to the original send.
	HeaderMessageID = "message-id"

	// HeaderEventType identifies the business event type so consumers can
	// dispatch without inspecting the payload shape.
	HeaderEventType = "x-event-type"

	// HeaderCorrelationID propagates a caller-chosen correlation id.
	HeaderCorrelationID = "x-correlation-id"
)

// Dead-letter provenance headers stamped by the dead-letter router.
const (
	HeaderOriginalExchange   = "x-original-exchange"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderExceptionClass     = "x-exception-class"
	HeaderExceptionMessage   = "x-exception-message"
	HeaderFailureTimestamp   = "x-failure-timestamp"
	HeaderRetryCount         = "x-retry-count"
)

var (
	ErrEmptyDestination = errors.New("contracts: envelope destination must not be blank")
	ErrNilPayload       = errors.New("contracts: envelope payload must not be nil")
)

// Envelope is the immutable wrapper handed to a producer. It is owned solely
// by the send call until the transport takes it over; callers must not mutate
// it after Send.
type Envelope struct {
	// ID is unique per send attempt. It is used for header-level tracing,
	// never for business-level idempotency.
	ID string

	// Destination is the topic (log transport) or exchange (queue transport).
	Destination string

	// Key is an opaque routing/partition token. When non-empty it governs
	// ordering on the log transport; empty means no ordering guarantee.
	Key string

	// Headers holds optional metadata such as event type and correlation id.
	Headers map[string]string

	// Timestamp is the send time, set at construction.
	Timestamp time.Time

	// Payload is the business object being transported, opaque to the core.
	Payload []byte
}

// EnvelopeOption configures an envelope at construction time.
type EnvelopeOption func(*Envelope)

// WithKey sets the routing/partition key. Any non-empty string is accepted
// as an opaque ordering token.
func WithKey(key string) EnvelopeOption {
	return func(e *Envelope) {
		e.Key = key
	}
}

// WithHeader sets a single header.
func WithHeader(key, value string) EnvelopeOption {
	return func(e *Envelope) {
		e.Headers[key] = value
	}
}

// WithHeaders merges the given headers into the envelope.
func WithHeaders(headers map[string]string) EnvelopeOption {
	return func(e *Envelope) {
		for k, v := range headers {
			e.Headers[k] = v
		}
	}
}

// WithEventType sets the business event type header.
func WithEventType(eventType string) EnvelopeOption {
	return func(e *Envelope) {
		e.Headers[HeaderEventType] = eventType
	}
}

// WithCorrelationID sets the correlation id header.
func WithCorrelationID(correlationID string) EnvelopeOption {
	return func(e *Envelope) {
		e.Headers[HeaderCorrelationID] = correlationID
	}
}

// NewEnvelope creates an envelope with a generated id and timestamp.
func NewEnvelope(destination string, payload []byte, options ...EnvelopeOption) (*Envelope, error) {
	e := &Envelope{
		ID:          uuid.NewString(),
		Destination: destination,
		Headers:     make(map[string]string),
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}

	for _, opt := range options {
		opt(e)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// NewJSONEnvelope marshals payload to JSON and wraps it in an envelope.
func NewJSONEnvelope(destination string, payload any, options ...EnvelopeOption) (*Envelope, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("contracts: failed to marshal payload: %w", err)
	}

	return NewEnvelope(destination, body, options...)
}

// Validate checks the construction invariants.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.Destination) == "" {
		return ErrEmptyDestination
	}
	if e.Payload == nil {
		return ErrNilPayload
	}
	return nil
}

// EventType returns the business event type header, if set.
func (e *Envelope) EventType() string {
	return e.Headers[HeaderEventType]
}

// CorrelationID returns the correlation id header, if set.
func (e *Envelope) CorrelationID() string {
	return e.Headers[HeaderCorrelationID]
}
