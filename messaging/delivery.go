package messaging

import (
	"time"

	"github.com/docuflow/relay-go/contracts"
)

// Delivery is a single message handed to a consumer handler: the opaque
// payload plus the transport metadata needed for dispatch and tracing.
// Partition and Offset are set only by the log transport.
type Delivery struct {
	MessageID   string
	Destination string
	Key         string
	Headers     map[string]string
	Timestamp   time.Time
	Partition   *int32
	Offset      *int64
	Payload     []byte
}

// EventType returns the business event type header, if present.
func (d *Delivery) EventType() string {
	return d.Headers[contracts.HeaderEventType]
}

// CorrelationID returns the correlation id header, if present.
func (d *Delivery) CorrelationID() string {
	return d.Headers[contracts.HeaderCorrelationID]
}
