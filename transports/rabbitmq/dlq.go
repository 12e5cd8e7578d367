package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docuflow/relay-go/contracts"
	internal "github.com/docuflow/relay-go/internal/rabbitmq"
	"github.com/docuflow/relay-go/messaging"
)

const (
	// fallbackDLQExchange receives dead letters whose origin exchange is
	// unknown.
	fallbackDLQExchange = "dlq.exchange"

	// fallbackDLQRoutingKey is used when the original routing key is blank.
	fallbackDLQRoutingKey = "dlq"

	dlqExchangeSuffix = ".dlx"
)

// MessagePublisher republishes raw messages. Satisfied by the channel-pool
// publisher below and by mocks in tests.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// DeriveDLQExchange maps an origin exchange to its dead-letter exchange.
func DeriveDLQExchange(originalExchange string) string {
	if originalExchange == "" {
		return fallbackDLQExchange
	}
	return originalExchange + dlqExchangeSuffix
}

// DeriveDLQRoutingKey maps an origin routing key to its dead-letter key.
func DeriveDLQRoutingKey(originalRoutingKey string) string {
	if originalRoutingKey == "" {
		return fallbackDLQRoutingKey
	}
	return originalRoutingKey
}

// DeadLetterRouter moves messages that failed consumer processing to a
// derived dead-letter exchange, stamping provenance headers, and can replay
// them back to their original destination. It enforces no retry ceiling:
// retry policy lives above the core, the router is transport-mechanical
// only.
type DeadLetterRouter struct {
	publisher MessagePublisher
	logger    *slog.Logger
	metrics   messaging.MetricsCollector
}

// RouterOption configures the dead-letter router.
type RouterOption func(*DeadLetterRouter)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *DeadLetterRouter) {
		r.logger = logger
	}
}

// WithRouterMetrics sets the metrics collector.
func WithRouterMetrics(collector messaging.MetricsCollector) RouterOption {
	return func(r *DeadLetterRouter) {
		r.metrics = collector
	}
}

// NewDeadLetterRouter creates a router that republishes through publisher.
func NewDeadLetterRouter(publisher MessagePublisher, options ...RouterOption) *DeadLetterRouter {
	r := &DeadLetterRouter{
		publisher: publisher,
		logger:    slog.Default(),
		metrics:   messaging.NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// RouteToDLQ republishes a failed message to the derived dead-letter
// exchange with provenance headers. Routing to the DLQ is a best-effort last
// resort: failures of the routing step itself are logged and swallowed,
// since the original message is still unacknowledged and the broker will
// redeliver it.
func (r *DeadLetterRouter) RouteToDLQ(ctx context.Context, body []byte, headers amqp.Table, originalExchange, originalRoutingKey string, cause error) {
	dlqExchange := DeriveDLQExchange(originalExchange)
	dlqRoutingKey := DeriveDLQRoutingKey(originalRoutingKey)

	stamped := make(amqp.Table, len(headers)+6)
	for k, v := range headers {
		stamped[k] = v
	}
	stamped[contracts.HeaderOriginalExchange] = originalExchange
	stamped[contracts.HeaderOriginalRoutingKey] = originalRoutingKey
	stamped[contracts.HeaderExceptionClass] = fmt.Sprintf("%T", cause)
	if cause != nil {
		stamped[contracts.HeaderExceptionMessage] = cause.Error()
	}
	stamped[contracts.HeaderFailureTimestamp] = time.Now().UTC().Format(time.RFC3339)
	if _, ok := stamped[contracts.HeaderRetryCount]; !ok {
		stamped[contracts.HeaderRetryCount] = 0
	}

	if err := r.publisher.Publish(ctx, dlqExchange, dlqRoutingKey, body, stamped); err != nil {
		r.logger.Error("failed to route message to dead-letter exchange",
			"dlqExchange", dlqExchange,
			"dlqRoutingKey", dlqRoutingKey,
			"originalExchange", originalExchange,
			"error", err,
		)
		return
	}

	r.logger.Warn("message routed to dead-letter exchange",
		"dlqExchange", dlqExchange,
		"dlqRoutingKey", dlqRoutingKey,
		"originalExchange", originalExchange,
		"originalRoutingKey", originalRoutingKey,
		"cause", fmt.Sprintf("%v", cause),
	)
	r.metrics.RecordDeadLetter(dlqExchange, "routed")
}

// RetryFromDLQ replays a dead-lettered message back to its original
// destination with an incremented retry counter and the exception headers
// stripped. It returns false when the provenance headers are missing.
func (r *DeadLetterRouter) RetryFromDLQ(ctx context.Context, body []byte, headers amqp.Table) (bool, error) {
	originalExchange := headerString(headers, contracts.HeaderOriginalExchange)
	originalRoutingKey := headerString(headers, contracts.HeaderOriginalRoutingKey)
	if originalExchange == "" || originalRoutingKey == "" {
		r.logger.Warn("cannot retry dead-lettered message without provenance headers")
		return false, nil
	}

	retryCount := headerInt(headers, contracts.HeaderRetryCount) + 1

	replayed := make(amqp.Table, len(headers))
	for k, v := range headers {
		replayed[k] = v
	}
	delete(replayed, contracts.HeaderOriginalExchange)
	delete(replayed, contracts.HeaderOriginalRoutingKey)
	delete(replayed, contracts.HeaderExceptionClass)
	delete(replayed, contracts.HeaderExceptionMessage)
	delete(replayed, contracts.HeaderFailureTimestamp)
	replayed[contracts.HeaderRetryCount] = retryCount

	if err := r.publisher.Publish(ctx, originalExchange, originalRoutingKey, body, replayed); err != nil {
		return false, fmt.Errorf("rabbitmq: replay to %s/%s: %w", originalExchange, originalRoutingKey, err)
	}

	r.logger.Info("dead-lettered message replayed",
		"exchange", originalExchange,
		"routingKey", originalRoutingKey,
		"retryCount", strconv.Itoa(retryCount),
	)
	r.metrics.RecordDeadLetter(DeriveDLQExchange(originalExchange), "replayed")
	return true, nil
}

// PoolPublisher is a MessagePublisher over the shared channel pool. Replays
// and DLQ routing go out without confirms; the router's best-effort contract
// does not need them.
type PoolPublisher struct {
	pool *internal.ChannelPool
}

// NewPoolPublisher creates a raw publisher over the channel pool.
func NewPoolPublisher(pool *internal.ChannelPool) *PoolPublisher {
	return &PoolPublisher{pool: pool}
}

// Publish implements MessagePublisher.
func (p *PoolPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	return p.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		})
	})
}
