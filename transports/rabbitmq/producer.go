package rabbitmq

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docuflow/relay-go/contracts"
	internal "github.com/docuflow/relay-go/internal/rabbitmq"
	"github.com/docuflow/relay-go/messaging"
)

// Producer implements messaging.Producer over an exchange/queue transport.
// Every publish runs with publisher confirms and the mandatory flag, so both
// broker rejection and unroutable messages are observed. A returned message
// is logged and counted as a routing failure but does not fail the send
// future: publisher confirms and returns are independent broker signals.
//
// Each publish opens its own channel and closes it when the outcome is
// known. Confirm and return listeners registered on an amqp channel live for
// the channel's lifetime and every confirmation is broadcast to all of them,
// so listeners must never outlive the send they belong to — a pooled channel
// would accumulate stale listeners until a full one wedged the connection's
// dispatch loop.
type Producer struct {
	conn           *internal.ConnectionManager
	logger         *slog.Logger
	metrics        messaging.MetricsCollector
	confirmTimeout time.Duration
	closed         atomic.Bool
}

// ProducerOption configures the producer.
type ProducerOption func(*Producer)

// WithProducerLogger sets the logger.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithProducerMetrics sets the metrics collector.
func WithProducerMetrics(collector messaging.MetricsCollector) ProducerOption {
	return func(p *Producer) {
		p.metrics = collector
	}
}

// WithConfirmTimeout bounds the wait for a publisher confirm.
func WithConfirmTimeout(timeout time.Duration) ProducerOption {
	return func(p *Producer) {
		p.confirmTimeout = timeout
	}
}

// NewProducer creates a queue-transport producer over the shared connection.
func NewProducer(conn *internal.ConnectionManager, options ...ProducerOption) *Producer {
	p := &Producer{
		conn:           conn,
		logger:         slog.Default(),
		metrics:        messaging.NoOpMetricsCollector{},
		confirmTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Send publishes the envelope asynchronously. The returned future completes
// on the confirm callback goroutine.
func (p *Producer) Send(ctx context.Context, env *contracts.Envelope) (*messaging.SendFuture, error) {
	if env == nil {
		return nil, messaging.ErrNilEnvelope
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if p.closed.Load() {
		return nil, messaging.ErrProducerClosed
	}

	future := messaging.NewSendFuture()
	go p.publish(ctx, env, future)
	return future, nil
}

// SendAndWait publishes the envelope and blocks up to timeout for the
// outcome.
func (p *Producer) SendAndWait(ctx context.Context, env *contracts.Envelope, timeout time.Duration) (contracts.Result, error) {
	future, err := p.Send(ctx, env)
	if err != nil {
		return contracts.Result{}, err
	}

	result, err := future.WaitTimeout(ctx, timeout)
	if err != nil {
		return contracts.Result{}, &messaging.TransportError{
			Broker:      messaging.BrokerRabbitMQ,
			MessageID:   env.ID,
			Destination: env.Destination,
			Err:         err,
		}
	}
	if !result.Success {
		cause := future.Err()
		if cause == nil {
			cause = internal.ErrPublishNotConfirmed
		}
		return result, &messaging.TransportError{
			Broker:      messaging.BrokerRabbitMQ,
			MessageID:   env.ID,
			Destination: env.Destination,
			Err:         cause,
		}
	}
	return result, nil
}

// publish performs one confirmed publish on a dedicated channel and resolves
// the future. Closing the channel on the way out tears down the confirm and
// return listeners and with them the drain goroutine.
func (p *Producer) publish(ctx context.Context, env *contracts.Envelope, future *messaging.SendFuture) {
	start := time.Now()
	complete := func(result contracts.Result, cause error) {
		p.metrics.RecordSend(string(messaging.BrokerRabbitMQ), env.Destination, time.Since(start), result.Success)
		future.Complete(result, cause)
	}

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		p.logger.Error("failed to open channel",
			"messageId", env.ID,
			"destination", env.Destination,
			"error", err,
		)
		complete(contracts.FailureResult(env.ID, env.Destination, err), err)
		return
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		complete(contracts.FailureResult(env.ID, env.Destination, err), err)
		return
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go p.drainReturns(returns)

	err = ch.PublishWithContext(
		ctx,
		env.Destination,
		env.Key,
		true, // mandatory: surface unroutable messages on the return channel
		false,
		p.toPublishing(env),
	)
	if err != nil {
		p.logger.Error("publish failed",
			"messageId", env.ID,
			"destination", env.Destination,
			"routingKey", env.Key,
			"error", err,
		)
		pubErr := &internal.PublishError{
			Exchange:   env.Destination,
			RoutingKey: env.Key,
			Err:        err,
			Timestamp:  time.Now(),
		}
		complete(contracts.FailureResult(env.ID, env.Destination, pubErr), pubErr)
		return
	}

	select {
	case confirm := <-confirms:
		if confirm.Ack {
			p.logger.Debug("publish confirmed",
				"messageId", env.ID,
				"destination", env.Destination,
				"deliveryTag", confirm.DeliveryTag,
			)
			complete(contracts.SuccessResult(env.ID, env.Destination), nil)
		} else {
			p.logger.Error("publish nacked by broker",
				"messageId", env.ID,
				"destination", env.Destination,
			)
			complete(contracts.FailureResult(env.ID, env.Destination, internal.ErrPublishNotConfirmed), internal.ErrPublishNotConfirmed)
		}

	case <-time.After(p.confirmTimeout):
		complete(contracts.FailureResult(env.ID, env.Destination, internal.ErrConfirmTimeout), internal.ErrConfirmTimeout)

	case <-ctx.Done():
		complete(contracts.FailureResult(env.ID, env.Destination, ctx.Err()), ctx.Err())
	}
}

// drainReturns logs unroutable messages until the channel it listens on is
// torn down. A return never fails the original send future; the confirm
// channel alone decides the Result.
func (p *Producer) drainReturns(returns <-chan amqp.Return) {
	for ret := range returns {
		p.logger.Warn("message returned as unroutable",
			"exchange", ret.Exchange,
			"routingKey", ret.RoutingKey,
			"replyCode", ret.ReplyCode,
			"replyText", ret.ReplyText,
			"messageId", ret.MessageId,
		)
		p.metrics.RecordReturned(ret.Exchange, ret.RoutingKey)
	}
}

// toPublishing converts the envelope to a wire message. The event type and
// correlation id travel both as native AMQP properties and as headers so the
// consumer side can dispatch without touching the payload.
func (p *Producer) toPublishing(env *contracts.Envelope) amqp.Publishing {
	headers := toTable(env.Headers)
	headers[contracts.HeaderMessageID] = env.ID

	return amqp.Publishing{
		MessageId:     env.ID,
		Type:          env.EventType(),
		CorrelationId: env.CorrelationID(),
		Timestamp:     env.Timestamp,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Headers:       headers,
		Body:          env.Payload,
	}
}

// Close rejects further sends. The connection is owned by the caller and
// closed separately; in-flight publishes finish on their own channels.
func (p *Producer) Close() error {
	p.closed.Store(true)
	return nil
}
