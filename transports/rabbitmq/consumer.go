package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docuflow/relay-go/contracts"
	internal "github.com/docuflow/relay-go/internal/rabbitmq"
	"github.com/docuflow/relay-go/messaging"
)

// Consumer pulls deliveries from queues under manual acknowledgment: a
// delivery is acked only after its handler returns without error. A handler
// error leaves the message unacknowledged (nack) so the broker redelivers it
// or dead-letters it according to the queue's DLX policy. The core never
// swallows a handler error to keep going.
type Consumer struct {
	pool          *internal.ChannelPool
	logger        *slog.Logger
	metrics       messaging.MetricsCollector
	prefetchCount int
	concurrency   int
	requeue       bool
	consumerTag   string

	active sync.Map // queue -> *subscription
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithConsumerMetrics sets the metrics collector.
func WithConsumerMetrics(collector messaging.MetricsCollector) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = collector
	}
}

// WithPrefetchCount sets the per-channel prefetch window.
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConcurrency sets the number of handler goroutines per queue.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		c.concurrency = n
	}
}

// WithRequeueOnFailure controls whether nacked deliveries are requeued.
// When false the broker dead-letters them via the queue's DLX arguments.
func WithRequeueOnFailure(requeue bool) ConsumerOption {
	return func(c *Consumer) {
		c.requeue = requeue
	}
}

// WithConsumerTag sets the consumer tag.
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// NewConsumer creates a manual-ack consumer over the channel pool.
func NewConsumer(pool *internal.ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		logger:        slog.Default(),
		metrics:       messaging.NoOpMetricsCollector{},
		prefetchCount: 10,
		concurrency:   1,
		requeue:       false,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming from the queue until ctx is cancelled or
// Unsubscribe is called.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler messaging.Handler) error {
	if handler == nil {
		return fmt.Errorf("rabbitmq: handler must not be nil")
	}
	if _, exists := c.active.Load(queue); exists {
		return fmt.Errorf("rabbitmq: already subscribed to queue %s", queue)
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return err
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("rabbitmq: set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("rabbitmq: consume %s: %w", queue, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	c.active.Store(queue, sub)

	go c.consumeLoop(subCtx, queue, ch, deliveries, handler, sub)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"prefetchCount", c.prefetchCount,
		"concurrency", c.concurrency,
	)
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, queue string, ch *amqp.Channel, deliveries <-chan amqp.Delivery, handler messaging.Handler, sub *subscription) {
	defer func() {
		close(sub.done)
		c.active.Delete(queue)
		c.pool.Put(ch)
		c.logger.Info("consumer stopped", "queue", queue)
	}()

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return

		case delivery, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return
			}

			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-sem
					wg.Done()
				}()
				c.handleDelivery(ctx, queue, d, handler)
			}(delivery)
		}
	}
}

// handleDelivery runs one delivery through the ack state machine:
// received -> processing -> acknowledged | failed.
func (c *Consumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler messaging.Handler) {
	// A structurally absent payload is a no-op, not a failure.
	if len(d.Body) == 0 {
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack empty delivery", "queue", queue, "error", err)
		}
		return
	}

	start := time.Now()
	err := handler.Handle(ctx, c.toDelivery(d))
	c.metrics.RecordConsume(queue, time.Since(start), err == nil)

	if err != nil {
		c.logger.Error("handler failed, delivery not acknowledged",
			"queue", queue,
			"messageId", d.MessageId,
			"routingKey", d.RoutingKey,
			"requeue", c.requeue,
			"error", err,
		)
		if nackErr := d.Nack(false, c.requeue); nackErr != nil {
			c.logger.Error("failed to nack delivery", "queue", queue, "error", nackErr)
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack delivery",
			"queue", queue,
			"messageId", d.MessageId,
			"error", ackErr,
		)
	}
}

// toDelivery maps the wire delivery to the transport-neutral model.
func (c *Consumer) toDelivery(d amqp.Delivery) *messaging.Delivery {
	headers := stringHeaders(d.Headers)
	if d.Type != "" {
		headers[contracts.HeaderEventType] = d.Type
	}
	if d.CorrelationId != "" {
		headers[contracts.HeaderCorrelationID] = d.CorrelationId
	}

	messageID := d.MessageId
	if messageID == "" {
		messageID = headers[contracts.HeaderMessageID]
	}

	return &messaging.Delivery{
		MessageID:   messageID,
		Destination: d.Exchange,
		Key:         d.RoutingKey,
		Headers:     headers,
		Timestamp:   d.Timestamp,
		Payload:     d.Body,
	}
}

// Unsubscribe stops consuming from the queue and waits for in-flight
// handlers.
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.active.Load(queue)
	if !ok {
		return fmt.Errorf("rabbitmq: no active consumer for queue %s", queue)
	}

	sub := value.(*subscription)
	sub.cancel()
	<-sub.done
	return nil
}

// Close stops all active subscriptions.
func (c *Consumer) Close() error {
	c.active.Range(func(key, value any) bool {
		sub := value.(*subscription)
		sub.cancel()
		<-sub.done
		return true
	})
	return nil
}
