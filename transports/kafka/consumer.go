package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/docuflow/relay-go/contracts"
	"github.com/docuflow/relay-go/messaging"
)

// ConsumerGroup consumes topics under manual offset marking: an offset is
// marked only after the handler returns without error, so the delivery
// cursor advances if and only if processing succeeded. A handler error ends
// the claim and is surfaced to the group session, which redelivers from the
// last marked offset.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	groupID string
	topics  []string
	logger  *slog.Logger
	metrics messaging.MetricsCollector
}

// ConsumerOption configures the consumer group.
type ConsumerOption func(*ConsumerGroup)

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *ConsumerGroup) {
		c.logger = logger
	}
}

// WithConsumerMetrics sets the metrics collector.
func WithConsumerMetrics(collector messaging.MetricsCollector) ConsumerOption {
	return func(c *ConsumerGroup) {
		c.metrics = collector
	}
}

// NewConsumerGroup creates a consumer group over the given topics.
func NewConsumerGroup(brokers []string, groupID string, topics []string, options ...ConsumerOption) (*ConsumerGroup, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka: at least one topic is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	c := &ConsumerGroup{
		group:   group,
		groupID: groupID,
		topics:  topics,
		logger:  slog.Default(),
		metrics: messaging.NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Start consumes until ctx is cancelled. Handler failures interrupt the
// session; the rebalanced session resumes from the last marked offset.
func (c *ConsumerGroup) Start(ctx context.Context, handler messaging.Handler) error {
	if handler == nil {
		return fmt.Errorf("kafka: handler must not be nil")
	}

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", "groupId", c.groupID, "error", err)
		}
	}()

	h := &groupHandler{
		handler: handler,
		logger:  c.logger,
		metrics: c.metrics,
	}

	for {
		err := c.group.Consume(ctx, c.topics, h)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("consume session ended", "groupId", c.groupID, "error", err)
		}
	}
}

// Close shuts the group down.
func (c *ConsumerGroup) Close() error {
	return c.group.Close()
}

// groupHandler adapts messaging.Handler to the group session lifecycle.
type groupHandler struct {
	handler messaging.Handler
	logger  *slog.Logger
	metrics messaging.MetricsCollector
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition claim under the ack discipline.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		// A structurally absent payload is acknowledged without invoking
		// the handler.
		if len(msg.Value) == 0 {
			sess.MarkMessage(msg, "")
			continue
		}

		delivery := toDelivery(msg)
		start := time.Now()
		err := h.handler.Handle(sess.Context(), delivery)
		h.metrics.RecordConsume(msg.Topic, time.Since(start), err == nil)

		if err != nil {
			h.logger.Error("handler failed, offset not marked",
				"messageId", delivery.MessageID,
				"destination", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return fmt.Errorf("kafka: handler failed at %s[%d]@%d: %w",
				msg.Topic, msg.Partition, msg.Offset, err)
		}

		sess.MarkMessage(msg, "")
	}
	return nil
}

// toDelivery maps a consumed record to the transport-neutral model.
func toDelivery(msg *sarama.ConsumerMessage) *messaging.Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			headers[string(h.Key)] = string(h.Value)
		}
	}

	partition := msg.Partition
	offset := msg.Offset

	return &messaging.Delivery{
		MessageID:   headers[contracts.HeaderMessageID],
		Destination: msg.Topic,
		Key:         string(msg.Key),
		Headers:     headers,
		Timestamp:   msg.Timestamp,
		Partition:   &partition,
		Offset:      &offset,
		Payload:     msg.Value,
	}
}
