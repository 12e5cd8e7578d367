package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/docuflow/relay-go/contracts"
	"github.com/docuflow/relay-go/messaging"
)

// Producer implements messaging.Producer over a partitioned, offset-
// addressable log. Sends are asynchronous: the broker acknowledgment is
// consumed on completion goroutines which resolve the per-send future with
// the assigned partition and offset. Messages sharing a non-empty key hash
// to the same partition, which is what gives them total order within a
// destination.
type Producer struct {
	producer sarama.AsyncProducer
	logger   *slog.Logger
	metrics  messaging.MetricsCollector
	wg       sync.WaitGroup

	// mu orders dispatches against Close: closing the transport closes its
	// input channel, so no send may be in flight when that happens.
	mu     sync.RWMutex
	closed bool
}

// pendingSend travels through the transport as record metadata so the ack
// can be correlated back to the originating send.
type pendingSend struct {
	future      *messaging.SendFuture
	destination string
	start       time.Time
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

// NewConfig returns the transport configuration used by this producer:
// hash partitioning on the message key, full-ISR acks, and ack/error
// channels enabled so every send outcome is observed.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	// One in-flight request per broker keeps records of the same key in
	// order across retries.
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer creates a log-transport producer connected to brokers.
func NewProducer(brokers []string, clientID string, options ...ProducerOption) (*Producer, error) {
	async, err := sarama.NewAsyncProducer(brokers, NewConfig(clientID))
	if err != nil {
		return nil, err
	}
	return newFromAsync(async, options...), nil
}

// newFromAsync wires the completion loops around an existing async producer.
func newFromAsync(async sarama.AsyncProducer, options ...ProducerOption) *Producer {
	p := &Producer{
		producer: async,
		logger:   slog.Default(),
		metrics:  messaging.NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(p)
	}

	p.wg.Add(2)
	go p.successLoop()
	go p.errorLoop()

	return p
}

// Send builds a native record from the envelope and dispatches it. The
// returned future completes on the transport callback goroutines; callers
// must not assume the completion has run when Send returns.
func (p *Producer) Send(ctx context.Context, env *contracts.Envelope) (*messaging.SendFuture, error) {
	if env == nil {
		return nil, messaging.ErrNilEnvelope
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	pending := &pendingSend{
		future:      messaging.NewSendFuture(),
		destination: env.Destination,
		start:       time.Now(),
	}

	msg := &sarama.ProducerMessage{
		Topic:     env.Destination,
		Value:     sarama.ByteEncoder(env.Payload),
		Timestamp: env.Timestamp,
		Headers:   recordHeaders(env),
		Metadata:  pending,
	}
	if env.Key != "" {
		msg.Key = sarama.StringEncoder(env.Key)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, messaging.ErrProducerClosed
	}

	select {
	case p.producer.Input() <- msg:
	case <-ctx.Done():
		pending.complete(p, contracts.FailureResult(env.ID, env.Destination, ctx.Err()), ctx.Err())
	}

	return pending.future, nil
}

// SendAndWait dispatches the envelope and blocks up to timeout for the
// broker acknowledgment.
func (p *Producer) SendAndWait(ctx context.Context, env *contracts.Envelope, timeout time.Duration) (contracts.Result, error) {
	future, err := p.Send(ctx, env)
	if err != nil {
		return contracts.Result{}, err
	}

	result, err := future.WaitTimeout(ctx, timeout)
	if err != nil {
		return contracts.Result{}, &messaging.TransportError{
			Broker:      messaging.BrokerKafka,
			MessageID:   env.ID,
			Destination: env.Destination,
			Err:         err,
		}
	}
	if !result.Success {
		cause := future.Err()
		if cause == nil {
			cause = errors.New(result.ErrorMessage)
		}
		return result, &messaging.TransportError{
			Broker:      messaging.BrokerKafka,
			MessageID:   env.ID,
			Destination: env.Destination,
			Err:         cause,
		}
	}
	return result, nil
}

// successLoop resolves futures from broker acknowledgments. The message id
// is read back from the returned record's headers rather than taken from the
// pending send, since the transport does not guarantee handing back the
// original wrapper; a record without the header yields an empty id.
func (p *Producer) successLoop() {
	defer p.wg.Done()

	for msg := range p.producer.Successes() {
		pending, ok := msg.Metadata.(*pendingSend)
		if !ok {
			continue
		}

		messageID := headerValue(msg.Headers, contracts.HeaderMessageID)
		p.logger.Debug("message acknowledged",
			"messageId", messageID,
			"destination", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		pending.complete(p, contracts.PlacedResult(messageID, msg.Topic, msg.Partition, msg.Offset), nil)
	}
}

// errorLoop resolves futures for failed sends. A failure result never
// carries partition or offset.
func (p *Producer) errorLoop() {
	defer p.wg.Done()

	for perr := range p.producer.Errors() {
		pending, ok := perr.Msg.Metadata.(*pendingSend)
		if !ok {
			continue
		}

		messageID := headerValue(perr.Msg.Headers, contracts.HeaderMessageID)
		p.logger.Error("send failed",
			"messageId", messageID,
			"destination", perr.Msg.Topic,
			"error", perr.Err,
		)
		pending.complete(p, contracts.FailureResult(messageID, perr.Msg.Topic, perr.Err), perr.Err)
	}
}

// complete records metrics and resolves the future. The latency timer runs
// from dispatch to acknowledgment in both outcomes.
func (s *pendingSend) complete(p *Producer, result contracts.Result, cause error) {
	p.metrics.RecordSend(string(messaging.BrokerKafka), s.destination, time.Since(s.start), result.Success)
	s.future.Complete(result, cause)
}

// Close flushes in-flight sends and stops the completion loops.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.producer.Close()
	p.wg.Wait()
	return err
}

// recordHeaders copies the envelope headers verbatim and injects the
// message-id header used for ack correlation.
func recordHeaders(env *contracts.Envelope) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(env.Headers)+1)
	for k, v := range env.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	headers = append(headers, sarama.RecordHeader{
		Key:   []byte(contracts.HeaderMessageID),
		Value: []byte(env.ID),
	})
	return headers
}

func headerValue(headers []sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
