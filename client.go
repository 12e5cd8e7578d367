// Package relay is the reliable event-delivery core: a broker-agnostic
// publish abstraction over a partitioned log (Kafka) and a topic-exchange
// queue (RabbitMQ), with dead-letter routing, manual-acknowledgment
// consumption and a Redis-backed daily quota limiter.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/docuflow/relay-go/config"
	internalrabbit "github.com/docuflow/relay-go/internal/rabbitmq"
	"github.com/docuflow/relay-go/messaging"
	"github.com/docuflow/relay-go/metrics"
	"github.com/docuflow/relay-go/quota"
	kafkatransport "github.com/docuflow/relay-go/transports/kafka"
	rabbittransport "github.com/docuflow/relay-go/transports/rabbitmq"
)

// Client wires the enabled transports, the broker factory, metrics and the
// quota limiter into one entry point. Only transports named in the
// configuration are constructed; resolving a disabled one through the
// factory fails with messaging.ErrBrokerNotConfigured.
type Client struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector

	factory *messaging.BrokerFactory

	rabbitConn *internalrabbit.ConnectionManager
	rabbitPool *internalrabbit.ChannelPool

	redisClient *redis.Client
	limiter     *quota.Limiter
}

// Option configures the client.
type Option func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRegistry overrides the Prometheus registry owned by the client.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Client) {
		c.registry = registry
	}
}

// NewClient builds the core from configuration.
func NewClient(ctx context.Context, cfg config.Config, options ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
		factory:  messaging.NewBrokerFactory(),
	}

	for _, opt := range options {
		opt(c)
	}

	c.collector = metrics.NewCollector(c.registry, cfg.MetricsNamespace)

	if cfg.KafkaEnabled {
		producer, err := kafkatransport.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID,
			kafkatransport.WithProducerLogger(c.logger),
			kafkatransport.WithProducerMetrics(c.collector),
		)
		if err != nil {
			return nil, fmt.Errorf("relay: create kafka producer: %w", err)
		}
		if err := c.factory.Register(messaging.BrokerKafka, producer); err != nil {
			return nil, err
		}
	}

	if cfg.RabbitEnabled {
		c.rabbitConn = internalrabbit.NewConnectionManager(cfg.RabbitURL,
			internalrabbit.WithLogger(c.logger),
		)
		pool, err := internalrabbit.NewChannelPool(c.rabbitConn,
			internalrabbit.WithMaxChannels(cfg.RabbitMaxChannels),
		)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("relay: create channel pool: %w", err)
		}
		c.rabbitPool = pool

		producer := rabbittransport.NewProducer(c.rabbitConn,
			rabbittransport.WithProducerLogger(c.logger),
			rabbittransport.WithProducerMetrics(c.collector),
			rabbittransport.WithConfirmTimeout(cfg.ConfirmTimeout),
		)
		if err := c.factory.Register(messaging.BrokerRabbitMQ, producer); err != nil {
			c.close()
			return nil, err
		}
	}

	if cfg.RedisAddr != "" {
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			c.close()
			return nil, fmt.Errorf("relay: ping redis: %w", err)
		}

		c.limiter = quota.NewLimiter(
			quota.NewRedisStore(c.redisClient),
			quota.Limits{
				Free:       cfg.QuotaFreeDaily,
				Basic:      cfg.QuotaBasicDaily,
				Pro:        cfg.QuotaProDaily,
				Enterprise: cfg.QuotaEnterpriseDaily,
			},
			quota.WithLimiterLogger(c.logger),
			quota.WithRecorder(c.collector),
		)
	}

	return c, nil
}

// Producer resolves the producer for a broker type.
func (c *Client) Producer(t messaging.BrokerType) (messaging.Producer, error) {
	return c.factory.Get(t)
}

// DefaultProducer returns the configured default producer, preferring the
// log transport when both are enabled.
func (c *Client) DefaultProducer() (messaging.Producer, error) {
	return c.factory.Default()
}

// Factory returns the broker factory.
func (c *Client) Factory() *messaging.BrokerFactory {
	return c.factory
}

// Quota returns the quota limiter, or nil when no store is configured.
func (c *Client) Quota() *quota.Limiter {
	return c.limiter
}

// Registry returns the Prometheus registry owned by the client.
func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

// NewQueueConsumer creates a manual-ack consumer on the queue transport.
func (c *Client) NewQueueConsumer(options ...rabbittransport.ConsumerOption) (*rabbittransport.Consumer, error) {
	if c.rabbitPool == nil {
		return nil, fmt.Errorf("%w: %s", messaging.ErrBrokerNotConfigured, messaging.BrokerRabbitMQ)
	}
	opts := append([]rabbittransport.ConsumerOption{
		rabbittransport.WithConsumerLogger(c.logger),
		rabbittransport.WithConsumerMetrics(c.collector),
		rabbittransport.WithPrefetchCount(c.cfg.PrefetchCount),
		rabbittransport.WithConcurrency(c.cfg.ConsumerConcurrency),
	}, options...)
	return rabbittransport.NewConsumer(c.rabbitPool, opts...), nil
}

// NewLogConsumerGroup creates a consumer group on the log transport.
func (c *Client) NewLogConsumerGroup(groupID string, topics []string, options ...kafkatransport.ConsumerOption) (*kafkatransport.ConsumerGroup, error) {
	if !c.cfg.KafkaEnabled {
		return nil, fmt.Errorf("%w: %s", messaging.ErrBrokerNotConfigured, messaging.BrokerKafka)
	}
	opts := append([]kafkatransport.ConsumerOption{
		kafkatransport.WithConsumerLogger(c.logger),
		kafkatransport.WithConsumerMetrics(c.collector),
	}, options...)
	return kafkatransport.NewConsumerGroup(c.cfg.KafkaBrokers, groupID, topics, opts...)
}

// NewDeadLetterRouter creates a dead-letter router over the queue transport.
func (c *Client) NewDeadLetterRouter(options ...rabbittransport.RouterOption) (*rabbittransport.DeadLetterRouter, error) {
	if c.rabbitPool == nil {
		return nil, fmt.Errorf("%w: %s", messaging.ErrBrokerNotConfigured, messaging.BrokerRabbitMQ)
	}
	opts := append([]rabbittransport.RouterOption{
		rabbittransport.WithRouterLogger(c.logger),
		rabbittransport.WithRouterMetrics(c.collector),
	}, options...)
	return rabbittransport.NewDeadLetterRouter(rabbittransport.NewPoolPublisher(c.rabbitPool), opts...), nil
}

// Topology returns a topology manager for declaring exchanges, queues and
// their dead-letter wiring on the queue transport.
func (c *Client) Topology() (*internalrabbit.TopologyManager, error) {
	if c.rabbitPool == nil {
		return nil, fmt.Errorf("%w: %s", messaging.ErrBrokerNotConfigured, messaging.BrokerRabbitMQ)
	}
	return internalrabbit.NewTopologyManager(c.rabbitPool), nil
}

// Close releases all transports and stores.
func (c *Client) Close() error {
	return c.close()
}

func (c *Client) close() error {
	var firstErr error

	if err := c.factory.Close(); err != nil {
		firstErr = err
	}
	if c.rabbitPool != nil {
		if err := c.rabbitPool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.rabbitConn != nil {
		if err := c.rabbitConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
