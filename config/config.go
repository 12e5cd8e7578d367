// Package config loads the core's configuration from the environment.
// Transports are enabled explicitly: a producer exists only for transports
// named here, and resolving a disabled one fails with a clear error instead
// of being wired up conditionally behind the scenes.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration of the messaging core.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Log transport (Kafka).
	KafkaEnabled  bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaClientID string   `env:"KAFKA_CLIENT_ID" envDefault:"relay"`

	// Queue transport (RabbitMQ).
	RabbitEnabled     bool          `env:"RABBITMQ_ENABLED" envDefault:"false"`
	RabbitURL         string        `env:"RABBITMQ_URL"`
	RabbitMaxChannels int           `env:"RABBITMQ_MAX_CHANNELS" envDefault:"10"`
	ConfirmTimeout    time.Duration `env:"RABBITMQ_CONFIRM_TIMEOUT" envDefault:"5s"`

	// Consumer tuning, shared by both transports.
	ConsumerConcurrency int `env:"CONSUMER_CONCURRENCY" envDefault:"10"`
	PrefetchCount       int `env:"PREFETCH_COUNT" envDefault:"10"`

	// Default bound for blocking sends.
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`

	// Quota store. The limiter is created only when an address is set.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Daily quota ceilings per tier; -1 means unlimited.
	QuotaFreeDaily       int64 `env:"QUOTA_FREE_DAILY" envDefault:"50"`
	QuotaBasicDaily      int64 `env:"QUOTA_BASIC_DAILY" envDefault:"500"`
	QuotaProDaily        int64 `env:"QUOTA_PRO_DAILY" envDefault:"5000"`
	QuotaEnterpriseDaily int64 `env:"QUOTA_ENTERPRISE_DAILY" envDefault:"-1"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"relay"`
}

// New parses the configuration from the environment.
func New() (Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks that enabled transports have the settings they need.
func (c Config) Validate() error {
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("config: KAFKA_ENABLED requires KAFKA_BROKERS")
	}
	if c.RabbitEnabled && c.RabbitURL == "" {
		return fmt.Errorf("config: RABBITMQ_ENABLED requires RABBITMQ_URL")
	}
	return nil
}
