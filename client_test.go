package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/relay-go/config"
	"github.com/docuflow/relay-go/messaging"
)

func TestNewClient(t *testing.T) {
	t.Run("no transports enabled yields an empty factory", func(t *testing.T) {
		client, err := NewClient(context.Background(), config.Config{MetricsNamespace: "relay"})
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Producer(messaging.BrokerKafka)
		assert.ErrorIs(t, err, messaging.ErrBrokerNotConfigured)

		_, err = client.Producer(messaging.BrokerRabbitMQ)
		assert.ErrorIs(t, err, messaging.ErrBrokerNotConfigured)

		_, err = client.DefaultProducer()
		assert.ErrorIs(t, err, messaging.ErrNoProducers)

		assert.Nil(t, client.Quota())
	})

	t.Run("invalid configuration is rejected", func(t *testing.T) {
		_, err := NewClient(context.Background(), config.Config{KafkaEnabled: true})
		assert.Error(t, err)
	})

	t.Run("queue-transport helpers require the queue transport", func(t *testing.T) {
		client, err := NewClient(context.Background(), config.Config{MetricsNamespace: "relay"})
		require.NoError(t, err)
		defer client.Close()

		_, err = client.NewQueueConsumer()
		assert.ErrorIs(t, err, messaging.ErrBrokerNotConfigured)

		_, err = client.NewDeadLetterRouter()
		assert.ErrorIs(t, err, messaging.ErrBrokerNotConfigured)

		_, err = client.Topology()
		assert.ErrorIs(t, err, messaging.ErrBrokerNotConfigured)
	})

	t.Run("log-transport consumer requires the log transport", func(t *testing.T) {
		client, err := NewClient(context.Background(), config.Config{MetricsNamespace: "relay"})
		require.NoError(t, err)
		defer client.Close()

		_, err = client.NewLogConsumerGroup("relay-group", []string{"documents"})
		assert.ErrorIs(t, err, messaging.ErrBrokerNotConfigured)
	})

	t.Run("registry is owned by the client", func(t *testing.T) {
		client, err := NewClient(context.Background(), config.Config{MetricsNamespace: "relay"})
		require.NoError(t, err)
		defer client.Close()

		require.NotNil(t, client.Registry())
		families, err := client.Registry().Gather()
		require.NoError(t, err)
		assert.Empty(t, families)
	})

	t.Run("close is safe to call twice", func(t *testing.T) {
		client, err := NewClient(context.Background(), config.Config{MetricsNamespace: "relay"})
		require.NoError(t, err)

		require.NoError(t, client.Close())
		require.NoError(t, client.Close())
	})
}
