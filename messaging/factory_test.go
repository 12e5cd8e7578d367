package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/relay-go/contracts"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Send(ctx context.Context, env *contracts.Envelope) (*SendFuture, error) {
	args := m.Called(ctx, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendFuture), args.Error(1)
}

func (m *mockProducer) SendAndWait(ctx context.Context, env *contracts.Envelope, timeout time.Duration) (contracts.Result, error) {
	args := m.Called(ctx, env, timeout)
	return args.Get(0).(contracts.Result), args.Error(1)
}

func (m *mockProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestBrokerFactory(t *testing.T) {
	t.Run("resolves registered producer", func(t *testing.T) {
		factory := NewBrokerFactory()
		producer := &mockProducer{}
		require.NoError(t, factory.Register(BrokerKafka, producer))

		resolved, err := factory.Get(BrokerKafka)
		require.NoError(t, err)
		assert.Same(t, Producer(producer), resolved)
	})

	t.Run("unknown broker type is unsupported", func(t *testing.T) {
		factory := NewBrokerFactory()

		_, err := factory.Get(BrokerType("pulsar"))
		assert.ErrorIs(t, err, ErrUnsupportedBroker)
	})

	t.Run("known but unregistered type is not configured", func(t *testing.T) {
		factory := NewBrokerFactory()

		_, err := factory.Get(BrokerRabbitMQ)
		assert.ErrorIs(t, err, ErrBrokerNotConfigured)
	})

	t.Run("rejects duplicate registration", func(t *testing.T) {
		factory := NewBrokerFactory()
		require.NoError(t, factory.Register(BrokerKafka, &mockProducer{}))

		err := factory.Register(BrokerKafka, &mockProducer{})
		assert.Error(t, err)
	})

	t.Run("rejects unsupported type at registration", func(t *testing.T) {
		factory := NewBrokerFactory()
		err := factory.Register(BrokerType("pulsar"), &mockProducer{})
		assert.ErrorIs(t, err, ErrUnsupportedBroker)
	})

	t.Run("default prefers log transport", func(t *testing.T) {
		factory := NewBrokerFactory()
		kafka := &mockProducer{}
		rabbit := &mockProducer{}
		require.NoError(t, factory.Register(BrokerRabbitMQ, rabbit))
		require.NoError(t, factory.Register(BrokerKafka, kafka))

		resolved, err := factory.Default()
		require.NoError(t, err)
		assert.Same(t, Producer(kafka), resolved)
	})

	t.Run("default falls back to the only registered transport", func(t *testing.T) {
		factory := NewBrokerFactory()
		rabbit := &mockProducer{}
		require.NoError(t, factory.Register(BrokerRabbitMQ, rabbit))

		resolved, err := factory.Default()
		require.NoError(t, err)
		assert.Same(t, Producer(rabbit), resolved)
	})

	t.Run("default fails with no producers", func(t *testing.T) {
		factory := NewBrokerFactory()
		_, err := factory.Default()
		assert.ErrorIs(t, err, ErrNoProducers)
	})

	t.Run("explicit default override", func(t *testing.T) {
		factory := NewBrokerFactory(WithDefaultBroker(BrokerRabbitMQ))
		kafka := &mockProducer{}
		rabbit := &mockProducer{}
		require.NoError(t, factory.Register(BrokerKafka, kafka))
		require.NoError(t, factory.Register(BrokerRabbitMQ, rabbit))

		resolved, err := factory.Default()
		require.NoError(t, err)
		assert.Same(t, Producer(rabbit), resolved)
	})

	t.Run("close closes every producer", func(t *testing.T) {
		factory := NewBrokerFactory()
		kafka := &mockProducer{}
		rabbit := &mockProducer{}
		kafka.On("Close").Return(nil)
		rabbit.On("Close").Return(nil)
		require.NoError(t, factory.Register(BrokerKafka, kafka))
		require.NoError(t, factory.Register(BrokerRabbitMQ, rabbit))

		require.NoError(t, factory.Close())

		kafka.AssertExpectations(t)
		rabbit.AssertExpectations(t)
		assert.Empty(t, factory.Registered())
	})
}

func TestTransportError(t *testing.T) {
	t.Run("carries context and unwraps", func(t *testing.T) {
		err := &TransportError{
			Broker:      BrokerKafka,
			MessageID:   "msg-1",
			Destination: "documents",
			Err:         ErrSendTimeout,
		}

		assert.ErrorIs(t, err, ErrSendTimeout)
		assert.Contains(t, err.Error(), "kafka")
		assert.Contains(t, err.Error(), "msg-1")
		assert.Contains(t, err.Error(), "documents")
	})
}
