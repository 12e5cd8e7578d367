package rabbitmq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelPool(t *testing.T) {
	t.Run("requires a connection manager", func(t *testing.T) {
		_, err := NewChannelPool(nil)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("rejects a non-positive channel bound", func(t *testing.T) {
		_, err := NewChannelPool(NewConnectionManager("amqp://localhost"), WithMaxChannels(0))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

func TestChannelPoolLifecycle(t *testing.T) {
	t.Run("get after close fails", func(t *testing.T) {
		pool, err := NewChannelPool(NewConnectionManager("amqp://localhost"))
		require.NoError(t, err)
		require.NoError(t, pool.Close())

		_, err = pool.Get(context.Background())
		assert.ErrorIs(t, err, ErrChannelPoolClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		pool, err := NewChannelPool(NewConnectionManager("amqp://localhost"))
		require.NoError(t, err)

		require.NoError(t, pool.Close())
		require.NoError(t, pool.Close())
	})

	t.Run("put tolerates nil channels", func(t *testing.T) {
		pool, err := NewChannelPool(NewConnectionManager("amqp://localhost"))
		require.NoError(t, err)
		defer pool.Close()

		assert.NotPanics(t, func() { pool.Put(nil) })
	})

	t.Run("get surfaces a closed connection manager", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		require.NoError(t, manager.Close())
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)
		defer pool.Close()

		_, err = pool.Get(context.Background())
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})
}

func TestConnectionManager(t *testing.T) {
	t.Run("channel after close fails", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		require.NoError(t, manager.Close())

		_, err := manager.Channel(context.Background())
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		require.NoError(t, manager.Close())
		require.NoError(t, manager.Close())
	})

	t.Run("not connected before first use", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		assert.False(t, manager.IsConnected())
	})
}

func TestConnectionError(t *testing.T) {
	err := &ConnectionError{Op: "connect", Err: assert.AnError, Attempts: 3}

	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "connect")
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestPublishError(t *testing.T) {
	err := &PublishError{Exchange: "documents", RoutingKey: "document.created", Err: assert.AnError}

	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "documents/document.created")
}
