package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/relay-go/contracts"
	"github.com/docuflow/relay-go/messaging"
)

// fakeAsyncProducer stands in for the broker: tests pull dispatched records
// from input and feed acknowledgments back through successes or errors.
type fakeAsyncProducer struct {
	sarama.AsyncProducer
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:     make(chan *sarama.ProducerMessage, 16),
		successes: make(chan *sarama.ProducerMessage, 16),
		errors:    make(chan *sarama.ProducerError, 16),
	}
}

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage     { return f.input }
func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return f.successes }
func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError      { return f.errors }

// Close mirrors the real transport, which closes the input channel too — a
// send racing Close would panic exactly as it does against a live producer.
func (f *fakeAsyncProducer) Close() error {
	close(f.input)
	close(f.successes)
	close(f.errors)
	return nil
}

func TestProducerSend(t *testing.T) {
	t.Run("future resolves with partition, offset and message id", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		env, err := contracts.NewEnvelope("documents", []byte(`{"documentId":"doc-1"}`),
			contracts.WithKey("coll-1"),
			contracts.WithHeader("tenant", "acme"),
		)
		require.NoError(t, err)

		future, err := producer.Send(context.Background(), env)
		require.NoError(t, err)

		msg := <-fake.input
		assert.Equal(t, "documents", msg.Topic)
		assert.Equal(t, sarama.StringEncoder("coll-1"), msg.Key)
		assert.Equal(t, env.ID, headerValue(msg.Headers, contracts.HeaderMessageID))
		assert.Equal(t, "acme", headerValue(msg.Headers, "tenant"))

		msg.Partition = 3
		msg.Offset = 42
		fake.successes <- msg

		result, err := future.WaitTimeout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, env.ID, result.MessageID)
		require.NotNil(t, result.Partition)
		require.NotNil(t, result.Offset)
		assert.Equal(t, int32(3), *result.Partition)
		assert.Equal(t, int64(42), *result.Offset)
	})

	t.Run("acknowledged record without message-id header yields empty id", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		env, err := contracts.NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		future, err := producer.Send(context.Background(), env)
		require.NoError(t, err)

		msg := <-fake.input
		msg.Headers = nil
		fake.successes <- msg

		result, err := future.WaitTimeout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Empty(t, result.MessageID)
	})

	t.Run("broker error resolves the future as failure", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		env, err := contracts.NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		future, err := producer.Send(context.Background(), env)
		require.NoError(t, err)

		msg := <-fake.input
		fake.errors <- &sarama.ProducerError{Msg: msg, Err: sarama.ErrNotLeaderForPartition}

		result, err := future.WaitTimeout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, env.ID, result.MessageID)
		assert.Contains(t, result.ErrorMessage, sarama.ErrNotLeaderForPartition.Error())
		assert.Nil(t, result.Partition)
		assert.Nil(t, result.Offset)
	})

	t.Run("rejects nil envelope", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		_, err := producer.Send(context.Background(), nil)
		assert.ErrorIs(t, err, messaging.ErrNilEnvelope)
	})

	t.Run("rejects invalid envelope", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		_, err := producer.Send(context.Background(), &contracts.Envelope{Payload: []byte(`{}`)})
		assert.ErrorIs(t, err, contracts.ErrEmptyDestination)
	})

	t.Run("rejects sends after close", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		require.NoError(t, producer.Close())

		env, err := contracts.NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		_, err = producer.Send(context.Background(), env)
		assert.ErrorIs(t, err, messaging.ErrProducerClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)

		require.NoError(t, producer.Close())
		require.NoError(t, producer.Close())
	})

	t.Run("sends racing close either dispatch or fail cleanly", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)

		// Drain dispatched records so senders never block on a full input.
		drained := make(chan struct{})
		go func() {
			for range fake.input {
			}
			close(drained)
		}()

		var wg sync.WaitGroup
		terminal := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					env, err := contracts.NewEnvelope("documents", []byte(`{}`))
					if err != nil {
						terminal <- err
						return
					}
					if _, err := producer.Send(context.Background(), env); err != nil {
						terminal <- err
						return
					}
				}
			}()
		}

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, producer.Close())
		wg.Wait()
		<-drained

		close(terminal)
		for err := range terminal {
			assert.ErrorIs(t, err, messaging.ErrProducerClosed)
		}
	})
}

func TestProducerSendAndWait(t *testing.T) {
	t.Run("returns the placed result", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		env, err := contracts.NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		go func() {
			msg := <-fake.input
			msg.Partition = 1
			msg.Offset = 7
			fake.successes <- msg
		}()

		result, err := producer.SendAndWait(context.Background(), env, time.Second)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.NotNil(t, result.Offset)
		assert.Equal(t, int64(7), *result.Offset)
	})

	t.Run("failed send carries the broker cause", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		env, err := contracts.NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		go func() {
			msg := <-fake.input
			fake.errors <- &sarama.ProducerError{Msg: msg, Err: sarama.ErrMessageSizeTooLarge}
		}()

		result, err := producer.SendAndWait(context.Background(), env, time.Second)

		var transportErr *messaging.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, messaging.BrokerKafka, transportErr.Broker)
		assert.ErrorIs(t, err, sarama.ErrMessageSizeTooLarge)
		assert.False(t, result.Success)
	})

	t.Run("unacknowledged send times out with transport context", func(t *testing.T) {
		fake := newFakeAsyncProducer()
		producer := newFromAsync(fake)
		defer producer.Close()

		env, err := contracts.NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		_, err = producer.SendAndWait(context.Background(), env, 20*time.Millisecond)

		var transportErr *messaging.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, messaging.BrokerKafka, transportErr.Broker)
		assert.Equal(t, env.ID, transportErr.MessageID)
		assert.Equal(t, "documents", transportErr.Destination)
		assert.ErrorIs(t, err, messaging.ErrSendTimeout)
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("relay-test")

	assert.Equal(t, "relay-test", cfg.ClientID)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.True(t, cfg.Producer.Return.Errors)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
}
