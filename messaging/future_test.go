package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/relay-go/contracts"
)

func TestSendFuture(t *testing.T) {
	t.Run("wait returns the completed result", func(t *testing.T) {
		future := NewSendFuture()
		go future.Complete(contracts.SuccessResult("msg-1", "documents"), nil)

		result, err := future.Wait(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "msg-1", result.MessageID)
		assert.NoError(t, future.Err())
	})

	t.Run("completes exactly once", func(t *testing.T) {
		future := NewSendFuture()
		future.Complete(contracts.SuccessResult("msg-1", "documents"), nil)
		future.Complete(contracts.FailureResult("msg-1", "documents", assert.AnError), assert.AnError)

		result, err := future.Wait(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.NoError(t, future.Err())
	})

	t.Run("failure retains the underlying cause", func(t *testing.T) {
		future := NewSendFuture()
		future.Complete(contracts.FailureResult("msg-1", "documents", assert.AnError), assert.AnError)

		result, err := future.Wait(context.Background())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.ErrorIs(t, future.Err(), assert.AnError)
	})

	t.Run("wait honors context cancellation", func(t *testing.T) {
		future := NewSendFuture()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := future.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("wait timeout returns ErrSendTimeout", func(t *testing.T) {
		future := NewSendFuture()

		_, err := future.WaitTimeout(context.Background(), 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrSendTimeout)
	})

	t.Run("completed future resolves immediately", func(t *testing.T) {
		future := CompletedFuture(contracts.FailureResult("msg-1", "documents", assert.AnError), assert.AnError)

		select {
		case <-future.Done():
		default:
			t.Fatal("expected future to be done")
		}

		result, err := future.WaitTimeout(context.Background(), time.Millisecond)
		require.NoError(t, err)
		assert.False(t, result.Success)
	})
}
