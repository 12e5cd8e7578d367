package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/docuflow/relay-go/contracts"
)

// SendFuture carries the eventual outcome of an asynchronous send. It is
// completed exactly once, on the transport's callback goroutine; callers
// must not assume the completion has run by the time Send returns.
type SendFuture struct {
	once   sync.Once
	done   chan struct{}
	result contracts.Result
	cause  error
}

// NewSendFuture creates an incomplete future. Intended for transport
// implementations.
func NewSendFuture() *SendFuture {
	return &SendFuture{done: make(chan struct{})}
}

// CompletedFuture returns a future already resolved with result and cause.
func CompletedFuture(result contracts.Result, cause error) *SendFuture {
	f := NewSendFuture()
	f.Complete(result, cause)
	return f
}

// Complete resolves the future. cause is the underlying transport error for
// a failed result and nil for a success; it is preserved as an error value so
// blocking callers can wrap and inspect it, not just read its message.
// Subsequent calls are no-ops.
func (f *SendFuture) Complete(result contracts.Result, cause error) {
	f.once.Do(func() {
		f.result = result
		f.cause = cause
		close(f.done)
	})
}

// Err returns the error that failed the send, or nil. Valid only once Done
// is closed.
func (f *SendFuture) Err() error {
	return f.cause
}

// Done returns a channel closed when the outcome is available.
func (f *SendFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is available or ctx is done.
func (f *SendFuture) Wait(ctx context.Context) (contracts.Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return contracts.Result{}, ctx.Err()
	}
}

// WaitTimeout blocks up to timeout for the outcome. It returns
// ErrSendTimeout when the timeout elapses first.
func (f *SendFuture) WaitTimeout(ctx context.Context, timeout time.Duration) (contracts.Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, nil
	case <-timer.C:
		return contracts.Result{}, ErrSendTimeout
	case <-ctx.Done():
		return contracts.Result{}, ctx.Err()
	}
}
