package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels bounded by a maximum size. Channels
// returned in a broken state are discarded rather than reused.
type ChannelPool struct {
	manager  *ConnectionManager
	channels chan *amqp.Channel
	maxSize  int

	mu     sync.Mutex
	active int
	closed bool
}

// ChannelPoolOption configures the channel pool.
type ChannelPoolOption func(*ChannelPool)

// WithMaxChannels sets the maximum number of channels handed out at once.
func WithMaxChannels(size int) ChannelPoolOption {
	return func(p *ChannelPool) {
		p.maxSize = size
	}
}

// NewChannelPool creates a pool backed by the given connection manager.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	p := &ChannelPool{
		manager: manager,
		maxSize: 10,
	}

	for _, opt := range options {
		opt(p)
	}

	if p.maxSize < 1 {
		return nil, fmt.Errorf("%w: max channels must be at least 1", ErrInvalidConfiguration)
	}

	p.channels = make(chan *amqp.Channel, p.maxSize)
	return p, nil
}

// Get borrows a channel, opening a new one when the pool has capacity.
func (p *ChannelPool) Get(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrChannelPoolClosed
	}
	p.mu.Unlock()

	select {
	case ch := <-p.channels:
		if ch.IsClosed() {
			return p.open(ctx)
		}
		return ch, nil
	default:
	}

	p.mu.Lock()
	if p.active >= p.maxSize {
		p.mu.Unlock()
		// All channels are out; wait for one to come back.
		select {
		case ch := <-p.channels:
			if ch.IsClosed() {
				return p.open(ctx)
			}
			return ch, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrChannelPoolExhausted, ctx.Err())
		}
	}
	p.active++
	p.mu.Unlock()

	ch, err := p.manager.Channel(ctx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// open replaces a broken pooled channel.
func (p *ChannelPool) open(ctx context.Context) (*amqp.Channel, error) {
	return p.manager.Channel(ctx)
}

// Put returns a channel to the pool. Closed channels are dropped.
func (p *ChannelPool) Put(ch *amqp.Channel) {
	if ch == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || ch.IsClosed() {
		p.discard(ch)
		return
	}

	select {
	case p.channels <- ch:
	default:
		p.discard(ch)
	}
}

func (p *ChannelPool) discard(ch *amqp.Channel) {
	p.mu.Lock()
	if p.active > 0 {
		p.active--
	}
	p.mu.Unlock()

	if !ch.IsClosed() {
		_ = ch.Close()
	}
}

// Execute borrows a channel for the duration of fn.
func (p *ChannelPool) Execute(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(ch)

	return fn(ch)
}

// Close drains and closes all pooled channels.
func (p *ChannelPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.channels)
	for ch := range p.channels {
		if !ch.IsClosed() {
			_ = ch.Close()
		}
	}
	return nil
}
