package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionManager owns a single AMQP connection and re-establishes it when
// the broker drops it. Channels are always created through the manager so
// reconnects are transparent to the pool.
type ConnectionManager struct {
	url            string
	logger         *slog.Logger
	maxRetries     int
	reconnectDelay time.Duration

	mu     sync.RWMutex
	conn   *amqp.Connection
	closed bool
}

// ConnectionOption configures the connection manager.
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(m *ConnectionManager) {
		m.logger = logger
	}
}

// WithReconnectDelay sets the delay between reconnection attempts.
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(m *ConnectionManager) {
		m.reconnectDelay = delay
	}
}

// WithMaxReconnectAttempts bounds the reconnection attempts per dial.
func WithMaxReconnectAttempts(attempts int) ConnectionOption {
	return func(m *ConnectionManager) {
		m.maxRetries = attempts
	}
}

// NewConnectionManager creates a manager for the given AMQP URL. The
// connection is established lazily on first use.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	m := &ConnectionManager{
		url:            url,
		logger:         slog.Default(),
		maxRetries:     5,
		reconnectDelay: 2 * time.Second,
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// Connect dials the broker, retrying with a fixed delay up to the configured
// attempt bound.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrConnectionClosed
	}
	if m.conn != nil && !m.conn.IsClosed() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		conn, err := amqp.Dial(m.url)
		if err == nil {
			m.conn = conn
			m.watchConnection(conn)
			m.logger.Info("connected to rabbitmq", "attempt", attempt)
			return nil
		}
		lastErr = err
		m.logger.Warn("rabbitmq dial failed",
			"attempt", attempt,
			"maxAttempts", m.maxRetries,
			"error", err,
		)

		select {
		case <-time.After(m.reconnectDelay):
		case <-ctx.Done():
			return &ConnectionError{Op: "connect", Err: ctx.Err(), Attempts: attempt}
		}
	}

	return &ConnectionError{
		Op:       "connect",
		Err:      fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr),
		Attempts: m.maxRetries,
	}
}

// watchConnection logs broker-initiated closes. The next Channel call
// redials.
func (m *ConnectionManager) watchConnection(conn *amqp.Connection) {
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closes; ok && err != nil {
			m.logger.Warn("rabbitmq connection closed by broker", "error", err)
		}
	}()
}

// Channel opens a channel, reconnecting first if needed.
func (m *ConnectionManager) Channel(ctx context.Context) (*amqp.Channel, error) {
	m.mu.RLock()
	conn := m.conn
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return nil, ErrConnectionClosed
	}

	if conn == nil || conn.IsClosed() {
		if err := m.Connect(ctx); err != nil {
			return nil, err
		}
		m.mu.RLock()
		conn = m.conn
		m.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ConnectionError{Op: "open channel", Err: err}
	}
	return ch, nil
}

// IsConnected reports whether an open connection is held.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && !m.conn.IsClosed()
}

// Close shuts the connection down permanently.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn.Close()
	}
	return nil
}
