package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares exchanges, queues and bindings, including the
// dead-letter wiring used by the reliability layer.
type TopologyManager struct {
	pool *ChannelPool
}

// ExchangeDeclaration defines an exchange to declare.
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to declare.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// NewTopologyManager creates a topology manager over the channel pool.
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// DeclareExchange declares a single exchange.
func (tm *TopologyManager) DeclareExchange(ctx context.Context, e ExchangeDeclaration) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(e.Name, e.Type, e.Durable, e.AutoDelete, false, false, e.Arguments); err != nil {
			return fmt.Errorf("rabbitmq: declare exchange %s: %w", e.Name, err)
		}
		return nil
	})
}

// DeclareQueue declares a single queue.
func (tm *TopologyManager) DeclareQueue(ctx context.Context, q QueueDeclaration) (amqp.Queue, error) {
	var queue amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		queue, err = ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments)
		if err != nil {
			return fmt.Errorf("rabbitmq: declare queue %s: %w", q.Name, err)
		}
		return nil
	})
	return queue, err
}

// BindQueue creates a queue binding.
func (tm *TopologyManager) BindQueue(ctx context.Context, b Binding) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, b.Arguments); err != nil {
			return fmt.Errorf("rabbitmq: bind %s to %s/%s: %w", b.Queue, b.Exchange, b.RoutingKey, err)
		}
		return nil
	})
}

// DeclareWithDeadLetter declares an exchange, its companion dead-letter
// exchange and a queue bound to the primary exchange whose rejected messages
// flow to the dead-letter exchange with the same routing key.
func (tm *TopologyManager) DeclareWithDeadLetter(ctx context.Context, exchange, queue, routingKey, dlxExchange string) error {
	if err := tm.DeclareExchange(ctx, ExchangeDeclaration{Name: exchange, Type: "topic", Durable: true}); err != nil {
		return err
	}
	if err := tm.DeclareExchange(ctx, ExchangeDeclaration{Name: dlxExchange, Type: "topic", Durable: true}); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange": dlxExchange,
	}
	if routingKey != "" {
		args["x-dead-letter-routing-key"] = routingKey
	}
	if _, err := tm.DeclareQueue(ctx, QueueDeclaration{Name: queue, Durable: true, Arguments: args}); err != nil {
		return err
	}

	return tm.BindQueue(ctx, Binding{Queue: queue, Exchange: exchange, RoutingKey: routingKey})
}
