package messaging

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

var (
	_ Publisher = (*RabbitMQConnection)(nil)
	_ Consumer  = (*RabbitMQConnection)(nil)
)

// RabbitMQConnection publishes and consumes notifications over RabbitMQ.
// Queues are declared durable on first use and messages publish as
// persistent, so notifications survive a broker restart.
type RabbitMQConnection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger

	mu       sync.Mutex
	declared map[string]bool
}

// RabbitMQOption configures the connection.
type RabbitMQOption func(*RabbitMQConnection)

// WithRabbitMQLogger sets the connection's logger.
func WithRabbitMQLogger(log *zap.Logger) RabbitMQOption {
	return func(c *RabbitMQConnection) { c.logger = log }
}

// NewRabbitMQConnection dials the broker and opens a channel.
func NewRabbitMQConnection(cfg *config.MessagingConfig, opts ...RabbitMQOption) (*RabbitMQConnection, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &RabbitMQConnection{
		conn:     conn,
		channel:  channel,
		logger:   zap.NewNop(),
		declared: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the channel and the connection.
func (c *RabbitMQConnection) Close() error {
	if err := c.channel.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

func (c *RabbitMQConnection) declareQueue(queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declared[queue] {
		return nil
	}
	if _, err := c.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	c.declared[queue] = true
	return nil
}

// Publish sends the payload to the named queue via the default exchange.
func (c *RabbitMQConnection) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := c.declareQueue(queue); err != nil {
		return err
	}
	return c.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

// Consume drains the queue until the context is canceled. Messages ack only
// after the handler succeeds; failures nack with requeue.
func (c *RabbitMQConnection) Consume(ctx context.Context, queue string, handler Handler) error {
	if err := c.declareQueue(queue); err != nil {
		return err
	}

	deliveries, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming from %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			if err := handler(ctx, d.Body); err != nil {
				c.logger.Error("message handler failed",
					zap.String("queue", queue),
					zap.Error(err),
				)
				if nackErr := d.Nack(false, true); nackErr != nil {
					c.logger.Error("failed to nack message", zap.Error(nackErr))
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				c.logger.Error("failed to ack message", zap.Error(ackErr))
			}
		}
	}
}
