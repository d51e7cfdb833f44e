package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// DefaultExchange is the topic exchange events are published to
const DefaultExchange = "triage.events"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes events as persistent JSON messages to a topic exchange.
// Routing keys have the form user.<user id>.<channel>.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	channel  publisher
	exchange string
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewAMQPNotifier dials the broker and declares the exchange
func NewAMQPNotifier(url, exchange string, logger *zap.Logger) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("Connected event notifier", zap.String("exchange", exchange))
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Notify publishes one event
func (n *AMQPNotifier) Notify(ctx context.Context, event core.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	// channels are not safe for concurrent publishing
	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.channel.PublishWithContext(ctx, n.exchange, RoutingKey(event), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Type:         event.Type,
		Timestamp:    event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close closes the channel and connection
func (n *AMQPNotifier) Close() {
	if ch, ok := n.channel.(*amqp091.Channel); ok && ch != nil {
		_ = ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
}

// RoutingKey returns the topic routing key of an event
func RoutingKey(event core.Event) string {
	return fmt.Sprintf("user.%s.%s", event.UserID, event.Channel)
}
