package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"acc_linker/internal/domain"
)

// RabbitMQ publishes relay events to a durable direct exchange.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// Config names the broker objects relay events flow through. QueueName is
// bound to Exchange with RoutingKey so events are retained even before a
// consumer attaches.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// NewRabbitMQ dials the broker and declares the event topology.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial relay event broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open relay event channel: %w", err)
	}

	if err := declareEventTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "publisher", "exchange", cfg.Exchange)
	logger.Info("relay event publisher ready",
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declareEventTopology(ch *amqp.Channel, cfg Config) error {
	const (
		durable    = true
		autoDelete = false
		internal   = false
		exclusive  = false
		noWait     = false
	)

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}

	queue, err := ch.QueueDeclare(cfg.QueueName, durable, autoDelete, exclusive, noWait, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.QueueName, err)
	}

	if err := ch.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, noWait, nil); err != nil {
		return fmt.Errorf("bind queue %q to %q: %w", queue.Name, cfg.Exchange, err)
	}
	return nil
}

// EventMessage is the JSON body of every published message.
type EventMessage struct {
	Event     domain.RelayEvent `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publish sends event as a persistent message typed by the event type.
func (r *RabbitMQ) Publish(ctx context.Context, event domain.RelayEvent) error {
	now := time.Now().UTC()

	body, err := json.Marshal(EventMessage{Event: event, Timestamp: now})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	const mandatory, immediate = false, false
	delivery := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Type:         string(event.Type),
		Timestamp:    now,
		Body:         body,
	}
	if err := r.channel.PublishWithContext(ctx, r.exchange, r.routingKey, mandatory, immediate, delivery); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}

	r.logger.Debug("relay event published",
		"type", event.Type,
		"message_id", delivery.MessageId,
		"linked_user_id", event.Link.LinkedUserID,
	)
	return nil
}

// Close releases the channel and the connection.
func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}
