package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends lifecycle events to a durable RabbitMQ queue.  Each call
// dials its own connection; publish volume is one message per transition.
type Publisher struct {
	URL    string
	Queue  string
	Logger *log.Logger
}

// NewPublisher returns a publisher for url and queue.  An empty queue name
// falls back to DefaultQueueName.
func NewPublisher(url, queue string, logger *log.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	if logger == nil {
		logger = log.New("events")
	}
	return &Publisher{URL: url, Queue: queue, Logger: logger}
}

// Publish marshals ev and publishes it as a persistent message.  Errors are
// logged and returned so callers can choose to ignore them.
func (p *Publisher) Publish(ctx context.Context, ev ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		p.Logger.Errorf("marshal %s event: %v", ev.Type, err)
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		p.Logger.Warnf("rabbitmq dial failed: %v", err)
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Logger.Warnf("rabbitmq channel open failed: %v", err)
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		p.Logger.Warnf("rabbitmq queue declare failed: %v", err)
		return fmt.Errorf("declare queue: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, msg); err != nil {
		p.Logger.Warnf("rabbitmq publish failed: %v", err)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
