package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends domain events to the events queue on the default
// exchange.  It holds one connection and channel; it is not safe for
// concurrent use.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// DialPublisher connects to url and declares queue (durable, idempotent).
func DialPublisher(url, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultEventsQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish sends env as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // store on disk
			Timestamp:    time.Now().UTC(),
			Type:         string(env.Type),
			Body:         body,
		})
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}
