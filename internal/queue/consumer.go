package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/service"
)

const (
	consumerPrefetch = 50
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
	handleTimeout    = 10 * time.Second
)

// Notifier is the publisher as the consumer drives it.
// *service.Publisher satisfies it.
type Notifier interface {
	NotifyTaskAssigned(ctx context.Context, ev service.TaskAssigned) (service.Result, error)
	NotifyTaskCompleted(ctx context.Context, ev service.TaskCompleted) (service.Result, error)
	NotifyMention(ctx context.Context, m service.Mention) (service.Result, error)
}

// decision is what to tell the broker about one delivery.
type decision int

const (
	ack decision = iota
	requeue
	reject // nack without requeue; the message is dropped
)

func (d decision) String() string {
	switch d {
	case ack:
		return "ack"
	case requeue:
		return "requeue"
	case reject:
		return "reject"
	}
	return "unknown"
}

// Consumer reads domain events from RabbitMQ and publishes notifications.
type Consumer struct {
	url      string
	queue    string
	notifier Notifier
	log      logrus.FieldLogger
}

// NewConsumer returns a Consumer for queue on the broker at url.
func NewConsumer(url, queue string, n Notifier, log logrus.FieldLogger) *Consumer {
	if queue == "" {
		queue = DefaultEventsQueue
	}
	return &Consumer{url: url, queue: queue, notifier: n, log: log.WithField("component", "event_consumer")}
}

// Run connects to the broker, declares the queue (durable) and consumes
// until ctx is cancelled.  Connection loss is retried with a doubling
// backoff capped at 30s; Run only returns once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.WithError(err).WithField("retry_in", backoff.String()).Warn("failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = minBackoff // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Warn("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.WithField("queue", c.queue).Info("consuming domain events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			dec := c.handle(hctx, d.Body, d.Redelivered)
			cancel()
			c.log.WithFields(logrus.Fields{"decision": dec.String(), "redelivered": d.Redelivered}).Debug("delivery handled")
			switch dec {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

// handle decodes one message and publishes it.  Undecodable or unknown
// messages are rejected outright.  A publisher failure is requeued once;
// the redelivered copy is rejected if it fails again, so a poisoned
// message cannot loop.
func (c *Consumer) handle(ctx context.Context, body []byte, redelivered bool) decision {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.log.WithError(err).WithField("condition", "malformed").Warn("rejecting undecodable event")
		return reject
	}
	log := c.log.WithField("type", env.Type)

	res, err := c.dispatch(ctx, env)
	switch {
	case errors.Is(err, errUnknownEvent), errors.Is(err, errBadPayload):
		log.WithError(err).WithField("condition", "malformed").Warn("rejecting event")
		return reject
	case err != nil && res.Notification != nil:
		// Stored but not broadcast; redelivering would duplicate the record.
		log.WithError(err).Warn("event stored, broadcast failed")
		return ack
	case err != nil && !redelivered:
		log.WithError(err).Warn("publish failed, requeueing")
		return requeue
	case err != nil:
		log.WithError(err).Error("publish failed on redelivery, dropping")
		return reject
	case res.Suppressed:
		log.Debug("event suppressed")
	}
	return ack
}

var (
	errUnknownEvent = errors.New("unknown event type")
	errBadPayload   = errors.New("bad event payload")
)

func (c *Consumer) dispatch(ctx context.Context, env Envelope) (service.Result, error) {
	switch env.Type {
	case model.TypeTaskAssigned:
		var ev service.TaskAssigned
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.AssignedUserID <= 0 {
			return service.Result{}, badPayload(err)
		}
		return c.notifier.NotifyTaskAssigned(ctx, ev)
	case model.TypeTaskCompleted:
		var ev service.TaskCompleted
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.AssignerUserID <= 0 {
			return service.Result{}, badPayload(err)
		}
		return c.notifier.NotifyTaskCompleted(ctx, ev)
	case model.TypeMention:
		var m service.Mention
		if err := json.Unmarshal(env.Payload, &m); err != nil || m.MentionedUserID <= 0 {
			return service.Result{}, badPayload(err)
		}
		return c.notifier.NotifyMention(ctx, m)
	}
	return service.Result{}, fmt.Errorf("%w %q", errUnknownEvent, env.Type)
}

func badPayload(err error) error {
	if err == nil {
		return fmt.Errorf("%w: missing recipient", errBadPayload)
	}
	return fmt.Errorf("%w: %v", errBadPayload, err)
}

// sleep waits for d or ctx, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
