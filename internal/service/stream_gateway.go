package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
)

var (
	// ErrInvalidUser is returned before subscribing when the user id is not
	// a positive integer.
	ErrInvalidUser = errors.New("invalid user id")
	// ErrSubscribe is returned when the channel subscription could not be
	// established.  The gateway does not retry; the client reconnects.
	ErrSubscribe = errors.New("subscribe failed")
	// ErrSubscriptionClosed is returned when the broker side of an open
	// stream went away underneath it.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// ConnState is the lifecycle of one streaming connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// EventWriter is the transport side of a stream.  Each WriteEvent call must
// reach the client as one discrete, independently parseable event.
type EventWriter interface {
	WriteEvent(data []byte) error
	WriteComment(text string) error
}

// Subscriber opens pub/sub subscriptions.  *redis.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Gateway forwards a user's notification channel to one client per Serve
// call.  A Gateway is shared by every connection; the only state it holds
// is the count of open streams.
type Gateway struct {
	sub       Subscriber
	heartbeat time.Duration
	log       logrus.FieldLogger
	active    atomic.Int64
	now       func() time.Time
}

// NewGateway returns a Gateway.  heartbeat <= 0 disables keepalive comments.
func NewGateway(sub Subscriber, heartbeat time.Duration, log logrus.FieldLogger) *Gateway {
	return &Gateway{
		sub:       sub,
		heartbeat: heartbeat,
		log:       log.WithField("component", "stream_gateway"),
		now:       time.Now,
	}
}

// Active returns the number of streams currently open.
func (g *Gateway) Active() int64 { return g.active.Load() }

// Serve runs one connection until ctx is cancelled, the client stops
// accepting writes or the subscription breaks.  The subscription is
// confirmed before the "connected" acknowledgement is written, so every
// message published after the client saw the acknowledgement is delivered.
// Serve blocks on the channel and ctx; it never polls.
func (g *Gateway) Serve(ctx context.Context, userID int64, w EventWriter) error {
	state := StateConnecting
	log := g.log.WithField("user_id", userID)

	if userID <= 0 {
		return ErrInvalidUser
	}

	ps := g.sub.Subscribe(ctx, NotificationChannel(userID))
	defer func() {
		if err := ps.Close(); err != nil {
			log.WithError(err).Debug("close subscription")
		}
		log.WithField("state", StateClosed.String()).Info("stream closed")
	}()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithField("state", state.String()).Error("subscribe failed")
		return fmt.Errorf("%w: %v", ErrSubscribe, err)
	}

	state = StateOpen
	g.active.Add(1)
	defer g.active.Add(-1)

	ack, err := json.Marshal(model.StreamEvent{
		Type:      model.StreamEventConnected,
		Message:   "Connected to notification stream",
		Timestamp: g.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := w.WriteEvent(ack); err != nil {
		return err
	}
	log.WithField("state", state.String()).Info("stream open")

	var tick <-chan time.Time
	if g.heartbeat > 0 {
		t := time.NewTicker(g.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return ErrSubscriptionClosed
			}
			if !isNotification(m.Payload) {
				log.WithField("channel", m.Channel).Warn("dropping malformed stream message")
				continue
			}
			if err := w.WriteEvent([]byte(m.Payload)); err != nil {
				return err
			}
		case <-tick:
			if err := w.WriteComment("ping"); err != nil {
				return err
			}
		}
	}
}

func isNotification(payload string) bool {
	var n model.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return false
	}
	return n.ID != "" && n.Type.Valid()
}
