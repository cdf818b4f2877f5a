// Package queue defines the domain event envelope exchanged over RabbitMQ,
// the consumer that feeds those events into the notification publisher,
// and a small publisher used by tooling to emit them.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/iliyamo/taskpulse/internal/model"
)

// DefaultEventsQueue is the durable queue domain events arrive on.
const DefaultEventsQueue = "task.events"

// Envelope wraps one domain event.  Type selects how Payload is decoded:
//
//	task_assigned  -> service.TaskAssigned
//	task_completed -> service.TaskCompleted
//	mention        -> service.Mention
//
// The type names match the notification types they produce.
type Envelope struct {
	Type    model.NotificationType `json:"type"`
	Payload json.RawMessage        `json:"payload"`
}

// NewEnvelope encodes payload under type t.
func NewEnvelope(t model.NotificationType, payload any) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, fmt.Errorf("unknown event type %q", t)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: b}, nil
}
