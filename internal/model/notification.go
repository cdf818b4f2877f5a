package model

// NotificationType enumerates the domain events that produce a
// notification for a user.
type NotificationType string

const (
	TypeTaskAssigned  NotificationType = "task_assigned"
	TypeTaskCompleted NotificationType = "task_completed"
	TypeMention       NotificationType = "mention"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeTaskAssigned, TypeTaskCompleted, TypeMention:
		return true
	}
	return false
}

// Notification is the durable, user-visible unit of a notification event.
// Records are write-once: after creation only Read may change.
//
// Optional references are pointers so that absent values are omitted from
// the JSON encoding instead of being sent as zero values.
type Notification struct {
	ID                string           `json:"id"`                          // time ordered, globally unique
	Type              NotificationType `json:"type"`                        // task_assigned | task_completed | mention
	Title             string           `json:"title"`                       // short headline
	Message           string           `json:"message"`                     // human readable text
	RecipientUserID   int64            `json:"recipientUserId"`             // owner of the list the record lives in
	RecipientUserName string           `json:"recipientUserName"`           // display name of the recipient
	ActorUserID       *int64           `json:"actorUserId,omitempty"`       // who triggered the event
	ActorUserName     *string          `json:"actorUserName,omitempty"`     // display name of the actor
	TaskID            *int64           `json:"taskId,omitempty"`            // referenced task
	TaskTitle         *string          `json:"taskTitle,omitempty"`         // title of the referenced task
	ProjectID         *int64           `json:"projectId,omitempty"`         // referenced project
	ProjectTitle      *string          `json:"projectTitle,omitempty"`      // title of the referenced project
	CommentID         *int64           `json:"commentId,omitempty"`         // referenced comment (mentions only)
	CommentBody       *string          `json:"commentBody,omitempty"`       // full comment body (mentions only)
	Timestamp         string           `json:"timestamp"`                   // RFC 3339, UTC
	Read              bool             `json:"read"`                        // read flag, the only mutable field
}

// StreamEvent is the acknowledgement written to a client right after its
// stream subscription is live. Subsequent events on the stream are
// Notification values.
type StreamEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// StreamEventConnected is the Type of the acknowledgement event.
const StreamEventConnected = "connected"
