// Package service holds the notification core: the publisher that turns
// domain events into stored and broadcast notifications, and the gateway
// that streams a user's channel to a connected client.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
)

// mentionPreviewRunes bounds the comment excerpt quoted in a mention message.
const mentionPreviewRunes = 100

// RecordStore is the durable half of a publish.
type RecordStore interface {
	Push(ctx context.Context, userID int64, rec model.Notification) error
}

// Broker is the live half of a publish.  *redis.Client satisfies it.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NotificationChannel names the pub/sub channel carrying userID's events.
func NotificationChannel(userID int64) string {
	return "notifications:channel:" + strconv.FormatInt(userID, 10)
}

// TaskAssigned describes a task being assigned to a user.
type TaskAssigned struct {
	TaskID           int64   `json:"taskId"`
	TaskTitle        string  `json:"taskTitle"`
	AssignedUserID   int64   `json:"assignedUserId"`
	AssignedUserName string  `json:"assignedUserName"`
	AssignerUserID   int64   `json:"assignerUserId"`
	AssignerUserName string  `json:"assignerUserName"`
	ProjectID        *int64  `json:"projectId,omitempty"`
	ProjectTitle     *string `json:"projectTitle,omitempty"`
}

// TaskCompleted describes a task being completed.  The assigner, the user
// who created or delegated the task, is the recipient.
type TaskCompleted struct {
	TaskID              int64   `json:"taskId"`
	TaskTitle           string  `json:"taskTitle"`
	CompletedByUserID   int64   `json:"completedByUserId"`
	CompletedByUserName string  `json:"completedByUserName"`
	AssignerUserID      int64   `json:"assignerUserId"`
	AssignerUserName    string  `json:"assignerUserName"`
	ProjectID           *int64  `json:"projectId,omitempty"`
	ProjectTitle        *string `json:"projectTitle,omitempty"`
}

// Mention describes a user being mentioned in a comment.
type Mention struct {
	MentionedUserID   int64          `json:"mentionedUserId"`
	MentionedUserName string         `json:"mentionedUserName"`
	CommentAuthorID   *int64         `json:"commentAuthorId,omitempty"`
	CommentAuthorName string         `json:"commentAuthorName"`
	CommentID         int64          `json:"commentId"`
	CommentBody       string         `json:"commentBody"`
	Context           MentionContext `json:"context"`
}

// MentionContext locates the comment a mention was made in.
type MentionContext struct {
	TaskID       *int64  `json:"taskId,omitempty"`
	TaskTitle    *string `json:"taskTitle,omitempty"`
	ProjectID    *int64  `json:"projectId,omitempty"`
	ProjectTitle *string `json:"projectTitle,omitempty"`
}

// Result reports what a Notify call did.  Suppressed is set, with a nil
// error and no Notification, when the actor would have notified themselves.
type Result struct {
	Notification *model.Notification
	Suppressed   bool
}

// Publisher builds notification records from domain events, stores them
// and broadcasts them on the recipient's channel.
type Publisher struct {
	store  RecordStore
	broker Broker
	log    logrus.FieldLogger
	now    func() time.Time
	newID  func() (string, error)
}

// NewPublisher returns a Publisher.
func NewPublisher(store RecordStore, broker Broker, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		store:  store,
		broker: broker,
		log:    log.WithField("component", "publisher"),
		now:    time.Now,
		newID:  newNotificationID,
	}
}

// newNotificationID returns a UUIDv7: a millisecond timestamp prefix
// followed by random bits, so ids sort by creation time.
func newNotificationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NotifyTaskAssigned notifies the assignee.  Self-assignment is suppressed.
func (p *Publisher) NotifyTaskAssigned(ctx context.Context, ev TaskAssigned) (Result, error) {
	if ev.AssignedUserID == ev.AssignerUserID {
		return p.suppressed(model.TypeTaskAssigned, ev.AssignedUserID), nil
	}
	msg := fmt.Sprintf("%s assigned you to %q", ev.AssignerUserName, ev.TaskTitle)
	if ev.ProjectTitle != nil && *ev.ProjectTitle != "" {
		msg += fmt.Sprintf(" in project %q", *ev.ProjectTitle)
	}
	rec := model.Notification{
		Type:              model.TypeTaskAssigned,
		Title:             "New task assigned",
		Message:           msg,
		RecipientUserID:   ev.AssignedUserID,
		RecipientUserName: ev.AssignedUserName,
		ActorUserID:       int64Ptr(ev.AssignerUserID),
		ActorUserName:     stringPtr(ev.AssignerUserName),
		TaskID:            int64Ptr(ev.TaskID),
		TaskTitle:         stringPtr(ev.TaskTitle),
		ProjectID:         ev.ProjectID,
		ProjectTitle:      ev.ProjectTitle,
	}
	return p.publish(ctx, rec)
}

// NotifyTaskCompleted notifies the assigner.  Completing a task you
// assigned yourself is suppressed.
func (p *Publisher) NotifyTaskCompleted(ctx context.Context, ev TaskCompleted) (Result, error) {
	if ev.CompletedByUserID == ev.AssignerUserID {
		return p.suppressed(model.TypeTaskCompleted, ev.AssignerUserID), nil
	}
	msg := fmt.Sprintf("%s completed %q", ev.CompletedByUserName, ev.TaskTitle)
	if ev.ProjectTitle != nil && *ev.ProjectTitle != "" {
		msg += fmt.Sprintf(" in project %q", *ev.ProjectTitle)
	}
	rec := model.Notification{
		Type:              model.TypeTaskCompleted,
		Title:             "Task completed",
		Message:           msg,
		RecipientUserID:   ev.AssignerUserID,
		RecipientUserName: ev.AssignerUserName,
		ActorUserID:       int64Ptr(ev.CompletedByUserID),
		ActorUserName:     stringPtr(ev.CompletedByUserName),
		TaskID:            int64Ptr(ev.TaskID),
		TaskTitle:         stringPtr(ev.TaskTitle),
		ProjectID:         ev.ProjectID,
		ProjectTitle:      ev.ProjectTitle,
	}
	return p.publish(ctx, rec)
}

// NotifyMention notifies the mentioned user.  Mentions always fire, a user
// mentioning themselves included.  Only the message preview is truncated;
// the full body is kept on the record.
func (p *Publisher) NotifyMention(ctx context.Context, m Mention) (Result, error) {
	msg := fmt.Sprintf("%s mentioned you", m.CommentAuthorName)
	if m.Context.TaskTitle != nil && *m.Context.TaskTitle != "" {
		msg += fmt.Sprintf(" on %q", *m.Context.TaskTitle)
	}
	msg += ": " + Preview(m.CommentBody, mentionPreviewRunes)

	rec := model.Notification{
		Type:              model.TypeMention,
		Title:             "You were mentioned",
		Message:           msg,
		RecipientUserID:   m.MentionedUserID,
		RecipientUserName: m.MentionedUserName,
		ActorUserID:       m.CommentAuthorID,
		ActorUserName:     stringPtr(m.CommentAuthorName),
		TaskID:            m.Context.TaskID,
		TaskTitle:         m.Context.TaskTitle,
		ProjectID:         m.Context.ProjectID,
		ProjectTitle:      m.Context.ProjectTitle,
		CommentID:         int64Ptr(m.CommentID),
		CommentBody:       stringPtr(m.CommentBody),
	}
	return p.publish(ctx, rec)
}

// publish stores rec and only then broadcasts it.  A record that was never
// persisted must not reach a live client: the client rebuilds missed
// events from storage on reconnect, and a phantom could not be recovered.
func (p *Publisher) publish(ctx context.Context, rec model.Notification) (Result, error) {
	if rec.RecipientUserID <= 0 {
		return Result{}, fmt.Errorf("publish %s: invalid recipient %d", rec.Type, rec.RecipientUserID)
	}
	id, err := p.newID()
	if err != nil {
		return Result{}, fmt.Errorf("publish %s: %w", rec.Type, err)
	}
	rec.ID = id
	rec.Timestamp = p.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")

	log := p.log.WithFields(logrus.Fields{
		"user_id":         rec.RecipientUserID,
		"notification_id": rec.ID,
		"type":            rec.Type,
	})

	if err := p.store.Push(ctx, rec.RecipientUserID, rec); err != nil {
		log.WithError(err).Error("persist notification failed, not broadcasting")
		return Result{}, fmt.Errorf("publish %s: %w", rec.Type, err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return Result{}, fmt.Errorf("publish %s: %w", rec.Type, err)
	}
	if err := p.broker.Publish(ctx, NotificationChannel(rec.RecipientUserID), payload).Err(); err != nil {
		// Durable already; connected clients pick it up on their next reconcile.
		log.WithError(err).Warn("broadcast notification failed")
		return Result{Notification: &rec}, fmt.Errorf("broadcast %s: %w", rec.Type, err)
	}

	log.Info("notification published")
	return Result{Notification: &rec}, nil
}

func (p *Publisher) suppressed(t model.NotificationType, userID int64) Result {
	p.log.WithFields(logrus.Fields{
		"user_id": userID,
		"type":    t,
		"reason":  "self_notification",
	}).Debug("notification suppressed")
	return Result{Suppressed: true}
}

// Preview shortens s to at most n runes, marking the cut with "...".
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func int64Ptr(v int64) *int64    { return &v }
func stringPtr(v string) *string { return &v }
