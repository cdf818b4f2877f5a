package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/service"
)

// demoActorName labels the synthetic actor behind /notifications/demo.
const demoActorName = "Demo Bot"

// Notifier is the publisher as the demo endpoints drive it.
// *service.Publisher satisfies it.
type Notifier interface {
	NotifyTaskAssigned(ctx context.Context, ev service.TaskAssigned) (service.Result, error)
	NotifyTaskCompleted(ctx context.Context, ev service.TaskCompleted) (service.Result, error)
	NotifyMention(ctx context.Context, m service.Mention) (service.Result, error)
}

// DemoHandler triggers synthetic domain events through the real publish
// path.  It is only routed when demo endpoints are enabled.
type DemoHandler struct {
	Notifier Notifier
	Log      logrus.FieldLogger
}

func NewDemoHandler(n Notifier, log logrus.FieldLogger) *DemoHandler {
	return &DemoHandler{Notifier: n, Log: log.WithField("component", "demo_api")}
}

type demoReq struct {
	Type   model.NotificationType `json:"type"`
	UserID int64                  `json:"userId"`
}

type testNotificationReq struct {
	Type           model.NotificationType `json:"type"`
	AssignedUserID int64                  `json:"assignedUserId"`
	AssignerUserID int64                  `json:"assignerUserId"`
}

// Demo sends one notification of the requested type to userId from a bot
// actor, so it is never suppressed.
func (h *DemoHandler) Demo(c echo.Context) error {
	var req demoReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.UserID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId required"})
	}
	if req.Type == "" {
		req.Type = model.TypeTaskAssigned
	}
	return h.dispatch(c, req.Type, req.UserID, 0)
}

// TestNotification replays an assignment between two real user ids, which
// exercises the self-notification rule when they are equal.  For
// task_completed the assigned user is the one completing.  For mention the
// assigner is the comment author.
func (h *DemoHandler) TestNotification(c echo.Context) error {
	var req testNotificationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.AssignedUserID <= 0 || req.AssignerUserID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "assignedUserId and assignerUserId required"})
	}
	if req.Type == "" {
		req.Type = model.TypeTaskAssigned
	}
	return h.dispatch(c, req.Type, req.AssignedUserID, req.AssignerUserID)
}

// dispatch builds the event; subject is the assignee, actor the assigner
// (0 for the demo bot).
func (h *DemoHandler) dispatch(c echo.Context, t model.NotificationType, subject, actor int64) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	actorName := demoActorName
	if actor > 0 {
		actorName = displayName(actor)
	}
	subjectName := displayName(subject)
	taskID := int64(1000) + subject
	taskTitle := "Demo task"
	project := "Demo project"

	var (
		res service.Result
		err error
	)
	switch t {
	case model.TypeTaskAssigned:
		res, err = h.Notifier.NotifyTaskAssigned(ctx, service.TaskAssigned{
			TaskID: taskID, TaskTitle: taskTitle,
			AssignedUserID: subject, AssignedUserName: subjectName,
			AssignerUserID: actor, AssignerUserName: actorName,
			ProjectTitle: &project,
		})
	case model.TypeTaskCompleted:
		// The assigner receives completion notices.
		assignee, assigner := actor, subject
		assigneeName, assignerName := actorName, subjectName
		if actor > 0 {
			assignee, assigner = subject, actor
			assigneeName, assignerName = subjectName, actorName
		}
		res, err = h.Notifier.NotifyTaskCompleted(ctx, service.TaskCompleted{
			TaskID: taskID, TaskTitle: taskTitle,
			CompletedByUserID: assignee, CompletedByUserName: assigneeName,
			AssignerUserID: assigner, AssignerUserName: assignerName,
			ProjectTitle: &project,
		})
	case model.TypeMention:
		m := service.Mention{
			MentionedUserID: subject, MentionedUserName: subjectName,
			CommentAuthorName: actorName,
			CommentID:         taskID,
			CommentBody:       "Could you take a look at this?",
			Context:           service.MentionContext{TaskID: &taskID, TaskTitle: &taskTitle},
		}
		if actor > 0 {
			m.CommentAuthorID = &actor
		}
		res, err = h.Notifier.NotifyMention(ctx, m)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "type must be task_assigned, task_completed or mention"})
	}

	log := h.Log.WithField("type", t)
	if caller, ok := middleware.CurrentIdentity(c); ok {
		log = log.WithField("user_id", caller.UserID)
	}
	switch {
	case err != nil && res.Notification == nil:
		log.WithError(err).Error("demo notification failed")
		return storeError(c, err, "notification store")
	case err != nil:
		log.WithError(err).Warn("demo notification stored but not broadcast")
		return c.JSON(http.StatusOK, echo.Map{"notification": res.Notification, "broadcast": false})
	case res.Suppressed:
		return c.JSON(http.StatusOK, echo.Map{"suppressed": true, "reason": "self_notification"})
	}
	return c.JSON(http.StatusOK, echo.Map{"notification": res.Notification, "broadcast": true})
}

func displayName(id int64) string { return fmt.Sprintf("User %d", id) }
