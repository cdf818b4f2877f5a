package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/repository"
)

// degradedHeader marks a list response served empty because the store
// could not be read.
const degradedHeader = "X-Notifications-Degraded"

// NotificationStore is the record store as the query and clear endpoints
// use it.  *repository.NotificationRepo satisfies it.
type NotificationStore interface {
	List(ctx context.Context, userID int64, limit int) ([]model.Notification, error)
	DeleteOne(ctx context.Context, userID int64, notificationID string) error
	DeleteAll(ctx context.Context, userID int64) error
	MarkRead(ctx context.Context, userID int64, notificationID string) error
	MarkAllRead(ctx context.Context, userID int64) error
}

// NotificationHandler serves /notifications/user/:userId.  Every route is
// owner-or-admin.
type NotificationHandler struct {
	Store NotificationStore
	Log   logrus.FieldLogger
}

func NewNotificationHandler(store NotificationStore, log logrus.FieldLogger) *NotificationHandler {
	return &NotificationHandler{Store: store, Log: log.WithField("component", "notifications_api")}
}

// List returns {"notifications": [...]}, most recent first.  ?limit= is
// optional and must lie in 1..100; without it the whole history is sent.  A store failure still answers 200
// with an empty list; the client keeps its cache and retries later.
func (h *NotificationHandler) List(c echo.Context) error {
	userID, _, ok, err := authorizeUser(c)
	if !ok {
		return err
	}
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > repository.NotificationHistoryLimit {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 100"})
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	recs, err := h.Store.List(ctx, userID, limit)
	if err != nil {
		h.Log.WithError(err).WithField("user_id", userID).WithField("condition", "store_unavailable").
			Error("list notifications degraded")
		c.Response().Header().Set(degradedHeader, "1")
		return c.JSON(http.StatusOK, echo.Map{"notifications": []model.Notification{}})
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": recs})
}

// Delete removes the record named by ?notificationId=, or the whole list
// when the parameter is absent.  Both forms are idempotent.
func (h *NotificationHandler) Delete(c echo.Context) error {
	userID, _, ok, err := authorizeUser(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	if nid := strings.TrimSpace(c.QueryParam("notificationId")); nid != "" {
		err = h.Store.DeleteOne(ctx, userID, nid)
	} else {
		err = h.Store.DeleteAll(ctx, userID)
	}
	if err != nil {
		h.Log.WithError(err).WithField("user_id", userID).Error("delete notifications")
		return storeError(c, err, "notification store")
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// MarkRead flips the read flag on ?notificationId=, or on every record
// when the parameter is absent.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	userID, _, ok, err := authorizeUser(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	if nid := strings.TrimSpace(c.QueryParam("notificationId")); nid != "" {
		err = h.Store.MarkRead(ctx, userID, nid)
	} else {
		err = h.Store.MarkAllRead(ctx, userID)
	}
	if err != nil {
		h.Log.WithError(err).WithField("user_id", userID).Error("mark notifications read")
		return storeError(c, err, "notification store")
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
