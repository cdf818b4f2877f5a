package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/service"
)

// StreamServer runs one stream.  *service.Gateway satisfies it.
type StreamServer interface {
	Serve(ctx context.Context, userID int64, w service.EventWriter) error
}

// StreamHandler serves GET /notifications/stream.
type StreamHandler struct {
	Gateway StreamServer
	// TrustQueryUser accepts any ?userId= from an authenticated caller.
	// When false the stream is bound to the session's own user.
	TrustQueryUser bool
	Log            logrus.FieldLogger
}

func NewStreamHandler(gw StreamServer, trustQueryUser bool, log logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{Gateway: gw, TrustQueryUser: trustQueryUser, Log: log.WithField("component", "stream_api")}
}

// Stream upgrades the response to text/event-stream and blocks until the
// client goes away or the server shuts down.  Without ?userId= the stream
// follows the session user.
func (h *StreamHandler) Stream(c echo.Context) error {
	caller, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "please log in"})
	}
	userID := caller.UserID
	if raw := c.QueryParam("userId"); raw != "" {
		n, valid := parseUserID(raw)
		if !valid {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid userId"})
		}
		userID = n
	}
	if userID != caller.UserID && !h.TrustQueryUser {
		h.Log.WithFields(logrus.Fields{"user_id": caller.UserID, "requested_user_id": userID}).
			Warn("rejecting stream for another user")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "stream is bound to your session"})
	}

	w := &sseWriter{res: c.Response()}
	err := h.Gateway.Serve(c.Request().Context(), userID, w)
	if w.started {
		// Headers are gone; the only signal left is closing the connection.
		if err != nil && !errors.Is(err, context.Canceled) {
			h.Log.WithError(err).WithField("user_id", userID).Info("stream ended")
		}
		return nil
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, service.ErrInvalidUser):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid userId"})
	case errors.Is(err, service.ErrSubscribe):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "notification stream unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "stream failed"})
}

// sseWriter frames events for the wire and flushes each one.  Headers are
// sent with the first event so a failed subscription can still answer
// with a normal JSON error.
type sseWriter struct {
	res     *echo.Response
	started bool
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	h := w.res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.res.WriteHeader(http.StatusOK)
	w.started = true
}

func (w *sseWriter) WriteEvent(data []byte) error {
	w.start()
	if _, err := fmt.Fprintf(w.res, "data: %s\n\n", data); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}

func (w *sseWriter) WriteComment(text string) error {
	w.start()
	if _, err := fmt.Fprintf(w.res, ": %s\n\n", text); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}
