package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/repository"
	"github.com/iliyamo/taskpulse/internal/service"
)

// downStore fails every call the way NotificationRepo does with Redis gone.
type downStore struct{}

func (downStore) List(context.Context, int64, int) ([]model.Notification, error) {
	return []model.Notification{}, fmt.Errorf("list: %w", repository.ErrStoreUnavailable)
}
func (downStore) DeleteOne(context.Context, int64, string) error {
	return fmt.Errorf("delete: %w", repository.ErrStoreUnavailable)
}
func (downStore) DeleteAll(context.Context, int64) error {
	return fmt.Errorf("delete: %w", repository.ErrStoreUnavailable)
}
func (downStore) MarkRead(context.Context, int64, string) error { return repository.ErrConcurrentUpdate }
func (downStore) MarkAllRead(context.Context, int64) error      { return repository.ErrConcurrentUpdate }

type stubGateway struct{ err error }

func (g stubGateway) Serve(context.Context, int64, service.EventWriter) error { return g.err }

func newLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.Out = io.Discard
	return log, hook
}

func asUser(method, path string, id int64) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	middleware.SetIdentity(c, model.Identity{UserID: id, Role: model.RoleUser})
	return c, rec
}

func TestList_DegradesWhenStoreDown(t *testing.T) {
	log, hook := newLogger()
	h := NewNotificationHandler(downStore{}, log)

	c, rec := asUser(http.MethodGet, "/notifications/user/4", 4)
	c.SetParamNames("userId")
	c.SetParamValues("4")

	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notifications":[]}`, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get(degradedHeader))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "store_unavailable", entry.Data["condition"])
}

func TestWrites_SurfaceStoreFailures(t *testing.T) {
	log, _ := newLogger()
	h := NewNotificationHandler(downStore{}, log)

	c, rec := asUser(http.MethodDelete, "/notifications/user/4", 4)
	c.SetParamNames("userId")
	c.SetParamValues("4")
	require.NoError(t, h.Delete(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c, rec = asUser(http.MethodPatch, "/notifications/user/4/read", 4)
	c.SetParamNames("userId")
	c.SetParamValues("4")
	require.NoError(t, h.MarkRead(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStream_SubscribeFailureIs503(t *testing.T) {
	log, _ := newLogger()
	h := NewStreamHandler(stubGateway{err: fmt.Errorf("%w: connection refused", service.ErrSubscribe)}, false, log)

	c, rec := asUser(http.MethodGet, "/notifications/stream?userId=4", 4)
	require.NoError(t, h.Stream(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"notification stream unavailable"}`, rec.Body.String())
}

func TestSSEWriter_Framing(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	w := &sseWriter{res: c.Response()}

	require.NoError(t, w.WriteEvent([]byte(`{"type":"connected"}`)))
	require.NoError(t, w.WriteComment("ping"))

	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "data: {\"type\":\"connected\"}\n\n: ping\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestParseUserID(t *testing.T) {
	for raw, want := range map[string]int64{"1": 1, " 42 ": 42} {
		got, ok := parseUserID(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"", "0", "-1", "abc", "1.5"} {
		_, ok := parseUserID(raw)
		assert.False(t, ok, raw)
	}
}
