package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
)

func openStream(t *testing.T, ctx context.Context, srv *httptest.Server, token, query string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream"+query, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStream_ConnectedThenLiveEvents(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	srv := httptest.NewServer(h.e)
	defer srv.Close()

	adaID, ada := h.signup(t, "Ada", "ada@example.com")
	boID, bo := h.signup(t, "Bo", "bo@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	resp := openStream(t, ctx, srv, bo, fmt.Sprintf("?userId=%d", boID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := sseEvents(resp.Body)
	var ack model.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(nextEvent(t, events)), &ack))
	assert.Equal(t, "connected", ack.Type)
	assert.Equal(t, int64(1), h.gateway.Active())

	rec := h.do(t, http.MethodPost, "/test-notifications", ada, map[string]any{
		"type": "task_assigned", "assignedUserId": boID, "assignerUserId": adaID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var live model.Notification
	require.NoError(t, json.Unmarshal([]byte(nextEvent(t, events)), &live))
	assert.Equal(t, model.TypeTaskAssigned, live.Type)
	assert.Equal(t, boID, live.RecipientUserID)

	stored := decodeList(t, h.do(t, http.MethodGet, fmt.Sprintf("/notifications/user/%d", boID), bo, nil))
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, live.ID)

	cancel()
	require.Eventually(t, func() bool { return h.gateway.Active() == 0 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := h.rdb.PubSubNumSub(context.Background(), fmt.Sprintf("notifications:channel:%d", boID)).Result()
		return err == nil && n[fmt.Sprintf("notifications:channel:%d", boID)] == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStream_DefaultsToSessionUser(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	srv := httptest.NewServer(h.e)
	defer srv.Close()
	_, ada := h.signup(t, "Ada", "ada@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, ada, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nextEvent(t, sseEvents(resp.Body))
}

func TestStream_BoundToSession(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	_, ada := h.signup(t, "Ada", "ada@example.com")
	boID, _ := h.signup(t, "Bo", "bo@example.com")

	rec := h.do(t, http.MethodGet, fmt.Sprintf("/notifications/stream?userId=%d", boID), ada, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/notifications/stream?userId=zero", ada, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.gateway.Active())
}

func TestStream_TrustQueryUser(t *testing.T) {
	h := newHarness(t, harnessOpts{trustQueryUser: true})
	srv := httptest.NewServer(h.e)
	defer srv.Close()
	_, ada := h.signup(t, "Ada", "ada@example.com")
	boID, _ := h.signup(t, "Bo", "bo@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, ada, fmt.Sprintf("?userId=%d", boID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nextEvent(t, sseEvents(resp.Body))
}
