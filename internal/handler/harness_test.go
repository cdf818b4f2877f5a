package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/taskpulse/internal/config"
	"github.com/iliyamo/taskpulse/internal/handler"
	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/repository"
	"github.com/iliyamo/taskpulse/internal/router"
	"github.com/iliyamo/taskpulse/internal/service"
	"github.com/iliyamo/taskpulse/internal/utils"
)

// memUsers is an in-memory users table.
type memUsers struct {
	mu   sync.Mutex
	next int64
	rows map[int64]model.User
}

func newMemUsers() *memUsers { return &memUsers{rows: map[int64]model.User{}} }

func (m *memUsers) Create(_ context.Context, name, email, hash, salt string, role model.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.rows {
		if u.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	m.next++
	m.rows[m.next] = model.User{ID: m.next, Name: name, Email: email, PasswordHash: hash, Salt: salt, Role: role}
	return m.next, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id int64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := m.GetByID(ctx, id)
	return err == nil, nil
}

func (m *memUsers) UpdateRole(_ context.Context, id int64, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	m.rows[id] = u
	return nil
}

func (m *memUsers) delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
}

type harness struct {
	e        *echo.Echo
	rdb      *redis.Client
	mr       *miniredis.Miniredis
	users    *memUsers
	sessions *repository.SessionRepo
	records  *repository.NotificationRepo
	gateway  *service.Gateway
	hook     *test.Hook
}

type harnessOpts struct {
	trustQueryUser bool
	rateLimit      config.RateLimitConfig
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	log.Out = io.Discard

	users := newMemUsers()
	sessions := repository.NewSessionRepo(rdb, repository.DefaultSessionTTL, log)
	records := repository.NewNotificationRepo(rdb, log)
	publisher := service.NewPublisher(records, rdb, log)
	gateway := service.NewGateway(rdb, 0, log)

	e := router.New(router.Deps{
		Log:           log,
		Redis:         rdb,
		RateLimit:     opts.rateLimit,
		Sessions:      sessions,
		Users:         users,
		Health:        &handler.HealthHandler{Redis: handler.RedisPinger{Client: rdb}, Streams: gateway},
		Auth:          handler.NewAuthHandler(users, sessions, utils.NewPasswordHasher(1024), true, log),
		Notifications: handler.NewNotificationHandler(records, log),
		Stream:        handler.NewStreamHandler(gateway, opts.trustQueryUser, log),
		Demo:          handler.NewDemoHandler(publisher, log),
	})

	return &harness{e: e, rdb: rdb, mr: mr, users: users, sessions: sessions, records: records, gateway: gateway, hook: hook}
}

// do sends a request through the Echo instance.  body is JSON encoded when
// it is not nil.
func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

// signup creates a user and returns its id and session token.
func (h *harness) signup(t *testing.T, name, email string) (int64, string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.User.ID, sessionCookie(t, rec).Value
}

// admin creates a user, promotes it and returns a session carrying the
// admin role.
func (h *harness) admin(t *testing.T, email string) (int64, string) {
	t.Helper()
	id, _ := h.signup(t, "Admin", email)
	require.NoError(t, h.users.UpdateRole(context.Background(), id, model.RoleAdmin))
	token, err := h.sessions.Issue(context.Background(), model.Identity{UserID: id, Role: model.RoleAdmin})
	require.NoError(t, err)
	return id, token
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", middleware.SessionCookieName)
	return nil
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []model.Notification {
	t.Helper()
	var out struct {
		Notifications []model.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Notifications, "notifications must be an array, not null")
	return out.Notifications
}

// sseEvents reads "data:" payloads from an event stream in the background.
func sseEvents(body io.Reader) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 1024)
		for {
			n, err := body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			for {
				i := bytes.Index(buf, []byte("\n\n"))
				if i < 0 {
					break
				}
				frame := string(buf[:i])
				buf = buf[i+2:]
				if strings.HasPrefix(frame, "data: ") {
					out <- strings.TrimPrefix(frame, "data: ")
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return ""
	}
}
