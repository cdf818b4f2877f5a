// Package client is the consumer side of the notification service: an HTTP
// client for the REST and stream endpoints, and a reconciliation cache that
// merges a durable local copy with server history and live events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/iliyamo/taskpulse/internal/model"
)

// sessionCookie must match the cookie the server issues at login.
const sessionCookie = "session-id"

// ErrUnauthorized is returned when the server rejects the session.
var ErrUnauthorized = errors.New("client: not logged in")

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.Code)
	}
	return fmt.Sprintf("client: server returned %d: %s", e.Code, e.Message)
}

// API talks to the notification service as one logged in user.  The
// streaming call holds its connection open, so the http.Client must not
// carry an overall Timeout; per call deadlines come from ctx.
type API struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewAPI returns an API rooted at baseURL.  A nil hc uses a client
// without a global timeout.
func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Account is the user returned by login.
type Account struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// Login exchanges credentials for a session and keeps the token for
// subsequent calls.
func (a *API) Login(ctx context.Context, email, password string) (Account, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := a.newRequest(ctx, http.MethodPost, "/auth/login", nil, bytes.NewReader(body))
	if err != nil {
		return Account{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.http.Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("login: %w", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return Account{}, err
	}

	var out struct {
		User Account `json:"user"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Account{}, fmt.Errorf("login: decode: %w", err)
	}
	for _, c := range res.Cookies() {
		if c.Name == sessionCookie {
			a.token = c.Value
		}
	}
	if a.token == "" {
		return Account{}, errors.New("login: no session cookie in response")
	}
	return out.User, nil
}

// SetToken installs a session token obtained elsewhere.
func (a *API) SetToken(token string) { a.token = token }

// List fetches the user's durable notification history, newest first.
func (a *API) List(ctx context.Context, userID int64) ([]model.Notification, error) {
	var out struct {
		Notifications []model.Notification `json:"notifications"`
	}
	if err := a.call(ctx, http.MethodGet, userPath(userID), nil, &out); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if out.Notifications == nil {
		out.Notifications = []model.Notification{}
	}
	return out.Notifications, nil
}

// Delete removes one record, or the whole list when id is empty.
func (a *API) Delete(ctx context.Context, userID int64, id string) error {
	if err := a.call(ctx, http.MethodDelete, userPath(userID), idQuery(id), nil); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// MarkRead marks one record read, or every record when id is empty.
func (a *API) MarkRead(ctx context.Context, userID int64, id string) error {
	if err := a.call(ctx, http.MethodPatch, userPath(userID)+"/read", idQuery(id), nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Stream opens the user's event stream and passes each event's data to
// onEvent until the stream ends or ctx is cancelled.
func (a *API) Stream(ctx context.Context, userID int64, onEvent func([]byte)) error {
	q := url.Values{"userId": {strconv.FormatInt(userID, 10)}}
	req, err := a.newRequest(ctx, http.MethodGet, "/notifications/stream", q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	return readEvents(res.Body, onEvent)
}

func (a *API) call(ctx context.Context, method, path string, q url.Values, out any) error {
	req, err := a.newRequest(ctx, method, path, q, nil)
	if err != nil {
		return err
	}
	res, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (a *API) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := a.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if a.token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: a.token})
	}
	return req, nil
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	if res.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(res.Body, 4<<10)).Decode(&body)
	return &StatusError{Code: res.StatusCode, Message: body.Error}
}

func userPath(userID int64) string {
	return "/notifications/user/" + strconv.FormatInt(userID, 10)
}

func idQuery(id string) url.Values {
	if id == "" {
		return nil
	}
	return url.Values{"notificationId": {id}}
}
