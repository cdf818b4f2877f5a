package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "session-id"

// sessionStoreTimeout bounds each Redis or MySQL call made while
// authenticating a request.
const sessionStoreTimeout = 3 * time.Second

// SessionStore is the part of the session repository the middleware needs.
type SessionStore interface {
	Resolve(ctx context.Context, token string) (model.Identity, bool)
	Refresh(ctx context.Context, token string) error
	Revoke(ctx context.Context, token string) error
}

// UserChecker reports whether a user still exists.  A nil UserChecker
// disables orphan cleanup.
type UserChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Session resolves the session cookie on every request and, when valid,
// stores the identity in the context and slides the session TTL forward.
// It never rejects a request; RequireSession does that for routes that
// need a user.  A session whose user row is gone is revoked and the
// request continues as anonymous.
func Session(sessions SessionStore, users UserChecker, log logrus.FieldLogger) echo.MiddlewareFunc {
	log = log.WithField("component", "session_middleware")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				return next(c)
			}
			token := cookie.Value

			ctx, cancel := context.WithTimeout(c.Request().Context(), sessionStoreTimeout)
			defer cancel()

			id, ok := sessions.Resolve(ctx, token)
			if !ok {
				return next(c)
			}

			if users != nil {
				exists, err := users.Exists(ctx, id.UserID)
				switch {
				case err != nil:
					// The user table being down is not a reason to log everyone out.
					log.WithError(err).WithField("user_id", id.UserID).Warn("user existence check failed")
				case !exists:
					log.WithField("user_id", id.UserID).WithField("reason", "orphaned").Info("revoking session")
					if err := sessions.Revoke(ctx, token); err != nil {
						log.WithError(err).Warn("revoke orphaned session")
					}
					return next(c)
				}
			}

			if err := sessions.Refresh(ctx, token); err != nil {
				log.WithError(err).WithField("user_id", id.UserID).Warn("refresh session")
			}
			SetIdentity(c, id)
			return next(c)
		}
	}
}

// RequireSession rejects anonymous requests with 401.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := CurrentIdentity(c); !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "please log in"})
			}
			return next(c)
		}
	}
}
