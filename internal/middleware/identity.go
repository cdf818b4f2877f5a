package middleware

// identity.go holds the helpers shared across middleware files and handlers
// for reading the authenticated identity out of the Echo context.  The
// session middleware is the only writer.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/taskpulse/internal/model"
)

// identityKey is the Echo context key the session middleware stores the
// resolved model.Identity under.
const identityKey = "identity"

// SetIdentity attaches id to the request context.
func SetIdentity(c echo.Context, id model.Identity) { c.Set(identityKey, id) }

// CurrentIdentity returns the identity attached by the session middleware.
// ok is false for anonymous requests.
func CurrentIdentity(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(identityKey).(model.Identity)
	if !ok || id.UserID <= 0 {
		return model.Identity{}, false
	}
	return id, true
}

// userID returns the authenticated user id as a string, or "anon" when the
// request carries no session.  It is used to build rate limit keys.
func userID(c echo.Context) string {
	if id, ok := CurrentIdentity(c); ok {
		return strconv.FormatInt(id.UserID, 10)
	}
	return "anon"
}
