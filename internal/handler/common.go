// Package handler implements the HTTP surface: the auth endpoints that
// issue and revoke sessions, the notification query and clear endpoints,
// the SSE stream and the demo triggers.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/repository"
)

// storeTimeout bounds a single request's calls to Redis or MySQL.
const storeTimeout = 5 * time.Second

// parseUserID reads a positive user id from the named path or query value.
func parseUserID(raw string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// authorizeUser resolves the :userId path parameter and checks the caller
// may act on it: the owner of the list or an admin.  On failure the error
// response has already been written and ok is false.
func authorizeUser(c echo.Context) (target int64, caller model.Identity, ok bool, err error) {
	caller, authed := middleware.CurrentIdentity(c)
	if !authed {
		return 0, caller, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "please log in"})
	}
	target, valid := parseUserID(c.Param("userId"))
	if !valid {
		return 0, caller, false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid userId"})
	}
	if target != caller.UserID && !caller.IsAdmin() {
		return 0, caller, false, c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return target, caller, true, nil
}

// storeError maps repository failures onto a JSON error response.
func storeError(c echo.Context, err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": what + " unavailable"})
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return c.JSON(http.StatusConflict, echo.Map{"error": "concurrent update, retry"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": what + " failed"})
}
