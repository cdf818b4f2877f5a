package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/repository"
	"github.com/iliyamo/taskpulse/internal/utils"
)

// minPasswordLen is the shortest password signup accepts.
const minPasswordLen = 8

// UserStore is the identity store as the auth endpoints use it.
// *repository.UserRepo satisfies it.
type UserStore interface {
	Create(ctx context.Context, name, email, passwordHash, salt string, role model.Role) (int64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id int64) (model.User, error)
	UpdateRole(ctx context.Context, id int64, role model.Role) error
}

// SessionManager issues and revokes sessions.  *repository.SessionRepo
// satisfies it.
type SessionManager interface {
	Issue(ctx context.Context, id model.Identity) (string, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	TTL() time.Duration
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users        UserStore
	Sessions     SessionManager
	Hasher       utils.PasswordHasher
	CookieSecure bool
	Log          logrus.FieldLogger
}

func NewAuthHandler(users UserStore, sessions SessionManager, hasher utils.PasswordHasher, cookieSecure bool, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		Users:        users,
		Sessions:     sessions,
		Hasher:       hasher,
		CookieSecure: cookieSecure,
		Log:          log.WithField("component", "auth"),
	}
}

// ----- DTOs -----

type signupReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type roleReq struct {
	Role string `json:"role"`
}

type userPart struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty"`
	Role  model.Role `json:"role"`
}

// Signup creates a user with the "user" role and logs them in.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !strings.Contains(req.Email, "@") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and a valid email are required"})
	}
	if len([]rune(req.Password)) < minPasswordLen {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}

	salt, err := utils.GenerateSalt()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "signup failed"})
	}
	hash, err := h.Hasher.Hash(req.Password, salt)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "signup failed"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	uid, err := h.Users.Create(ctx, req.Name, req.Email, hash, salt, model.RoleUser)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		h.Log.WithError(err).Error("create user")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	user := userPart{ID: uid, Name: req.Name, Email: req.Email, Role: model.RoleUser}
	if err := h.startSession(ctx, c, model.Identity{UserID: uid, Role: model.RoleUser}); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "session store unavailable"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": user})
}

// Login verifies credentials and sets a fresh session cookie.  Unknown
// email and wrong password are indistinguishable to the caller.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Spend the same KDF time as a real check.
			h.Hasher.Verify(req.Password, "", "")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		h.Log.WithError(err).Error("load user")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "login unavailable"})
	}
	if !h.Hasher.Verify(req.Password, u.Salt, u.PasswordHash) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if err := h.startSession(ctx, c, model.Identity{UserID: u.ID, Role: u.Role}); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "session store unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user": userPart{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role},
	})
}

// Logout revokes the session in the cookie, if any, and clears the cookie.
// It succeeds for anonymous callers too.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	if cookie, err := c.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.Sessions.Revoke(ctx, cookie.Value); err != nil {
			h.Log.WithError(err).Error("revoke session")
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "logout failed"})
		}
	}
	h.clearCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session of the current user (protected).
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "please log in"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	if err := h.Sessions.RevokeAllForUser(ctx, id.UserID); err != nil {
		h.Log.WithError(err).WithField("user_id", id.UserID).Error("revoke all sessions")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "logout failed"})
	}
	h.clearCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the session identity, enriched with the profile when the
// user table is reachable.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "please log in"})
	}
	out := userPart{ID: id.UserID, Role: id.Role}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()
	if u, err := h.Users.GetByID(ctx, id.UserID); err == nil {
		out.Name, out.Email = u.Name, u.Email
	} else {
		h.Log.WithError(err).WithField("user_id", id.UserID).Debug("profile lookup")
	}
	return c.JSON(http.StatusOK, echo.Map{"user": out})
}

// SetRole changes a user's role (admin only) and revokes their sessions
// so the new role takes effect on their next login.
func (h *AuthHandler) SetRole(c echo.Context) error {
	target, ok := parseUserID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	var req roleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	role := model.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be user or admin"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	if err := h.Users.UpdateRole(ctx, target, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		h.Log.WithError(err).WithField("user_id", target).Error("update role")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update role failed"})
	}
	if err := h.Sessions.RevokeAllForUser(ctx, target); err != nil {
		h.Log.WithError(err).WithField("user_id", target).Error("revoke sessions after role change")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "role updated, session revocation failed"})
	}
	h.Log.WithFields(logrus.Fields{"user_id": target, "role": role}).Info("role changed, sessions revoked")
	return c.NoContent(http.StatusNoContent)
}

// startSession issues a session and sets the cookie.  Nothing is written
// to the response when issuing fails.
func (h *AuthHandler) startSession(ctx context.Context, c echo.Context, id model.Identity) error {
	token, err := h.Sessions.Issue(ctx, id)
	if err != nil {
		h.Log.WithError(err).WithField("user_id", id.UserID).Error("issue session")
		return err
	}
	ttl := h.Sessions.TTL()
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *AuthHandler) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
