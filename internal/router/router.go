package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"                   // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware" // stock Echo middleware (recover, request id)
	"github.com/redis/go-redis/v9"                  // the rate limiter runs its script on this client
	"github.com/sirupsen/logrus"                    // request logging

	"github.com/iliyamo/taskpulse/internal/config"     // rate limit settings
	"github.com/iliyamo/taskpulse/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/taskpulse/internal/middleware" // session resolution, role enforcement and rate limiting
)

// Deps carries everything the HTTP surface needs.  Demo may be nil, in
// which case the demo routes are not registered.
type Deps struct {
	Log       logrus.FieldLogger
	Redis     redis.Scripter
	RateLimit config.RateLimitConfig

	Sessions middleware.SessionStore
	Users    middleware.UserChecker

	Health        *handler.HealthHandler
	Auth          *handler.AuthHandler
	Notifications *handler.NotificationHandler
	Stream        *handler.StreamHandler
	Demo          *handler.DemoHandler
}

// New builds the Echo instance with the global middleware chain and every
// route registered.  The session middleware runs on every request so that
// handlers and the request log can see who is calling.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Session(d.Sessions, d.Users, d.Log))
	e.Use(middleware.RequestLogger(d.Log))

	RegisterRoutes(e, d.Health)
	RegisterAuth(e, d.Auth, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	RegisterAdmin(e, d.Auth)
	RegisterNotifications(e, d.Notifications, d.Stream)
	if d.Demo != nil {
		RegisterDemo(e, d.Demo)
	}
	return e
}

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service and Redis are up.
	e.GET("/healthz", h.Health)
}

// RegisterAuth registers all authentication-related routes.  Every /auth
// route is behind the token bucket, which is what keeps password guessing
// slow.  Signup, login and logout work without a session; logout-all and
// me require one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/auth", limiter)
	g.POST("/signup", a.Signup)
	g.POST("/login", a.Login)
	// Logout is idempotent and clears the cookie even without a live session.
	g.POST("/logout", a.Logout)

	g.POST("/logout-all", a.LogoutAll, middleware.RequireSession())
	g.GET("/me", a.Me, middleware.RequireSession())
}
