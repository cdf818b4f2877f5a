package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/taskpulse/internal/handler"
	"github.com/iliyamo/taskpulse/internal/middleware"
)

// RegisterNotifications registers the notification endpoints.  All of them
// require a session; the per-user routes additionally check owner-or-admin
// inside the handler because the user id comes from the path.
func RegisterNotifications(e *echo.Echo, n *handler.NotificationHandler, s *handler.StreamHandler) {
	g := e.Group("/notifications", middleware.RequireSession())

	// Long-lived server-push stream for the caller's own channel.
	g.GET("/stream", s.Stream)

	g.GET("/user/:userId", n.List)
	// ?notificationId= removes one record, no parameter clears the list.
	g.DELETE("/user/:userId", n.Delete)
	// ?notificationId= marks one record, no parameter marks all.
	g.PATCH("/user/:userId/read", n.MarkRead)
}

// RegisterDemo registers the synthetic notification triggers.  They go
// through the same publisher as real domain events.
func RegisterDemo(e *echo.Echo, d *handler.DemoHandler) {
	e.POST("/notifications/demo", d.Demo, middleware.RequireSession())
	e.POST("/test-notifications", d.TestNotification, middleware.RequireSession())
}
