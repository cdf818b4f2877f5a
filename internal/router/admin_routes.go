package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/taskpulse/internal/handler"
	"github.com/iliyamo/taskpulse/internal/middleware"
	"github.com/iliyamo/taskpulse/internal/model"
)

// RegisterAdmin registers admin-scoped endpoints under /admin.  All routes
// require a session issued with the admin role.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/admin", middleware.RequireRole(model.RoleAdmin))
	// Changing a role revokes the target's sessions so it takes effect.
	g.PATCH("/users/:id/role", a.SetRole)
}
