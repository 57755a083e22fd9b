package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/redis"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all handler instances and middleware for route wiring.
type Dependencies struct {
	Servers     *ServerHandler
	Roles       *RoleHandler
	Members     *MemberHandler
	Permissions *PermissionHandler
	Presence    *PresenceHandler
	Users       *UserHandler

	TokenService *auth.TokenService
	Redis        *redis.Client
	HealthChecks map[string]HealthCheck

	// RateLimit is requests per minute per user on the API; recomputes of a
	// whole server get a tenth of it.
	RateLimit int
}

// SetupRouter registers all API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	e.GET("/health", healthHandler(deps.HealthChecks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	limit := deps.RateLimit
	if limit <= 0 {
		limit = 120
	}
	heavy := limit / 10
	if heavy < 1 {
		heavy = 1
	}

	v1 := e.Group("/api/v1")

	// Protected routes: JWT auth + general rate limit
	protected := v1.Group("", deps.TokenService.Middleware(),
		RateLimitMiddleware(deps.Redis, limit, time.Minute),
	)

	// Users and presence
	protected.GET("/users/@me", deps.Users.GetMe)
	protected.PATCH("/users/@me", deps.Users.UpdateMe)
	protected.PUT("/users/@me/presence", deps.Presence.SetOverride)
	protected.DELETE("/users/@me/presence", deps.Presence.ClearOverride)
	protected.POST("/users/@me/heartbeat", deps.Presence.Heartbeat)
	protected.DELETE("/users/@me/heartbeat", deps.Presence.Disconnect)
	protected.GET("/users/:uid/presence", deps.Presence.GetPresence)

	// Servers
	protected.POST("/servers", deps.Servers.CreateServer)
	protected.GET("/servers/:id", deps.Servers.GetServer)
	protected.PUT("/servers/:id/default-role", deps.Roles.SetDefaultRole)
	protected.POST("/servers/:id/recompute", deps.Permissions.RecomputeAll,
		StrictRateLimitMiddleware(deps.Redis, heavy, time.Minute),
	)

	// Roles
	protected.POST("/servers/:id/roles", deps.Roles.CreateRole)
	protected.GET("/servers/:id/roles", deps.Roles.ListRoles)
	protected.PATCH("/servers/:id/roles/:role_id", deps.Roles.UpdateRole)
	protected.DELETE("/servers/:id/roles/:role_id", deps.Roles.DeleteRole)

	// Members
	protected.POST("/servers/:id/members", deps.Members.Join)
	protected.PATCH("/servers/:id/members/:uid", deps.Members.UpdateMember)
	protected.DELETE("/servers/:id/members/:uid", deps.Members.RemoveMember)
	protected.PUT("/servers/:id/members/:uid/roles", deps.Members.SetRoles)
	protected.PUT("/servers/:id/members/:uid/roles/:role_id", deps.Members.AddRole)
	protected.DELETE("/servers/:id/members/:uid/roles/:role_id", deps.Members.RemoveRole)

	// Effective permissions
	protected.GET("/servers/:id/members/:uid/permissions", deps.Permissions.GetPermissions)
	protected.POST("/servers/:id/members/:uid/recompute", deps.Permissions.RecomputeMember)
}

func healthHandler(checks map[string]HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				report["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		return c.JSON(status, report)
	}
}
