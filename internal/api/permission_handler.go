package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/permissions"
	"github.com/victorivanov/rolesync/internal/service"
)

// PermissionHandler exposes effective permissions and recomputes.
type PermissionHandler struct {
	service *service.PermissionService
}

// NewPermissionHandler creates a PermissionHandler.
func NewPermissionHandler(svc *service.PermissionService) *PermissionHandler {
	return &PermissionHandler{service: svc}
}

// GetPermissions handles GET /api/v1/servers/:id/members/:uid/permissions.
// Members may read their own; reading someone else's needs manage_roles.
func (h *PermissionHandler) GetPermissions(c echo.Context) error {
	ctx := c.Request().Context()
	serverID, actorID, uid := c.Param("id"), auth.GetUserID(c), targetUID(c)

	if uid != actorID {
		if err := h.service.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
			return mapServiceError(c, err)
		}
	}
	view, err := h.service.EffectivePermissions(ctx, serverID, uid)
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, view)
}

// RecomputeMember handles POST /api/v1/servers/:id/members/:uid/recompute.
func (h *PermissionHandler) RecomputeMember(c echo.Context) error {
	ctx := c.Request().Context()
	serverID, actorID, uid := c.Param("id"), auth.GetUserID(c), targetUID(c)

	if uid != actorID {
		if err := h.service.RequireServerPermission(ctx, serverID, actorID, permissions.ManageRoles); err != nil {
			return mapServiceError(c, err)
		}
	}
	res, err := h.service.RecomputeForMember(ctx, serverID, uid)
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, res, res.Warnings)
}

// RecomputeAll handles POST /api/v1/servers/:id/recompute.
func (h *PermissionHandler) RecomputeAll(c echo.Context) error {
	ctx := c.Request().Context()
	serverID := c.Param("id")

	if err := h.service.RequireServerPermission(ctx, serverID, auth.GetUserID(c), permissions.ManageServer); err != nil {
		return mapServiceError(c, err)
	}
	res, err := h.service.RecomputeAll(ctx, serverID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, res, res.Warnings)
}
