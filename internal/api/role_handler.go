package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/service"
)

// RoleHandler handles role and default-role endpoints.
type RoleHandler struct {
	service *service.RoleService
}

// NewRoleHandler creates a RoleHandler.
func NewRoleHandler(svc *service.RoleService) *RoleHandler {
	return &RoleHandler{service: svc}
}

type createRoleRequest struct {
	Name  string `json:"name"`
	Color *int   `json:"color"`
}

// CreateRole handles POST /api/v1/servers/:id/roles.
func (h *RoleHandler) CreateRole(c echo.Context) error {
	var req createRoleRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	role, err := h.service.CreateRole(c.Request().Context(), c.Param("id"), auth.GetUserID(c), req.Name, req.Color)
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusCreated, role)
}

// ListRoles handles GET /api/v1/servers/:id/roles.
func (h *RoleHandler) ListRoles(c echo.Context) error {
	roles, err := h.service.ListRoles(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, roles)
}

type updateRoleRequest struct {
	Name             *string         `json:"name,omitempty"`
	Color            *int            `json:"color,omitempty"`
	Mentionable      *bool           `json:"mentionable,omitempty"`
	ShowInMemberList *bool           `json:"showInMemberList,omitempty"`
	Permissions      map[string]bool `json:"permissions,omitempty"`
}

// UpdateRole handles PATCH /api/v1/servers/:id/roles/:role_id.
func (h *RoleHandler) UpdateRole(c echo.Context) error {
	var req updateRoleRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	role, warnings, err := h.service.UpdateRole(c.Request().Context(), c.Param("id"), auth.GetUserID(c), c.Param("role_id"), service.RoleUpdate{
		Name:             req.Name,
		Color:            req.Color,
		Mentionable:      req.Mentionable,
		ShowInMemberList: req.ShowInMemberList,
		Permissions:      req.Permissions,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, role, warnings)
}

// DeleteRole handles DELETE /api/v1/servers/:id/roles/:role_id.
func (h *RoleHandler) DeleteRole(c echo.Context) error {
	warnings, err := h.service.DeleteRole(c.Request().Context(), c.Param("id"), auth.GetUserID(c), c.Param("role_id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, map[string]string{"roleId": c.Param("role_id")}, warnings)
}

type setDefaultRoleRequest struct {
	RoleID string `json:"roleId"`
}

// SetDefaultRole handles PUT /api/v1/servers/:id/default-role.
func (h *RoleHandler) SetDefaultRole(c echo.Context) error {
	var req setDefaultRoleRequest
	if err := c.Bind(&req); err != nil || req.RoleID == "" {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "roleId is required")
	}

	warnings, err := h.service.SetDefaultRole(c.Request().Context(), c.Param("id"), auth.GetUserID(c), req.RoleID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, map[string]string{"defaultRoleId": req.RoleID}, warnings)
}
