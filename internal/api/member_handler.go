package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/service"
)

// MemberHandler handles membership endpoints.
type MemberHandler struct {
	service *service.MemberService
}

// NewMemberHandler creates a MemberHandler.
func NewMemberHandler(svc *service.MemberService) *MemberHandler {
	return &MemberHandler{service: svc}
}

// targetUID resolves the :uid param, where @me means the caller.
func targetUID(c echo.Context) string {
	if uid := c.Param("uid"); uid != "@me" {
		return uid
	}
	return auth.GetUserID(c)
}

// Join handles POST /api/v1/servers/:id/members/@me.
func (h *MemberHandler) Join(c echo.Context) error {
	member, warnings, err := h.service.Join(c.Request().Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusCreated, member, warnings)
}

type setRolesRequest struct {
	RoleIDs []string `json:"roleIds"`
}

// SetRoles handles PUT /api/v1/servers/:id/members/:uid/roles.
func (h *MemberHandler) SetRoles(c echo.Context) error {
	var req setRolesRequest
	if err := c.Bind(&req); err != nil || req.RoleIDs == nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "roleIds is required")
	}

	member, warnings, err := h.service.SetRoles(c.Request().Context(), c.Param("id"), auth.GetUserID(c), targetUID(c), req.RoleIDs)
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, member, warnings)
}

// AddRole handles PUT /api/v1/servers/:id/members/:uid/roles/:role_id.
func (h *MemberHandler) AddRole(c echo.Context) error {
	member, warnings, err := h.service.AddRole(c.Request().Context(), c.Param("id"), auth.GetUserID(c), targetUID(c), c.Param("role_id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, member, warnings)
}

// RemoveRole handles DELETE /api/v1/servers/:id/members/:uid/roles/:role_id.
func (h *MemberHandler) RemoveRole(c echo.Context) error {
	member, warnings, err := h.service.RemoveRole(c.Request().Context(), c.Param("id"), auth.GetUserID(c), targetUID(c), c.Param("role_id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusOK, member, warnings)
}

type updateMemberRequest struct {
	Nickname *string          `json:"nickname,omitempty"`
	BaseRole *models.BaseRole `json:"baseRole,omitempty"`
}

// UpdateMember handles PATCH /api/v1/servers/:id/members/:uid.
func (h *MemberHandler) UpdateMember(c echo.Context) error {
	var req updateMemberRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}
	if req.Nickname == nil && req.BaseRole == nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "nothing to update")
	}

	ctx := c.Request().Context()
	serverID, actorID, uid := c.Param("id"), auth.GetUserID(c), targetUID(c)

	var (
		member   *models.Member
		warnings []cascade.Warning
		err      error
	)
	if req.BaseRole != nil {
		member, warnings, err = h.service.SetBaseRole(ctx, serverID, actorID, uid, *req.BaseRole)
		if err != nil {
			return mapServiceError(c, err)
		}
	}
	if req.Nickname != nil {
		member, err = h.service.SetNickname(ctx, serverID, actorID, uid, *req.Nickname)
		if err != nil {
			return mapServiceError(c, err)
		}
	}
	return withWarnings(c, http.StatusOK, member, warnings)
}

// RemoveMember handles DELETE /api/v1/servers/:id/members/:uid. With @me
// it is a leave.
func (h *MemberHandler) RemoveMember(c echo.Context) error {
	if err := h.service.Remove(c.Request().Context(), c.Param("id"), auth.GetUserID(c), targetUID(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
