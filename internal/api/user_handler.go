package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/service"
)

// UserHandler handles the caller's profile.
type UserHandler struct {
	service *service.ProfileService
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(svc *service.ProfileService) *UserHandler {
	return &UserHandler{service: svc}
}

// GetMe handles GET /api/v1/users/@me.
func (h *UserHandler) GetMe(c echo.Context) error {
	profile, err := h.service.GetProfile(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, profile)
}

type updateMeRequest struct {
	DisplayName string `json:"displayName"`
}

// UpdateMe handles PATCH /api/v1/users/@me.
func (h *UserHandler) UpdateMe(c echo.Context) error {
	var req updateMeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	profile, err := h.service.UpdateProfile(c.Request().Context(), auth.GetUserID(c), req.DisplayName)
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, profile)
}
