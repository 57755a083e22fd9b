package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/service"
)

// ServerHandler handles server endpoints.
type ServerHandler struct {
	service *service.ServerService
}

// NewServerHandler creates a ServerHandler.
func NewServerHandler(svc *service.ServerService) *ServerHandler {
	return &ServerHandler{service: svc}
}

type createServerRequest struct {
	Name string `json:"name"`
}

// CreateServer handles POST /api/v1/servers.
func (h *ServerHandler) CreateServer(c echo.Context) error {
	var req createServerRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	server, warnings, err := h.service.CreateServer(c.Request().Context(), auth.GetUserID(c), req.Name)
	if err != nil {
		return mapServiceError(c, err)
	}
	return withWarnings(c, http.StatusCreated, server, warnings)
}

// GetServer handles GET /api/v1/servers/:id.
func (h *ServerHandler) GetServer(c echo.Context) error {
	server, err := h.service.GetServer(c.Request().Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, server)
}
