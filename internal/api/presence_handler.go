package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/presence"
)

// PresenceHandler reads and writes presence. Every write is followed by an
// observation so subscribers hear about the change.
type PresenceHandler struct {
	service *presence.Service
	tracker *presence.Tracker
}

// NewPresenceHandler creates a PresenceHandler.
func NewPresenceHandler(svc *presence.Service, tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{service: svc, tracker: tracker}
}

type presenceResponse struct {
	UID    string         `json:"uid"`
	Status presence.State `json:"status"`
}

// GetPresence handles GET /api/v1/users/:uid/presence.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	uid := targetUID(c)
	return successJSON(c, http.StatusOK, presenceResponse{UID: uid, Status: h.service.Status(c.Request().Context(), uid)})
}

type setOverrideRequest struct {
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SetOverride handles PUT /api/v1/users/@me/presence.
func (h *PresenceHandler) SetOverride(c echo.Context) error {
	var req setOverrideRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}
	state, ok := presence.ParseState(req.State)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "INVALID_STATE", "state must be online, busy, idle or offline")
	}
	if req.ExpiresAt.IsZero() {
		return errorJSON(c, http.StatusBadRequest, "INVALID_EXPIRY", "expiresAt is required")
	}

	ctx := c.Request().Context()
	uid := auth.GetUserID(c)
	if err := h.service.SetOverride(ctx, uid, state, req.ExpiresAt); err != nil {
		if errors.Is(err, presence.ErrInvalidState) {
			return errorJSON(c, http.StatusBadRequest, "INVALID_STATE", err.Error())
		}
		log.Error().Err(err).Str("uid", uid).Msg("setting presence override")
		return errorJSON(c, http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "presence store unavailable")
	}
	return h.observed(c, uid)
}

// ClearOverride handles DELETE /api/v1/users/@me/presence.
func (h *PresenceHandler) ClearOverride(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.GetUserID(c)
	if err := h.service.ClearOverride(ctx, uid); err != nil {
		log.Error().Err(err).Str("uid", uid).Msg("clearing presence override")
		return errorJSON(c, http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "presence store unavailable")
	}
	return h.observed(c, uid)
}

type heartbeatRequest struct {
	Status string `json:"status"`
}

// Heartbeat handles POST /api/v1/users/@me/heartbeat. The body is optional.
func (h *PresenceHandler) Heartbeat(c echo.Context) error {
	var req heartbeatRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
	}

	ctx := c.Request().Context()
	uid := auth.GetUserID(c)
	if err := h.service.Heartbeat(ctx, uid, req.Status); err != nil {
		log.Error().Err(err).Str("uid", uid).Msg("recording heartbeat")
		return errorJSON(c, http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "presence store unavailable")
	}
	return h.observed(c, uid)
}

// Disconnect handles DELETE /api/v1/users/@me/heartbeat. Last-seen stays, so
// the user decays through the recency windows.
func (h *PresenceHandler) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.GetUserID(c)
	if err := h.service.Disconnect(ctx, uid); err != nil {
		log.Error().Err(err).Str("uid", uid).Msg("dropping heartbeat")
		return errorJSON(c, http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "presence store unavailable")
	}
	return h.observed(c, uid)
}

func (h *PresenceHandler) observed(c echo.Context, uid string) error {
	var state presence.State
	if h.tracker != nil {
		state, _ = h.tracker.Observe(c.Request().Context(), uid)
	} else {
		state = h.service.Status(c.Request().Context(), uid)
	}
	return successJSON(c, http.StatusOK, presenceResponse{UID: uid, Status: state})
}
