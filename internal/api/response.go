package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/service"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends a JSON error response.
func Error(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// errorJSON is an alias for Error (used by handlers).
var errorJSON = Error

// DataResponse is the success envelope. Warnings list recompute failures
// that did not undo the request's own change.
type DataResponse struct {
	Data     any               `json:"data"`
	Warnings []cascade.Warning `json:"warnings"`
}

// successJSON sends a JSON success response with a data envelope.
func successJSON(c echo.Context, status int, data any) error {
	return withWarnings(c, status, data, nil)
}

func withWarnings(c echo.Context, status int, data any, warnings []cascade.Warning) error {
	if warnings == nil {
		warnings = []cascade.Warning{}
	}
	return c.JSON(status, DataResponse{Data: data, Warnings: warnings})
}

// mapServiceError turns a service error into its HTTP response.
func mapServiceError(c echo.Context, err error) error {
	var se *service.ServiceError
	if !errors.As(err, &se) {
		return errorJSON(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(se, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(se, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(se, service.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(se, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(se, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(se, service.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	return errorJSON(c, status, se.Code, se.Message)
}
