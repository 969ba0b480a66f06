// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/analytics"
	"github.com/plantwatch/console/internal/faults"
	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/plant"
	"github.com/plantwatch/console/internal/session"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// FromDomainError maps component errors onto API errors. Unknown errors
// become 500s.
func FromDomainError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var ve *plant.ValidationError
	if errors.As(err, &ve) {
		e := NewValidationError(ve.Field)
		e.Details = ve.Error()
		return e
	}

	switch {
	case errors.Is(err, plant.ErrNotEditing),
		errors.Is(err, plant.ErrWrongPhase),
		errors.Is(err, plant.ErrNoZoneSelected),
		errors.Is(err, plant.ErrNoDraft),
		errors.Is(err, faults.ErrDeleteInProgress):
		return NewConflictError(err.Error())

	case errors.Is(err, plant.ErrZoneNotFound),
		errors.Is(err, plant.ErrMachineNotFound),
		errors.Is(err, faults.ErrNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionClosed):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}

	case errors.Is(err, session.ErrViewNotMounted):
		return &APIError{Status: http.StatusConflict, Code: "VIEW_NOT_MOUNTED", Message: err.Error()}

	case errors.Is(err, session.ErrUnknownView),
		errors.Is(err, session.ErrUsernameRequired),
		errors.Is(err, analytics.ErrInvalidFilter):
		return NewBadRequestError(err.Error(), nil)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// ExposeErrorDetails controls whether unexpected errors carry their message
// in the Details field.
var ExposeErrorDetails = true

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError

	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		apiErr = &APIError{
			Status:  e.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", e.Message),
		}
	default:
		apiErr = FromDomainError(err)
	}

	if apiErr.Status >= http.StatusInternalServerError {
		log := logger.WithComponent("api")
		log.Error().
			Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
		if !ExposeErrorDetails {
			apiErr = &APIError{Status: apiErr.Status, Code: apiErr.Code, Message: apiErr.Message}
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}
