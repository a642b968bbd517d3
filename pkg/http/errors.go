package http

import (
	"errors"
	"fmt"
	"net/http"

	"AgentFlow/internal/domain/models"
)

// AppError is an application error carrying its HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", fmt.Sprintf(format, a...), http.StatusNotFound)
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

// FromDomainError maps the domain error taxonomy onto HTTP statuses.
// Unknown errors become 500s.
func FromDomainError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var stateErr *models.StateError
	switch {
	case errors.As(err, &stateErr):
		return NewAppError("ERR_INVALID_STATE", "", err.Error(), http.StatusConflict).
			WithParam("status", stateErr.Status.String()).
			WithError(err)
	case errors.Is(err, models.ErrInvalidState):
		return NewAppError("ERR_INVALID_STATE", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, models.ErrAlreadyRegistered):
		return NewAppError("ERR_CONFLICT", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoOpportunity):
		return NewAppError("ERR_NOT_FOUND", "", err.Error(), http.StatusNotFound).WithError(err)
	case errors.Is(err, models.ErrTimeout):
		return NewAppError("ERR_TIMEOUT", "", err.Error(), http.StatusGatewayTimeout).WithError(err)
	case errors.Is(err, models.ErrExecution):
		return NewAppError("ERR_EXECUTION", "", err.Error(), http.StatusBadGateway).WithError(err)
	case errors.Is(err, models.ErrConnection):
		return NewAppError("ERR_CONNECTION", "", err.Error(), http.StatusBadGateway).WithError(err)
	default:
		return NewAppError("ERR_INTERNAL", "", "Something went wrong", http.StatusInternalServerError).WithError(err)
	}
}
