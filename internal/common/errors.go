package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetails returns a copy of the error carrying the provided details.
func (e *AppError) WithDetails(details any) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = details
	return &clone
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// BadRequest builds a 400 AppError.
func BadRequest(message string, err error) *AppError {
	return NewAppError("BAD_REQUEST", message, http.StatusBadRequest, err)
}

// NotFound builds a 404 AppError.
func NotFound(code, message string, err error) *AppError {
	if code == "" {
		code = "NOT_FOUND"
	}
	return NewAppError(code, message, http.StatusNotFound, err)
}

// Unprocessable builds a 422 AppError.
func Unprocessable(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusUnprocessableEntity, err)
}

// Conflict builds a 409 AppError.
func Conflict(code, message string, err error) *AppError {
	if code == "" {
		code = "CONFLICT"
	}
	return NewAppError(code, message, http.StatusConflict, err)
}

// Unavailable builds a 503 AppError for failing upstream dependencies.
func Unavailable(code, message string, err error) *AppError {
	if code == "" {
		code = "UNAVAILABLE"
	}
	return NewAppError(code, message, http.StatusServiceUnavailable, err)
}
