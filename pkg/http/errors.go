package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// AppError is an error that knows the HTTP status and code it maps to.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the cause. It is logged, never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

func kind(code string, status int) func(string) *AppError {
	return func(msg string) *AppError { return NewAppError(code, "", msg, status) }
}

var (
	BadRequestError      = kind("ERR_BAD_REQUEST", http.StatusBadRequest)
	NotFoundError        = kind("ERR_NOT_FOUND", http.StatusNotFound)
	ConflictError        = kind("ERR_CONFLICT", http.StatusConflict)
	TooManyRequestsError = kind("ERR_TOO_MANY_REQUESTS", http.StatusTooManyRequests)
	InternalError        = kind("ERR_INTERNAL", http.StatusInternalServerError)
	UnavailableError     = kind("ERR_UNAVAILABLE", http.StatusServiceUnavailable)
)

// AsAppError converts err for the response body. Echo errors keep their
// status; cancelled requests become 503; anything else is a 500 whose cause
// stays out of the body.
func AsAppError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return NewAppError(fmt.Sprintf("ERR_HTTP_%d", he.Code), "", fmt.Sprint(he.Message), he.Code).WithError(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return UnavailableError("request cancelled").WithError(err)
	}
	return InternalError("something went wrong").WithError(err)
}
