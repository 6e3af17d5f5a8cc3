// Package errors provides unified error handling for the identity kernel.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the seven error categories the kernel's HTTP surface maps
// to a fixed status code.
type Kind string

const (
	KindBadRequest   Kind = "BAD_REQUEST"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindTooMany      Kind = "TOO_MANY"
	KindInternal     Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindBadRequest:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindTooMany:      http.StatusTooManyRequests,
	KindInternal:     http.StatusInternalServerError,
}

// ServiceError is a structured error with a kind, message, and HTTP status.
type ServiceError struct {
	Kind       Kind                   `json:"kind"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair of extra context, returning e for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError of the given kind.
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, HTTPStatus: statusByKind[kind]}
}

// Wrap creates a ServiceError of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, HTTPStatus: statusByKind[kind], Err: err}
}

func BadRequest(message string) *ServiceError   { return New(KindBadRequest, message) }
func Unauthorized(message string) *ServiceError { return New(KindUnauthorized, message) }
func Forbidden(message string) *ServiceError    { return New(KindForbidden, message) }
func Conflict(message string) *ServiceError     { return New(KindConflict, message) }
func TooMany(message string) *ServiceError      { return New(KindTooMany, message) }

// NotFound builds a 404 naming the resource kind and id that was not found.
func NotFound(resource, id string) *ServiceError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource)).WithDetails("id", id)
}

// Internal wraps an unexpected error; the message returned to clients is
// always generic, the wrapped err carries detail for server-side logging.
func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternal, message, err)
}

// IsServiceError reports whether err (or something it wraps) is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status for err, defaulting to 500.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
