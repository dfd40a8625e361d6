/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors defines the structured AppError type that every
// HTTP-facing component returns, plus the RFC 7807 problem rendering the
// transport layer converts it into.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is a closed set of failure kinds, each bound to an HTTP status.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeInternal   ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,
	ErrorTypeInternal:   http.StatusInternalServerError,
}

// AppError is the structured error every service-layer component returns.
// It maps 1:1 onto the error kinds the transport layer must render:
// ValidationError, AuthError, NotFound, ConflictError, PersistenceError
// (ErrorTypeDatabase), and UpstreamTimeout (ErrorTypeTimeout).
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// New creates an AppError of the given type with its default status code.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t]}
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	return s
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails sets extra context and returns the same error for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Wrap creates an AppError around an existing cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t], Cause: cause}
}

// Wrapf is Wrap with fmt.Sprintf formatting of the message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// NewValidationError creates a validation AppError.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewDatabaseError wraps a persistence failure for the given operation.
func NewDatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", operation))
}

// NewNotFoundError creates a not-found AppError for the named resource.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewAuthError creates an authentication-failure AppError.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewConflictError creates a conflict AppError, e.g. a duplicate experiment
// name within a tenant.
func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

// NewTimeoutError creates an upstream-timeout AppError for the operation.
func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns err's ErrorType, or ErrorTypeInternal for a plain error.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status err should render as.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the client-safe text for error kinds whose real
// message might leak internal detail.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded",
	ConcurrentModification: "The resource was modified concurrently",
}

// SafeErrorMessage returns text safe to send to a client: validation
// messages pass through verbatim since they describe the client's own
// input; everything else is replaced with a generic, non-leaking message.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders err into structured fields suitable for zap.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors into one, returning nil if all are nil and the
// single error unchanged if exactly one is non-nil.
func Chain(errs ...error) error {
	var nonNil []string
	var first error
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		nonNil = append(nonNil, e.Error())
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return first
	default:
		return fmt.Errorf("%s", strings.Join(nonNil, " -> "))
	}
}
