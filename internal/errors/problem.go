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

package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const problemBase = "https://cliinsights.dev/errors/"

// RFC7807Problem is the application/problem+json body the HTTP layer
// renders for every AppError.
type RFC7807Problem struct {
	Type       string
	Title      string
	Status     int
	Detail     string
	Instance   string
	Extensions map[string]interface{}
}

func (p *RFC7807Problem) Error() string {
	return fmt.Sprintf("%s (%d): %s", p.Title, p.Status, p.Detail)
}

// MarshalJSON flattens Extensions into the top-level object alongside the
// standard RFC 7807 members, omitting Detail/Instance when empty.
func (p *RFC7807Problem) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	for k, v := range p.Extensions {
		out[k] = v
	}
	return json.Marshal(out)
}

// NewValidationErrorProblem renders field-level validation failures.
func NewValidationErrorProblem(resource string, fieldErrors map[string]string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBase + "validation-error",
		Title:    "Validation Error",
		Status:   http.StatusBadRequest,
		Detail:   fmt.Sprintf("validation failed for %s", resource),
		Instance: "/telemetry/" + resource,
		Extensions: map[string]interface{}{
			"resource":     resource,
			"field_errors": fieldErrors,
		},
	}
}

// NewNotFoundProblem renders a missing-resource failure.
func NewNotFoundProblem(resource, id string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBase + "not-found",
		Title:    "Resource Not Found",
		Status:   http.StatusNotFound,
		Detail:   fmt.Sprintf("%s %s not found", resource, id),
		Instance: fmt.Sprintf("/telemetry/%s/%s", resource, id),
		Extensions: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalErrorProblem renders an opaque 500, safe to retry.
func NewInternalErrorProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:       problemBase + "internal-error",
		Title:      "Internal Server Error",
		Status:     http.StatusInternalServerError,
		Detail:     detail,
		Extensions: map[string]interface{}{"retry": true},
	}
}

// NewServiceUnavailableProblem renders a transient upstream failure.
func NewServiceUnavailableProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:       problemBase + "service-unavailable",
		Title:      "Service Unavailable",
		Status:     http.StatusServiceUnavailable,
		Detail:     detail,
		Extensions: map[string]interface{}{"retry": true},
	}
}

// NewConflictProblem renders a uniqueness violation, e.g. an experiment
// name already registered for the tenant.
func NewConflictProblem(resource, field, value string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBase + "conflict",
		Title:    "Resource Conflict",
		Status:   http.StatusConflict,
		Detail:   fmt.Sprintf("%s with %s %s already exists", resource, field, value),
		Instance: "/telemetry/" + resource,
		Extensions: map[string]interface{}{
			"resource": resource,
			"field":    field,
			"value":    value,
		},
	}
}

// NewUpstreamTimeoutProblem renders an internal deadline overrun.
func NewUpstreamTimeoutProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:       problemBase + "upstream-timeout",
		Title:      "Upstream Timeout",
		Status:     http.StatusGatewayTimeout,
		Detail:     detail,
		Extensions: map[string]interface{}{"retry": true},
	}
}

// FieldValidationError accumulates per-field failures for one resource
// before being rendered as an RFC 7807 problem at the HTTP boundary.
type FieldValidationError struct {
	Resource    string
	Message     string
	FieldErrors map[string]string
}

// FromAppError renders any AppError as an RFC 7807 problem body, choosing
// title and type from its ErrorType. A plain, non-AppError is rendered as an
// opaque internal error so causes are never leaked to the client.
func FromAppError(err error) *RFC7807Problem {
	appErr, ok := err.(*AppError)
	if !ok {
		return NewInternalErrorProblem(SafeErrorMessage(err))
	}

	detail := SafeErrorMessage(appErr)
	switch appErr.Type {
	case ErrorTypeValidation:
		return &RFC7807Problem{
			Type:   problemBase + "validation-error",
			Title:  "Validation Error",
			Status: appErr.StatusCode,
			Detail: detail,
		}
	case ErrorTypeAuth:
		return &RFC7807Problem{
			Type:   problemBase + "auth-error",
			Title:  "Authentication Error",
			Status: appErr.StatusCode,
			Detail: detail,
		}
	case ErrorTypeNotFound:
		return &RFC7807Problem{
			Type:   problemBase + "not-found",
			Title:  "Resource Not Found",
			Status: appErr.StatusCode,
			Detail: detail,
		}
	case ErrorTypeConflict:
		return &RFC7807Problem{
			Type:   problemBase + "conflict",
			Title:  "Resource Conflict",
			Status: appErr.StatusCode,
			Detail: detail,
		}
	case ErrorTypeTimeout:
		return NewUpstreamTimeoutProblem(detail)
	default:
		return NewInternalErrorProblem(detail)
	}
}

// NewFieldValidationError starts an empty field-error set for a resource.
func NewFieldValidationError(resource, message string) *FieldValidationError {
	return &FieldValidationError{Resource: resource, Message: message, FieldErrors: map[string]string{}}
}

// AddFieldError records (or overwrites) the failure reason for a field.
func (v *FieldValidationError) AddFieldError(field, reason string) {
	v.FieldErrors[field] = reason
}

func (v *FieldValidationError) Error() string {
	if len(v.FieldErrors) == 0 {
		return fmt.Sprintf("%s: %s", v.Resource, v.Message)
	}
	return fmt.Sprintf("%s: %s (fields: %v)", v.Resource, v.Message, v.FieldErrors)
}

// ToRFC7807 converts the accumulated field errors into a problem body.
func (v *FieldValidationError) ToRFC7807() *RFC7807Problem {
	p := NewValidationErrorProblem(v.Resource, v.FieldErrors)
	p.Detail = v.Message
	return p
}
