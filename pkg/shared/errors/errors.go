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

// Package errors provides operation-level error wrapping for internal
// plumbing (repository, ingestion, inference) that sits below the
// HTTP-facing internal/errors.AppError boundary.
package errors

import (
	"fmt"
	"strings"
)

// OperationError describes a failed operation with optional component and
// resource context, in the style repositories and the inference engine use
// before the HTTP layer maps the failure onto an AppError.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedToWithDetails builds an OperationError carrying component/resource
// context in addition to the action and cause.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf wraps err with a formatted prefix, returning nil when err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// DatabaseError wraps a repository-layer failure.
func DatabaseError(operation string, cause error) error {
	return FailedToWithDetails(operation, "database", "", cause)
}

// TimeoutError describes an operation that exceeded its deadline.
func TimeoutError(operation, after string) error {
	return fmt.Errorf("timeout while %s after %s", operation, after)
}

// Chain joins non-nil errors into one, returning nil if all are nil and the
// single error unchanged if exactly one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, e := range nonNil {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("multiple errors: %s", strings.Join(msgs, "; "))
	}
}
