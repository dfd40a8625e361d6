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

// Package logging provides a chainable structured-field builder on top of
// zap, so call sites build a map once and every component logs the same
// vocabulary of keys.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is a fluent builder of structured logging key/value pairs.
type Fields map[string]interface{}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus returns the field set as a plain map, for sinks that accept
// logrus.Fields-shaped input instead of zap.Field slices.
func (f Fields) ToLogrus() map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ToZap renders the field set as zap.Field values for use with a
// *zap.Logger's structured logging methods.
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DatabaseFields seeds a field set for a repository call against a table.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields seeds a field set for an inbound or outbound HTTP call.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// EventFields seeds a field set for raw-event ingestion logging.
func EventFields(operation, eventID string) Fields {
	return NewFields().Component("ingest").Operation(operation).Resource("event", eventID)
}

// SessionFields seeds a field set for sessionization logging.
func SessionFields(operation string, sessionID int64) Fields {
	return NewFields().Component("inference").Operation(operation).Custom("session_id", sessionID)
}

// WorkflowFields seeds a field set for workflow-inference logging.
func WorkflowFields(operation, workflowName string) Fields {
	return NewFields().Component("inference").Operation(operation).Resource("workflow", workflowName)
}

// ExperimentFields seeds a field set for experiment-service logging.
func ExperimentFields(operation, experimentName string) Fields {
	return NewFields().Component("experiments").Operation(operation).Resource("experiment", experimentName)
}

// TenantFields seeds a field set carrying the tool-name tenant key so every
// tenant-scoped log line can be filtered by it.
func TenantFields(toolName string) Fields {
	return NewFields().Custom("tool_name", toolName)
}

// PerformanceFields seeds a field set for a timed operation's outcome.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}
