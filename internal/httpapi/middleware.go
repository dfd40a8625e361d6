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

package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cliinsights/telemetry/pkg/shared/logging"
	"github.com/cliinsights/telemetry/pkg/telemetry/metrics"
)

type contextKey int

const requestIDKey contextKey = iota

// RequestIDHeader is the header the client SDK and tests key correlation on.
const RequestIDHeader = "X-Request-ID"

// requestIDFromContext returns the id stashed by WithRequestID, or "".
func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithRequestID assigns a per-request correlation id, reusing one supplied
// by the client in X-Request-ID rather than minting a second one.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithDeadline bounds each request's context so a wedged database call
// surfaces as a context deadline instead of holding the worker forever.
func WithDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRecovery turns a panicking handler into a 500 problem response
// instead of crashing the connection, logging the stack at error level.
func WithRecovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in http handler",
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("request_id", requestIDFromContext(r.Context())),
					)
					writeError(w, r, nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseRecorder captures the status code a downstream handler wrote, so
// the logging and metrics middleware can report it after the fact.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

// WithRequestLogging logs one structured line per request: method, path,
// status, duration, and the request id for cross-referencing.
func WithRequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rr, r)

			logger.Info("http request",
				logging.HTTPFields(r.Method, r.URL.Path, rr.status).
					Duration(time.Since(start)).
					RequestID(requestIDFromContext(r.Context())).ToZap()...,
			)
		})
	}
}

// WithMetrics records the request-count and latency collectors, labeling by
// a cardinality-reduced route path rather than the raw URL.
func WithMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rr, r)

			route := normalizePath(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rr.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// WithTracing starts a span per request named after the normalized route
// (see normalizePath), so numeric ids and hyphenated names in the path do
// not each create their own span name.
func WithTracing(tracerName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), normalizePath(r.URL.Path),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				),
			)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
