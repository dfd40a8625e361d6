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
	"net/http"
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cliinsights/telemetry/pkg/telemetry/metrics"
)

var _ = Describe("WithRequestID", func() {
	var next http.Handler

	BeforeEach(func() {
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	It("reuses a client-supplied X-Request-ID", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-supplied-id")
		w := httptest.NewRecorder()

		WithRequestID(next).ServeHTTP(w, req)

		Expect(w.Header().Get(RequestIDHeader)).To(Equal("client-supplied-id"))
	})

	It("mints a new id when the client supplies none", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		WithRequestID(next).ServeHTTP(w, req)

		Expect(w.Header().Get(RequestIDHeader)).ToNot(BeEmpty())
	})
})

var _ = Describe("WithRecovery", func() {
	It("turns a panic into a 500 RFC 7807 problem instead of crashing", func() {
		logger := zap.NewNop()
		panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})

		req := httptest.NewRequest(http.MethodGet, "/panicking", nil)
		w := httptest.NewRecorder()

		Expect(func() {
			WithRecovery(logger)(panicking).ServeHTTP(w, req)
		}).ToNot(Panic())

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Header().Get("Content-Type")).To(Equal(problemContentType))
	})

	It("passes through a non-panicking handler untouched", func() {
		logger := zap.NewNop()
		ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		WithRecovery(logger)(ok).ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("WithMetrics", func() {
	It("records a request against the normalized route label", func() {
		registry := prometheus.NewRegistry()
		m := metrics.NewMetrics(registry)
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})

		req := httptest.NewRequest(http.MethodPost, "/experiments/123/stop", nil)
		w := httptest.NewRecorder()

		WithMetrics(m)(next).ServeHTTP(w, req)

		count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/experiments/:id/stop", http.MethodPost, "201"))
		Expect(count).To(Equal(float64(1)))
	})
})

var _ = Describe("normalizePath", func() {
	It("replaces numeric path segments with :id", func() {
		Expect(normalizePath("/reports/workflows/123")).To(Equal("/reports/workflows/:id"))
	})

	It("replaces hyphenated id-like segments with :id", func() {
		Expect(normalizePath("/experiments/a1b2c3d4-e5f6/results")).To(Equal("/experiments/:id/results"))
	})

	It("leaves named routes untouched", func() {
		Expect(normalizePath("/reports/summary")).To(Equal("/reports/summary"))
	})

	It("preserves a trailing slash", func() {
		Expect(normalizePath("/experiments/42/")).To(Equal("/experiments/:id/"))
	})
})
