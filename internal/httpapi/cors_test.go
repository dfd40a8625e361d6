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
	"os"

	"github.com/go-chi/cors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("corsOptionsFromEnvironment", func() {
	var testHandler http.Handler

	BeforeEach(func() {
		testHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	AfterEach(func() {
		os.Unsetenv(envAllowedOrigins)
		os.Unsetenv(envAllowCredentials)
	})

	It("authorizes a whitelisted origin", func() {
		os.Setenv(envAllowedOrigins, "https://app.example.com")
		handler := cors.Handler(corsOptionsFromEnvironment())(testHandler)

		req := httptest.NewRequest(http.MethodGet, "/reports/summary", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://app.example.com"))
	})

	It("blocks a non-whitelisted origin", func() {
		os.Setenv(envAllowedOrigins, "https://app.example.com")
		handler := cors.Handler(corsOptionsFromEnvironment())(testHandler)

		req := httptest.NewRequest(http.MethodGet, "/reports/summary", nil)
		req.Header.Set("Origin", "https://malicious.example.com")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		Expect(w.Header().Get("Access-Control-Allow-Origin")).ToNot(Equal("https://malicious.example.com"))
	})

	It("defaults to wildcard origins when unconfigured", func() {
		opts := corsOptionsFromEnvironment()
		Expect(opts.AllowedOrigins).To(Equal([]string{"*"}))
		Expect(opts.AllowCredentials).To(BeFalse())
	})
})
