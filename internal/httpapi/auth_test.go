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
	"database/sql"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

var _ = Describe("RequireTenant", func() {
	var (
		mock     sqlmock.Sqlmock
		resolver *tenant.Resolver
		echo     http.Handler
	)

	BeforeEach(func() {
		mockDB, m, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db := sqlx.NewDb(mockDB, "sqlmock")
		mock = m
		breaker := resilience.NewManager(resilience.DefaultSettings(), zap.NewNop())
		resolver = tenant.NewResolver(repository.NewCredentialsRepository(db, zap.NewNop(), breaker), zap.NewNop())

		echo = RequireTenant(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			toolName, _ := tenant.FromContext(r.Context())
			w.Header().Set("X-Tool-Name", toolName)
			w.WriteHeader(http.StatusOK)
		}))
	})

	It("rejects a request with no API key", func() {
		req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
		w := httptest.NewRecorder()

		echo.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(w.Header().Get("Content-Type")).To(Equal(problemContentType))
	})

	It("rejects an unknown API key", func() {
		mock.ExpectQuery(`SELECT(.|\n)*FROM api_credentials WHERE token_hash = \$1 AND revoked_at IS NULL`).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
		req.Header.Set(APIKeyHeader, "bogus")
		w := httptest.NewRecorder()

		echo.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("resolves a valid API key and stashes the tool name in context", func() {
		mock.ExpectQuery(`SELECT(.|\n)*FROM api_credentials WHERE token_hash = \$1 AND revoked_at IS NULL`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "token_hash", "tool_name", "created_at", "revoked_at"}).
				AddRow(1, tenant.HashToken("good-token"), "git", time.Now(), nil))

		req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
		req.Header.Set(APIKeyHeader, "good-token")
		w := httptest.NewRecorder()

		echo.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("X-Tool-Name")).To(Equal("git"))
	})
})
