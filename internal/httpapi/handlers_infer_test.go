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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cliinsights/telemetry/pkg/telemetry/inference"
	"github.com/cliinsights/telemetry/pkg/telemetry/metrics"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

func newTestServer() (*Server, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	Expect(err).ToNot(HaveOccurred())
	db := sqlx.NewDb(mockDB, "sqlmock")
	logger := zap.NewNop()
	breaker := resilience.NewManager(resilience.DefaultSettings(), logger)

	engine := inference.NewEngine(
		db,
		repository.NewEventsRepository(db, logger, breaker),
		repository.NewSessionsRepository(db, logger, breaker),
		repository.NewWorkflowRepository(db, logger, breaker),
		repository.NewCursorRepository(db, logger, breaker),
		inference.NewDistributedLock(nil, time.Minute, logger),
		logger,
		inference.Config{
			SessionTimeout:   30 * time.Minute,
			EntryCommands:    []string{"init"},
			TerminalCommands: []string{"apply"},
			FetchBatchSize:   10000,
		},
	)

	server := NewServer(Config{
		DB:       db,
		Engine:   engine,
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	})
	return server, mock
}

var _ = Describe("handleInfer", func() {
	It("returns the real counters from an empty inference pass", func() {
		server, mock := newTestServer()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, last_event_id, last_run_at FROM inference_cursor`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "last_event_id", "last_run_at"}).AddRow(1, 0, time.Now()))
		mock.ExpectQuery(`SELECT(.|\n)*FROM raw_events(.|\n)*WHERE id > \$1 AND session_id IS NULL`).
			WithArgs(int64(0), 10000).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "event_id", "timestamp", "tool_name", "tool_version", "command_path", "flags_present",
				"exit_code", "duration_ms", "error_type", "actor_id_hash", "machine_id_hash",
				"session_hint", "ci_detected", "ingested_at", "session_id", "workflow_run_id",
				"experiment_id", "variant",
			}))
		mock.ExpectCommit()

		req := httptest.NewRequest(http.MethodPost, "/infer", nil)
		w := httptest.NewRecorder()

		server.handleInfer(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))

		var resp inferResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.EventsProcessed).To(Equal(0))
		Expect(resp.SessionsCreated).To(Equal(0))
		Expect(resp.WorkflowsCreated).To(Equal(0))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

var _ = Describe("handleHealth", func() {
	It("reports healthy when the database round-trip succeeds", func() {
		server, mock := newTestServer()
		mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()

		server.handleHealth(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp healthResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Status).To(Equal("healthy"))
	})

	It("reports degraded when the database round-trip fails", func() {
		server, mock := newTestServer()
		mock.ExpectExec("SELECT 1").WillReturnError(sqlmock.ErrCancelled)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()

		server.handleHealth(w, req)

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		var resp healthResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Status).To(Equal("degraded"))
	})
})
