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

	"github.com/go-chi/chi/v5"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

// handleSummaryReport serves GET /reports/summary, scoped to the caller's
// tenant.
func (s *Server) handleSummaryReport(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())

	summary, err := s.reports.Summary(r.Context(), toolName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleWorkflowDetailReport serves GET /reports/workflows/{name}.
func (s *Server) handleWorkflowDetailReport(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, r, apperrors.NewValidationError("workflow name is required"))
		return
	}

	detail, err := s.reports.WorkflowDetail(r.Context(), toolName, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
