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

type createExperimentRequest struct {
	Name           string   `json:"name"`
	Variants       []string `json:"variants"`
	TargetCommands []string `json:"target_commands"`
	TrafficPct     float64  `json:"traffic_pct"`
}

// handleCreateExperiment serves POST /experiments.
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())

	var req createExperimentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apperrors.NewValidationError("malformed request body"))
		return
	}

	exp, err := s.experiments.Create(r.Context(), toolName, req.Name, req.Variants, req.TargetCommands, req.TrafficPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

// handleListExperiments serves GET /experiments.
func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())

	exps, err := s.experiments.List(r.Context(), toolName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exps)
}

// handleStopExperiment serves POST /experiments/{name}/stop.
func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.experiments.Stop(r.Context(), toolName, name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type variantResponse struct {
	Variant string `json:"variant"`
}

// handleGetVariant serves GET /experiments/{name}/variant?actor_id=...,
// assigning actorID a stable variant on its first call.
func (s *Server) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())
	name := chi.URLParam(r, "name")

	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, r, apperrors.NewValidationError("actor_id query parameter is required"))
		return
	}

	variant, err := s.experiments.GetVariant(r.Context(), toolName, name, actorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.VariantAssignmentsTotal.WithLabelValues(name).Inc()
	writeJSON(w, http.StatusOK, variantResponse{Variant: variant})
}

// handleExperimentResults serves GET /experiments/{name}/results.
func (s *Server) handleExperimentResults(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())
	name := chi.URLParam(r, "name")

	results, err := s.experiments.Results(r.Context(), toolName, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
