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
	"strconv"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

type recommendationsResponse struct {
	Recommendations []recommendationDTO `json:"recommendations"`
}

type recommendationDTO struct {
	Kind       string  `json:"kind"`
	Command    string  `json:"command"`
	Message    string  `json:"message"`
	SampleSize int     `json:"sample_size"`
	Confidence float64 `json:"confidence"`
}

// handleRecommendations serves GET /recommendations?command=...&failed=true,
// scoped to the caller's tenant.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	toolName, _ := tenant.FromContext(r.Context())

	command := r.URL.Query().Get("command")
	if command == "" {
		writeError(w, r, apperrors.NewValidationError("command query parameter is required"))
		return
	}

	var failed bool
	if raw := r.URL.Query().Get("failed"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, apperrors.NewValidationError("failed must be a boolean"))
			return
		}
		failed = parsed
	}

	recs, err := s.recommender.Recommend(r.Context(), toolName, command, failed)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]recommendationDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recommendationDTO{
			Kind:       rec.Kind,
			Command:    rec.Command,
			Message:    rec.Message,
			SampleSize: rec.SampleSize,
			Confidence: rec.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{Recommendations: out})
}
