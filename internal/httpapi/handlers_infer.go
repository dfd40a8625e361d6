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
	"time"
)

// inferResponse is the body of POST /infer: real counters observed this
// run, never a hardcoded zero for sessions_updated.
type inferResponse struct {
	EventsProcessed  int `json:"events_processed"`
	SessionsCreated  int `json:"sessions_created"`
	SessionsUpdated  int `json:"sessions_updated"`
	WorkflowsCreated int `json:"workflows_created"`
}

// handleInfer runs one idempotent inference pass. It is an internal
// operation (no X-API-Key required) triggered by a scheduler or operator.
func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	result, err := s.engine.Infer(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.metrics.InferenceRunsTotal.Inc()
	s.metrics.InferenceEventsProcessed.Add(float64(result.EventsProcessed))
	s.metrics.InferenceSessionsCreated.Add(float64(result.SessionsCreated))
	s.metrics.InferenceWorkflowsCreated.Add(float64(result.WorkflowsCreated))
	s.metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, inferResponse{
		EventsProcessed:  result.EventsProcessed,
		SessionsCreated:  result.SessionsCreated,
		SessionsUpdated:  result.SessionsUpdated,
		WorkflowsCreated: result.WorkflowsCreated,
	})
}
