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
	"time"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/ingest"
	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

// envelope wraps a batch submission; a bare single event has no "events" key
// and is detected by its absence.
type envelope struct {
	Events json.RawMessage `json:"events"`
}

// handleIngest accepts either a single event object or {"events": [...]}
// and returns acceptance/rejection counts plus the generated event ids.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	toolName, _ := tenant.FromContext(r.Context())

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, r, apperrors.NewValidationError("malformed JSON body"))
		return
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	var inputs []ingest.EventInput
	if env.Events != nil {
		if err := json.Unmarshal(env.Events, &inputs); err != nil {
			writeError(w, r, apperrors.NewValidationError("events must be an array of event objects"))
			return
		}
	} else {
		var single ingest.EventInput
		if err := json.Unmarshal(raw, &single); err != nil {
			writeError(w, r, apperrors.NewValidationError("body must be an event object or {events:[...]}"))
			return
		}
		inputs = []ingest.EventInput{single}
	}

	// The credential's bound tool name is the tenant key; an event's own
	// tool_name field is overwritten by it so one credential can never
	// write into another tenant's event stream.
	for i := range inputs {
		inputs[i].ToolName = toolName
	}

	result, err := s.ingestor.IngestBatch(r.Context(), inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.metrics.EventsIngestedTotal.WithLabelValues(toolName).Add(float64(result.Accepted))
	s.metrics.EventsRejectedTotal.WithLabelValues(toolName).Add(float64(result.Rejected))
	s.metrics.IngestBatchDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, result)
}
