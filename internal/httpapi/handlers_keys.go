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

	apperrors "github.com/cliinsights/telemetry/internal/errors"
)

type issueKeyRequest struct {
	ToolName string `json:"tool_name"`
}

type issueKeyResponse struct {
	Token    string `json:"token"`
	ToolName string `json:"tool_name"`
}

// handleIssueKey serves POST /keys: a bootstrap endpoint with no auth of
// its own, since it is how a tool obtains its first credential. Deployments
// that need to gate this should front it with network-level controls.
func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, apperrors.NewValidationError("malformed request body"))
		return
	}

	token, _, err := s.tenantResolver.IssueKey(r.Context(), req.ToolName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, issueKeyResponse{Token: token, ToolName: req.ToolName})
}
