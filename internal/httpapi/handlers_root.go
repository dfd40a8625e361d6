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

import "net/http"

const serviceName = "telemetry"

// ServiceVersion is overridden at build time via -ldflags; it defaults to
// "dev" for local builds.
var ServiceVersion = "dev"

type rootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// handleRoot serves GET /: a minimal service identity response, not a
// dashboard.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{Service: serviceName, Version: ServiceVersion})
}
