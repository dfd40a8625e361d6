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

// Package httpapi is the HTTP transport boundary: chi routing, auth and
// tenant-scoping middleware, and the JSON/RFC 7807 handlers in front of the
// service-layer packages in pkg/telemetry.
package httpapi

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
)

const problemContentType = "application/problem+json"

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as an RFC 7807 application/problem+json body,
// choosing status and shape from its AppError type when present.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	problem := apperrors.FromAppError(err)
	problem.Instance = r.URL.Path
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// decodeJSON decodes the request body into v, rejecting unknown fields so
// malformed clients fail loudly instead of silently dropping data.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
