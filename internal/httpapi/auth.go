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

	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

// APIKeyHeader is the header every non-bootstrap, non-internal endpoint
// requires.
const APIKeyHeader = "X-API-Key"

// RequireTenant resolves the caller's API key into its bound tool name and
// stashes it in the request context, so every handler downstream of it can
// scope reads and writes with tenant.FromContext. A missing or invalid key
// renders a 401 problem and short-circuits the chain.
func RequireTenant(resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			toolName, err := resolver.Resolve(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := tenant.WithToolName(r.Context(), toolName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
