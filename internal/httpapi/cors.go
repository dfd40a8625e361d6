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
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/cors"
)

const (
	envAllowedOrigins     = "CORS_ALLOWED_ORIGINS"
	envAllowedMethods     = "CORS_ALLOWED_METHODS"
	envAllowedHeaders     = "CORS_ALLOWED_HEADERS"
	envAllowCredentials   = "CORS_ALLOW_CREDENTIALS"
	envMaxAge             = "CORS_MAX_AGE"
	envExposedHeaders     = "CORS_EXPOSED_HEADERS"
	defaultCORSMaxAgeSecs = 300
)

// corsOptionsFromEnvironment builds go-chi/cors options from the
// CORS_ALLOWED_ORIGINS family of environment variables, defaulting to a
// permissive development configuration when none are set.
func corsOptionsFromEnvironment() cors.Options {
	origins := splitEnvList(envAllowedOrigins, []string{"*"})
	methods := splitEnvList(envAllowedMethods, []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	headers := splitEnvList(envAllowedHeaders, []string{"Content-Type", APIKeyHeader, RequestIDHeader})
	exposed := splitEnvList(envExposedHeaders, []string{RequestIDHeader})

	allowCredentials, _ := strconv.ParseBool(os.Getenv(envAllowCredentials))

	maxAge := defaultCORSMaxAgeSecs
	if raw := os.Getenv(envMaxAge); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			maxAge = parsed
		}
	}

	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		ExposedHeaders:   exposed,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	}
}

func splitEnvList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
