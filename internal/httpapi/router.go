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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full route tree: a public surface (root info,
// health, key bootstrap, the internal /infer trigger) and a tenant-scoped
// surface behind RequireTenant for everything that reads or writes
// tool-scoped data.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(WithRequestID)
	r.Use(WithRecovery(s.logger))
	r.Use(WithRequestLogging(s.logger))
	r.Use(WithMetrics(s.metrics))
	r.Use(WithTracing("telemetry-httpapi"))
	r.Use(cors.Handler(corsOptionsFromEnvironment()))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.With(WithDeadline(s.requestTimeout)).Post("/keys", s.handleIssueKey)
	r.With(WithDeadline(s.inferTimeout)).Post("/infer", s.handleInfer)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(tenantRouter chi.Router) {
		tenantRouter.Use(WithDeadline(s.requestTimeout))
		tenantRouter.Use(RequireTenant(s.tenantResolver))

		tenantRouter.Post("/ingest", s.handleIngest)

		tenantRouter.Get("/reports/summary", s.handleSummaryReport)
		tenantRouter.Get("/reports/workflows/{name}", s.handleWorkflowDetailReport)

		tenantRouter.Get("/recommendations", s.handleRecommendations)

		tenantRouter.Post("/experiments", s.handleCreateExperiment)
		tenantRouter.Get("/experiments", s.handleListExperiments)
		tenantRouter.Post("/experiments/{name}/stop", s.handleStopExperiment)
		tenantRouter.Get("/experiments/{name}/variant", s.handleGetVariant)
		tenantRouter.Get("/experiments/{name}/results", s.handleExperimentResults)
	})

	return r
}
