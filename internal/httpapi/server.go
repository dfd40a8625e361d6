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
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cliinsights/telemetry/pkg/telemetry/experiments"
	"github.com/cliinsights/telemetry/pkg/telemetry/inference"
	"github.com/cliinsights/telemetry/pkg/telemetry/ingest"
	"github.com/cliinsights/telemetry/pkg/telemetry/metrics"
	"github.com/cliinsights/telemetry/pkg/telemetry/recommend"
	"github.com/cliinsights/telemetry/pkg/telemetry/reports"
	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

// Server holds every service-layer dependency the HTTP handlers call into.
// It carries no behavior of its own beyond routing and response shaping.
type Server struct {
	db             *sqlx.DB
	ingestor       *ingest.Ingestor
	engine         *inference.Engine
	reports        *reports.Aggregator
	recommender    *recommend.Recommender
	experiments    *experiments.Service
	tenantResolver *tenant.Resolver
	metrics        *metrics.Metrics
	registry       *prometheus.Registry
	logger         *zap.Logger
	requestTimeout time.Duration
	inferTimeout   time.Duration
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultInferTimeout   = 60 * time.Second
)

// Config bundles the constructed dependencies handed to NewServer, so
// wiring stays in one place at startup.
type Config struct {
	DB             *sqlx.DB
	Ingestor       *ingest.Ingestor
	Engine         *inference.Engine
	Reports        *reports.Aggregator
	Recommender    *recommend.Recommender
	Experiments    *experiments.Service
	TenantResolver *tenant.Resolver
	Metrics        *metrics.Metrics
	Registry       *prometheus.Registry
	Logger         *zap.Logger
	RequestTimeout time.Duration
	InferTimeout   time.Duration
}

// NewServer constructs a Server from its dependencies, defaulting the
// per-request deadlines (30s general, 60s for inference) when unset.
func NewServer(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.InferTimeout <= 0 {
		cfg.InferTimeout = defaultInferTimeout
	}
	return &Server{
		db:             cfg.DB,
		ingestor:       cfg.Ingestor,
		engine:         cfg.Engine,
		reports:        cfg.Reports,
		recommender:    cfg.Recommender,
		experiments:    cfg.Experiments,
		tenantResolver: cfg.TenantResolver,
		metrics:        cfg.Metrics,
		registry:       cfg.Registry,
		logger:         cfg.Logger,
		requestTimeout: cfg.RequestTimeout,
		inferTimeout:   cfg.InferTimeout,
	}
}
