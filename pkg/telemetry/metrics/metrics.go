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

// Package metrics exposes the Prometheus counters and histograms the HTTP
// layer and the ingestion/inference pipelines record against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the service registers. A nil *Metrics is
// never passed around; NewMetrics always returns a usable value bound to
// its own registry, so tests can create one without touching the process
// default registry.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsIngestedTotal  *prometheus.CounterVec
	EventsRejectedTotal  *prometheus.CounterVec
	IngestBatchDuration  prometheus.Histogram

	InferenceRunsTotal       prometheus.Counter
	InferenceEventsProcessed prometheus.Counter
	InferenceSessionsCreated prometheus.Counter
	InferenceWorkflowsCreated prometheus.Counter
	InferenceDuration        prometheus.Histogram

	VariantAssignmentsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers every collector against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cliinsights",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		EventsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "ingest",
			Name:      "events_accepted_total",
			Help:      "Accepted events by tool name.",
		}, []string{"tool_name"}),
		EventsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Rejected events by tool name.",
		}, []string{"tool_name"}),
		IngestBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cliinsights",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Time to validate and persist one ingest batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		InferenceRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "inference",
			Name:      "runs_total",
			Help:      "Total /infer invocations.",
		}),
		InferenceEventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "inference",
			Name:      "events_processed_total",
			Help:      "Total raw events consumed by inference.",
		}),
		InferenceSessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "inference",
			Name:      "sessions_created_total",
			Help:      "Total sessions created by inference.",
		}),
		InferenceWorkflowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "inference",
			Name:      "workflows_created_total",
			Help:      "Total workflow runs created by inference.",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cliinsights",
			Subsystem: "inference",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time of one inference invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
		VariantAssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cliinsights",
			Subsystem: "experiments",
			Name:      "variant_assignments_total",
			Help:      "Total variant assignments by experiment name.",
		}, []string{"experiment"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.EventsIngestedTotal, m.EventsRejectedTotal, m.IngestBatchDuration,
		m.InferenceRunsTotal, m.InferenceEventsProcessed, m.InferenceSessionsCreated,
		m.InferenceWorkflowsCreated, m.InferenceDuration,
		m.VariantAssignmentsTotal,
	)
	return m
}
