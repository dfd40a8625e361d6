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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.EventsIngestedTotal.WithLabelValues("git").Inc()
	m.EventsIngestedTotal.WithLabelValues("git").Inc()
	m.InferenceRunsTotal.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var found bool
	for _, mf := range families {
		if mf.GetName() != "cliinsights_ingest_events_accepted_total" {
			continue
		}
		found = true
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter().GetValue() != 2 {
				t.Fatalf("expected counter value 2, got %v", metric.GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("expected cliinsights_ingest_events_accepted_total to be registered")
	}
}

func TestMetricTypeIsCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.InferenceRunsTotal.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "cliinsights_inference_runs_total" {
			if mf.GetType() != dto.MetricType_COUNTER {
				t.Fatalf("expected COUNTER type, got %v", mf.GetType())
			}
		}
	}
}
