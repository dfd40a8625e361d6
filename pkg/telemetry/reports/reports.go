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

// Package reports serves the two read-only, tenant-scoped group-by queries
// the system exposes: a global summary and a per-workflow detail view.
package reports

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	sharedmath "github.com/cliinsights/telemetry/pkg/shared/math"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
)

const (
	topWorkflowsLimit = 10
	hotPathsLimit     = 10
	recentRunsLimit   = 10
	detailTopFPLimit  = 5
)

// WorkflowOutcomeStat is the per-workflow-name outcome breakdown shown in
// the summary report's top-workflows table.
type WorkflowOutcomeStat struct {
	WorkflowName       string  `json:"workflow_name"`
	Total              int64   `json:"total"`
	Success            int64   `json:"success"`
	Failed             int64   `json:"failed"`
	Abandoned          int64   `json:"abandoned"`
	SuccessRate        float64 `json:"success_rate"`
	MedianDurationMs   *int64  `json:"median_duration_ms,omitempty"`
}

// HotPath is one row of the summary report's top failure fingerprints.
type HotPath struct {
	Fingerprint        string `json:"command_fingerprint"`
	Count              int64  `json:"count"`
	RepresentativeName string `json:"representative_workflow_name"`
}

// Summary is the `/reports/summary` response body.
type Summary struct {
	TotalEvents    int64                 `json:"total_events"`
	TotalSessions  int64                 `json:"total_sessions"`
	TotalWorkflows int64                 `json:"total_workflows"`
	TopWorkflows   []WorkflowOutcomeStat `json:"top_workflows"`
	HotPaths       []HotPath             `json:"hot_paths"`
}

// RecentRun is one row of the workflow-detail report's recent-runs table.
type RecentRun struct {
	ID         int64   `json:"id"`
	Outcome    string  `json:"outcome"`
	StartedAt  string  `json:"started_at"`
	DurationMs *int64  `json:"duration_ms,omitempty"`
	StepCount  int     `json:"step_count"`
}

// FingerprintCount pairs a fingerprint with its occurrence count, used in
// the workflow-detail report's top fingerprints table.
type FingerprintCount struct {
	Fingerprint string `json:"command_fingerprint"`
	Count       int64  `json:"count"`
}

// WorkflowDetail is the `/reports/workflows/{name}` response body.
type WorkflowDetail struct {
	WorkflowName     string             `json:"workflow_name"`
	TotalRuns        int64              `json:"total_runs"`
	Outcomes         map[string]int64   `json:"outcomes"`
	SuccessRate      float64            `json:"success_rate"`
	MedianDurationMs *int64             `json:"median_duration_ms,omitempty"`
	TopFingerprints  []FingerprintCount `json:"top_fingerprints"`
	RecentRuns       []RecentRun        `json:"recent_runs"`
}

// Aggregator computes the summary and workflow-detail reports from the
// workflow repository's group-by queries, scoped to one tenant per call.
type Aggregator struct {
	workflows *repository.WorkflowRepository
	logger    *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(workflows *repository.WorkflowRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{workflows: workflows, logger: logger}
}

// Summary builds the global summary report for toolName. The four
// underlying lookups (counts, top workflows, success durations, hot paths)
// run concurrently over separate pool connections.
func (a *Aggregator) Summary(ctx context.Context, toolName string) (*Summary, error) {
	var (
		events, sessions, workflows int64
		topNames                    []repository.WorkflowNameStat
		durationsByName             map[string][]int64
		hotPaths                    []repository.FingerprintStat
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, sessions, workflows, err = a.workflows.SummaryCounts(gctx, toolName)
		return err
	})
	g.Go(func() error {
		var err error
		topNames, err = a.workflows.TopWorkflowNames(gctx, toolName, topWorkflowsLimit)
		return err
	})
	g.Go(func() error {
		var err error
		durationsByName, err = a.workflows.AllSuccessDurationsByWorkflow(gctx, toolName)
		return err
	})
	g.Go(func() error {
		var err error
		hotPaths, err = a.workflows.TopFailureFingerprints(gctx, toolName, hotPathsLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "compute summary report")
	}

	stats := make([]WorkflowOutcomeStat, 0, len(topNames))
	for _, n := range topNames {
		stats = append(stats, WorkflowOutcomeStat{
			WorkflowName:     n.WorkflowName,
			Total:            n.Total,
			Success:          n.Success,
			Failed:           n.Failed,
			Abandoned:        n.Abandoned,
			SuccessRate:      successRate(n.Success, n.Total),
			MedianDurationMs: medianOf(durationsByName[n.WorkflowName]),
		})
	}

	paths := make([]HotPath, 0, len(hotPaths))
	for _, h := range hotPaths {
		paths = append(paths, HotPath{Fingerprint: h.Fingerprint, Count: h.Count, RepresentativeName: h.RepresentativeName})
	}

	return &Summary{
		TotalEvents:    events,
		TotalSessions:  sessions,
		TotalWorkflows: workflows,
		TopWorkflows:   stats,
		HotPaths:       paths,
	}, nil
}

// WorkflowDetail builds the detail report for a single workflow name scoped
// to toolName, or a NotFound AppError when it has no runs.
func (a *Aggregator) WorkflowDetail(ctx context.Context, toolName, workflowName string) (*WorkflowDetail, error) {
	counts, err := a.workflows.OutcomeCounts(ctx, toolName, workflowName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "outcome counts for workflow detail")
	}
	if counts.Total == 0 {
		return nil, apperrors.NewNotFoundError("workflow " + workflowName)
	}

	durations, err := a.workflows.SuccessDurations(ctx, toolName, workflowName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "success durations for workflow detail")
	}

	fps, err := a.workflows.TopFingerprintsForWorkflow(ctx, toolName, workflowName, detailTopFPLimit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "top fingerprints for workflow detail")
	}

	recent, err := a.workflows.RecentRuns(ctx, toolName, workflowName, recentRunsLimit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "recent runs for workflow detail")
	}

	topFPs := make([]FingerprintCount, 0, len(fps))
	for _, f := range fps {
		topFPs = append(topFPs, FingerprintCount{Fingerprint: f.Fingerprint, Count: f.Count})
	}

	runs := make([]RecentRun, 0, len(recent))
	for _, r := range recent {
		run := RecentRun{ID: r.ID, Outcome: string(r.Outcome), StepCount: r.StepCount}
		if r.StartedAt.Valid {
			run.StartedAt = r.StartedAt.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		}
		if r.DurationMs.Valid {
			d := r.DurationMs.Int64
			run.DurationMs = &d
		}
		runs = append(runs, run)
	}

	return &WorkflowDetail{
		WorkflowName: workflowName,
		TotalRuns:    counts.Total,
		Outcomes: map[string]int64{
			"SUCCESS":   counts.Success,
			"FAILED":    counts.Failed,
			"ABANDONED": counts.Abandoned,
		},
		SuccessRate:      successRate(counts.Success, counts.Total),
		MedianDurationMs: medianOf(durations),
		TopFingerprints:  topFPs,
		RecentRuns:       runs,
	}, nil
}

// successRate returns success/total as a percentage (0-100) rounded to two
// decimal places, 0 when total is 0.
func successRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(success) / float64(total) * 100
	return roundTwoDecimals(rate)
}

func roundTwoDecimals(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// medianOf computes the classical midpoint median over durations, nil for
// an empty slice. The repository queries already order durations ascending;
// the sort here keeps Median's sorted-input contract honest for any future
// caller that doesn't.
func medianOf(durations []int64) *int64 {
	if len(durations) == 0 {
		return nil
	}
	values := make([]float64, len(durations))
	for i, d := range durations {
		values[i] = float64(d)
	}
	sort.Float64s(values)
	m := int64(sharedmath.Median(values))
	return &m
}
