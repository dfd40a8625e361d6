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

// Package recommend performs in-memory sequence mining over
// workflow-tagged events to derive command-to-command transition
// statistics and per-query recommendations. The transition map is
// recomputed on every call; nothing survives past the request.
package recommend

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
)

// pairKey is an ordered (prev, curr) command pair, keyed on the lowercased
// last token of each event's command path.
type pairKey struct {
	Prev string
	Curr string
}

// pairStat accumulates success/failure counts for one transition.
type pairStat struct {
	Success int
	Fail    int
}

func (s pairStat) total() int { return s.Success + s.Fail }

func (s pairStat) successRate() float64 {
	if s.total() == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.total())
}

// Recommendation is one suggested next/prior command.
type Recommendation struct {
	Kind       string  `json:"kind"`
	Command    string  `json:"command"`
	Message    string  `json:"message"`
	SampleSize int     `json:"sample_size"`
	Confidence float64 `json:"confidence"`
}

const (
	kindAfterFailure    = "after_failure"
	kindBeforeCommand   = "before_command"
	kindCommonSequence  = "common_sequence"
	minAfterFailureN    = 2
	minBeforeCommandN   = 3
	minCommonSequenceN  = 3
	confidenceDivisor   = 10.0
	confidenceAfterCap  = 0.9
)

// Recommender derives command transition recommendations by re-scanning
// every workflow-tagged event for a tenant on each query.
type Recommender struct {
	events *repository.EventsRepository
	logger *zap.Logger
}

// NewRecommender constructs a Recommender.
func NewRecommender(events *repository.EventsRepository, logger *zap.Logger) *Recommender {
	return &Recommender{events: events, logger: logger}
}

// Recommend returns up to three recommendations for (command, failed),
// scoped to toolName.
func (r *Recommender) Recommend(ctx context.Context, toolName, command string, failed bool) ([]Recommendation, error) {
	events, err := r.events.FetchWorkflowTagged(ctx, toolName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "fetch workflow-tagged events")
	}

	pairs := minePairs(events)

	var out []Recommendation
	if failed {
		if rec, ok := afterFailure(pairs, command); ok {
			out = append(out, rec)
		}
	}
	if rec, ok := beforeCommand(pairs, command); ok {
		out = append(out, rec)
	}
	if !failed {
		if rec, ok := commonSequence(pairs, command); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// minePairs derives ordered (prev, curr) transitions from events already
// sorted by (workflow_run_id, timestamp); the boundary between distinct
// workflow runs resets the running "prev" so no pair spans two runs.
func minePairs(events []*models.RawEvent) map[pairKey]*pairStat {
	pairs := map[pairKey]*pairStat{}

	var prevToken string
	var prevWorkflow int64
	haveState := false

	for _, e := range events {
		if e.WorkflowRunID == nil {
			continue
		}
		wfID := *e.WorkflowRunID
		curr := e.LastToken()

		if !haveState || wfID != prevWorkflow {
			prevToken = curr
			prevWorkflow = wfID
			haveState = true
			continue
		}

		key := pairKey{Prev: prevToken, Curr: curr}
		stat, ok := pairs[key]
		if !ok {
			stat = &pairStat{}
			pairs[key] = stat
		}
		if e.ExitCode != nil && *e.ExitCode == 0 {
			stat.Success++
		} else {
			stat.Fail++
		}

		prevToken = curr
		prevWorkflow = wfID
	}
	return pairs
}

// afterFailure picks, among pairs with prev == command and
// success_count > 2, the curr with the highest success_count.
func afterFailure(pairs map[pairKey]*pairStat, command string) (Recommendation, bool) {
	var best pairKey
	var bestStat *pairStat
	for k, s := range pairs {
		if k.Prev != command || s.Success <= minAfterFailureN {
			continue
		}
		if bestStat == nil || s.Success > bestStat.Success || (s.Success == bestStat.Success && k.Curr < best.Curr) {
			best, bestStat = k, s
		}
	}
	if bestStat == nil {
		return Recommendation{}, false
	}
	confidence := math.Min(confidenceAfterCap, float64(bestStat.Success)/confidenceDivisor)
	return Recommendation{
		Kind:       kindAfterFailure,
		Command:    best.Curr,
		Message:    fmt.Sprintf("after %q fails, running %q succeeded %d times", command, best.Curr, bestStat.Success),
		SampleSize: bestStat.total(),
		Confidence: confidence,
	}, true
}

// beforeCommand picks, among pairs with curr == command and total >= 3,
// the prev with the highest total.
func beforeCommand(pairs map[pairKey]*pairStat, command string) (Recommendation, bool) {
	var best pairKey
	var bestStat *pairStat
	for k, s := range pairs {
		if k.Curr != command || s.total() < minBeforeCommandN {
			continue
		}
		if bestStat == nil || s.total() > bestStat.total() || (s.total() == bestStat.total() && k.Prev < best.Prev) {
			best, bestStat = k, s
		}
	}
	if bestStat == nil {
		return Recommendation{}, false
	}
	return Recommendation{
		Kind:       kindBeforeCommand,
		Command:    best.Prev,
		Message:    fmt.Sprintf("%q is most often run before %q", best.Prev, command),
		SampleSize: bestStat.total(),
		Confidence: bestStat.successRate(),
	}, true
}

// commonSequence picks, among pairs with prev == command and
// success_count >= 3, the curr with the highest success_count.
func commonSequence(pairs map[pairKey]*pairStat, command string) (Recommendation, bool) {
	var best pairKey
	var bestStat *pairStat
	for k, s := range pairs {
		if k.Prev != command || s.Success < minCommonSequenceN {
			continue
		}
		if bestStat == nil || s.Success > bestStat.Success || (s.Success == bestStat.Success && k.Curr < best.Curr) {
			best, bestStat = k, s
		}
	}
	if bestStat == nil {
		return Recommendation{}, false
	}
	confidence := math.Min(confidenceAfterCap, float64(bestStat.Success)/confidenceDivisor)
	return Recommendation{
		Kind:       kindCommonSequence,
		Command:    best.Curr,
		Message:    fmt.Sprintf("%q is commonly followed by %q", command, best.Curr),
		SampleSize: bestStat.total(),
		Confidence: confidence,
	}, true
}
