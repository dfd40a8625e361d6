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

// Package experiments implements deterministic, stable variant assignment
// and outcome rollup for tenant-scoped A/B experiments.
package experiments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sort"

	"go.uber.org/zap"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/shared/logging"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
)

const (
	minResultsForWinner      = 30
	winnerMarginPct          = 5.0
	winnerConfidenceBaseline = 0.5
	winnerConfidenceCap      = 0.95
)

// Service creates, lists, stops, and queries experiments, and assigns
// actors to variants deterministically and permanently.
type Service struct {
	repo   *repository.ExperimentsRepository
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(repo *repository.ExperimentsRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create validates and persists a new experiment for toolName. A duplicate
// (tool_name, name) is surfaced as a ConflictError.
func (s *Service) Create(ctx context.Context, toolName, name string, variants, targetCommands []string, trafficPct float64) (*models.Experiment, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("experiment name is required")
	}
	if len(variants) < 2 {
		return nil, apperrors.NewValidationError("experiment requires at least two variants")
	}
	if trafficPct < 0 || trafficPct > 100 {
		return nil, apperrors.NewValidationError("traffic_pct must be within [0, 100]")
	}

	if _, err := s.repo.FindByName(ctx, toolName, name); err == nil {
		return nil, apperrors.NewConflictError("an experiment named " + name + " already exists for this tool")
	} else if err != repository.ErrNotFound {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "check existing experiment")
	}

	exp := &models.Experiment{
		ToolName:       toolName,
		Name:           name,
		Variants:       variants,
		TargetCommands: targetCommands,
		TrafficPct:     trafficPct,
		Active:         true,
	}
	id, err := s.repo.Create(ctx, exp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create experiment")
	}
	exp.ID = id

	s.logger.Info("experiment created", logging.ExperimentFields("create", name).
		Custom("tool_name", toolName).Custom("variants", variants).ToZap()...)
	return exp, nil
}

// List returns every experiment for toolName.
func (s *Service) List(ctx context.Context, toolName string) ([]*models.Experiment, error) {
	out, err := s.repo.List(ctx, toolName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list experiments")
	}
	return out, nil
}

// Stop flips the named experiment to inactive.
func (s *Service) Stop(ctx context.Context, toolName, name string) error {
	if err := s.repo.Stop(ctx, toolName, name); err != nil {
		if err == repository.ErrNotFound {
			return apperrors.NewNotFoundError("experiment " + name)
		}
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "stop experiment")
	}
	return nil
}

// GetVariant resolves the active experiment named name for toolName and
// returns the stable variant assigned to actorID, assigning one if this is
// the actor's first query. Actors outside the experiment's traffic_pct
// roll get the first (control) variant without an assignment row being
// written.
func (s *Service) GetVariant(ctx context.Context, toolName, name, actorID string) (string, error) {
	exp, err := s.repo.FindByName(ctx, toolName, name)
	if err != nil {
		if err == repository.ErrNotFound {
			return "", apperrors.NewNotFoundError("experiment " + name)
		}
		return "", apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "find experiment")
	}
	if !exp.Active {
		return "", apperrors.NewNotFoundError("experiment " + name)
	}
	if len(exp.Variants) == 0 {
		return "", apperrors.New(apperrors.ErrorTypeInternal, "experiment has no variants configured")
	}

	actorHash := hashActor(actorID)

	if assignment, err := s.repo.FindAssignment(ctx, exp.ID, actorHash); err == nil {
		return assignment.Variant, nil
	} else if err != repository.ErrNotFound {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "find variant assignment")
	}

	if !inTrafficRoll(actorHash, exp.TrafficPct) {
		return exp.Variants[0], nil
	}

	h := new(big.Int)
	h.SetString(actorHash, 16)
	idx := new(big.Int).Mod(h, big.NewInt(int64(len(exp.Variants)))).Int64()
	variant := exp.Variants[idx]

	assignment := &models.VariantAssignment{ExperimentID: exp.ID, ActorHash: actorHash, Variant: variant}
	if err := s.repo.CreateAssignment(ctx, assignment); err != nil {
		// A racing duplicate insert lost the race; re-read the winner's
		// assignment rather than erroring, since once written an assignment
		// never changes.
		if existing, findErr := s.repo.FindAssignment(ctx, exp.ID, actorHash); findErr == nil {
			return existing.Variant, nil
		}
		return "", apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create variant assignment")
	}

	s.logger.Info("variant assigned", logging.ExperimentFields("assign", name).
		Custom("tool_name", toolName).Custom("variant", variant).ToZap()...)
	return variant, nil
}

// VariantResult is one variant's outcome rollup.
type VariantResult struct {
	Variant         string  `json:"variant"`
	EventCount      int64   `json:"event_count"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
}

// ResultsResponse is the experiment-results endpoint's body.
type ResultsResponse struct {
	ExperimentName string          `json:"experiment_name"`
	Variants       []VariantResult `json:"variants"`
	Winner         *Winner         `json:"winner,omitempty"`
}

// Winner names the variant that beat the field decisively.
type Winner struct {
	Variant    string  `json:"variant"`
	Confidence float64 `json:"confidence"`
}

// Results aggregates raw events by variant for the named experiment,
// scoped to toolName, and determines a winner when the top two variants
// each have enough samples and a clear enough margin.
func (s *Service) Results(ctx context.Context, toolName, name string) (*ResultsResponse, error) {
	exp, err := s.repo.FindByName(ctx, toolName, name)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NewNotFoundError("experiment " + name)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "find experiment")
	}

	rows, err := s.repo.ResultsByVariant(ctx, toolName, exp.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "aggregate experiment results")
	}

	results := make([]VariantResult, 0, len(rows))
	for _, row := range rows {
		var avgDuration float64
		if row.DurationCount > 0 && row.DurationSumMs.Valid {
			avgDuration = float64(row.DurationSumMs.Int64) / float64(row.DurationCount)
		}
		var rate float64
		if row.EventCount > 0 {
			rate = float64(row.SuccessCount) / float64(row.EventCount) * 100
		}
		results = append(results, VariantResult{
			Variant:       row.Variant,
			EventCount:    row.EventCount,
			SuccessRate:   rate,
			AvgDurationMs: avgDuration,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].SuccessRate > results[j].SuccessRate })

	resp := &ResultsResponse{ExperimentName: name, Variants: results}
	if w := determineWinner(results); w != nil {
		resp.Winner = w
	}
	return resp, nil
}

// determineWinner compares the top two variants (already sorted by
// success rate descending): a winner is declared when both have at least
// minResultsForWinner events and the rate gap exceeds winnerMarginPct.
func determineWinner(sorted []VariantResult) *Winner {
	if len(sorted) < 2 {
		return nil
	}
	top, second := sorted[0], sorted[1]
	if top.EventCount < minResultsForWinner || second.EventCount < minResultsForWinner {
		return nil
	}
	diff := top.SuccessRate - second.SuccessRate
	if diff <= winnerMarginPct {
		return nil
	}
	confidence := winnerConfidenceBaseline + diff/100
	if confidence > winnerConfidenceCap {
		confidence = winnerConfidenceCap
	}
	return &Winner{Variant: top.Variant, Confidence: confidence}
}

// hashActor computes the first 16 hex characters of SHA-256(actorID), the
// key variant assignments are stored and looked up under.
func hashActor(actorID string) string {
	sum := sha256.Sum256([]byte(actorID))
	return hex.EncodeToString(sum[:])[:16]
}

// inTrafficRoll deterministically maps actorHash onto [0, 100) and reports
// whether it falls within trafficPct, so the same actor always rolls the
// same way for a given experiment.
func inTrafficRoll(actorHash string, trafficPct float64) bool {
	if trafficPct >= 100 {
		return true
	}
	if trafficPct <= 0 {
		return false
	}
	h := new(big.Int)
	h.SetString(actorHash, 16)
	roll := new(big.Int).Mod(h, big.NewInt(10000)).Int64()
	return float64(roll) < trafficPct*100
}
