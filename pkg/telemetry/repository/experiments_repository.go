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

package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	sharederrors "github.com/cliinsights/telemetry/pkg/shared/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

// ErrNotFound is returned by single-row lookups that matched no row.
var ErrNotFound = sql.ErrNoRows

// ExperimentsRepository persists experiments and variant assignments.
type ExperimentsRepository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *resilience.Manager
}

// NewExperimentsRepository constructs an ExperimentsRepository.
func NewExperimentsRepository(db *sqlx.DB, logger *zap.Logger, breaker *resilience.Manager) *ExperimentsRepository {
	return &ExperimentsRepository{db: db, logger: logger, breaker: breaker}
}

// Create inserts a new experiment and returns its assigned id.
func (r *ExperimentsRepository) Create(ctx context.Context, e *models.Experiment) (int64, error) {
	variants, err := json.Marshal(e.Variants)
	if err != nil {
		return 0, sharederrors.Wrapf(err, "marshal variants")
	}
	targets, err := json.Marshal(e.TargetCommands)
	if err != nil {
		return 0, sharederrors.Wrapf(err, "marshal target_commands")
	}

	result, err := r.breaker.Execute("experiments.create", func() (interface{}, error) {
		const query = `
			INSERT INTO experiments (tool_name, name, variants, target_commands, traffic_pct, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			RETURNING id`
		var id int64
		err := r.db.QueryRowxContext(ctx, query, e.ToolName, e.Name, variants, targets, e.TrafficPct, e.Active).Scan(&id)
		if err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return 0, sharederrors.DatabaseError("create experiment", err)
	}
	id, _ := result.(int64)
	return id, nil
}

// FindByName returns the experiment named name for toolName, or ErrNotFound.
func (r *ExperimentsRepository) FindByName(ctx context.Context, toolName, name string) (*models.Experiment, error) {
	notFound := false
	result, err := r.breaker.Execute("experiments.find_by_name", func() (interface{}, error) {
		const query = `
			SELECT id, tool_name, name, variants, target_commands, traffic_pct, active, created_at
			FROM experiments WHERE tool_name = $1 AND name = $2`
		var row experimentRow
		err := r.db.QueryRowxContext(ctx, query, toolName, name).StructScan(&row)
		if err == sql.ErrNoRows {
			notFound = true
			return (*models.Experiment)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return row.toModel()
	})
	if notFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, sharederrors.DatabaseError("find experiment by name", err)
	}
	e, _ := result.(*models.Experiment)
	return e, nil
}

// List returns every experiment for toolName, newest first.
func (r *ExperimentsRepository) List(ctx context.Context, toolName string) ([]*models.Experiment, error) {
	result, err := r.breaker.Execute("experiments.list", func() (interface{}, error) {
		const query = `
			SELECT id, tool_name, name, variants, target_commands, traffic_pct, active, created_at
			FROM experiments WHERE tool_name = $1 ORDER BY created_at DESC`
		rows, err := r.db.QueryxContext(ctx, query, toolName)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []*models.Experiment
		for rows.Next() {
			var row experimentRow
			if err := rows.StructScan(&row); err != nil {
				return nil, err
			}
			e, err := row.toModel()
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("list experiments", err)
	}
	out, _ := result.([]*models.Experiment)
	return out, nil
}

// Stop flips active to false for the named experiment within toolName.
func (r *ExperimentsRepository) Stop(ctx context.Context, toolName, name string) error {
	notFound := false
	_, err := r.breaker.Execute("experiments.stop", func() (interface{}, error) {
		const query = `UPDATE experiments SET active = false WHERE tool_name = $1 AND name = $2`
		result, err := r.db.ExecContext(ctx, query, toolName, name)
		if err != nil {
			return nil, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			notFound = true
		}
		return nil, nil
	})
	if notFound {
		return ErrNotFound
	}
	if err != nil {
		return sharederrors.DatabaseError("stop experiment", err)
	}
	return nil
}

// FindAssignment returns the stored variant assignment for
// (experimentID, actorHash), or ErrNotFound.
func (r *ExperimentsRepository) FindAssignment(ctx context.Context, experimentID int64, actorHash string) (*models.VariantAssignment, error) {
	notFound := false
	result, err := r.breaker.Execute("experiments.find_assignment", func() (interface{}, error) {
		const query = `
			SELECT id, experiment_id, actor_id_hash, variant, assigned_at
			FROM variant_assignments WHERE experiment_id = $1 AND actor_id_hash = $2`
		var a models.VariantAssignment
		err := r.db.GetContext(ctx, &a, query, experimentID, actorHash)
		if err == sql.ErrNoRows {
			notFound = true
			return (*models.VariantAssignment)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return &a, nil
	})
	if notFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, sharederrors.DatabaseError("find variant assignment", err)
	}
	a, _ := result.(*models.VariantAssignment)
	return a, nil
}

// CreateAssignment inserts a new, permanent variant assignment. A unique
// index on (experiment_id, actor_id_hash) makes a racing duplicate insert
// fail; the caller treats that as "someone else assigned it first" and
// re-reads via FindAssignment.
func (r *ExperimentsRepository) CreateAssignment(ctx context.Context, a *models.VariantAssignment) error {
	_, err := r.breaker.Execute("experiments.create_assignment", func() (interface{}, error) {
		const query = `
			INSERT INTO variant_assignments (experiment_id, actor_id_hash, variant, assigned_at)
			VALUES ($1, $2, $3, now())`
		_, err := r.db.ExecContext(ctx, query, a.ExperimentID, a.ActorHash, a.Variant)
		return nil, err
	})
	if err != nil {
		return sharederrors.DatabaseError("create variant assignment", err)
	}
	return nil
}

// VariantResultRow is one row of the experiment-results aggregation: per
// variant, the event count, success count, and summed duration.
type VariantResultRow struct {
	Variant       string        `db:"variant"`
	EventCount    int64         `db:"event_count"`
	SuccessCount  int64         `db:"success_count"`
	DurationSumMs sql.NullInt64 `db:"duration_sum_ms"`
	DurationCount int64         `db:"duration_count"`
}

// ResultsByVariant aggregates raw events whose experiment_id is
// experimentID and whose variant is set, scoped to toolName, grouped by
// variant. variant_assignments is not consulted.
func (r *ExperimentsRepository) ResultsByVariant(ctx context.Context, toolName string, experimentID int64) ([]VariantResultRow, error) {
	result, err := r.breaker.Execute("experiments.results_by_variant", func() (interface{}, error) {
		const query = `
			SELECT
				e.variant AS variant,
				COUNT(*) AS event_count,
				COUNT(*) FILTER (WHERE e.exit_code = 0) AS success_count,
				SUM(e.duration_ms) AS duration_sum_ms,
				COUNT(*) FILTER (WHERE e.duration_ms IS NOT NULL) AS duration_count
			FROM raw_events e
			WHERE e.tool_name = $1 AND e.experiment_id = $2 AND e.variant IS NOT NULL
			GROUP BY e.variant`
		var rows []VariantResultRow
		if err := r.db.SelectContext(ctx, &rows, query, toolName, experimentID); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("experiment results by variant", err)
	}
	rows, _ := result.([]VariantResultRow)
	return rows, nil
}

type experimentRow struct {
	ID             int64           `db:"id"`
	ToolName       string          `db:"tool_name"`
	Name           string          `db:"name"`
	Variants       json.RawMessage `db:"variants"`
	TargetCommands json.RawMessage `db:"target_commands"`
	TrafficPct     float64         `db:"traffic_pct"`
	Active         bool            `db:"active"`
	CreatedAt      sql.NullTime    `db:"created_at"`
}

func (row *experimentRow) toModel() (*models.Experiment, error) {
	var variants, targets []string
	if len(row.Variants) > 0 {
		if err := json.Unmarshal(row.Variants, &variants); err != nil {
			return nil, sharederrors.Wrapf(err, "unmarshal variants")
		}
	}
	if len(row.TargetCommands) > 0 {
		if err := json.Unmarshal(row.TargetCommands, &targets); err != nil {
			return nil, sharederrors.Wrapf(err, "unmarshal target_commands")
		}
	}
	return &models.Experiment{
		ID:             row.ID,
		ToolName:       row.ToolName,
		Name:           row.Name,
		Variants:       variants,
		TargetCommands: targets,
		TrafficPct:     row.TrafficPct,
		Active:         row.Active,
		CreatedAt:      row.CreatedAt.Time,
	}, nil
}
