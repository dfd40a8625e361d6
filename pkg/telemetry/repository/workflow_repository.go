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

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	sharederrors "github.com/cliinsights/telemetry/pkg/shared/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository/sqlutil"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

// WorkflowRepository persists workflow runs and their steps, and serves
// the report/recommender group-by queries over them.
type WorkflowRepository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *resilience.Manager
}

// NewWorkflowRepository constructs a WorkflowRepository.
func NewWorkflowRepository(db *sqlx.DB, logger *zap.Logger, breaker *resilience.Manager) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger, breaker: breaker}
}

// CreateRun inserts a workflow run and returns its assigned id.
func (r *WorkflowRepository) CreateRun(ctx context.Context, tx *sqlx.Tx, wr *models.WorkflowRun) (int64, error) {
	result, err := r.breaker.Execute("workflows.create_run", func() (interface{}, error) {
		const query = `
			INSERT INTO workflow_runs (
				session_id, tool_name, workflow_name, outcome, started_at, ended_at,
				duration_ms, step_count, command_fingerprint
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`

		var id int64
		err := tx.QueryRowxContext(ctx, query,
			wr.SessionID, wr.ToolName, wr.WorkflowName, wr.Outcome, wr.StartedAt, wr.EndedAt,
			sqlutil.ToNullInt64(wr.DurationMs), wr.StepCount, wr.CommandFingerprint,
		).Scan(&id)
		if err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return 0, sharederrors.DatabaseError("create workflow run", err)
	}
	id, _ := result.(int64)
	return id, nil
}

// CreateSteps inserts the dense, zero-ordered steps of a workflow run.
func (r *WorkflowRepository) CreateSteps(ctx context.Context, tx *sqlx.Tx, steps []*models.WorkflowStep) error {
	_, err := r.breaker.Execute("workflows.create_steps", func() (interface{}, error) {
		const query = `
			INSERT INTO workflow_steps (workflow_run_id, event_id, step_order, fingerprint)
			VALUES ($1, $2, $3, $4)`
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx, query, s.WorkflowRunID, s.EventID, s.StepOrder, s.Fingerprint); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return sharederrors.DatabaseError("create workflow step", err)
	}
	return nil
}

// SummaryCounts returns the global event/session/workflow counts used by the
// summary report, scoped to toolName.
func (r *WorkflowRepository) SummaryCounts(ctx context.Context, toolName string) (events, sessions, workflows int64, err error) {
	result, err := r.breaker.Execute("workflows.summary_counts", func() (interface{}, error) {
		var e, s, w int64
		if err := r.db.GetContext(ctx, &e, `SELECT COUNT(*) FROM raw_events WHERE tool_name = $1`, toolName); err != nil {
			return nil, err
		}
		if err := r.db.GetContext(ctx, &s, `SELECT COUNT(*) FROM sessions WHERE tool_name = $1`, toolName); err != nil {
			return nil, err
		}
		if err := r.db.GetContext(ctx, &w, `SELECT COUNT(*) FROM workflow_runs WHERE tool_name = $1`, toolName); err != nil {
			return nil, err
		}
		return [3]int64{e, s, w}, nil
	})
	if err != nil {
		return 0, 0, 0, sharederrors.DatabaseError("summary counts", err)
	}
	counts, _ := result.([3]int64)
	return counts[0], counts[1], counts[2], nil
}

// WorkflowNameStat is one row of the summary report's top-workflows table.
type WorkflowNameStat struct {
	WorkflowName string `db:"workflow_name"`
	Total        int64  `db:"total"`
	Success      int64  `db:"success"`
	Failed       int64  `db:"failed"`
	Abandoned    int64  `db:"abandoned"`
}

// TopWorkflowNames returns the top limit workflow names by run count,
// scoped to toolName, with a per-outcome breakdown.
func (r *WorkflowRepository) TopWorkflowNames(ctx context.Context, toolName string, limit int) ([]WorkflowNameStat, error) {
	result, err := r.breaker.Execute("workflows.top_workflow_names", func() (interface{}, error) {
		const query = `
			SELECT
				workflow_name,
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE outcome = 'SUCCESS') AS success,
				COUNT(*) FILTER (WHERE outcome = 'FAILED') AS failed,
				COUNT(*) FILTER (WHERE outcome = 'ABANDONED') AS abandoned
			FROM workflow_runs
			WHERE tool_name = $1
			GROUP BY workflow_name
			ORDER BY total DESC
			LIMIT $2`
		var stats []WorkflowNameStat
		if err := r.db.SelectContext(ctx, &stats, query, toolName, limit); err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("top workflow names", err)
	}
	stats, _ := result.([]WorkflowNameStat)
	return stats, nil
}

// SuccessDurations returns the duration_ms of every SUCCESS run for
// workflowName, scoped to toolName, for median computation. Runs with a
// null duration are excluded.
func (r *WorkflowRepository) SuccessDurations(ctx context.Context, toolName, workflowName string) ([]int64, error) {
	result, err := r.breaker.Execute("workflows.success_durations", func() (interface{}, error) {
		const query = `
			SELECT duration_ms FROM workflow_runs
			WHERE tool_name = $1 AND workflow_name = $2 AND outcome = 'SUCCESS' AND duration_ms IS NOT NULL
			ORDER BY duration_ms`
		var durations []int64
		if err := r.db.SelectContext(ctx, &durations, query, toolName, workflowName); err != nil {
			return nil, err
		}
		return durations, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("success durations", err)
	}
	durations, _ := result.([]int64)
	return durations, nil
}

// AllSuccessDurationsByWorkflow returns success durations for every
// workflow name in one scan, used by the summary report's median column.
func (r *WorkflowRepository) AllSuccessDurationsByWorkflow(ctx context.Context, toolName string) (map[string][]int64, error) {
	result, err := r.breaker.Execute("workflows.all_success_durations_by_workflow", func() (interface{}, error) {
		const query = `
			SELECT workflow_name, duration_ms FROM workflow_runs
			WHERE tool_name = $1 AND outcome = 'SUCCESS' AND duration_ms IS NOT NULL
			ORDER BY workflow_name, duration_ms`
		rows, err := r.db.QueryxContext(ctx, query, toolName)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := map[string][]int64{}
		for rows.Next() {
			var name string
			var dur int64
			if err := rows.Scan(&name, &dur); err != nil {
				return nil, err
			}
			out[name] = append(out[name], dur)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("all success durations", err)
	}
	out, _ := result.(map[string][]int64)
	return out, nil
}

// FingerprintStat is one row of a hot-path or per-workflow fingerprint
// breakdown.
type FingerprintStat struct {
	Fingerprint         string `db:"command_fingerprint"`
	Count               int64  `db:"count"`
	RepresentativeName  string `db:"representative_name"`
}

// TopFailureFingerprints returns the top limit command_fingerprints among
// FAILED runs, scoped to toolName, with one representative workflow name.
func (r *WorkflowRepository) TopFailureFingerprints(ctx context.Context, toolName string, limit int) ([]FingerprintStat, error) {
	result, err := r.breaker.Execute("workflows.top_failure_fingerprints", func() (interface{}, error) {
		const query = `
			SELECT command_fingerprint, COUNT(*) AS count, (array_agg(workflow_name))[1] AS representative_name
			FROM workflow_runs
			WHERE tool_name = $1 AND outcome = 'FAILED'
			GROUP BY command_fingerprint
			ORDER BY count DESC
			LIMIT $2`
		var stats []FingerprintStat
		if err := r.db.SelectContext(ctx, &stats, query, toolName, limit); err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("top failure fingerprints", err)
	}
	stats, _ := result.([]FingerprintStat)
	return stats, nil
}

// TopFingerprintsForWorkflow returns the top limit command_fingerprints for
// a single workflow name, scoped to toolName.
func (r *WorkflowRepository) TopFingerprintsForWorkflow(ctx context.Context, toolName, workflowName string, limit int) ([]FingerprintStat, error) {
	result, err := r.breaker.Execute("workflows.top_fingerprints_for_workflow", func() (interface{}, error) {
		const query = `
			SELECT command_fingerprint, COUNT(*) AS count, $3::text AS representative_name
			FROM workflow_runs
			WHERE tool_name = $1 AND workflow_name = $2
			GROUP BY command_fingerprint
			ORDER BY count DESC
			LIMIT $4`
		var stats []FingerprintStat
		if err := r.db.SelectContext(ctx, &stats, query, toolName, workflowName, workflowName, limit); err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("top fingerprints for workflow", err)
	}
	stats, _ := result.([]FingerprintStat)
	return stats, nil
}

// WorkflowDetailRow is one row of the workflow-detail report's recent-runs
// table.
type WorkflowDetailRow struct {
	ID         int64         `db:"id"`
	Outcome    models.Outcome `db:"outcome"`
	StartedAt  sql.NullTime  `db:"started_at"`
	DurationMs sql.NullInt64 `db:"duration_ms"`
	StepCount  int           `db:"step_count"`
}

// RecentRuns returns the limit most recent runs for workflowName, scoped to
// toolName, newest first.
func (r *WorkflowRepository) RecentRuns(ctx context.Context, toolName, workflowName string, limit int) ([]WorkflowDetailRow, error) {
	result, err := r.breaker.Execute("workflows.recent_runs", func() (interface{}, error) {
		const query = `
			SELECT id, outcome, started_at, duration_ms, step_count
			FROM workflow_runs
			WHERE tool_name = $1 AND workflow_name = $2
			ORDER BY started_at DESC
			LIMIT $3`
		var rows []WorkflowDetailRow
		if err := r.db.SelectContext(ctx, &rows, query, toolName, workflowName, limit); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("recent runs", err)
	}
	rows, _ := result.([]WorkflowDetailRow)
	return rows, nil
}

// OutcomeCounts returns the total run count and per-outcome breakdown for
// workflowName, scoped to toolName.
func (r *WorkflowRepository) OutcomeCounts(ctx context.Context, toolName, workflowName string) (WorkflowNameStat, error) {
	result, err := r.breaker.Execute("workflows.outcome_counts", func() (interface{}, error) {
		const query = `
			SELECT
				$2::text AS workflow_name,
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE outcome = 'SUCCESS') AS success,
				COUNT(*) FILTER (WHERE outcome = 'FAILED') AS failed,
				COUNT(*) FILTER (WHERE outcome = 'ABANDONED') AS abandoned
			FROM workflow_runs
			WHERE tool_name = $1 AND workflow_name = $2`
		var stat WorkflowNameStat
		if err := r.db.GetContext(ctx, &stat, query, toolName, workflowName); err != nil {
			return nil, err
		}
		return stat, nil
	})
	if err != nil {
		return WorkflowNameStat{}, sharederrors.DatabaseError("outcome counts", err)
	}
	stat, _ := result.(WorkflowNameStat)
	return stat, nil
}
