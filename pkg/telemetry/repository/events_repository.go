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

// Package repository holds the sqlx/pgx-backed persistence layer for the
// telemetry domain, with every database call behind a named circuit
// breaker from pkg/telemetry/resilience.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	sharederrors "github.com/cliinsights/telemetry/pkg/shared/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository/sqlutil"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

// EventsRepository persists and queries raw telemetry events.
type EventsRepository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *resilience.Manager
}

// NewEventsRepository constructs an EventsRepository.
func NewEventsRepository(db *sqlx.DB, logger *zap.Logger, breaker *resilience.Manager) *EventsRepository {
	return &EventsRepository{db: db, logger: logger, breaker: breaker}
}

// InsertBatch inserts events within tx, returning the DB-assigned ids in
// the same order as events. The caller owns transaction lifecycle.
func (r *EventsRepository) InsertBatch(ctx context.Context, tx *sqlx.Tx, events []*models.RawEvent) ([]int64, error) {
	result, err := r.breaker.Execute("events.insert_batch", func() (interface{}, error) {
		ids := make([]int64, len(events))
		const query = `
			INSERT INTO raw_events (
				event_id, timestamp, tool_name, tool_version, command_path, flags_present,
				exit_code, duration_ms, error_type, actor_id_hash, machine_id_hash,
				session_hint, ci_detected, ingested_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`

		for i, e := range events {
			commandPath, err := json.Marshal(e.CommandPath)
			if err != nil {
				return nil, sharederrors.Wrapf(err, "marshal command_path for event %d", i)
			}
			flags, err := json.Marshal(e.FlagsPresent)
			if err != nil {
				return nil, sharederrors.Wrapf(err, "marshal flags_present for event %d", i)
			}

			var id int64
			err = tx.QueryRowContext(ctx, query,
				e.EventID, e.Timestamp, e.ToolName, e.ToolVersion, commandPath, flags,
				e.ExitCode, e.DurationMs, e.ErrorType, e.ActorHash, e.MachineHash,
				e.SessionHint, e.CIDetected, e.IngestedAt,
			).Scan(&id)
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}
		return ids, nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("insert raw event batch", err)
	}
	ids, _ := result.([]int64)
	return ids, nil
}

// FetchUnsessionized fetches up to limit events with id > afterID and
// session_id IS NULL, ordered by id ascending.
func (r *EventsRepository) FetchUnsessionized(ctx context.Context, afterID int64, limit int) ([]*models.RawEvent, error) {
	result, err := r.breaker.Execute("events.fetch_unsessionized", func() (interface{}, error) {
		const query = `
			SELECT id, event_id, timestamp, tool_name, tool_version, command_path, flags_present,
				exit_code, duration_ms, error_type, actor_id_hash, machine_id_hash,
				session_hint, ci_detected, ingested_at, session_id, workflow_run_id,
				experiment_id, variant
			FROM raw_events
			WHERE id > $1 AND session_id IS NULL
			ORDER BY id ASC
			LIMIT $2`
		rows, err := r.db.QueryxContext(ctx, query, afterID, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var events []*models.RawEvent
		for rows.Next() {
			e, err := scanRawEvent(rows)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		return events, rows.Err()
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("fetch unsessionized events", err)
	}
	events, _ := result.([]*models.RawEvent)
	return events, nil
}

// AttachSessionAndWorkflow sets the session/workflow back-pointers on an
// event within tx. Back-pointers transition exactly once from null.
func (r *EventsRepository) AttachSessionAndWorkflow(ctx context.Context, tx *sqlx.Tx, eventID, sessionID int64, workflowRunID int64) error {
	_, err := r.breaker.Execute("events.attach_session_and_workflow", func() (interface{}, error) {
		const query = `UPDATE raw_events SET session_id = $1, workflow_run_id = $2 WHERE id = $3`
		_, err := tx.ExecContext(ctx, query, sessionID, workflowRunID, eventID)
		return nil, err
	})
	if err != nil {
		return sharederrors.DatabaseError("attach session/workflow back-pointers", err)
	}
	return nil
}

// FetchWorkflowTagged returns every event with workflow_run_id NOT NULL for
// toolName, ordered by (workflow_run_id, timestamp), the order the
// recommender's transition mining walks in.
func (r *EventsRepository) FetchWorkflowTagged(ctx context.Context, toolName string) ([]*models.RawEvent, error) {
	result, err := r.breaker.Execute("events.fetch_workflow_tagged", func() (interface{}, error) {
		const query = `
			SELECT id, event_id, timestamp, tool_name, tool_version, command_path, flags_present,
				exit_code, duration_ms, error_type, actor_id_hash, machine_id_hash,
				session_hint, ci_detected, ingested_at, session_id, workflow_run_id,
				experiment_id, variant
			FROM raw_events
			WHERE tool_name = $1 AND workflow_run_id IS NOT NULL
			ORDER BY workflow_run_id ASC, timestamp ASC`
		rows, err := r.db.QueryxContext(ctx, query, toolName)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var events []*models.RawEvent
		for rows.Next() {
			e, err := scanRawEvent(rows)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		return events, rows.Err()
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("fetch workflow-tagged events", err)
	}
	events, _ := result.([]*models.RawEvent)
	return events, nil
}

type rawEventRow struct {
	ID            int64           `db:"id"`
	EventID       string          `db:"event_id"`
	Timestamp     sql.NullTime    `db:"timestamp"`
	ToolName      string          `db:"tool_name"`
	ToolVersion   sql.NullString  `db:"tool_version"`
	CommandPath   json.RawMessage `db:"command_path"`
	FlagsPresent  json.RawMessage `db:"flags_present"`
	ExitCode      sql.NullInt64   `db:"exit_code"`
	DurationMs    sql.NullInt64   `db:"duration_ms"`
	ErrorType     sql.NullString  `db:"error_type"`
	ActorHash     string          `db:"actor_id_hash"`
	MachineHash   string          `db:"machine_id_hash"`
	SessionHint   sql.NullString  `db:"session_hint"`
	CIDetected    bool            `db:"ci_detected"`
	IngestedAt    sql.NullTime    `db:"ingested_at"`
	SessionID     sql.NullInt64   `db:"session_id"`
	WorkflowRunID sql.NullInt64   `db:"workflow_run_id"`
	ExperimentID  sql.NullInt64   `db:"experiment_id"`
	Variant       sql.NullString  `db:"variant"`
}

func scanRawEvent(rows *sqlx.Rows) (*models.RawEvent, error) {
	var row rawEventRow
	if err := rows.StructScan(&row); err != nil {
		return nil, err
	}

	var path, flags []string
	if len(row.CommandPath) > 0 {
		if err := json.Unmarshal(row.CommandPath, &path); err != nil {
			return nil, fmt.Errorf("unmarshal command_path: %w", err)
		}
	}
	if len(row.FlagsPresent) > 0 {
		if err := json.Unmarshal(row.FlagsPresent, &flags); err != nil {
			return nil, fmt.Errorf("unmarshal flags_present: %w", err)
		}
	}

	var exitCode *int
	if row.ExitCode.Valid {
		v := int(row.ExitCode.Int64)
		exitCode = &v
	}

	return &models.RawEvent{
		ID:            row.ID,
		EventID:       row.EventID,
		Timestamp:     row.Timestamp.Time,
		ToolName:      row.ToolName,
		ToolVersion:   sqlutil.FromNullString(row.ToolVersion),
		CommandPath:   path,
		FlagsPresent:  flags,
		ExitCode:      exitCode,
		DurationMs:    sqlutil.FromNullInt64(row.DurationMs),
		ErrorType:     sqlutil.FromNullString(row.ErrorType),
		ActorHash:     row.ActorHash,
		MachineHash:   row.MachineHash,
		SessionHint:   sqlutil.FromNullString(row.SessionHint),
		CIDetected:    row.CIDetected,
		IngestedAt:    row.IngestedAt.Time,
		SessionID:     sqlutil.FromNullInt64(row.SessionID),
		WorkflowRunID: sqlutil.FromNullInt64(row.WorkflowRunID),
		ExperimentID:  sqlutil.FromNullInt64(row.ExperimentID),
		Variant:       sqlutil.FromNullString(row.Variant),
	}, nil
}
