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

// SessionsRepository persists and queries inferred sessions.
type SessionsRepository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *resilience.Manager
}

// NewSessionsRepository constructs a SessionsRepository.
func NewSessionsRepository(db *sqlx.DB, logger *zap.Logger, breaker *resilience.Manager) *SessionsRepository {
	return &SessionsRepository{db: db, logger: logger, breaker: breaker}
}

// FindOpenByPartition returns the most recent open session (ended_at IS
// NULL) for (tool_name, actor_hash, machine_hash), or nil if none exists.
func (r *SessionsRepository) FindOpenByPartition(ctx context.Context, tx *sqlx.Tx, toolName, actorHash, machineHash string) (*models.Session, error) {
	result, err := r.breaker.Execute("sessions.find_open_by_partition", func() (interface{}, error) {
		const query = `
			SELECT id, tool_name, actor_id_hash, machine_id_hash, session_hint, ci_detected,
				started_at, ended_at, event_count
			FROM sessions
			WHERE tool_name = $1 AND actor_id_hash = $2 AND machine_id_hash = $3 AND ended_at IS NULL
			ORDER BY started_at DESC
			LIMIT 1`

		var row sessionRow
		err := tx.QueryRowxContext(ctx, query, toolName, actorHash, machineHash).StructScan(&row)
		if err == sql.ErrNoRows {
			return (*models.Session)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return row.toModel(), nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("find open session", err)
	}
	session, _ := result.(*models.Session)
	return session, nil
}

// LastEventTime returns the max timestamp of events already attached to
// sessionID, or the zero time if the session has no attached events yet.
func (r *SessionsRepository) LastEventTime(ctx context.Context, tx *sqlx.Tx, sessionID int64) (sql.NullTime, error) {
	result, err := r.breaker.Execute("sessions.last_event_time", func() (interface{}, error) {
		const query = `SELECT MAX(timestamp) FROM raw_events WHERE session_id = $1`
		var t sql.NullTime
		if err := tx.QueryRowxContext(ctx, query, sessionID).Scan(&t); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return sql.NullTime{}, sharederrors.DatabaseError("last event time for session", err)
	}
	t, _ := result.(sql.NullTime)
	return t, nil
}

// Create inserts a new session and returns its assigned id.
func (r *SessionsRepository) Create(ctx context.Context, tx *sqlx.Tx, s *models.Session) (int64, error) {
	result, err := r.breaker.Execute("sessions.create", func() (interface{}, error) {
		const query = `
			INSERT INTO sessions (tool_name, actor_id_hash, machine_id_hash, session_hint, ci_detected, started_at, ended_at, event_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`

		var id int64
		err := tx.QueryRowxContext(ctx, query,
			s.ToolName, s.ActorHash, s.MachineHash, sqlutil.ToNullString(s.SessionHint), s.CIDetected,
			s.StartedAt, sqlutil.ToNullTime(s.EndedAt), s.EventCount,
		).Scan(&id)
		if err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return 0, sharederrors.DatabaseError("create session", err)
	}
	id, _ := result.(int64)
	return id, nil
}

// Close sets ended_at on an open session.
func (r *SessionsRepository) Close(ctx context.Context, tx *sqlx.Tx, sessionID int64, endedAt sql.NullTime) error {
	_, err := r.breaker.Execute("sessions.close", func() (interface{}, error) {
		const query = `UPDATE sessions SET ended_at = $1 WHERE id = $2`
		_, err := tx.ExecContext(ctx, query, endedAt, sessionID)
		return nil, err
	})
	if err != nil {
		return sharederrors.DatabaseError("close session", err)
	}
	return nil
}

// IncrementEventCount bumps event_count by delta for sessionID.
func (r *SessionsRepository) IncrementEventCount(ctx context.Context, tx *sqlx.Tx, sessionID int64, delta int) error {
	_, err := r.breaker.Execute("sessions.increment_event_count", func() (interface{}, error) {
		const query = `UPDATE sessions SET event_count = event_count + $1 WHERE id = $2`
		_, err := tx.ExecContext(ctx, query, delta, sessionID)
		return nil, err
	})
	if err != nil {
		return sharederrors.DatabaseError("increment session event count", err)
	}
	return nil
}

type sessionRow struct {
	ID          int64          `db:"id"`
	ToolName    string         `db:"tool_name"`
	ActorHash   string         `db:"actor_id_hash"`
	MachineHash string         `db:"machine_id_hash"`
	SessionHint sql.NullString `db:"session_hint"`
	CIDetected  bool           `db:"ci_detected"`
	StartedAt   sql.NullTime   `db:"started_at"`
	EndedAt     sql.NullTime   `db:"ended_at"`
	EventCount  int            `db:"event_count"`
}

func (row *sessionRow) toModel() *models.Session {
	return &models.Session{
		ID:          row.ID,
		ToolName:    row.ToolName,
		ActorHash:   row.ActorHash,
		MachineHash: row.MachineHash,
		SessionHint: sqlutil.FromNullString(row.SessionHint),
		CIDetected:  row.CIDetected,
		StartedAt:   row.StartedAt.Time,
		EndedAt:     sqlutil.FromNullTime(row.EndedAt),
		EventCount:  row.EventCount,
	}
}
