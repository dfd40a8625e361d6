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
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	sharederrors "github.com/cliinsights/telemetry/pkg/shared/errors"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

// CursorRepository manages the single-row inference_cursor table.
type CursorRepository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *resilience.Manager
}

// NewCursorRepository constructs a CursorRepository.
func NewCursorRepository(db *sqlx.DB, logger *zap.Logger, breaker *resilience.Manager) *CursorRepository {
	return &CursorRepository{db: db, logger: logger, breaker: breaker}
}

// LockForInference takes a row-level lock on the cursor row, serializing
// concurrent infer invocations. The caller must hold tx until the run
// commits or rolls back. When no cursor row exists yet, one is created at
// last_event_id = 0 and returned, already locked by the same transaction.
func (r *CursorRepository) LockForInference(ctx context.Context, tx *sqlx.Tx) (*models.InferenceCursor, error) {
	result, err := r.breaker.Execute("cursor.lock_for_inference", func() (interface{}, error) {
		const selectQuery = `SELECT id, last_event_id, last_run_at FROM inference_cursor ORDER BY id LIMIT 1 FOR UPDATE`

		var row cursorRow
		err := tx.QueryRowxContext(ctx, selectQuery).StructScan(&row)
		if err == sql.ErrNoRows {
			return r.bootstrap(ctx, tx)
		}
		if err != nil {
			return nil, err
		}
		return row.toModel(), nil
	})
	if err != nil {
		return nil, sharederrors.DatabaseError("lock inference cursor", err)
	}
	cursor, _ := result.(*models.InferenceCursor)
	return cursor, nil
}

func (r *CursorRepository) bootstrap(ctx context.Context, tx *sqlx.Tx) (*models.InferenceCursor, error) {
	const insertQuery = `
		INSERT INTO inference_cursor (last_event_id, last_run_at)
		VALUES (0, now())
		RETURNING id, last_event_id, last_run_at`
	var row cursorRow
	if err := tx.QueryRowxContext(ctx, insertQuery).StructScan(&row); err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// Advance sets the cursor to lastEventID and records runAt as the last run
// timestamp. Never called with a value lower than the current cursor.
func (r *CursorRepository) Advance(ctx context.Context, tx *sqlx.Tx, cursorID int, lastEventID int64, runAt time.Time) error {
	_, err := r.breaker.Execute("cursor.advance", func() (interface{}, error) {
		const query = `UPDATE inference_cursor SET last_event_id = $1, last_run_at = $2 WHERE id = $3`
		_, err := tx.ExecContext(ctx, query, lastEventID, runAt, cursorID)
		return nil, err
	})
	if err != nil {
		return sharederrors.DatabaseError("advance inference cursor", err)
	}
	return nil
}

type cursorRow struct {
	ID          int       `db:"id"`
	LastEventID int64     `db:"last_event_id"`
	LastRunAt   time.Time `db:"last_run_at"`
}

func (row *cursorRow) toModel() *models.InferenceCursor {
	return &models.InferenceCursor{ID: row.ID, LastEventID: row.LastEventID, LastRunAt: row.LastRunAt}
}
