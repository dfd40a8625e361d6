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
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

// CredentialsRepository persists API credentials. Only the SHA-256 digest
// of each token is ever written; the plaintext is returned to the caller
// exactly once, at issuance.
type CredentialsRepository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *resilience.Manager
}

// NewCredentialsRepository constructs a CredentialsRepository.
func NewCredentialsRepository(db *sqlx.DB, logger *zap.Logger, breaker *resilience.Manager) *CredentialsRepository {
	return &CredentialsRepository{db: db, logger: logger, breaker: breaker}
}

// Create binds a new credential's token hash to toolName.
func (r *CredentialsRepository) Create(ctx context.Context, c *models.APICredential) (int64, error) {
	result, err := r.breaker.Execute("credentials.create", func() (interface{}, error) {
		const query = `
			INSERT INTO api_credentials (token_hash, tool_name, created_at)
			VALUES ($1, $2, now())
			RETURNING id`
		var id int64
		if err := r.db.QueryRowxContext(ctx, query, c.TokenHash, c.ToolName).Scan(&id); err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return 0, sharederrors.DatabaseError("create api credential", err)
	}
	id, _ := result.(int64)
	return id, nil
}

// FindByTokenHash returns the non-revoked credential matching tokenHash, or
// ErrNotFound.
func (r *CredentialsRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*models.APICredential, error) {
	notFound := false
	result, err := r.breaker.Execute("credentials.find_by_token_hash", func() (interface{}, error) {
		const query = `
			SELECT id, token_hash, tool_name, created_at, revoked_at
			FROM api_credentials WHERE token_hash = $1 AND revoked_at IS NULL`
		var c models.APICredential
		err := r.db.GetContext(ctx, &c, query, tokenHash)
		if err == sql.ErrNoRows {
			notFound = true
			return (*models.APICredential)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	})
	if notFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, sharederrors.DatabaseError("find credential by token hash", err)
	}
	c, _ := result.(*models.APICredential)
	return c, nil
}
