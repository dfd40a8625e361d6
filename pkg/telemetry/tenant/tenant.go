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

// Package tenant resolves the caller's API credential into the tool-name
// tenant key that every authenticated read and write must be scoped to.
package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/shared/logging"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
)

// contextKey is an unexported type so tool-name values stored in a
// context.Context can't collide with keys from other packages.
type contextKey int

const toolNameKey contextKey = iota

// WithToolName returns a context carrying the resolved tenant key.
func WithToolName(ctx context.Context, toolName string) context.Context {
	return context.WithValue(ctx, toolNameKey, toolName)
}

// FromContext returns the tenant key stashed by WithToolName, or "" if
// none was ever set — callers that require a tenant must still check the
// returned bool.
func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(toolNameKey).(string)
	return v, ok
}

// Resolver authenticates an opaque API token into the tool name it is
// bound to, the single equality predicate every tenant-scoped query adds.
type Resolver struct {
	repo   *repository.CredentialsRepository
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(repo *repository.CredentialsRepository, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve returns the tool name bound to token, or an AuthError when the
// token is absent, unknown, or revoked.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperrors.NewAuthError("missing API key")
	}
	hash := HashToken(token)

	cred, err := r.repo.FindByTokenHash(ctx, hash)
	if err != nil {
		if err == repository.ErrNotFound {
			return "", apperrors.NewAuthError("invalid API key")
		}
		return "", apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "resolve api credential")
	}
	if cred.IsRevoked() {
		return "", apperrors.NewAuthError("API key has been revoked")
	}
	return cred.ToolName, nil
}

// IssueKey creates a new random token bound to toolName, persists only its
// SHA-256 digest, and returns the plaintext token exactly once.
func (r *Resolver) IssueKey(ctx context.Context, toolName string) (plaintext string, cred *models.APICredential, err error) {
	if toolName == "" {
		return "", nil, apperrors.NewValidationError("tool_name is required")
	}

	plaintext, err = generateToken()
	if err != nil {
		return "", nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "generate api key")
	}

	cred = &models.APICredential{TokenHash: HashToken(plaintext), ToolName: toolName}
	id, err := r.repo.Create(ctx, cred)
	if err != nil {
		return "", nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "issue api credential")
	}
	cred.ID = id

	r.logger.Info("api credential issued", logging.NewFields().
		Component("tenant").Operation("issue_key").Custom("tool_name", toolName).ToZap()...)
	return plaintext, cred, nil
}

// HashToken returns the hex-encoded SHA-256 digest of a credential token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const tokenPrefix = "clitel_"

// generateToken produces a random, opaque bearer token: a stable prefix
// plus 32 random hex bytes.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}
