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

// Package ingest validates, normalizes, and atomically persists inbound
// telemetry events. A single event that fails validation within a batch is
// skipped and counted as rejected; the rest of the batch still commits.
package ingest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/shared/logging"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/privacy"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
)

// EventTime accepts both zoned and naive ISO-8601 timestamps; a timestamp
// with no zone information is taken as UTC.
type EventTime struct {
	time.Time
}

// naiveLayouts are tried after RFC 3339 fails, parsed in UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, perr := time.ParseInLocation(layout, raw, time.UTC); perr == nil {
			t.Time = parsed
			return nil
		}
	}
	return err
}

// EventInput is the wire shape of one event before normalization.
type EventInput struct {
	Timestamp    *EventTime `json:"timestamp" validate:"required"`
	ToolName     string     `json:"tool_name" validate:"required"`
	ToolVersion  string     `json:"tool_version"`
	CommandPath  []string   `json:"command_path" validate:"required,min=1"`
	FlagsPresent []string   `json:"flags_present"`
	ExitCode     *int       `json:"exit_code"`
	DurationMs   *int64     `json:"duration_ms" validate:"omitempty,min=0"`
	ErrorType    string     `json:"error_type"`
	ActorID      string     `json:"actor_id" validate:"required"`
	MachineID    string     `json:"machine_id" validate:"required"`
	SessionHint  string     `json:"session_hint"`
	CIDetected   bool       `json:"ci_detected"`
}

// RejectedEvent names the index and reason a batch entry failed
// validation, rather than aborting the whole request.
type RejectedEvent struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result is the ingest response: acceptance/rejection counts and the
// event_ids assigned to accepted events, in request order.
type Result struct {
	Accepted  int             `json:"accepted"`
	Rejected  int             `json:"rejected"`
	EventIDs  []string        `json:"event_ids"`
	Rejects   []RejectedEvent `json:"rejected_events,omitempty"`
}

// MaxBatchSize is the hard ceiling on a single ingest request.
const MaxBatchSize = 1000

// Ingestor validates, normalizes, and persists telemetry events.
type Ingestor struct {
	db         *sqlx.DB
	events     *repository.EventsRepository
	normalizer *privacy.Normalizer
	validate   *validator.Validate
	logger     *zap.Logger
	maxBatch   int
}

// NewIngestor constructs an Ingestor.
func NewIngestor(db *sqlx.DB, events *repository.EventsRepository, normalizer *privacy.Normalizer, logger *zap.Logger, maxBatch int) *Ingestor {
	if maxBatch <= 0 || maxBatch > MaxBatchSize {
		maxBatch = MaxBatchSize
	}
	return &Ingestor{db: db, events: events, normalizer: normalizer, validate: validator.New(), logger: logger, maxBatch: maxBatch}
}

// IngestBatch validates and normalizes every input, persists the accepted
// ones in a single transaction, and reports counts plus generated ids. A
// database error during commit rolls back the whole batch.
func (i *Ingestor) IngestBatch(ctx context.Context, inputs []EventInput) (*Result, error) {
	if len(inputs) == 0 {
		return nil, apperrors.NewValidationError("batch must contain at least one event")
	}
	if len(inputs) > i.maxBatch {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, fmt.Sprintf("batch exceeds max size of %d", i.maxBatch))
	}

	result := &Result{EventIDs: make([]string, 0, len(inputs))}
	var toPersist []*models.RawEvent

	for idx, input := range inputs {
		event, err := i.normalize(input)
		if err != nil {
			result.Rejected++
			result.Rejects = append(result.Rejects, RejectedEvent{Index: idx, Reason: err.Error()})
			i.logger.Warn("rejected event in batch", logging.NewFields().
				Component("ingest").Operation("validate").Custom("index", idx).Error(err).ToZap()...)
			continue
		}
		toPersist = append(toPersist, event)
	}

	if len(toPersist) > 0 {
		tx, err := i.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "begin ingest transaction")
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()

		if _, err := i.events.InsertBatch(ctx, tx, toPersist); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "insert event batch")
		}

		if err := tx.Commit(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "commit event batch")
		}
		committed = true

		for _, e := range toPersist {
			result.EventIDs = append(result.EventIDs, e.EventID)
		}
		result.Accepted = len(toPersist)
	}

	return result, nil
}

// normalize validates structural shape, then applies privacy normalization
// and the deterministic event_id scheme, returning a persistence-ready
// RawEvent.
func (i *Ingestor) normalize(input EventInput) (*models.RawEvent, error) {
	if err := i.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	// EventTime parses naive timestamps in UTC already; .UTC() converts any
	// zoned timestamp, so everything lands in UTC here.
	ts := input.Timestamp.UTC()

	toolName := i.normalizer.NormalizeToolName(input.ToolName)
	toolVersion := i.normalizer.NormalizeVersion(input.ToolVersion)
	commandPath := i.normalizer.NormalizeCommandPath(input.CommandPath)
	flags := i.normalizer.NormalizeFlags(input.FlagsPresent)
	errType := i.normalizer.NormalizeErrorType(input.ErrorType)
	actorHash := i.normalizer.HashIdentifier(input.ActorID)
	machineHash := i.normalizer.HashIdentifier(input.MachineID)

	var hint *string
	if input.SessionHint != "" {
		hint = &input.SessionHint
	}

	eventID := generateEventID(ts, input.ActorID, input.MachineID, toolName, commandPath)

	return &models.RawEvent{
		EventID:      eventID,
		Timestamp:    ts,
		ToolName:     toolName,
		ToolVersion:  toolVersion,
		CommandPath:  commandPath,
		FlagsPresent: flags,
		ExitCode:     input.ExitCode,
		DurationMs:   input.DurationMs,
		ErrorType:    errType,
		ActorHash:    actorHash,
		MachineHash:  machineHash,
		SessionHint:  hint,
		CIDetected:   input.CIDetected,
		IngestedAt:   time.Now().UTC(),
	}, nil
}

// generateEventID builds "evt_<12hex>_<8hex>": the first 12 hex characters
// are SHA-256 of a content fingerprint (for dedup hints), the last 8 are
// random, so re-submitting a batch is NOT idempotent by design.
func generateEventID(ts time.Time, actor, machine, tool string, path []string) string {
	content := fmt.Sprintf("%s:%s:%s:%s:%s", ts.Format(time.RFC3339Nano), actor, machine, tool, strings.Join(path, ":"))
	sum := sha256.Sum256([]byte(content))
	contentHex := hex.EncodeToString(sum[:])[:12]

	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	randHex := hex.EncodeToString(randBytes)[:8]

	return fmt.Sprintf("evt_%s_%s", contentHex, randHex)
}
