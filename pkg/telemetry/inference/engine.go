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

package inference

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/cliinsights/telemetry/internal/errors"
	"github.com/cliinsights/telemetry/pkg/shared/logging"
	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
)

// Config bounds one invocation of the inference engine.
type Config struct {
	SessionTimeout   time.Duration
	EntryCommands    []string
	TerminalCommands []string
	FetchBatchSize   int
}

// Result is the /infer response body's payload: the real counters the
// engine observed this run. SessionsUpdated counts every session closed
// during the run -- previously-open sessions whose ended_at transitioned
// from null, and sessions created then superseded within the same run --
// not a hardcoded zero.
type Result struct {
	EventsProcessed  int
	SessionsCreated  int
	SessionsUpdated  int
	WorkflowsCreated int
}

// Engine runs the sessionization + workflow-inference pipeline behind a
// single transaction per invocation, serialized by a row lock on the
// cursor and short-circuited by an optional distributed lock.
type Engine struct {
	db        *sqlx.DB
	events    *repository.EventsRepository
	sessions  *repository.SessionsRepository
	workflows *repository.WorkflowRepository
	cursor    *repository.CursorRepository
	lock      *DistributedLock
	logger    *zap.Logger
	config    func() Config
}

// NewEngine constructs an Engine with a fixed configuration.
func NewEngine(
	db *sqlx.DB,
	events *repository.EventsRepository,
	sessions *repository.SessionsRepository,
	workflows *repository.WorkflowRepository,
	cursor *repository.CursorRepository,
	lock *DistributedLock,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	return NewEngineWithConfigSource(db, events, sessions, workflows, cursor, lock, logger, func() Config { return cfg })
}

// NewEngineWithConfigSource constructs an Engine that re-reads its
// configuration at the start of every Infer call, so a hot-reloaded
// vocabulary or timeout applies to the next run without a restart. The
// snapshot is taken once per invocation, never mid-run.
func NewEngineWithConfigSource(
	db *sqlx.DB,
	events *repository.EventsRepository,
	sessions *repository.SessionsRepository,
	workflows *repository.WorkflowRepository,
	cursor *repository.CursorRepository,
	lock *DistributedLock,
	logger *zap.Logger,
	config func() Config,
) *Engine {
	return &Engine{
		db: db, events: events, sessions: sessions, workflows: workflows,
		cursor: cursor, lock: lock, logger: logger, config: config,
	}
}

const lockKey = "telemetry:inference:cursor"

// touchedSession carries one partition's resulting session id plus the
// new events attached to it this run, for step 3's per-session walk.
type touchedSession struct {
	sessionID int64
	toolName  string
	events    []*models.RawEvent
}

// Infer runs one idempotent pass: fetch unsessionized events past the
// cursor, sessionize them by partition, infer workflows within each
// touched session, persist everything in one transaction, and advance the
// cursor. An empty work set returns a zeroed Result without error.
func (e *Engine) Infer(ctx context.Context) (*Result, error) {
	cfg := e.config()

	acquired, release, err := e.lock.TryAcquire(ctx, lockKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "distributed lock check failed")
	}
	if !acquired {
		return nil, apperrors.New(apperrors.ErrorTypeConflict, "inference is already running")
	}
	defer release()

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "begin inference transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	cur, err := e.cursor.LockForInference(ctx, tx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "lock inference cursor")
	}

	events, err := e.events.FetchUnsessionized(ctx, cur.LastEventID, cfg.FetchBatchSize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "fetch unsessionized events")
	}
	if len(events) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "commit empty inference run")
		}
		committed = true
		return &Result{}, nil
	}

	result := &Result{EventsProcessed: len(events)}

	touched, err := e.sessionizeAll(ctx, tx, cfg, events, result)
	if err != nil {
		return nil, err
	}

	if err := e.inferWorkflows(ctx, tx, cfg, touched, result); err != nil {
		return nil, err
	}

	maxID := events[len(events)-1].ID
	if err := e.cursor.Advance(ctx, tx, cur.ID, maxID, time.Now().UTC()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "advance inference cursor")
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "commit inference run")
	}
	committed = true

	e.logger.Info("inference run complete", logging.NewFields().
		Component("inference").Operation("infer").
		Count(result.EventsProcessed).
		Custom("sessions_created", result.SessionsCreated).
		Custom("sessions_updated", result.SessionsUpdated).
		Custom("workflows_created", result.WorkflowsCreated).ToZap()...)

	return result, nil
}

func (e *Engine) sessionizeAll(ctx context.Context, tx *sqlx.Tx, cfg Config, events []*models.RawEvent, result *Result) ([]*touchedSession, error) {
	order, byKey := PartitionEvents(events)

	var touched []*touchedSession
	for _, key := range order {
		partitionEvents := byKey[key]

		existingSession, err := e.sessions.FindOpenByPartition(ctx, tx, key.ToolName, key.ActorHash, key.MachineHash)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "find open session")
		}

		var openInfo *OpenSessionInfo
		if existingSession != nil {
			lastTime, err := e.sessions.LastEventTime(ctx, tx, existingSession.ID)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "last event time for session")
			}
			last := existingSession.StartedAt
			if lastTime.Valid {
				last = lastTime.Time
			}
			openInfo = &OpenSessionInfo{
				SessionID:     existingSession.ID,
				SessionHint:   existingSession.SessionHint,
				CIDetected:    existingSession.CIDetected,
				LastEventTime: last,
			}
		}

		groups, closed := Sessionize(partitionEvents, openInfo, cfg.SessionTimeout)

		for _, c := range closed {
			if err := e.sessions.Close(ctx, tx, c.SessionID, sql.NullTime{Time: c.EndedAt, Valid: true}); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "close session")
			}
			result.SessionsUpdated++
		}

		for _, g := range groups {
			var sessionID int64
			if g.ContinuesSessionID > 0 {
				sessionID = g.ContinuesSessionID
				if err := e.sessions.IncrementEventCount(ctx, tx, sessionID, len(g.Events)); err != nil {
					return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "increment session event count")
				}
			} else {
				sessionID, err = e.sessions.Create(ctx, tx, &models.Session{
					ToolName:    key.ToolName,
					ActorHash:   key.ActorHash,
					MachineHash: key.MachineHash,
					SessionHint: g.SessionHint,
					CIDetected:  g.CIDetected,
					StartedAt:   g.Events[0].Timestamp,
					EndedAt:     g.EndedAt,
					EventCount:  len(g.Events),
				})
				if err != nil {
					return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create session")
				}
				result.SessionsCreated++
				// A session created and then superseded within the same run
				// is persisted already closed; that closure still counts.
				if g.EndedAt != nil {
					result.SessionsUpdated++
				}
			}

			for _, ev := range g.Events {
				sid := sessionID
				ev.SessionID = &sid
			}
			touched = append(touched, &touchedSession{sessionID: sessionID, toolName: key.ToolName, events: g.Events})
		}
	}
	return touched, nil
}

func (e *Engine) inferWorkflows(ctx context.Context, tx *sqlx.Tx, cfg Config, touched []*touchedSession, result *Result) error {
	entrySet := NewCommandSet(cfg.EntryCommands)
	terminalSet := NewCommandSet(cfg.TerminalCommands)

	for _, ts := range touched {
		sortByTimestamp(ts.events)
		plans := PlanWorkflows(ts.events, entrySet, terminalSet, cfg.SessionTimeout)

		for _, plan := range plans {
			run, fingerprints := BuildWorkflowRun(ts.toolName, plan, terminalSet)
			run.SessionID = ts.sessionID

			runID, err := e.workflows.CreateRun(ctx, tx, run)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create workflow run")
			}

			steps := make([]*models.WorkflowStep, len(plan.Events))
			for i, ev := range plan.Events {
				steps[i] = &models.WorkflowStep{WorkflowRunID: runID, EventID: ev.ID, StepOrder: i, Fingerprint: fingerprints[i]}
			}
			if err := e.workflows.CreateSteps(ctx, tx, steps); err != nil {
				return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create workflow steps")
			}

			for _, ev := range plan.Events {
				if err := e.events.AttachSessionAndWorkflow(ctx, tx, ev.ID, ts.sessionID, runID); err != nil {
					return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "attach session/workflow back-pointers")
				}
			}

			result.WorkflowsCreated++
		}
	}
	return nil
}
