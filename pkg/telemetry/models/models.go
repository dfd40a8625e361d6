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

// Package models holds the persisted shapes of the telemetry domain: raw
// events, sessions, workflow runs and steps, the inference cursor,
// experiments, variant assignments, and API credentials.
package models

import (
	"sort"
	"strings"
	"time"
)

// Outcome is the closed set of workflow terminal states.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeAbandoned Outcome = "ABANDONED"
)

// RawEvent is the append-only source of truth for one CLI invocation.
// It is immutable after commit except for the two inference back-pointers,
// which transition exactly once from null to a positive value.
type RawEvent struct {
	ID              int64      `db:"id"`
	EventID         string     `db:"event_id"`
	Timestamp       time.Time  `db:"timestamp"`
	ToolName        string     `db:"tool_name"`
	ToolVersion     *string    `db:"tool_version"`
	CommandPath     []string   `db:"command_path"`
	FlagsPresent    []string   `db:"flags_present"`
	ExitCode        *int       `db:"exit_code"`
	DurationMs      *int64     `db:"duration_ms"`
	ErrorType       *string    `db:"error_type"`
	ActorHash       string     `db:"actor_id_hash"`
	MachineHash     string     `db:"machine_id_hash"`
	SessionHint     *string    `db:"session_hint"`
	CIDetected      bool       `db:"ci_detected"`
	IngestedAt      time.Time  `db:"ingested_at"`
	SessionID       *int64     `db:"session_id"`
	WorkflowRunID   *int64     `db:"workflow_run_id"`
	ExperimentID    *int64     `db:"experiment_id"`
	Variant         *string    `db:"variant"`
}

// LastToken returns the lowercased last element of CommandPath, or "" when
// the path is empty. Normalized tokens are already lowercase; lowering here
// keeps vocabulary membership checks safe for callers holding raw input.
func (e *RawEvent) LastToken() string {
	if len(e.CommandPath) == 0 {
		return ""
	}
	return strings.ToLower(e.CommandPath[len(e.CommandPath)-1])
}

// Fingerprint renders the event's command path and, when present, its
// sorted flag names as a stable key: "path/joined/by/slash[flag1,flag2]".
func (e *RawEvent) Fingerprint() string {
	return fingerprint(e.CommandPath, e.FlagsPresent)
}

// Session is a maximal contiguous run of events for one
// (tool, actor, machine, hint, ci) tuple with no inter-event gap exceeding
// the configured session timeout.
type Session struct {
	ID          int64      `db:"id"`
	ToolName    string     `db:"tool_name"`
	ActorHash   string     `db:"actor_id_hash"`
	MachineHash string     `db:"machine_id_hash"`
	SessionHint *string    `db:"session_hint"`
	CIDetected  bool       `db:"ci_detected"`
	StartedAt   time.Time  `db:"started_at"`
	EndedAt     *time.Time `db:"ended_at"`
	EventCount  int        `db:"event_count"`
}

// IsOpen reports whether the session has not yet been closed.
func (s *Session) IsOpen() bool {
	return s.EndedAt == nil
}

// WorkflowRun is a contiguous subsequence of a session's events bounded by
// an implicit or explicit start and the first terminal command or timeout.
type WorkflowRun struct {
	ID                int64      `db:"id"`
	SessionID         int64      `db:"session_id"`
	ToolName          string     `db:"tool_name"`
	WorkflowName      string     `db:"workflow_name"`
	Outcome           Outcome    `db:"outcome"`
	StartedAt         time.Time  `db:"started_at"`
	EndedAt           time.Time  `db:"ended_at"`
	DurationMs        *int64     `db:"duration_ms"`
	StepCount         int        `db:"step_count"`
	CommandFingerprint string    `db:"command_fingerprint"`
}

// WorkflowStep is one (workflow_run, event) pairing, dense-ordered from 0.
type WorkflowStep struct {
	ID            int64  `db:"id"`
	WorkflowRunID int64  `db:"workflow_run_id"`
	EventID       int64  `db:"event_id"`
	StepOrder     int    `db:"step_order"`
	Fingerprint   string `db:"fingerprint"`
}

// InferenceCursor is the single-row table tracking inference progress.
type InferenceCursor struct {
	ID          int       `db:"id"`
	LastEventID int64     `db:"last_event_id"`
	LastRunAt   time.Time `db:"last_run_at"`
}

// Experiment is a named, tenant-scoped A/B test over an ordered variant
// list, optionally restricted to a set of target commands.
type Experiment struct {
	ID             int64     `db:"id" json:"id"`
	ToolName       string    `db:"tool_name" json:"tool_name"`
	Name           string    `db:"name" json:"name"`
	Variants       []string  `db:"variants" json:"variants"`
	TargetCommands []string  `db:"target_commands" json:"target_commands"`
	TrafficPct     float64   `db:"traffic_pct" json:"traffic_pct"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// VariantAssignment binds one actor to one chosen variant of an experiment,
// permanently once written.
type VariantAssignment struct {
	ID           int64     `db:"id"`
	ExperimentID int64     `db:"experiment_id"`
	ActorHash    string    `db:"actor_id_hash"`
	Variant      string    `db:"variant"`
	AssignedAt   time.Time `db:"assigned_at"`
}

// APICredential is an opaque bearer token scoped to exactly one tenant
// (tool name). Only its SHA-256 digest is ever persisted.
type APICredential struct {
	ID         int64     `db:"id"`
	TokenHash  string    `db:"token_hash"`
	ToolName   string    `db:"tool_name"`
	CreatedAt  time.Time `db:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
}

// IsRevoked reports whether the credential has been revoked.
func (c *APICredential) IsRevoked() bool {
	return c.RevokedAt != nil
}

// fingerprint renders a command path and its flag set as a stable key:
// the path joined by "/", followed by "[" + sorted, comma-separated flag
// names + "]" when any flags are present.
func fingerprint(commandPath, flagsPresent []string) string {
	fp := strings.Join(commandPath, "/")
	if len(flagsPresent) == 0 {
		return fp
	}
	sorted := append([]string(nil), flagsPresent...)
	sort.Strings(sorted)
	return fp + "[" + strings.Join(sorted, ",") + "]"
}

// WorkflowFingerprint joins per-event fingerprints with " -> ".
func WorkflowFingerprint(eventFingerprints []string) string {
	return strings.Join(eventFingerprints, " -> ")
}
