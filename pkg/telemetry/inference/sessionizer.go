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

// Package inference implements the incremental, cursor-driven pipeline
// that groups raw events into sessions and, within each touched session,
// into workflow runs with an outcome. The grouping logic itself is pure
// and DB-free (Sessionize, PlanWorkflows); Engine wires it to the
// repository layer behind a single transaction per invocation.
package inference

import (
	"sort"
	"time"

	"github.com/cliinsights/telemetry/pkg/telemetry/models"
)

// PartitionKey is the tenant-isolated sessionization partition: a session
// boundary never crosses tool, actor, or machine.
type PartitionKey struct {
	ToolName    string
	ActorHash   string
	MachineHash string
}

// OpenSessionInfo describes the most recent open session already on file
// for a partition, as needed to decide whether the partition's first event
// this run continues it or begins a new one.
type OpenSessionInfo struct {
	SessionID     int64
	SessionHint   *string
	CIDetected    bool
	LastEventTime time.Time
}

// SessionGroup is one resulting session's worth of new events from this
// run: either a continuation of an existing open session (ContinuesSessionID > 0)
// or a brand new one. EndedAt is set when the group was superseded by a
// later boundary within the same run, so a session created this run still
// gets closed instead of lingering open.
type SessionGroup struct {
	ContinuesSessionID int64
	SessionHint        *string
	CIDetected         bool
	EndedAt            *time.Time
	Events             []*models.RawEvent
}

// ClosedSession records a session whose ended_at transitioned from null to
// non-null during this run.
type ClosedSession struct {
	SessionID int64
	EndedAt   time.Time
}

func hintsDiffer(a, b *string) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

// Sessionize groups one partition's events (already restricted to a single
// (tool, actor, machine) tuple) into session groups, applying the four
// session-boundary rules: no current/prior-open session, a session_hint
// change, a ci_detected change, or a gap exceeding timeout. events must be
// non-empty and is sorted ascending by timestamp in place.
func Sessionize(events []*models.RawEvent, existing *OpenSessionInfo, timeout time.Duration) ([]*SessionGroup, []*ClosedSession) {
	if len(events) == 0 {
		return nil, nil
	}
	sortEventsByTimestamp(events)

	var groups []*SessionGroup
	var closed []*ClosedSession

	first := events[0]
	var current *SessionGroup
	var lastTime time.Time

	beginsNewFromExisting := existing == nil ||
		hintsDiffer(existing.SessionHint, first.SessionHint) ||
		existing.CIDetected != first.CIDetected ||
		first.Timestamp.Sub(existing.LastEventTime) > timeout

	if beginsNewFromExisting {
		if existing != nil {
			closed = append(closed, &ClosedSession{SessionID: existing.SessionID, EndedAt: existing.LastEventTime})
		}
		current = &SessionGroup{SessionHint: first.SessionHint, CIDetected: first.CIDetected}
	} else {
		current = &SessionGroup{ContinuesSessionID: existing.SessionID, SessionHint: existing.SessionHint, CIDetected: existing.CIDetected}
	}
	current.Events = append(current.Events, first)
	lastTime = first.Timestamp

	for _, e := range events[1:] {
		beginsNew := hintsDiffer(current.SessionHint, e.SessionHint) ||
			current.CIDetected != e.CIDetected ||
			e.Timestamp.Sub(lastTime) > timeout

		if beginsNew {
			if current.ContinuesSessionID > 0 {
				closed = append(closed, &ClosedSession{SessionID: current.ContinuesSessionID, EndedAt: lastTime})
			} else {
				ended := lastTime
				current.EndedAt = &ended
			}
			groups = append(groups, current)
			current = &SessionGroup{SessionHint: e.SessionHint, CIDetected: e.CIDetected}
		}
		current.Events = append(current.Events, e)
		lastTime = e.Timestamp
	}

	groups = append(groups, current)
	return groups, closed
}

func sortEventsByTimestamp(events []*models.RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// PartitionEvents groups events by (tool, actor, machine) while preserving
// each partition's relative order, and returns the partition keys in
// first-seen order for deterministic downstream processing.
func PartitionEvents(events []*models.RawEvent) ([]PartitionKey, map[PartitionKey][]*models.RawEvent) {
	byKey := map[PartitionKey][]*models.RawEvent{}
	var order []PartitionKey
	for _, e := range events {
		key := PartitionKey{ToolName: e.ToolName, ActorHash: e.ActorHash, MachineHash: e.MachineHash}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], e)
	}
	return order, byKey
}
