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
	"sort"
	"time"

	"github.com/cliinsights/telemetry/pkg/telemetry/models"
)

// CommandSet is a lowercased-token membership set for the entry/terminal
// vocabularies, configurable per deployment.
type CommandSet map[string]struct{}

// NewCommandSet builds a CommandSet from a list of tokens.
func NewCommandSet(tokens []string) CommandSet {
	set := make(CommandSet, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func (s CommandSet) has(token string) bool {
	_, ok := s[token]
	return ok
}

// WorkflowPlan is one contiguous subsequence of a session's events this run
// resolved into a complete workflow run, with its outcome already decided.
type WorkflowPlan struct {
	Events  []*models.RawEvent
	Outcome models.Outcome
}

// PlanWorkflows walks events (already sorted ascending by timestamp, all
// belonging to one session) applying the five boundary rules in order and
// always closes the trailing workflow at the end of the walk, per the
// batch/pull inference model: a session that receives more events on a
// later run produces additional, independently-closed workflow runs rather
// than one resumed across invocations.
func PlanWorkflows(events []*models.RawEvent, entryCommands, terminalCommands CommandSet, timeout time.Duration) []*WorkflowPlan {
	if len(events) == 0 {
		return nil
	}

	var plans []*WorkflowPlan
	var buf []*models.RawEvent

	closeBuf := func(isTimeout bool) {
		last := buf[len(buf)-1]
		plans = append(plans, &WorkflowPlan{
			Events:  buf,
			Outcome: computeOutcome(last, terminalCommands, isTimeout),
		})
		buf = nil
	}

	for _, e := range events {
		if len(buf) == 0 {
			buf = append(buf, e)
			continue
		}

		prev := buf[len(buf)-1]
		if terminalCommands.has(prev.LastToken()) && prev.ExitCode != nil {
			closeBuf(false)
			buf = append(buf, e)
			continue
		}
		if entryCommands.has(e.LastToken()) {
			closeBuf(false)
			buf = append(buf, e)
			continue
		}
		if e.Timestamp.Sub(prev.Timestamp) > timeout {
			closeBuf(true)
			buf = append(buf, e)
			continue
		}
		buf = append(buf, e)
	}

	if len(buf) > 0 {
		last := buf[len(buf)-1]
		closeBuf(!terminalCommands.has(last.LastToken()))
	}

	return plans
}

func computeOutcome(last *models.RawEvent, terminalCommands CommandSet, isTimeout bool) models.Outcome {
	if isTimeout {
		return models.OutcomeAbandoned
	}
	if !terminalCommands.has(last.LastToken()) {
		return models.OutcomeAbandoned
	}
	if last.ExitCode == nil {
		return models.OutcomeAbandoned
	}
	if *last.ExitCode == 0 {
		return models.OutcomeSuccess
	}
	return models.OutcomeFailed
}

// WorkflowName counts terminal-token occurrences across events and returns
// "<most-frequent-terminal-token>_workflow" (ties broken by first
// occurrence), "<tool_name>_workflow" when no event has a terminal token,
// or "unknown_workflow" for an empty event list.
func WorkflowName(events []*models.RawEvent, terminalCommands CommandSet) string {
	if len(events) == 0 {
		return "unknown_workflow"
	}

	counts := map[string]int{}
	var order []string
	for _, e := range events {
		tok := e.LastToken()
		if !terminalCommands.has(tok) {
			continue
		}
		if _, seen := counts[tok]; !seen {
			order = append(order, tok)
		}
		counts[tok]++
	}

	if len(order) == 0 {
		return events[0].ToolName + "_workflow"
	}

	best := order[0]
	for _, tok := range order[1:] {
		if counts[tok] > counts[best] {
			best = tok
		}
	}
	return best + "_workflow"
}

// WorkflowDuration returns ended-started in milliseconds when the run has
// at least two events; otherwise the sole event's duration_ms, or nil.
func WorkflowDuration(events []*models.RawEvent, started, ended time.Time) *int64 {
	if len(events) >= 2 {
		d := ended.Sub(started).Milliseconds()
		return &d
	}
	if len(events) == 1 && events[0].DurationMs != nil {
		d := *events[0].DurationMs
		return &d
	}
	return nil
}

// BuildWorkflowRun renders a WorkflowPlan into the persisted WorkflowRun
// shape (minus SessionID/ID, filled in by the caller) plus its dense,
// zero-ordered per-event fingerprints.
func BuildWorkflowRun(toolName string, plan *WorkflowPlan, terminalCommands CommandSet) (*models.WorkflowRun, []string) {
	events := plan.Events
	started := events[0].Timestamp
	ended := events[len(events)-1].Timestamp

	fingerprints := make([]string, len(events))
	for i, e := range events {
		fingerprints[i] = e.Fingerprint()
	}

	run := &models.WorkflowRun{
		ToolName:           toolName,
		WorkflowName:       WorkflowName(events, terminalCommands),
		Outcome:            plan.Outcome,
		StartedAt:          started,
		EndedAt:            ended,
		DurationMs:         WorkflowDuration(events, started, ended),
		StepCount:          len(events),
		CommandFingerprint: models.WorkflowFingerprint(fingerprints),
	}
	return run, fingerprints
}

func sortByTimestamp(events []*models.RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
