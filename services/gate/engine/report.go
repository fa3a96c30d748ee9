// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"time"

	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// Report is the ordered outcome of one evaluation run.
//
// Findings are sorted by (StageIndex, JobIndex, StepIndex, RuleID), so
// identical inputs always serialize identically; RunID, StartedAt, and
// Duration are the only run-specific fields.
//
// Thread Safety: Immutable after Evaluate returns.
type Report struct {
	// RunID uniquely identifies this evaluation run.
	RunID string `json:"run_id"`

	// PipelineName is the checked pipeline's name ("" when unnamed).
	PipelineName string `json:"pipeline_name,omitempty"`

	// Findings holds every violation, in deterministic order.
	Findings []rule.Finding `json:"findings"`

	// Summary counts findings per severity. All severities are present,
	// zero-valued when clean.
	Summary map[rule.Severity]int `json:"summary"`

	// Incomplete is true when cancellation stopped some rules from
	// running. The findings that were produced are still valid.
	Incomplete bool `json:"incomplete"`

	// RulesEvaluated counts the rules that actually ran (disabled and
	// skipped-by-cancellation rules excluded).
	RulesEvaluated int `json:"rules_evaluated"`

	// StartedAt is when evaluation began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall time evaluation took.
	Duration time.Duration `json:"duration_ns"`
}

// newSummary returns a summary map with every severity present.
func newSummary() map[rule.Severity]int {
	return map[rule.Severity]int{
		rule.SeverityInfo:    0,
		rule.SeverityWarning: 0,
		rule.SeverityError:   0,
	}
}

// Total returns the number of findings.
func (r *Report) Total() int {
	return len(r.Findings)
}

// HasErrors reports whether any Error-severity finding exists.
func (r *Report) HasErrors() bool {
	return r.Summary[rule.SeverityError] > 0
}

// Worst returns the highest severity present, or SeverityInfo for a
// clean report.
func (r *Report) Worst() rule.Severity {
	switch {
	case r.Summary[rule.SeverityError] > 0:
		return rule.SeverityError
	case r.Summary[rule.SeverityWarning] > 0:
		return rule.SeverityWarning
	default:
		return rule.SeverityInfo
	}
}

// CountAtLeast returns the number of findings at or above the floor.
// The CLI exit decision is CountAtLeast(failOn) > 0.
func (r *Report) CountAtLeast(floor rule.Severity) int {
	n := 0
	for sev, count := range r.Summary {
		if sev.AtLeast(floor) {
			n += count
		}
	}
	return n
}
