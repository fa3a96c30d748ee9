// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builtin

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// =============================================================================
// TaskVersionPinned
// =============================================================================

// taskVersionPinned requires every task step to pin a version. An
// unpinned task resolves to whatever the platform currently ships,
// which makes builds drift without any change to the definition.
type taskVersionPinned struct{}

func (taskVersionPinned) ID() string                     { return "TaskVersionPinned" }
func (taskVersionPinned) Category() rule.Category        { return rule.CategoryStructure }
func (taskVersionPinned) DefaultSeverity() rule.Severity { return rule.SeverityWarning }
func (taskVersionPinned) Describe() string {
	return "task steps must pin a parseable version"
}

func (r taskVersionPinned) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		if step.Kind != model.StepTask {
			return
		}
		if step.Version == "" {
			findings = append(findings, rule.Finding{
				RuleID:   r.ID(),
				Severity: r.DefaultSeverity(),
				Location: model.StepScope(si, ji, ki, stage, job, step),
				Message:  fmt.Sprintf("task %q does not pin a version", step.Task),
			})
			return
		}
		if !semver.IsValid(normalizeVersion(step.Version)) {
			findings = append(findings, rule.Finding{
				RuleID:   r.ID(),
				Severity: rule.SeverityInfo,
				Location: model.StepScope(si, ji, ki, stage, job, step),
				Message:  fmt.Sprintf("task %q version %q is not a parseable semantic version", step.Task, step.Version),
			})
		}
	})
	return findings
}

// normalizeVersion maps the pipeline version forms ("2", "1.25") onto
// the vMAJOR[.MINOR[.PATCH]] shape the semver package expects.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// =============================================================================
// DisplayNameProvided
// =============================================================================

// displayNameProvided nudges authors to label steps so run logs read as
// intent rather than task plumbing.
type displayNameProvided struct{}

func (displayNameProvided) ID() string                     { return "DisplayNameProvided" }
func (displayNameProvided) Category() rule.Category        { return rule.CategoryStructure }
func (displayNameProvided) DefaultSeverity() rule.Severity { return rule.SeverityInfo }
func (displayNameProvided) Describe() string {
	return "steps should set a displayName"
}

func (r displayNameProvided) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		if step.DisplayName != "" {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.StepScope(si, ji, ki, stage, job, step),
			Message:  fmt.Sprintf("step %q has no displayName", step.Label()),
		})
	})
	return findings
}

// =============================================================================
// JobHasSteps
// =============================================================================

// jobHasSteps flags jobs whose step list is empty.
type jobHasSteps struct{}

func (jobHasSteps) ID() string                     { return "JobHasSteps" }
func (jobHasSteps) Category() rule.Category        { return rule.CategoryStructure }
func (jobHasSteps) DefaultSeverity() rule.Severity { return rule.SeverityWarning }
func (jobHasSteps) Describe() string {
	return "jobs must contain at least one step"
}

func (r jobHasSteps) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachJob(p, func(si, ji int, stage *model.Stage, job *model.Job) {
		if len(job.Steps) > 0 {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.JobScope(si, ji, stage, job),
			Message:  fmt.Sprintf("job %q has no steps and will do nothing", job.Name),
		})
	})
	return findings
}
