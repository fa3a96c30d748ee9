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

	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// maxTimeoutMinutesKey is the threshold consumed by TimeoutCeiling.
const maxTimeoutMinutesKey = "maxTimeoutMinutes"

// defaultMaxTimeoutMinutes applies when the overlay sets no ceiling.
const defaultMaxTimeoutMinutes = 120

// =============================================================================
// TimeoutConfigured
// =============================================================================

// timeoutConfigured requires every job to bound its runtime. A job
// without timeoutInMinutes inherits the platform maximum and can hold
// an agent for hours.
type timeoutConfigured struct{}

func (timeoutConfigured) ID() string                     { return "TimeoutConfigured" }
func (timeoutConfigured) Category() rule.Category        { return rule.CategoryPerformance }
func (timeoutConfigured) DefaultSeverity() rule.Severity { return rule.SeverityWarning }
func (timeoutConfigured) Describe() string {
	return "jobs must set timeoutInMinutes"
}

func (r timeoutConfigured) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachJob(p, func(si, ji int, stage *model.Stage, job *model.Job) {
		if job.HasTimeout() {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.JobScope(si, ji, stage, job),
			Message:  fmt.Sprintf("job %q does not set timeoutInMinutes", job.Name),
		})
	})
	return findings
}

// =============================================================================
// TimeoutCeiling
// =============================================================================

// timeoutCeiling flags timeouts above the configured ceiling. A very
// large timeout usually papers over a hang instead of bounding one.
type timeoutCeiling struct{}

func (timeoutCeiling) ID() string                     { return "TimeoutCeiling" }
func (timeoutCeiling) Category() rule.Category        { return rule.CategoryPerformance }
func (timeoutCeiling) DefaultSeverity() rule.Severity { return rule.SeverityInfo }
func (timeoutCeiling) Describe() string {
	return "job timeouts should stay under the configured ceiling"
}

func (r timeoutCeiling) Evaluate(p *model.Pipeline, cfg rule.Config) []rule.Finding {
	ceiling := cfg.Threshold(maxTimeoutMinutesKey, defaultMaxTimeoutMinutes)

	var findings []rule.Finding
	forEachJob(p, func(si, ji int, stage *model.Stage, job *model.Job) {
		if !job.HasTimeout() {
			return
		}
		if float64(*job.TimeoutMinutes) <= ceiling {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.JobScope(si, ji, stage, job),
			Message: fmt.Sprintf("job %q timeout of %d minutes exceeds the %g minute ceiling",
				job.Name, *job.TimeoutMinutes, ceiling),
		})
	})
	return findings
}

// =============================================================================
// CacheKeyHashed
// =============================================================================

// cacheKeyHashed requires cache keys to be derived from file content.
// A static key never invalidates, so the cache serves stale artifacts
// forever.
type cacheKeyHashed struct{}

func (cacheKeyHashed) ID() string                     { return "CacheKeyHashed" }
func (cacheKeyHashed) Category() rule.Category        { return rule.CategoryPerformance }
func (cacheKeyHashed) DefaultSeverity() rule.Severity { return rule.SeverityWarning }
func (cacheKeyHashed) Describe() string {
	return "cache keys must reference a file-content hash"
}

func (r cacheKeyHashed) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		if !isCacheTask(step) {
			return
		}
		key, ok := step.Input("key")
		if !ok || key == "" {
			return
		}
		if keyReferencesHash(key) {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.StepScope(si, ji, ki, stage, job, step),
			Message:  fmt.Sprintf("cache key %q is static; derive it from a file hash", key),
		})
	})
	return findings
}

func keyReferencesHash(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "hashfiles(") || strings.Contains(lower, "checksum")
}

// =============================================================================
// ShallowCheckout
// =============================================================================

// shallowCheckout suggests an explicit fetchDepth on checkout steps.
// Full-history clones dominate checkout time on mature repositories.
type shallowCheckout struct{}

func (shallowCheckout) ID() string                     { return "ShallowCheckout" }
func (shallowCheckout) Category() rule.Category        { return rule.CategoryPerformance }
func (shallowCheckout) DefaultSeverity() rule.Severity { return rule.SeverityInfo }
func (shallowCheckout) Describe() string {
	return "checkout steps should set an explicit fetchDepth"
}

func (r shallowCheckout) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		if !isCheckoutTask(step) {
			return
		}
		if _, ok := step.Input("fetchDepth"); ok {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.StepScope(si, ji, ki, stage, job, step),
			Message:  fmt.Sprintf("checkout %q does not set fetchDepth", step.Label()),
		})
	})
	return findings
}
