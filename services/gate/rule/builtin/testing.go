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
	"strconv"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// minCoveragePercentKey is the threshold consumed by CoverageThreshold.
const minCoveragePercentKey = "minCoveragePercent"

// defaultMinCoveragePercent applies when the overlay sets no minimum.
const defaultMinCoveragePercent = 80

// =============================================================================
// TestResultsPublished
// =============================================================================

// testResultsPublished flags jobs that run tests without publishing the
// results. Unpublished results make failures invisible in run summaries.
type testResultsPublished struct{}

func (testResultsPublished) ID() string                     { return "TestResultsPublished" }
func (testResultsPublished) Category() rule.Category        { return rule.CategoryTesting }
func (testResultsPublished) DefaultSeverity() rule.Severity { return rule.SeverityInfo }
func (testResultsPublished) Describe() string {
	return "jobs running tests should publish test results"
}

func (r testResultsPublished) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachJob(p, func(si, ji int, stage *model.Stage, job *model.Job) {
		runsTests := false
		publishes := false
		for ki := range job.Steps {
			step := &job.Steps[ki]
			if isTestTask(step) {
				runsTests = true
			}
			if isPublishResultsTask(step) {
				publishes = true
			}
		}
		if !runsTests || publishes {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.JobScope(si, ji, stage, job),
			Message:  fmt.Sprintf("job %q runs tests but never publishes results", job.Name),
		})
	})
	return findings
}

// =============================================================================
// CoverageThreshold
// =============================================================================

// coverageThreshold checks the minimum coverage declared on coverage
// publishing tasks against the configured floor.
type coverageThreshold struct{}

func (coverageThreshold) ID() string                     { return "CoverageThreshold" }
func (coverageThreshold) Category() rule.Category        { return rule.CategoryTesting }
func (coverageThreshold) DefaultSeverity() rule.Severity { return rule.SeverityWarning }
func (coverageThreshold) Describe() string {
	return "declared coverage minimums must meet the configured floor"
}

func (r coverageThreshold) Evaluate(p *model.Pipeline, cfg rule.Config) []rule.Finding {
	floor := cfg.Threshold(minCoveragePercentKey, defaultMinCoveragePercent)

	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		if !isCoverageTask(step) {
			return
		}
		raw, ok := coverageMinimum(step)
		if !ok {
			return
		}
		declared, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			findings = append(findings, rule.Finding{
				RuleID:   r.ID(),
				Severity: r.DefaultSeverity(),
				Location: model.StepScope(si, ji, ki, stage, job, step),
				Message:  fmt.Sprintf("coverage minimum %q is not numeric", raw),
			})
			return
		}
		if declared < floor {
			findings = append(findings, rule.Finding{
				RuleID:   r.ID(),
				Severity: r.DefaultSeverity(),
				Location: model.StepScope(si, ji, ki, stage, job, step),
				Message:  fmt.Sprintf("coverage minimum %g%% is below the %g%% floor", declared, floor),
			})
		}
	})
	return findings
}

// coverageMinimum extracts the declared minimum from the input names
// coverage tasks commonly use.
func coverageMinimum(step *model.Step) (string, bool) {
	for _, key := range []string{"minimumCoverage", "minCoverage", "threshold"} {
		if v, ok := step.Input(key); ok {
			return v, true
		}
	}
	return "", false
}
