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

	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// =============================================================================
// ApprovalRequiredForProd
// =============================================================================

// approvalRequiredForProd requires production-targeting jobs to
// reference an approval gate.
type approvalRequiredForProd struct{}

func (approvalRequiredForProd) ID() string                     { return "ApprovalRequiredForProd" }
func (approvalRequiredForProd) Category() rule.Category        { return rule.CategoryDeployment }
func (approvalRequiredForProd) DefaultSeverity() rule.Severity { return rule.SeverityError }
func (approvalRequiredForProd) Describe() string {
	return "production environments must require an approval"
}

func (r approvalRequiredForProd) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	forEachJob(p, func(si, ji int, stage *model.Stage, job *model.Job) {
		env := job.Environment
		if env == nil || !env.IsProduction() {
			return
		}
		if env.ApprovalRef != "" {
			return
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.JobScope(si, ji, stage, job),
			Message:  fmt.Sprintf("job %q deploys to environment %q without an approval reference", job.Name, env.Name),
		})
	})
	return findings
}

// =============================================================================
// ProdLockBehavior
// =============================================================================

// prodLockBehavior requires stages with production deployments to
// serialize their runs. Concurrent deploys to the same environment race
// each other.
type prodLockBehavior struct{}

func (prodLockBehavior) ID() string                     { return "ProdLockBehavior" }
func (prodLockBehavior) Category() rule.Category        { return rule.CategoryDeployment }
func (prodLockBehavior) DefaultSeverity() rule.Severity { return rule.SeverityWarning }
func (prodLockBehavior) Describe() string {
	return "production stages must serialize runs via lockBehavior"
}

func (r prodLockBehavior) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	var findings []rule.Finding
	for si := range p.Stages {
		stage := &p.Stages[si]
		if stage.LockBehavior != model.LockNone {
			continue
		}
		if !stageTargetsProduction(stage) {
			continue
		}
		findings = append(findings, rule.Finding{
			RuleID:   r.ID(),
			Severity: r.DefaultSeverity(),
			Location: model.StageScope(si, stage),
			Message:  fmt.Sprintf("stage %q deploys to production without lockBehavior sequential or runOnce", stage.Name),
		})
	}
	return findings
}

func stageTargetsProduction(stage *model.Stage) bool {
	for ji := range stage.Jobs {
		env := stage.Jobs[ji].Environment
		if env != nil && env.IsProduction() {
			return true
		}
	}
	return false
}
