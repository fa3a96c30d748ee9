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
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// echoVerbPattern matches shell and PowerShell commands that write their
// arguments to output. A secret token on such a line ends up in run logs.
var echoVerbPattern = regexp.MustCompile(`(?i)(^|[\s;|&(])(echo|printf?|cat|type|write-host|write-output)\b`)

// =============================================================================
// SecretNotEchoed
// =============================================================================

// secretNotEchoed scans script text for known secret tokens passed to
// output commands. Known secrets are the pipeline's secret variable
// group names, the variables those groups contribute, and env entries
// that reference secrets.
type secretNotEchoed struct{}

func (secretNotEchoed) ID() string                     { return "SecretNotEchoed" }
func (secretNotEchoed) Category() rule.Category        { return rule.CategorySecurity }
func (secretNotEchoed) DefaultSeverity() rule.Severity { return rule.SeverityError }
func (secretNotEchoed) Describe() string {
	return "scripts must not echo or print known secrets"
}

func (r secretNotEchoed) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	secrets := p.SecretNames() // sorted, deduplicated
	if len(secrets) == 0 {
		return nil
	}

	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		if step.Kind != model.StepScript || step.Script == "" {
			return
		}
		lines := strings.Split(step.Script, "\n")
		for _, secret := range secrets {
			for _, line := range lines {
				if !echoVerbPattern.MatchString(line) {
					continue
				}
				if !containsFold(line, secret) {
					continue
				}
				findings = append(findings, rule.Finding{
					RuleID:   r.ID(),
					Severity: r.DefaultSeverity(),
					Location: model.StepScope(si, ji, ki, stage, job, step),
					Message:  fmt.Sprintf("script passes secret %q to an output command", secret),
				})
				break // one finding per secret per step
			}
		}
	})
	return findings
}

// =============================================================================
// SecretEnvLiteral
// =============================================================================

// secretEnvLiteral flags literal env values that contain a known secret
// name. A proper secret consumption is a $(...) reference; a literal
// carrying the name usually means the value was pasted in.
type secretEnvLiteral struct{}

func (secretEnvLiteral) ID() string                     { return "SecretEnvLiteral" }
func (secretEnvLiteral) Category() rule.Category        { return rule.CategorySecurity }
func (secretEnvLiteral) DefaultSeverity() rule.Severity { return rule.SeverityError }
func (secretEnvLiteral) Describe() string {
	return "literal env values must not embed known secret names"
}

func (r secretEnvLiteral) Evaluate(p *model.Pipeline, _ rule.Config) []rule.Finding {
	secrets := p.SecretNames()
	if len(secrets) == 0 {
		return nil
	}

	var findings []rule.Finding
	forEachStep(p, func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step) {
		for _, ev := range step.Env {
			if ev.IsSecretRef {
				continue
			}
			for _, secret := range secrets {
				if !containsFold(ev.Value, secret) {
					continue
				}
				findings = append(findings, rule.Finding{
					RuleID:   r.ID(),
					Severity: r.DefaultSeverity(),
					Location: model.StepScope(si, ji, ki, stage, job, step),
					Message:  fmt.Sprintf("env %q carries a literal value matching secret %q", ev.Name, secret),
				})
			}
		}
	})
	return findings
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
