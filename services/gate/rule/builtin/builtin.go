// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builtin ships the built-in policy rules and the canonical
// registry that holds them.
//
// Registration order in Rules is stable and load-bearing: it is the
// registry iteration order the engine walks, so reordering rules changes
// report tie-breaking. New rules go at the end of their category block.
package builtin

import (
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *rule.Registry
)

// Rules returns fresh instances of every built-in rule in canonical
// registration order.
func Rules() []rule.Rule {
	return []rule.Rule{
		// Structure
		taskVersionPinned{},
		displayNameProvided{},
		jobHasSteps{},
		// Security
		secretNotEchoed{},
		secretEnvLiteral{},
		// Performance
		timeoutConfigured{},
		timeoutCeiling{},
		cacheKeyHashed{},
		shallowCheckout{},
		// Testing
		testResultsPublished{},
		coverageThreshold{},
		// Deployment
		approvalRequiredForProd{},
		prodLockBehavior{},
	}
}

// Default returns the process-wide registry of built-in rules,
// constructed once. The registry is immutable; sharing it is safe.
func Default() *rule.Registry {
	defaultOnce.Do(func() {
		reg, err := rule.NewRegistry(Rules()...)
		if err != nil {
			// Static rule set; a failure here is a programming error.
			panic("builtin: invalid built-in rule set: " + err.Error())
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

// ResetForTest clears the singleton so tests can rebuild it.
func ResetForTest() {
	defaultOnce = sync.Once{}
	defaultRegistry = nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// taskBase returns the lowercase task name of a task step, or "" for
// script steps.
func taskBase(s *model.Step) string {
	if s.Kind != model.StepTask {
		return ""
	}
	return strings.ToLower(s.Task)
}

func isCacheTask(s *model.Step) bool {
	return strings.Contains(taskBase(s), "cache")
}

func isCheckoutTask(s *model.Step) bool {
	return strings.Contains(taskBase(s), "checkout")
}

func isCoverageTask(s *model.Step) bool {
	return strings.Contains(taskBase(s), "coverage")
}

func isPublishResultsTask(s *model.Step) bool {
	base := taskBase(s)
	return strings.Contains(base, "publishtestresults") || strings.Contains(base, "publishresults")
}

func isTestTask(s *model.Step) bool {
	base := taskBase(s)
	if base == "" {
		return false
	}
	return strings.Contains(base, "test") && !isPublishResultsTask(s) && !isCoverageTask(s)
}

// forEachJob walks jobs in document order.
func forEachJob(p *model.Pipeline, fn func(si, ji int, stage *model.Stage, job *model.Job)) {
	for si := range p.Stages {
		stage := &p.Stages[si]
		for ji := range stage.Jobs {
			fn(si, ji, stage, &stage.Jobs[ji])
		}
	}
}

// forEachStep walks steps in document order.
func forEachStep(p *model.Pipeline, fn func(si, ji, ki int, stage *model.Stage, job *model.Job, step *model.Step)) {
	forEachJob(p, func(si, ji int, stage *model.Stage, job *model.Job) {
		for ki := range job.Steps {
			fn(si, ji, ki, stage, job, &job.Steps[ki])
		}
	})
}
