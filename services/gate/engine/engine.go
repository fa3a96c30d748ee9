// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs a rule registry against a pipeline model and
// produces an ordered, reproducible report.
//
// Guarantees:
//
//   - Determinism: identical (pipeline, registry, overlay) inputs yield
//     identical findings in identical order, at any parallelism.
//   - Isolation: a panic inside one rule becomes a synthetic Error
//     finding for that rule; every other rule still runs.
//   - Cancellation: a canceled context stops rules that have not
//     started and marks the report Incomplete; it is not an error.
//
// The engine holds no state across runs.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianGate/pkg/logging"
	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
	"github.com/AleutianAI/AleutianGate/services/gate/telemetry"
)

// RunRecorder persists run summaries. The history package implements
// it; the engine only needs this slice of it.
type RunRecorder interface {
	Record(ctx context.Context, rep *Report, source string) error
}

// Engine evaluates rule registries against pipeline models.
//
// Thread Safety: Safe for concurrent use; Evaluate shares no state
// between calls.
type Engine struct {
	log         *logging.Logger
	parallelism int
	recorder    RunRecorder
	source      string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to logging.Default().
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithParallelism fans rule evaluation out over up to n workers.
// Values below 2 keep evaluation sequential. Output order is identical
// at any width; parallelism only changes wall time.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 1 {
			e.parallelism = n
		}
	}
}

// WithHistory records each run to rec, labeled with the given source
// ("cli", "api", "watch"). Recording failures are logged, never fatal.
func WithHistory(rec RunRecorder, source string) Option {
	return func(e *Engine) {
		e.recorder = rec
		e.source = source
	}
}

// New builds an engine. Defaults: sequential, process logger, no
// history.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:         logging.Default(),
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every applicable rule against the pipeline.
//
// Description:
//
//	Walks the registry in registration order, skipping rules the
//	overlay disables. Each rule runs under fault isolation; severity
//	overrides apply to its emitted findings. Findings merge back in
//	registration order, then sort by document location with the rule
//	id as tie-breaker.
//
// Inputs:
//   - ctx: cancellation stops rules that have not started; the report
//     is then flagged Incomplete
//   - p: the pipeline model (must be non-nil)
//   - reg: the rule registry (must be non-nil)
//   - o: overlay tuning the run; nil behaves as an empty overlay
//
// Outputs:
//   - *Report: the ordered report; never nil
func (e *Engine) Evaluate(ctx context.Context, p *model.Pipeline, reg *rule.Registry, o *overlay.Overlay) *Report {
	started := time.Now()
	ctx, span := startEvalSpan(ctx, p.Name, reg.Len())
	defer span.End()

	rules := reg.All()

	// One slot per rule, indexed by registration order. Workers write
	// disjoint slots, so merging is a deterministic flatten.
	perRule := make([][]rule.Finding, len(rules))
	evaluated := 0
	incomplete := false

	if e.parallelism > 1 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for i, rl := range rules {
			if o.IsDisabled(rl.ID()) {
				continue
			}
			i, rl := i, rl
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil // skipped at pickup; flagged below
				}
				findings := e.evaluateRule(rl, p, o)
				mu.Lock()
				perRule[i] = findings
				evaluated++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	} else {
		for i, rl := range rules {
			if ctx.Err() != nil {
				break
			}
			if o.IsDisabled(rl.ID()) {
				continue
			}
			perRule[i] = e.evaluateRule(rl, p, o)
			evaluated++
		}
	}
	if ctx.Err() != nil {
		incomplete = true
	}

	findings := make([]rule.Finding, 0, totalFindings(perRule))
	for _, fs := range perRule {
		findings = append(findings, fs...)
	}
	sortFindings(findings)

	summary := newSummary()
	for _, f := range findings {
		summary[f.Severity]++
	}

	rep := &Report{
		RunID:          uuid.New().String(),
		PipelineName:   p.Name,
		Findings:       findings,
		Summary:        summary,
		Incomplete:     incomplete,
		RulesEvaluated: evaluated,
		StartedAt:      started.UTC(),
		Duration:       time.Since(started),
	}

	setEvalSpanResult(span, rep)
	recordEvalMetrics(ctx, rep)

	runLog := telemetry.LoggerWithRun(ctx, e.log.Slog(), rep.RunID)
	runLog.Info("evaluation complete",
		"pipeline", rep.PipelineName,
		"findings", rep.Total(),
		"rules_evaluated", rep.RulesEvaluated,
		"incomplete", rep.Incomplete,
		"duration_ms", rep.Duration.Milliseconds())

	if e.recorder != nil {
		// Run identity must survive the caller's deadline.
		if err := e.recorder.Record(context.WithoutCancel(ctx), rep, e.source); err != nil {
			runLog.Warn("failed to record run history", "error", err.Error())
		}
	}

	return rep
}

// evaluateRule invokes one rule with fault isolation and applies the
// overlay's severity override to its findings.
func (e *Engine) evaluateRule(rl rule.Rule, p *model.Pipeline, o *overlay.Overlay) (findings []rule.Finding) {
	defer func() {
		if cause := recover(); cause != nil {
			e.log.Warn("rule evaluation panicked",
				"rule_id", rl.ID(),
				"cause", fmt.Sprintf("%v", cause))
			// The synthetic finding is always Error severity; the
			// override applies only to findings the rule emitted.
			findings = []rule.Finding{{
				RuleID:   rl.ID(),
				Severity: rule.SeverityError,
				Location: model.PipelineScope(),
				Message:  fmt.Sprintf("rule evaluation failed: %v", cause),
			}}
		}
	}()

	findings = rl.Evaluate(p, o)
	if sev, ok := o.Override(rl.ID()); ok {
		for i := range findings {
			findings[i].Severity = sev
		}
	}
	return findings
}

// sortFindings orders findings by document location, then rule id.
// Stable so a rule emitting several findings at one location keeps its
// own emit order.
func sortFindings(findings []rule.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if c := findings[i].Location.Compare(findings[j].Location); c != 0 {
			return c < 0
		}
		return findings[i].RuleID < findings[j].RuleID
	})
}

func totalFindings(perRule [][]rule.Finding) int {
	n := 0
	for _, fs := range perRule {
		n += len(fs)
	}
	return n
}
