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
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// Package-level tracer and meter for evaluation runs.
var (
	tracer = otel.Tracer("aleutian.gate.engine")
	meter  = otel.Meter("aleutian.gate.engine")
)

// Metrics for evaluation runs.
var (
	evalDuration  metric.Float64Histogram
	evalTotal     metric.Int64Counter
	findingsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		evalDuration, err = meter.Float64Histogram(
			"gate_eval_duration_seconds",
			metric.WithDescription("Duration of pipeline evaluation runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evalTotal, err = meter.Int64Counter(
			"gate_eval_total",
			metric.WithDescription("Total number of pipeline evaluation runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		findingsTotal, err = meter.Int64Counter(
			"gate_findings_total",
			metric.WithDescription("Total findings reported, by severity"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startEvalSpan creates a span for one evaluation run.
func startEvalSpan(ctx context.Context, pipelineName string, ruleCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.Evaluate",
		trace.WithAttributes(
			attribute.String("gate.pipeline", pipelineName),
			attribute.Int("gate.rule_count", ruleCount),
		),
	)
}

// setEvalSpanResult sets the result attributes on an evaluation span.
func setEvalSpanResult(span trace.Span, rep *Report) {
	span.SetAttributes(
		attribute.Int("gate.findings", rep.Total()),
		attribute.Int("gate.rules_evaluated", rep.RulesEvaluated),
		attribute.Bool("gate.incomplete", rep.Incomplete),
		attribute.String("gate.worst", rep.Worst().String()),
	)
}

// recordEvalMetrics records metrics for one evaluation run.
func recordEvalMetrics(ctx context.Context, rep *Report) {
	if err := initMetrics(); err != nil {
		return
	}

	status := "complete"
	if rep.Incomplete {
		status = "incomplete"
	}

	evalDuration.Record(ctx, rep.Duration.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
	evalTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))

	for _, sev := range []rule.Severity{rule.SeverityInfo, rule.SeverityWarning, rule.SeverityError} {
		if n := rep.Summary[sev]; n > 0 {
			findingsTotal.Add(ctx, int64(n), metric.WithAttributes(
				attribute.String("severity", sev.String()),
			))
		}
	}
}
