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
	"encoding/json"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

func reportWithCounts(info, warning, errs int) *Report {
	summary := newSummary()
	summary[rule.SeverityInfo] = info
	summary[rule.SeverityWarning] = warning
	summary[rule.SeverityError] = errs

	findings := make([]rule.Finding, 0, info+warning+errs)
	add := func(sev rule.Severity, n int) {
		for i := 0; i < n; i++ {
			findings = append(findings, rule.Finding{RuleID: "SomeRule", Severity: sev})
		}
	}
	add(rule.SeverityInfo, info)
	add(rule.SeverityWarning, warning)
	add(rule.SeverityError, errs)

	return &Report{RunID: "test", Findings: findings, Summary: summary}
}

func TestReport_Worst(t *testing.T) {
	tests := []struct {
		name string
		rep  *Report
		want rule.Severity
	}{
		{"clean report", reportWithCounts(0, 0, 0), rule.SeverityInfo},
		{"info only", reportWithCounts(2, 0, 0), rule.SeverityInfo},
		{"warnings present", reportWithCounts(2, 1, 0), rule.SeverityWarning},
		{"errors dominate", reportWithCounts(2, 1, 3), rule.SeverityError},
	}

	for _, tt := range tests {
		if got := tt.rep.Worst(); got != tt.want {
			t.Errorf("%s: Worst() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReport_HasErrors(t *testing.T) {
	if reportWithCounts(1, 1, 0).HasErrors() {
		t.Error("HasErrors() = true without error findings")
	}
	if !reportWithCounts(0, 0, 1).HasErrors() {
		t.Error("HasErrors() = false with an error finding")
	}
}

func TestReport_CountAtLeast(t *testing.T) {
	rep := reportWithCounts(3, 2, 1)

	tests := []struct {
		floor rule.Severity
		want  int
	}{
		{rule.SeverityInfo, 6},
		{rule.SeverityWarning, 3},
		{rule.SeverityError, 1},
	}

	for _, tt := range tests {
		if got := rep.CountAtLeast(tt.floor); got != tt.want {
			t.Errorf("CountAtLeast(%v) = %d, want %d", tt.floor, got, tt.want)
		}
	}
}

func TestReport_SummaryJSONKeys(t *testing.T) {
	data, err := json.Marshal(reportWithCounts(1, 2, 3))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for _, key := range []string{`"info":1`, `"warning":2`, `"error":3`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("report JSON missing %s: %s", key, data)
		}
	}
}
