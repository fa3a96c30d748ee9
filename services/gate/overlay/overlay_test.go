// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package overlay

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

func TestParse_FullOverlay(t *testing.T) {
	data := []byte(`
disabled_rules:
  - DisplayNameProvided
  - ShallowCheckout
severity_overrides:
  TaskVersionPinned: error
  TimeoutConfigured: info
thresholds:
  maxTimeoutMinutes: 60
  minCoveragePercent: 90
`)
	o, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !o.IsDisabled("DisplayNameProvided") || !o.IsDisabled("ShallowCheckout") {
		t.Error("disabled rules not registered")
	}
	if o.IsDisabled("TaskVersionPinned") {
		t.Error("TaskVersionPinned should not be disabled")
	}

	if got := o.SeverityFor("TaskVersionPinned", rule.SeverityWarning); got != rule.SeverityError {
		t.Errorf("SeverityFor(TaskVersionPinned) = %v, want error", got)
	}
	if got := o.SeverityFor("TimeoutConfigured", rule.SeverityWarning); got != rule.SeverityInfo {
		t.Errorf("SeverityFor(TimeoutConfigured) = %v, want info", got)
	}
	if got := o.SeverityFor("CacheKeyHashed", rule.SeverityWarning); got != rule.SeverityWarning {
		t.Errorf("SeverityFor without override = %v, want fallback", got)
	}

	if got := o.Threshold("maxTimeoutMinutes", 120); got != 60 {
		t.Errorf("Threshold(maxTimeoutMinutes) = %g, want 60", got)
	}
	if got := o.Threshold("unknownKey", 7); got != 7 {
		t.Errorf("Threshold(unknownKey) = %g, want fallback 7", got)
	}
}

func TestParse_EmptyDataYieldsEmptyOverlay(t *testing.T) {
	for _, data := range [][]byte{nil, {}, []byte("   \n\t")} {
		o, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse(%q): %v", data, err)
		}
		if o.IsDisabled("Anything") {
			t.Error("empty overlay should disable nothing")
		}
		if got := o.Threshold("x", 42); got != 42 {
			t.Errorf("empty overlay Threshold = %g, want fallback", got)
		}
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("disbled_rules: [TaskVersionPinned]\n"))
	if err == nil {
		t.Error("Parse should reject unknown top-level keys")
	}
}

func TestParse_RejectsBadSeverity(t *testing.T) {
	_, err := Parse([]byte("severity_overrides:\n  TaskVersionPinned: catastrophic\n"))
	if !errors.Is(err, ErrInvalidOverlay) {
		t.Errorf("error = %v, want ErrInvalidOverlay", err)
	}
}

func TestParse_RejectsMalformedRuleID(t *testing.T) {
	tests := []string{
		"disabled_rules: [\"not a rule id\"]\n",
		"disabled_rules: [lowercase]\n",
		"severity_overrides:\n  \"bad id\": error\n",
	}
	for _, doc := range tests {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidOverlay) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidOverlay", doc, err)
		}
	}
}

func TestParse_SizeCap(t *testing.T) {
	big := bytes.Repeat([]byte("#"), MaxOverlayFileSize+1)
	if _, err := Parse(big); !errors.Is(err, ErrOverlayTooLarge) {
		t.Errorf("error = %v, want ErrOverlayTooLarge", err)
	}
}

func TestParse_UnknownThresholdKeysKept(t *testing.T) {
	o, err := Parse([]byte("thresholds:\n  futureKnob: 3.5\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := o.Threshold("futureKnob", 0); got != 3.5 {
		t.Errorf("Threshold(futureKnob) = %g, want 3.5", got)
	}
}

func TestOverlay_DisableWinsOverOverride(t *testing.T) {
	o, err := Parse([]byte(`
disabled_rules: [TaskVersionPinned]
severity_overrides:
  TaskVersionPinned: error
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !o.IsDisabled("TaskVersionPinned") {
		t.Fatal("rule should be disabled")
	}
	if _, ok := o.Override("TaskVersionPinned"); ok {
		t.Error("a disabled rule must not expose its override")
	}
}

func TestOverlay_NilSafety(t *testing.T) {
	var o *Overlay

	if o.IsDisabled("AnyRule") {
		t.Error("nil overlay should disable nothing")
	}
	if got := o.SeverityFor("AnyRule", rule.SeverityWarning); got != rule.SeverityWarning {
		t.Errorf("nil overlay SeverityFor = %v, want fallback", got)
	}
	if got := o.Threshold("k", 5); got != 5 {
		t.Errorf("nil overlay Threshold = %g, want fallback", got)
	}
	if got := o.Disabled(); got != nil {
		t.Errorf("nil overlay Disabled() = %v, want nil", got)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	data := []byte("disabled_rules: [ShallowCheckout]\n")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	o, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !o.IsDisabled("ShallowCheckout") {
		t.Error("loaded overlay lost its disabled rule")
	}
}

func TestLoad_RejectsTraversal(t *testing.T) {
	if _, err := Load("../../etc/passwd"); err == nil {
		t.Error("Load should reject traversal paths")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestDefault_ParsesAndExposesThresholds(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	o := Default()
	if o == nil {
		t.Fatal("Default() returned nil")
	}
	if got := o.Threshold("maxTimeoutMinutes", 0); got != 120 {
		t.Errorf("default maxTimeoutMinutes = %g, want 120", got)
	}
	if got := o.Threshold("minCoveragePercent", 0); got != 80 {
		t.Errorf("default minCoveragePercent = %g, want 80", got)
	}
	if len(o.Disabled()) != 0 {
		t.Errorf("default overlay disables rules: %v", o.Disabled())
	}

	if Default() != o {
		t.Error("Default() should return the singleton")
	}
}

func TestDefaultYAML_ReturnsCopy(t *testing.T) {
	a := DefaultYAML()
	if len(a) == 0 {
		t.Fatal("DefaultYAML() is empty")
	}
	a[0] = 'X'
	b := DefaultYAML()
	if b[0] == 'X' {
		t.Error("mutating DefaultYAML() result leaked into the embedded copy")
	}
}
