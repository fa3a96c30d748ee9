// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rule defines the policy rule contract: what a rule is, the
// severities and categories it can report, and the immutable registry
// that holds a rule set in a stable order.
//
// Rules are pure functions over a built pipeline model. They perform no
// I/O, never mutate the model, and produce deterministic findings so two
// evaluations of the same document always agree.
package rule

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
)

// =============================================================================
// SEVERITY
// =============================================================================

// Severity ranks how serious a finding is.
type Severity int

const (
	// SeverityInfo flags advisory findings that never affect exit status.
	SeverityInfo Severity = iota

	// SeverityWarning flags findings that deserve attention but do not
	// block by default.
	SeverityWarning

	// SeverityError flags findings that make the pipeline unacceptable.
	SeverityError
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity as its lowercase name. Using the
// text form keeps both JSON values and map keys readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a lowercase severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AtLeast reports whether the severity is at or above the given floor.
// Ordering is Error > Warning > Info.
func (s Severity) AtLeast(floor Severity) bool {
	return s >= floor
}

// ParseSeverity converts a severity name to a Severity.
//
// Description:
//
//	Strict parser used for configuration values and CLI flags. Accepts
//	the canonical names plus common short forms. Unknown names are an
//	error rather than a silent default, so a typo in an override cannot
//	quietly change enforcement.
//
// Inputs:
//   - name: severity name, case-insensitive ("info", "warning", "warn",
//     "error", "err")
//
// Outputs:
//   - Severity: the parsed severity
//   - error: when the name matches no severity
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error", "err":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q (want info, warning, or error)", name)
	}
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category groups rules by the concern they police.
type Category int

const (
	CategoryStructure Category = iota
	CategorySecurity
	CategoryPerformance
	CategoryTesting
	CategoryDeployment
)

// String returns the lowercase name of the category.
func (c Category) String() string {
	switch c {
	case CategoryStructure:
		return "structure"
	case CategorySecurity:
		return "security"
	case CategoryPerformance:
		return "performance"
	case CategoryTesting:
		return "testing"
	case CategoryDeployment:
		return "deployment"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category as its lowercase name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseCategory converts a category name to a Category. Unknown names
// are an error.
func ParseCategory(name string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "structure":
		return CategoryStructure, nil
	case "security":
		return CategorySecurity, nil
	case "performance":
		return CategoryPerformance, nil
	case "testing":
		return CategoryTesting, nil
	case "deployment":
		return CategoryDeployment, nil
	default:
		return CategoryStructure, fmt.Errorf("unknown category %q", name)
	}
}

// =============================================================================
// FINDING
// =============================================================================

// Finding is one policy violation reported by a rule.
//
// Thread Safety: Immutable after creation.
type Finding struct {
	// RuleID identifies the rule that produced the finding.
	RuleID string `json:"rule_id"`

	// Severity is the effective severity after overlay overrides.
	Severity Severity `json:"severity"`

	// Location addresses the offending node in the document.
	Location model.Location `json:"location"`

	// Message describes the violation in one sentence.
	Message string `json:"message"`
}

// =============================================================================
// RULE
// =============================================================================

// Config exposes the tunable parameters a rule may read. The overlay
// package implements it; rules depend only on this interface so the
// rule contract stays free of configuration plumbing.
type Config interface {
	// Threshold returns the numeric parameter stored under key, or
	// fallback when the key is absent.
	Threshold(key string, fallback float64) float64
}

// Rule is one policy check over a pipeline model.
//
// Implementations must be stateless and safe for concurrent use: the
// engine may evaluate many rules against the same *model.Pipeline at
// once. Evaluate must not mutate the pipeline and must produce findings
// in a deterministic order for identical input.
type Rule interface {
	// ID returns the unique UpperCamelCase rule identifier.
	ID() string

	// Category returns the concern the rule belongs to.
	Category() Category

	// DefaultSeverity returns the severity findings carry unless an
	// overlay overrides it.
	DefaultSeverity() Severity

	// Describe returns a one-line human description of what the rule
	// enforces.
	Describe() string

	// Evaluate checks the pipeline and returns zero or more findings.
	Evaluate(p *model.Pipeline, cfg Config) []Finding
}
