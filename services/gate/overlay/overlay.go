// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package overlay loads the per-invocation configuration that tunes an
// evaluation run: disabled rules, severity overrides, and numeric
// thresholds.
//
// An overlay is resolved once, then passed read-only to the engine and
// every rule. Disabling a rule always wins: an id listed in
// disabled_rules emits nothing even when severity_overrides names it
// too.
//
// Thread Safety:
//
//	An Overlay is immutable after Parse/Load/Default and safe for
//	concurrent use. All accessors are nil-safe; a nil *Overlay behaves
//	as an empty one.
package overlay

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGate/pkg/validation"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
)

// MaxOverlayFileSize is the maximum allowed overlay file size (1MB).
// SEC2: Prevents memory issues from large files.
const MaxOverlayFileSize = 1024 * 1024

var (
	// ErrOverlayTooLarge is returned when an overlay file exceeds
	// MaxOverlayFileSize.
	ErrOverlayTooLarge = errors.New("overlay file too large")

	// ErrInvalidOverlay wraps structural validation failures.
	ErrInvalidOverlay = errors.New("invalid overlay")
)

//go:embed default_overlay.yaml
var defaultOverlayYAML []byte

var (
	defaultOnce    sync.Once
	defaultOverlay *Overlay
)

// structValidator checks overlay field constraints after unmarshal.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("rule_id", func(fl validator.FieldLevel) bool {
		return validation.ValidateRuleID(fl.Field().String()) == nil
	})
	return v
}

// Overlay tunes one evaluation run.
type Overlay struct {
	// DisabledRuleIDs suppresses the named rules entirely.
	DisabledRuleIDs []string `yaml:"disabled_rules" validate:"omitempty,dive,rule_id"`

	// SeverityOverrides replaces the severity of every finding the
	// named rule emits.
	SeverityOverrides map[string]string `yaml:"severity_overrides" validate:"omitempty,dive,keys,rule_id,endkeys,oneof=info warning warn error err"`

	// Thresholds holds numeric parameters consumed by specific rules.
	// Unknown keys are kept for forward compatibility; rules only read
	// the keys they know.
	Thresholds map[string]float64 `yaml:"thresholds"`

	disabled  map[string]struct{}
	overrides map[string]rule.Severity
}

// New returns an empty overlay: nothing disabled, nothing overridden.
func New() *Overlay {
	o := &Overlay{}
	if err := o.resolve(); err != nil {
		panic("overlay: empty overlay failed to resolve: " + err.Error())
	}
	return o
}

// Parse builds an overlay from YAML bytes.
//
// Description:
//
//	Decodes with unknown-field rejection so a typo in a key fails
//	loudly instead of silently tuning nothing, validates field
//	constraints, then resolves the severity names into typed lookups.
//
// Inputs:
//   - data: YAML document; empty or whitespace-only data yields an
//     empty overlay
//
// Outputs:
//   - *Overlay: the resolved overlay
//   - error: ErrOverlayTooLarge, a YAML decode error, or
//     ErrInvalidOverlay wrapped with the offending field
func Parse(data []byte) (*Overlay, error) {
	if len(data) > MaxOverlayFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOverlayTooLarge, len(data), MaxOverlayFileSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	o := &Overlay{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	if err := structValidator.Struct(o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOverlay, err)
	}
	if err := o.resolve(); err != nil {
		return nil, err
	}
	return o, nil
}

// Load reads and parses an overlay file.
//
// The path is cleaned and size-checked before reading; SEC1 path
// traversal sequences are rejected.
func Load(path string) (*Overlay, error) {
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return nil, fmt.Errorf("overlay path %q contains a traversal sequence", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat overlay: %w", err)
	}
	if info.Size() > MaxOverlayFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrOverlayTooLarge, clean, info.Size(), MaxOverlayFileSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	o, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("overlay %s: %w", clean, err)
	}
	return o, nil
}

// Default returns the shipped default overlay, parsed from the embedded
// YAML exactly once.
func Default() *Overlay {
	defaultOnce.Do(func() {
		o, err := Parse(defaultOverlayYAML)
		if err != nil {
			// The embedded default ships with the binary; failing to
			// parse it is a programming error.
			panic("overlay: embedded default overlay is invalid: " + err.Error())
		}
		defaultOverlay = o
	})
	return defaultOverlay
}

// DefaultYAML returns a copy of the embedded default overlay document.
// The init command writes it out as a starting config.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultOverlayYAML))
	copy(out, defaultOverlayYAML)
	return out
}

// ResetForTest clears the Default singleton so tests can rebuild it.
func ResetForTest() {
	defaultOnce = sync.Once{}
	defaultOverlay = nil
}

// resolve turns the declarative fields into typed lookups.
func (o *Overlay) resolve() error {
	o.disabled = make(map[string]struct{}, len(o.DisabledRuleIDs))
	for _, id := range o.DisabledRuleIDs {
		o.disabled[id] = struct{}{}
	}

	o.overrides = make(map[string]rule.Severity, len(o.SeverityOverrides))
	for id, name := range o.SeverityOverrides {
		sev, err := rule.ParseSeverity(name)
		if err != nil {
			return fmt.Errorf("%w: severity override for %s: %v", ErrInvalidOverlay, id, err)
		}
		o.overrides[id] = sev
	}
	return nil
}

// IsDisabled reports whether the rule id is suppressed.
func (o *Overlay) IsDisabled(id string) bool {
	if o == nil {
		return false
	}
	_, ok := o.disabled[id]
	return ok
}

// Override returns the severity override for the rule id, if any.
// Disabled rules never expose an override; disabling wins.
func (o *Overlay) Override(id string) (rule.Severity, bool) {
	if o == nil || o.IsDisabled(id) {
		return 0, false
	}
	sev, ok := o.overrides[id]
	return sev, ok
}

// SeverityFor returns the effective severity for findings of the rule
// id: the override when present, otherwise fallback.
func (o *Overlay) SeverityFor(id string, fallback rule.Severity) rule.Severity {
	if sev, ok := o.Override(id); ok {
		return sev
	}
	return fallback
}

// Threshold returns the numeric parameter stored under key, or fallback
// when absent. Implements rule.Config.
func (o *Overlay) Threshold(key string, fallback float64) float64 {
	if o == nil {
		return fallback
	}
	if v, ok := o.Thresholds[key]; ok {
		return v
	}
	return fallback
}

// Disabled returns the disabled rule ids, sorted for display.
func (o *Overlay) Disabled() []string {
	if o == nil {
		return nil
	}
	out := make([]string, 0, len(o.disabled))
	for id := range o.disabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
