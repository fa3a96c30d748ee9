// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// storage keys, file paths, or report output. Using these validators prevents
// injection attacks (key injection, path traversal) and keeps identifiers
// stable across report formats.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ruleIDPattern matches valid rule identifiers.
// Allows: UpperCamelCase ASCII, digits after the first character.
// Length: 3-64 characters (TaskVersionPinned, SecretNotEchoed, ...)
var ruleIDPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]{2,63}$`)

// pipelineNamePattern matches pipeline names safe for storage keys and paths.
// Allows: letters, digits, dots, hyphens, underscores. Max length: 128.
var pipelineNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateRuleID validates a rule identifier.
//
// Valid rule IDs:
//   - 3-64 characters
//   - Start with an uppercase letter
//   - Contain only ASCII letters and digits (UpperCamelCase by convention)
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateRuleID(id); err != nil {
//	    return nil, fmt.Errorf("invalid rule id: %w", err)
//	}
func ValidateRuleID(id string) error {
	if id == "" {
		return fmt.Errorf("rule id cannot be empty")
	}

	if !ruleIDPattern.MatchString(id) {
		return fmt.Errorf("invalid rule id: %q (must be 3-64 chars, UpperCamelCase letters and digits)", id)
	}

	return nil
}

// ValidateRuleIDs validates multiple rule identifiers.
// Returns an error listing all invalid IDs if any fail validation.
func ValidateRuleIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateRuleID(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid rule ids: %v", invalid)
	}
	return nil
}

// ValidatePipelineName validates a pipeline name before it is embedded in
// storage keys or file paths.
//
// Valid names:
//   - 1-128 characters
//   - Start with a letter or digit
//   - Contain only letters, digits, dots, hyphens, underscores
//
// Returns an error if the name is invalid.
func ValidatePipelineName(name string) error {
	if name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}

	if !pipelineNamePattern.MatchString(name) {
		return fmt.Errorf("invalid pipeline name: %q (must be 1-128 alphanumeric chars, dots, hyphens, or underscores)", name)
	}

	return nil
}

// SanitizePipelineName normalizes and validates a pipeline name.
// Returns the trimmed name if valid, or an error if invalid.
//
// Use this when a name from a parsed document is about to become part of a
// storage key:
//
//	safeName, err := validation.SanitizePipelineName(p.Name)
//	if err != nil {
//	    return err
//	}
func SanitizePipelineName(name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if err := ValidatePipelineName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
