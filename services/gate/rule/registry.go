// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rule

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianGate/pkg/validation"
)

var (
	// ErrNilRule is returned when a nil rule is registered.
	ErrNilRule = errors.New("nil rule")

	// ErrDuplicateRuleID is returned when two rules share an ID.
	ErrDuplicateRuleID = errors.New("duplicate rule id")
)

// Registry holds an ordered, immutable set of rules.
//
// Iteration order is registration order. This order is part of the
// engine's determinism contract: evaluation walks rules in it, and
// tie-breaking in finding output falls back to it, so two registries
// built from the same arguments behave identically.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Registry struct {
	ordered []Rule
	byID    map[string]Rule
}

// NewRegistry builds a registry from the given rules.
//
// Description:
//
//	Validates every rule ID against the identifier grammar and rejects
//	duplicates. Construction is all-or-nothing: any bad rule fails the
//	whole registry so a partial rule set can never evaluate.
//
// Inputs:
//   - rules: rules in the order they should evaluate
//
// Outputs:
//   - *Registry: the immutable registry
//   - error: ErrNilRule, ErrDuplicateRuleID, or an identifier
//     validation error, wrapped with the offending position or ID
func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{
		ordered: make([]Rule, 0, len(rules)),
		byID:    make(map[string]Rule, len(rules)),
	}
	for i, rl := range rules {
		if rl == nil {
			return nil, fmt.Errorf("rule %d: %w", i, ErrNilRule)
		}
		id := rl.ID()
		if err := validation.ValidateRuleID(id); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRuleID, id)
		}
		r.ordered = append(r.ordered, rl)
		r.byID[id] = rl
	}
	return r, nil
}

// All returns the rules in registration order. The slice is a copy; the
// registry itself cannot be mutated through it.
func (r *Registry) All() []Rule {
	out := make([]Rule, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Lookup returns the rule with the given ID.
func (r *Registry) Lookup(id string) (Rule, bool) {
	rl, ok := r.byID[id]
	return rl, ok
}

// ByCategory returns the rules in the given category, in registration
// order.
func (r *Registry) ByCategory(c Category) []Rule {
	var out []Rule
	for _, rl := range r.ordered {
		if rl.Category() == c {
			out = append(out, rl)
		}
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// IDs returns the rule IDs in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ordered))
	for i, rl := range r.ordered {
		out[i] = rl.ID()
	}
	return out
}
