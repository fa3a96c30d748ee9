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
	"testing"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
)

// stubRule is a minimal Rule for registry tests.
type stubRule struct {
	id  string
	cat Category
	sev Severity
}

func (s stubRule) ID() string                                  { return s.id }
func (s stubRule) Category() Category                          { return s.cat }
func (s stubRule) DefaultSeverity() Severity                   { return s.sev }
func (s stubRule) Describe() string                            { return "stub" }
func (s stubRule) Evaluate(*model.Pipeline, Config) []Finding  { return nil }

func TestNewRegistry_PreservesOrder(t *testing.T) {
	reg, err := NewRegistry(
		stubRule{id: "ZetaRule", cat: CategorySecurity, sev: SeverityError},
		stubRule{id: "AlphaRule", cat: CategoryStructure, sev: SeverityInfo},
		stubRule{id: "MidRule", cat: CategorySecurity, sev: SeverityWarning},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	want := []string{"ZetaRule", "AlphaRule", "MidRule"}
	got := reg.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs()[%d] = %q, want %q (registration order must hold)", i, got[i], want[i])
		}
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d, want 3", reg.Len())
	}
}

func TestNewRegistry_RejectsDuplicateID(t *testing.T) {
	_, err := NewRegistry(
		stubRule{id: "SameRule"},
		stubRule{id: "SameRule"},
	)
	if !errors.Is(err, ErrDuplicateRuleID) {
		t.Errorf("error = %v, want ErrDuplicateRuleID", err)
	}
}

func TestNewRegistry_RejectsInvalidID(t *testing.T) {
	tests := []string{
		"",
		"ab",              // too short
		"lowercaseStart",  // must start uppercase
		"Has Spaces",
		"Rule-With-Dash",
	}

	for _, id := range tests {
		if _, err := NewRegistry(stubRule{id: id}); err == nil {
			t.Errorf("NewRegistry accepted invalid id %q", id)
		}
	}
}

func TestNewRegistry_RejectsNilRule(t *testing.T) {
	_, err := NewRegistry(stubRule{id: "GoodRule"}, nil)
	if !errors.Is(err, ErrNilRule) {
		t.Errorf("error = %v, want ErrNilRule", err)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry(stubRule{id: "FindMe", sev: SeverityWarning})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	rl, ok := reg.Lookup("FindMe")
	if !ok || rl.ID() != "FindMe" {
		t.Errorf("Lookup(FindMe) = (%v, %v)", rl, ok)
	}
	if _, ok := reg.Lookup("Absent"); ok {
		t.Error("Lookup(Absent) should miss")
	}
}

func TestRegistry_ByCategory(t *testing.T) {
	reg, err := NewRegistry(
		stubRule{id: "SecOne", cat: CategorySecurity},
		stubRule{id: "StructOne", cat: CategoryStructure},
		stubRule{id: "SecTwo", cat: CategorySecurity},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	sec := reg.ByCategory(CategorySecurity)
	if len(sec) != 2 || sec[0].ID() != "SecOne" || sec[1].ID() != "SecTwo" {
		t.Errorf("ByCategory(security) = %v, want [SecOne SecTwo] in order", ids(sec))
	}
	if got := reg.ByCategory(CategoryDeployment); len(got) != 0 {
		t.Errorf("ByCategory(deployment) = %v, want empty", ids(got))
	}
}

func TestRegistry_AllReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(
		stubRule{id: "FirstRule"},
		stubRule{id: "SecondRule"},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	all := reg.All()
	all[0] = stubRule{id: "Clobbered"}

	if reg.IDs()[0] != "FirstRule" {
		t.Error("mutating All() result leaked into the registry")
	}
}

func ids(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID()
	}
	return out
}
