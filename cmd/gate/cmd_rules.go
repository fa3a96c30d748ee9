// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGate/pkg/ux"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
)

// ruleListing is one catalog entry in `gate rules` output.
type ruleListing struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Severity    string `json:"default_severity"`
	Description string `json:"description"`
}

func runRules(cmd *cobra.Command, args []string) {
	reg := builtin.Default()

	rules := reg.All()
	if rulesCategory != "" {
		cat, err := rule.ParseCategory(rulesCategory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(GateExitError)
		}
		rules = reg.ByCategory(cat)
	}

	listings := make([]ruleListing, 0, len(rules))
	for _, r := range rules {
		listings = append(listings, ruleListing{
			ID:          r.ID(),
			Category:    r.Category().String(),
			Severity:    r.DefaultSeverity().String(),
			Description: r.Describe(),
		})
	}

	if rulesOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(listings); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(GateExitError)
		}
		return
	}

	outputRulesText(listings)
}

// outputRulesText prints the catalog grouped by category, preserving
// registration order within each group.
func outputRulesText(listings []ruleListing) {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if machine {
		for _, l := range listings {
			fmt.Printf("%s\t%s\t%s\t%s\n", l.ID, l.Category, l.Severity, l.Description)
		}
		return
	}

	width := 0
	for _, l := range listings {
		if len(l.ID) > width {
			width = len(l.ID)
		}
	}

	lastCategory := ""
	for _, l := range listings {
		if l.Category != lastCategory {
			if lastCategory != "" {
				fmt.Println()
			}
			ux.Title(l.Category)
			lastCategory = l.Category
		}
		fmt.Printf("  %s  %s  %s\n",
			ux.Styles.Bold.Render(fmt.Sprintf("%-*s", width, l.ID)),
			ux.SeverityStyle(l.Severity).Render(fmt.Sprintf("%-7s", l.Severity)),
			l.Description)
	}

	fmt.Println()
	ux.Muted(fmt.Sprintf("%d rule(s)", len(listings)))
}
