// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_rule_docs generates a markdown reference for the built-in
// rule catalog.
//
// Usage:
//
//	go run scripts/generate_rule_docs.go > docs/rule_reference.md
//
// The generated documentation includes:
//   - Full rule inventory with categories and default severities
//   - Tunable thresholds and their defaults
//   - Config examples for disabling and overriding rules
//   - Summary statistics
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGate/services/gate/rule"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
)

// ruleThreshold describes a tunable a rule reads from the config.
type ruleThreshold struct {
	Key     string
	Default float64
	Meaning string
}

// thresholdsByRule maps rule ids to the thresholds they consume. Kept
// in sync with the rule implementations by hand; the generated page
// is the reference readers actually see.
var thresholdsByRule = map[string][]ruleThreshold{
	"TimeoutCeiling": {
		{Key: "maxTimeoutMinutes", Default: 120, Meaning: "Highest acceptable job timeout, in minutes"},
	},
	"CoverageThreshold": {
		{Key: "minCoveragePercent", Default: 80, Meaning: "Lowest acceptable coverage gate, in percent"},
	},
}

func main() {
	reg := builtin.Default()
	rules := reg.All()

	categories := categorizeRules(rules)
	generateMarkdown(categories, rules)
}

// ruleCategory groups catalog entries for one concern.
type ruleCategory struct {
	Name        string
	Description string
	Rules       []rule.Rule
}

// categorizeRules groups rules by category, preserving registration
// order within each group.
func categorizeRules(rules []rule.Rule) []ruleCategory {
	descriptions := map[rule.Category]string{
		rule.CategoryStructure:   "Rules about the shape of the pipeline document: names, steps, required fields.",
		rule.CategorySecurity:    "Rules that keep secrets out of logs and environment literals.",
		rule.CategoryPerformance: "Rules that keep pipelines fast: timeouts, caching, checkout depth.",
		rule.CategoryTesting:     "Rules that keep test signal trustworthy: published results, coverage gates.",
		rule.CategoryDeployment:  "Rules that guard production deployments: approvals, concurrency locks.",
	}

	order := []rule.Category{
		rule.CategoryStructure,
		rule.CategorySecurity,
		rule.CategoryPerformance,
		rule.CategoryTesting,
		rule.CategoryDeployment,
	}

	byCategory := make(map[rule.Category][]rule.Rule)
	for _, r := range rules {
		byCategory[r.Category()] = append(byCategory[r.Category()], r)
	}

	var result []ruleCategory
	for _, cat := range order {
		if len(byCategory[cat]) == 0 {
			continue
		}
		name := cat.String()
		result = append(result, ruleCategory{
			Name:        strings.ToUpper(name[:1]) + name[1:] + " Rules",
			Description: descriptions[cat],
			Rules:       byCategory[cat],
		})
	}
	return result
}

// generateMarkdown outputs the full markdown documentation.
func generateMarkdown(categories []ruleCategory, allRules []rule.Rule) {
	fmt.Println("# Rule Reference")
	fmt.Println()
	fmt.Println("## Overview")
	fmt.Println()
	fmt.Println("This document is the reference for every built-in pipeline policy rule.")
	fmt.Println("Rules are registered at startup; a `.gate.yaml` config can disable any rule,")
	fmt.Println("override its severity, or tune its thresholds per invocation.")
	fmt.Println()
	fmt.Printf("**Generated:** %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Println()

	// Statistics
	bySeverity := map[rule.Severity]int{}
	tunable := 0
	for _, r := range allRules {
		bySeverity[r.DefaultSeverity()]++
		if len(thresholdsByRule[r.ID()]) > 0 {
			tunable++
		}
	}

	fmt.Println("## Summary Statistics")
	fmt.Println()
	fmt.Println("| Metric | Count |")
	fmt.Println("|--------|-------|")
	fmt.Printf("| Total Rules | %d |\n", len(allRules))
	fmt.Printf("| Default Severity: error | %d |\n", bySeverity[rule.SeverityError])
	fmt.Printf("| Default Severity: warning | %d |\n", bySeverity[rule.SeverityWarning])
	fmt.Printf("| Default Severity: info | %d |\n", bySeverity[rule.SeverityInfo])
	fmt.Printf("| Rules with Thresholds | %d |\n", tunable)
	fmt.Printf("| Rule Categories | %d |\n", len(categories))
	fmt.Println()

	// Table of contents
	fmt.Println("## Table of Contents")
	fmt.Println()
	for i, cat := range categories {
		fmt.Printf("%d. [%s](#%s)\n", i+1, cat.Name, strings.ToLower(strings.ReplaceAll(cat.Name, " ", "-")))
	}
	fmt.Println()

	// Quick reference table (all rules)
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Quick Reference")
	fmt.Println()
	fmt.Println("| Rule | Category | Default Severity | Tunable |")
	fmt.Println("|------|----------|------------------|---------|")
	for _, cat := range categories {
		for _, r := range cat.Rules {
			tunableStr := "No"
			if len(thresholdsByRule[r.ID()]) > 0 {
				tunableStr = "Yes"
			}
			fmt.Printf("| `%s` | %s | %s | %s |\n",
				r.ID(), r.Category(), r.DefaultSeverity(), tunableStr)
		}
	}
	fmt.Println()

	// Detailed sections per category
	fmt.Println("---")
	fmt.Println()
	for _, cat := range categories {
		fmt.Printf("## %s\n", cat.Name)
		fmt.Println()
		fmt.Println(cat.Description)
		fmt.Println()

		for _, r := range cat.Rules {
			printRuleDetails(r)
		}
	}

	// Config examples
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Tuning Rules")
	fmt.Println()
	fmt.Println("Disabling always wins over overriding: a rule listed under `disabled_rules`")
	fmt.Println("emits nothing even when `severity_overrides` names it too.")
	fmt.Println()
	fmt.Println("```yaml")
	fmt.Println("# .gate.yaml")
	fmt.Println("disabled_rules:")
	fmt.Println("  - DisplayNameProvided")
	fmt.Println()
	fmt.Println("severity_overrides:")
	fmt.Println("  TimeoutConfigured: error")
	fmt.Println()
	fmt.Println("thresholds:")
	fmt.Println("  minCoveragePercent: 85")
	fmt.Println("  maxTimeoutMinutes: 60")
	fmt.Println("```")
	fmt.Println()

	// Threshold index
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Threshold Reference")
	fmt.Println()
	fmt.Println("| Threshold | Default | Rule | Meaning |")
	fmt.Println("|-----------|---------|------|---------|")
	for _, cat := range categories {
		for _, r := range cat.Rules {
			for _, th := range thresholdsByRule[r.ID()] {
				fmt.Printf("| `%s` | %g | `%s` | %s |\n", th.Key, th.Default, r.ID(), th.Meaning)
			}
		}
	}
	fmt.Println()

	// Footer
	fmt.Println("---")
	fmt.Println()
	fmt.Println("*This document is auto-generated from the built-in rule registry.*")
	fmt.Println()
	fmt.Println("*To regenerate: `go run scripts/generate_rule_docs.go > docs/rule_reference.md`*")
}

// printRuleDetails prints detailed information for a single rule.
func printRuleDetails(r rule.Rule) {
	fmt.Printf("### `%s`\n", r.ID())
	fmt.Println()

	fmt.Println("| Property | Value |")
	fmt.Println("|----------|-------|")
	fmt.Printf("| **Default Severity** | %s |\n", r.DefaultSeverity())
	fmt.Printf("| **Category** | %s |\n", r.Category())
	fmt.Println()

	fmt.Println(r.Describe())
	fmt.Println()

	if thresholds := thresholdsByRule[r.ID()]; len(thresholds) > 0 {
		fmt.Println("**Thresholds:**")
		fmt.Println()
		for _, th := range thresholds {
			fmt.Printf("- `%s` (default %g): %s\n", th.Key, th.Default, th.Meaning)
		}
		fmt.Println()
	}
}
