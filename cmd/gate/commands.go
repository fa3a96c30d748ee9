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
	"github.com/AleutianAI/AleutianGate/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	configPath       string // Config overlay file; empty means search the working directory
	historyDir       string // Run history directory; empty means ~/.gate/history
	verboseLogging   bool

	rulesCategory string
	rulesOutput   string

	historyLimit     int
	historyOutput    string
	historyPruneKeep int

	initForce bool

	rootCmd = &cobra.Command{
		Use:   "gate",
		Short: "Lint and enforce policy on CI pipeline definitions",
		Long: `Gate checks CI pipeline definition files against a catalog of
policy rules covering structure, security, performance, testing,
and deployment hygiene.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Rules ---
	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "List the policy rules this binary ships",
		Run:   runRules, // Defined in cmd_rules.go
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Inspect past check runs",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent check runs, newest first",
		Run:   runHistoryList, // Defined in cmd_history.go
	}
	historyShowCmd = &cobra.Command{
		Use:   "show [run_id]",
		Short: "Show one check run by id or unique prefix",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow, // Defined in cmd_history.go
	}
	historyPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete old check runs, keeping the most recent",
		Run:   runHistoryPrune, // Defined in cmd_history.go
	}

	// --- Init ---
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a starter .gate.yaml config to the current directory",
		Run:   runInit, // Defined in cmd_init.go
	}
)

// init runs when the Go program starts
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config overlay file (default: .gate.yaml or gate.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&historyDir, "history-dir", "",
		"Run history directory (default: ~/.gate/history)")
	rootCmd.PersistentFlags().BoolVar(&verboseLogging, "verbose", false,
		"Enable debug logging on stderr")

	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().StringVar(&rulesCategory, "category", "",
		"Only rules in this category: structure, security, performance, testing, deployment")
	rulesCmd.Flags().StringVar(&rulesOutput, "output", "text",
		"Output format: text or json")

	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20,
		"Maximum number of runs to list (0 = all)")
	historyListCmd.Flags().StringVar(&historyOutput, "output", "text",
		"Output format: text or json")
	historyCmd.AddCommand(historyShowCmd)
	historyShowCmd.Flags().StringVar(&historyOutput, "output", "text",
		"Output format: text or json")
	historyCmd.AddCommand(historyPruneCmd)
	historyPruneCmd.Flags().IntVar(&historyPruneKeep, "keep", 50,
		"Number of most recent runs to keep")

	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"Overwrite an existing config file")
}
