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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGate/pkg/ux"
	"github.com/AleutianAI/AleutianGate/services/gate/history"
)

// historyTimeFormat renders record timestamps in local time for the
// text views.
const historyTimeFormat = "2006-01-02 15:04:05"

// openHistoryStore opens the run history for a history subcommand.
// Unlike the check path, an unopenable store is fatal here: the whole
// point of the command is the store.
func openHistoryStore() (*history.Store, error) {
	dir := resolveHistoryDir()
	if dir == "" {
		return nil, fmt.Errorf("cannot resolve a history directory; pass --history-dir")
	}
	cfg := history.DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0
	return history.Open(cfg)
}

func runHistoryList(cmd *cobra.Command, args []string) {
	store, err := openHistoryStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open history: %v\n", err)
		os.Exit(GateExitError)
	}
	defer store.Close()

	records, err := store.List(context.Background(), historyLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
		os.Exit(GateExitError)
	}

	if historyOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(records)
		return
	}

	outputHistoryTable(records)
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	store, err := openHistoryStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open history: %v\n", err)
		os.Exit(GateExitError)
	}
	defer store.Close()

	record, err := store.Get(context.Background(), args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GateExitError)
	}

	if historyOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(record)
		return
	}

	outputHistoryRecord(record)
}

func runHistoryPrune(cmd *cobra.Command, args []string) {
	store, err := openHistoryStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open history: %v\n", err)
		os.Exit(GateExitError)
	}
	defer store.Close()

	removed, err := store.Prune(context.Background(), historyPruneKeep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to prune history: %v\n", err)
		os.Exit(GateExitError)
	}

	ux.Success(fmt.Sprintf("Removed %d run(s), kept the newest %d", removed, historyPruneKeep))
}

// shortRunID trims a uuid to its first block for the table view.
func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func outputHistoryTable(records []history.RunRecord) {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if machine {
		for _, r := range records {
			fmt.Printf("%s\t%s\t%s\t%s\t%d\t%s\n",
				r.ID, r.StartedAt.Format(historyTimeFormat), r.Source,
				r.PipelineName, r.Total, r.Worst)
		}
		return
	}

	if len(records) == 0 {
		ux.Info("No recorded runs")
		return
	}

	fmt.Printf("  %-10s %-20s %-7s %-24s %-9s %s\n",
		"RUN", "WHEN", "SOURCE", "PIPELINE", "FINDINGS", "WORST")
	for _, r := range records {
		name := r.PipelineName
		if name == "" {
			name = "-"
		}
		fmt.Printf("  %-10s %-20s %-7s %-24s %-9d %s\n",
			shortRunID(r.ID),
			r.StartedAt.Local().Format(historyTimeFormat),
			r.Source,
			name,
			r.Total,
			ux.SeverityStyle(r.Worst).Render(r.Worst))
	}
	fmt.Println()
	ux.Muted(fmt.Sprintf("%d run(s)", len(records)))
}

func outputHistoryRecord(r *history.RunRecord) {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if machine {
		fmt.Printf("id\t%s\n", r.ID)
		fmt.Printf("pipeline\t%s\n", r.PipelineName)
		fmt.Printf("source\t%s\n", r.Source)
		fmt.Printf("started\t%s\n", r.StartedAt.Format(historyTimeFormat))
		fmt.Printf("duration_ms\t%d\n", r.DurationMS)
		fmt.Printf("total\t%d\n", r.Total)
		fmt.Printf("worst\t%s\n", r.Worst)
		fmt.Printf("incomplete\t%t\n", r.Incomplete)
		return
	}

	ux.Title(fmt.Sprintf("Run %s", shortRunID(r.ID)))
	name := r.PipelineName
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("  %-12s %s\n", "pipeline", name)
	fmt.Printf("  %-12s %s\n", "source", r.Source)
	fmt.Printf("  %-12s %s\n", "started", r.StartedAt.Local().Format(historyTimeFormat))
	fmt.Printf("  %-12s %dms\n", "duration", r.DurationMS)
	fmt.Printf("  %-12s %s\n", "worst", ux.SeverityStyle(r.Worst).Render(r.Worst))
	fmt.Printf("  %-12s errors=%d warnings=%d info=%d\n", "findings",
		r.Summary["error"], r.Summary["warning"], r.Summary["info"])
	if r.Incomplete {
		ux.Warning("Run was cancelled before every rule finished")
	}
}
