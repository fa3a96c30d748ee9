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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGate/pkg/ux"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
)

// initConfigName is the file gate init writes and gate check finds
// first when searching for a config.
const initConfigName = ".gate.yaml"

func runInit(cmd *cobra.Command, args []string) {
	if _, err := os.Stat(initConfigName); err == nil && !initForce {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", initConfigName)
		os.Exit(GateExitError)
	}

	if err := os.WriteFile(initConfigName, overlay.DefaultYAML(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", initConfigName, err)
		os.Exit(GateExitError)
	}

	ux.Success(fmt.Sprintf("Wrote %s", initConfigName))
	if ux.GetPersonality().ShowHints {
		ux.Muted("Edit it to disable rules, override severities, or tune thresholds, then run: gate check")
	}
}
