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
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGate/pkg/logging"
	"github.com/AleutianAI/AleutianGate/pkg/ux"
	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/history"
	"github.com/AleutianAI/AleutianGate/services/gate/loader"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
)

// =============================================================================
// CONSTANTS AND TYPES
// =============================================================================

// Exit codes for gate commands.
const (
	GateExitSuccess  = 0
	GateExitFindings = 1
	GateExitError    = 2
)

// Default values.
const (
	DefaultFailOn       = "error"
	DefaultCheckTimeout = 2 * time.Minute
)

// overlaySearchNames are tried in order when --config is not given.
var overlaySearchNames = []string{".gate.yaml", "gate.yaml"}

// fileResult holds one pipeline file's evaluation outcome. Exactly one
// of Report and Error is set.
type fileResult struct {
	Path   string         `json:"path"`
	Report *engine.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// checkOutcome aggregates one gate check invocation.
type checkOutcome struct {
	Results    []fileResult `json:"results"`
	Checked    int          `json:"files_checked"`
	Failed     int          `json:"files_failed"`
	ConfigFile string       `json:"config_file,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	checkFailOn    string
	checkOutputFmt string
	checkQuiet     bool
	checkNoHistory bool
	checkParallel  int
	checkTimeout   time.Duration
	checkInclude   []string
	checkExclude   []string
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var checkCmd = &cobra.Command{
	Use:   "check [path...]",
	Short: "Check pipeline definitions against the policy rules",
	Long: `Check pipeline definition files against the built-in policy rules.

With no arguments the current directory is searched recursively for
*.yml and *.yaml files. Arguments may be files or directories.

A .gate.yaml config in the working directory tunes the run: it can
disable rules, override severities, and set rule thresholds. Use
--config to point at a different file.

Examples:
  gate check
  gate check ci/pipeline.yaml
  gate check ./deploy --exclude "legacy-*.yml"
  gate check --fail-on warning --output json

Exit Codes:
  0 = No findings at/above the fail-on severity
  1 = Findings found at/above the fail-on severity
  2 = Error (bad path, malformed document, invalid config)`,
	Args: cobra.ArbitraryArgs,
	Run:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkFailOn, "fail-on", DefaultFailOn,
		"Minimum severity for a non-zero exit: info, warning, error")
	checkCmd.Flags().StringVar(&checkOutputFmt, "output", "text",
		"Output format: text or json")
	checkCmd.Flags().BoolVar(&checkQuiet, "quiet", false,
		"Only exit code, no output")
	checkCmd.Flags().BoolVar(&checkNoHistory, "no-history", false,
		"Do not record this run in the local history")
	checkCmd.Flags().IntVar(&checkParallel, "parallel", 1,
		"Number of rules to evaluate concurrently per file")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", DefaultCheckTimeout,
		"Deadline for the whole run")
	checkCmd.Flags().StringSliceVar(&checkInclude, "include", nil,
		"Only check files matching these patterns (default '*.yml,*.yaml')")
	checkCmd.Flags().StringSliceVar(&checkExclude, "exclude", nil,
		"Skip files/directories matching these patterns")

	rootCmd.AddCommand(checkCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runCheck(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	start := time.Now()

	failOn, err := rule.ParseSeverity(checkFailOn)
	if err != nil {
		outputCheckError("Invalid fail-on severity", err)
		os.Exit(GateExitError)
	}

	o, configFile, err := resolveOverlay(configPath, ".")
	if err != nil {
		outputCheckError("Failed to load config", err)
		os.Exit(GateExitError)
	}

	files, err := collectPipelineFiles(args, checkInclude, checkExclude)
	if err != nil {
		outputCheckError("Failed to collect pipeline files", err)
		os.Exit(GateExitError)
	}
	if len(files) == 0 {
		outputCheckError("No pipeline files found", nil)
		os.Exit(GateExitError)
	}

	eng, store := buildEngine(checkParallel, checkNoHistory, "cli")
	if store != nil {
		defer store.Close()
	}

	outcome := checkFiles(ctx, eng, builtin.Default(), o, files)
	outcome.ConfigFile = configFile
	outcome.DurationMs = time.Since(start).Milliseconds()

	if !checkQuiet {
		if checkOutputFmt == "json" {
			outputCheckJSON(outcome)
		} else {
			outputCheckText(outcome, failOn)
		}
	}

	os.Exit(checkExitCode(outcome, failOn))
}

// checkFiles evaluates each file in order against the registry and
// overlay. Load failures become error results; the remaining files are
// still checked. A dead context marks the remaining files failed
// instead of evaluating them.
func checkFiles(ctx context.Context, eng *engine.Engine, reg *rule.Registry, o *overlay.Overlay, files []string) *checkOutcome {
	outcome := &checkOutcome{
		Results: make([]fileResult, 0, len(files)),
	}
	for _, path := range files {
		if ctx.Err() != nil {
			outcome.Results = append(outcome.Results, fileResult{
				Path:  path,
				Error: fmt.Sprintf("skipped: %v", ctx.Err()),
			})
			outcome.Failed++
			continue
		}

		p, err := loader.LoadFile(path)
		if err != nil {
			outcome.Results = append(outcome.Results, fileResult{
				Path:  path,
				Error: err.Error(),
			})
			outcome.Failed++
			continue
		}

		rep := eng.Evaluate(ctx, p, reg, o)
		outcome.Results = append(outcome.Results, fileResult{
			Path:   path,
			Report: rep,
		})
		outcome.Checked++
	}
	return outcome
}

// checkExitCode folds an outcome into the process exit code. Load
// failures dominate findings; findings at or above the fail-on floor
// dominate success.
func checkExitCode(outcome *checkOutcome, failOn rule.Severity) int {
	if outcome.Failed > 0 {
		return GateExitError
	}
	for _, res := range outcome.Results {
		if res.Report != nil && res.Report.CountAtLeast(failOn) > 0 {
			return GateExitFindings
		}
	}
	return GateExitSuccess
}

// =============================================================================
// FILE COLLECTION AND SETUP
// =============================================================================

// collectPipelineFiles expands the path arguments into pipeline files.
// No arguments means the current directory. Directory arguments are
// searched recursively; file arguments are taken as given, so an
// explicit path may use any extension.
func collectPipelineFiles(args, includes, excludes []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", arg, err)
		}
		if info.IsDir() {
			found, err := loader.Discover(arg, includes, excludes)
			if err != nil {
				return nil, err
			}
			// The gate config matches *.yaml but is not a pipeline.
			// Explicit file arguments are never filtered.
			for _, f := range found {
				if !isOverlayConfig(f) {
					files = append(files, f)
				}
			}
		} else {
			files = append(files, arg)
		}
	}
	return files, nil
}

// isOverlayConfig reports whether path is one of the config file names
// the check command searches for.
func isOverlayConfig(path string) bool {
	base := filepath.Base(path)
	for _, name := range overlaySearchNames {
		if base == name {
			return true
		}
	}
	return false
}

// resolveOverlay loads the config overlay: the explicit path when
// given, otherwise the first search name present in dir, otherwise the
// built-in default. Returns the loaded overlay and the file it came
// from ("" for the default).
func resolveOverlay(explicit, dir string) (*overlay.Overlay, string, error) {
	if explicit != "" {
		o, err := overlay.Load(explicit)
		return o, explicit, err
	}
	for _, name := range overlaySearchNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		// An existing config that does not parse fails the run; a typo
		// must not silently fall back to defaults.
		o, err := overlay.Load(candidate)
		return o, candidate, err
	}
	return overlay.Default(), "", nil
}

// defaultHistoryPath returns ~/.gate/history, or "" when the home
// directory cannot be resolved.
func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gate", "history")
}

func resolveHistoryDir() string {
	if historyDir != "" {
		return historyDir
	}
	return defaultHistoryPath()
}

var (
	cliLoggerOnce sync.Once
	cliLog        *logging.Logger
)

// cliLogger returns the process logger for CLI commands: warnings and
// errors only, so report output on stdout stays readable. --verbose
// raises it to debug.
func cliLogger() *logging.Logger {
	cliLoggerOnce.Do(func() {
		level := logging.LevelWarn
		if verboseLogging {
			level = logging.LevelDebug
		}
		cliLog = logging.New(logging.Config{
			Level:   level,
			Service: "gate",
		})
	})
	return cliLog
}

// buildEngine assembles the evaluation engine for one CLI invocation.
// History recording is best effort: when the store cannot open, the
// check still runs and a warning notes the loss. The caller closes the
// returned store when it is non-nil.
func buildEngine(parallel int, noHistory bool, source string) (*engine.Engine, *history.Store) {
	opts := []engine.Option{engine.WithLogger(cliLogger())}
	if parallel > 1 {
		opts = append(opts, engine.WithParallelism(parallel))
	}

	var store *history.Store
	if !noHistory {
		cfg := history.DefaultConfig()
		cfg.Path = resolveHistoryDir()
		cfg.GCInterval = 0 // short-lived process, GC never pays off
		if cfg.Path == "" {
			ux.Warning("Cannot resolve a history directory; run history disabled")
		} else if s, err := history.Open(cfg); err != nil {
			ux.Warning(fmt.Sprintf("Run history unavailable: %v", err))
		} else {
			store = s
			opts = append(opts, engine.WithHistory(store, source))
		}
	}

	return engine.New(opts...), store
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

func outputCheckError(msg string, err error) {
	if checkOutputFmt == "json" {
		result := map[string]interface{}{
			"success": false,
			"error":   msg,
		}
		if err != nil {
			result["error"] = fmt.Sprintf("%s: %v", msg, err)
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(result)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
}

func outputCheckJSON(outcome *checkOutcome) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(outcome); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(GateExitError)
	}
}

func outputCheckText(outcome *checkOutcome, failOn rule.Severity) {
	for _, res := range outcome.Results {
		printFileResult(res)
	}

	errors, warnings, infos := severityTotals(outcome)
	ux.Summary(errors, warnings, infos)

	if ux.GetPersonality().Level != ux.PersonalityMachine {
		if outcome.ConfigFile != "" {
			ux.Muted(fmt.Sprintf("config: %s", outcome.ConfigFile))
		}
		ux.Muted(fmt.Sprintf("checked %d file(s) in %dms, fail-on %s",
			outcome.Checked, outcome.DurationMs, failOn))
	}
}

// printFileResult renders one file's status line and its findings.
func printFileResult(res fileResult) {
	if res.Error != "" {
		ux.FileStatus(res.Path, ux.IconError, "load failed")
		ux.Error(res.Error)
		return
	}

	rep := res.Report
	if rep.Total() == 0 {
		ux.FileStatus(res.Path, ux.IconSuccess, "clean")
		return
	}

	reason := fmt.Sprintf("%d findings", rep.Total())
	if rep.Incomplete {
		reason += ", incomplete"
	}
	ux.FileStatus(res.Path, ux.SeverityIcon(rep.Worst().String()), reason)
	for _, f := range rep.Findings {
		printFinding(f)
	}
}

// printFinding renders one finding line under its file header.
func printFinding(f rule.Finding) {
	sev := f.Severity.String()
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("%s\t%s\t%s\t%s\n", sev, f.RuleID, f.Location.String(), f.Message)
		return
	}
	fmt.Printf("  %s %s  %s  %s\n",
		ux.SeverityStyle(sev).Render(fmt.Sprintf("%-7s", sev)),
		ux.Styles.Bold.Render(f.RuleID),
		ux.Styles.Muted.Render(f.Location.String()),
		f.Message)
}

// severityTotals sums finding counts across every checked file.
func severityTotals(outcome *checkOutcome) (errors, warnings, infos int) {
	for _, res := range outcome.Results {
		if res.Report == nil {
			continue
		}
		errors += res.Report.Summary[rule.SeverityError]
		warnings += res.Report.Summary[rule.SeverityWarning]
		infos += res.Report.Summary[rule.SeverityInfo]
	}
	return errors, warnings, infos
}
