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
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGate/pkg/ux"
	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
	"github.com/AleutianAI/AleutianGate/services/gate/watch"
)

// =============================================================================
// CONSTANTS AND TYPES
// =============================================================================

// watchRecheckTimeout bounds one re-check batch; a single batch must
// never wedge the watch loop.
const watchRecheckTimeout = 30 * time.Second

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	watchDebounce  time.Duration
	watchParallel  int
	watchNoHistory bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Re-check pipeline definitions whenever they change",
	Long: `Watch pipeline files and re-check them on every save.

Runs a full check first, then watches the given paths (default: the
current directory) and re-checks each changed file. Editing the active
.gate.yaml reloads the config and re-checks everything.

Watch never exits on findings; it reports them and keeps running.
Stop it with Ctrl-C.

Examples:
  gate watch
  gate watch ci/
  gate watch --config team-gate.yaml --debounce 1s

Exit Codes:
  0 = Stopped by signal
  2 = Error (bad path, invalid config, watcher setup failure)`,
	Args: cobra.ArbitraryArgs,
	Run:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond,
		"How long to wait after a change before re-checking")
	watchCmd.Flags().IntVar(&watchParallel, "parallel", 1,
		"Number of rules to evaluate concurrently per file")
	watchCmd.Flags().BoolVar(&watchNoHistory, "no-history", false,
		"Do not record re-check runs in the local history")

	rootCmd.AddCommand(watchCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// watchState is the mutable config shared between the initial check
// and the re-check handler. The handler runs on the watcher goroutine
// while the main goroutine blocks on the signal context, so access is
// serialized with a mutex.
type watchState struct {
	mu         sync.Mutex
	overlay    *overlay.Overlay
	configFile string
	eng        *engine.Engine
	targets    []string
}

func runWatch(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	o, configFile, err := resolveOverlay(configPath, ".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(GateExitError)
	}

	targets := args
	if len(targets) == 0 {
		targets = []string{"."}
	}

	eng, store := buildEngine(watchParallel, watchNoHistory, "watch")
	if store != nil {
		defer store.Close()
	}

	state := &watchState{
		overlay:    o,
		configFile: configFile,
		eng:        eng,
		targets:    targets,
	}

	// Full pass before watching, so the first report does not wait for
	// a save.
	files, err := collectPipelineFiles(targets, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to collect pipeline files: %v\n", err)
		os.Exit(GateExitError)
	}
	state.recheck(ctx, files)

	watcher, err := watch.New(targets, func(changes []watch.Change) {
		state.handleChanges(ctx, changes)
	}, &watch.Options{
		Debounce:   watchDebounce,
		IgnoreDirs: watch.DefaultOptions().IgnoreDirs,
		BufferSize: watch.DefaultOptions().BufferSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create watcher: %v\n", err)
		os.Exit(GateExitError)
	}
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start watcher: %v\n", err)
		os.Exit(GateExitError)
	}
	defer watcher.Stop()

	if ux.GetPersonality().Level != ux.PersonalityMachine {
		ux.Info(fmt.Sprintf("Watching %d path(s) for changes (Ctrl-C to stop)", len(targets)))
	}

	<-ctx.Done()
	if ux.GetPersonality().Level != ux.PersonalityMachine {
		fmt.Println()
		ux.Muted("watch stopped")
	}
}

// handleChanges is the debounced watch callback: config edits reload
// the overlay and re-check everything, pipeline edits re-check just
// the touched files, and removals are only reported.
func (s *watchState) handleChanges(ctx context.Context, changes []watch.Change) {
	var touched []string
	reloadConfig := false

	for _, c := range changes {
		switch {
		case s.isActiveConfig(c.Path):
			if c.Op == watch.OpRemove || c.Op == watch.OpRename {
				ux.Warning(fmt.Sprintf("config %s removed, keeping last loaded values", c.Path))
				continue
			}
			reloadConfig = true
		case c.Op == watch.OpRemove || c.Op == watch.OpRename:
			ux.FileStatus(c.Path, ux.IconPending, "removed")
		case isOverlayConfig(c.Path):
			// Not a pipeline either way. A config appearing in a
			// session that started without one becomes the active one.
			if s.adoptConfig(c.Path) {
				reloadConfig = true
			}
		default:
			touched = append(touched, c.Path)
		}
	}

	if reloadConfig {
		s.reloadOverlay()
		files, err := collectPipelineFiles(s.targets, nil, nil)
		if err != nil {
			ux.Error(fmt.Sprintf("failed to collect pipeline files: %v", err))
			return
		}
		s.recheck(ctx, files)
		return
	}

	if len(touched) > 0 {
		s.recheck(ctx, touched)
	}
}

// adoptConfig makes path the active config when the session started
// without one.
func (s *watchState) adoptConfig(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configFile != "" {
		return false
	}
	s.configFile = path
	return true
}

// isActiveConfig reports whether path is the config file this watch
// session loaded.
func (s *watchState) isActiveConfig(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configFile == "" {
		return false
	}
	return sameFile(path, s.configFile)
}

// sameFile compares paths by identity when both exist, falling back to
// a cleaned-path comparison when stat fails.
func sameFile(a, b string) bool {
	ia, errA := os.Stat(a)
	ib, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ia, ib)
	}
	return a == b
}

// reloadOverlay re-reads the active config file. A config that no
// longer parses keeps the previous overlay so the watch loop stays
// useful while the user fixes the typo.
func (s *watchState) reloadOverlay() {
	s.mu.Lock()
	configFile := s.configFile
	s.mu.Unlock()

	o, err := overlay.Load(configFile)
	if err != nil {
		ux.Warning(fmt.Sprintf("config reload failed, keeping previous: %v", err))
		return
	}

	s.mu.Lock()
	s.overlay = o
	s.mu.Unlock()
	ux.Success(fmt.Sprintf("Reloaded %s", configFile))
}

// recheck evaluates the files and prints their results.
func (s *watchState) recheck(ctx context.Context, files []string) {
	if len(files) == 0 {
		return
	}

	s.mu.Lock()
	o := s.overlay
	eng := s.eng
	s.mu.Unlock()

	batchCtx, cancel := context.WithTimeout(ctx, watchRecheckTimeout)
	defer cancel()

	outcome := checkFiles(batchCtx, eng, builtin.Default(), o, files)

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		fmt.Println()
		ux.Muted(time.Now().Format("15:04:05"))
	}
	for _, res := range outcome.Results {
		printFileResult(res)
	}
	if !machine {
		errors, warnings, infos := severityTotals(outcome)
		ux.Summary(errors, warnings, infos)
	}
}
