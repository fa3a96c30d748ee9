// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-checks pipeline definitions when they change on
// disk. Events are debounced so a save storm produces one batch, and
// only YAML files reach the handler.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianGate/pkg/logging"
)

// ErrNoTargets is returned when New is called without any paths.
var ErrNoTargets = errors.New("no watch targets")

// Op is the kind of change observed on a pipeline file.
type Op int

const (
	// OpCreate indicates a file was created.
	OpCreate Op = iota

	// OpWrite indicates a file was modified.
	OpWrite

	// OpRemove indicates a file was deleted.
	OpRemove

	// OpRename indicates a file was renamed away.
	OpRename
)

// String returns the string representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one debounced pipeline-file event.
type Change struct {
	// Path is the changed file.
	Path string

	// Op is the kind of change.
	Op Op

	// Time is when the change was observed.
	Time time.Time
}

// Handler receives a debounced batch of changes, sorted by path with
// one entry per file.
type Handler func(changes []Change)

// Options configures the Watcher.
type Options struct {
	// Debounce is how long to wait for further events before invoking
	// the handler. Default: 300ms.
	Debounce time.Duration

	// IgnoreDirs are directory names skipped while walking and
	// watching. Default: [".git", "node_modules", "vendor"].
	IgnoreDirs []string

	// BufferSize is the event channel capacity. Default: 256.
	BufferSize int
}

// DefaultOptions returns the defaults used by the CLI watch command.
func DefaultOptions() Options {
	return Options{
		Debounce:   300 * time.Millisecond,
		IgnoreDirs: []string{".git", "node_modules", "vendor"},
		BufferSize: 256,
	}
}

// Watcher observes pipeline files and directories.
//
// # Description
//
// Each directory target is watched recursively; each file target is
// watched through its parent directory so editor rename-and-replace
// saves are still seen. Raw events funnel through a debounce window,
// are deduplicated per path, and reach the handler as one sorted
// batch.
//
// # Thread Safety
//
// Safe for concurrent use. The handler runs on a single goroutine.
type Watcher struct {
	dirRoots   []string
	fileRoots  map[string]struct{}
	fsw        *fsnotify.Watcher
	handler    Handler
	debounce   time.Duration
	ignoreDirs []string
	log        *logging.Logger

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// New creates a watcher for the given targets.
//
// Description:
//
//	Each target must exist: directories are watched recursively,
//	files through their parent directory. The watcher is inert until
//	Start is called.
//
// Inputs:
//   - paths: files or directories to watch. Must be non-empty.
//   - handler: invoked with each debounced batch.
//   - opts: optional configuration (nil uses DefaultOptions).
//
// Outputs:
//   - *Watcher: ready to Start.
//   - error: ErrNoTargets, a missing target, or watcher setup failure
func New(paths []string, handler Handler, opts *Options) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNoTargets
	}
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fileRoots:  make(map[string]struct{}),
		fsw:        fsw,
		handler:    handler,
		debounce:   opts.Debounce,
		ignoreDirs: opts.IgnoreDirs,
		log:        logging.Default(),
		changes:    make(chan Change, opts.BufferSize),
		done:       make(chan struct{}),
	}

	for _, p := range paths {
		clean := filepath.Clean(p)
		info, err := os.Stat(clean)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		if info.IsDir() {
			w.dirRoots = append(w.dirRoots, clean)
		} else {
			w.fileRoots[clean] = struct{}{}
		}
	}
	return w, nil
}

// Start begins watching. It is non-blocking; events flow until the
// context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	for _, root := range w.dirRoots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}
	// A file target is watched through its directory; the event
	// filter narrows back down to the file itself.
	for file := range w.fileRoots {
		if err := w.fsw.Add(filepath.Dir(file)); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive registers a directory tree with the fsnotify watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoredDir(filepath.Base(path)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) ignoredDir(name string) bool {
	for _, ignore := range w.ignoreDirs {
		if name == ignore {
			return true
		}
	}
	return false
}

// relevant decides whether an event path should reach the handler.
func (w *Watcher) relevant(path string) bool {
	clean := filepath.Clean(path)
	if _, ok := w.fileRoots[clean]; ok {
		return true
	}
	if !isPipelineFile(clean) {
		return false
	}
	for _, root := range w.dirRoots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func isPipelineFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// processEvents converts fsnotify events into Changes.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			// New directories under a watched root join the watch.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if w.underDirRoot(event.Name) && !w.ignoredDir(filepath.Base(event.Name)) {
						if err := w.addRecursive(event.Name); err != nil {
							w.log.Warn("failed to watch new directory",
								"path", event.Name, "error", err)
						}
					}
					continue
				}
			}

			if !w.relevant(event.Name) {
				continue
			}

			change := Change{
				Path: filepath.Clean(event.Name),
				Op:   convertOp(event.Op),
				Time: time.Now(),
			}
			select {
			case w.changes <- change:
			default:
				w.log.Warn("watch event buffer full, dropping change",
					"path", change.Path)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) underDirRoot(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range w.dirRoots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

// debounceLoop batches changes and invokes the handler once the
// window expires without further events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := dedupe(batch)
			if len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupe keeps the latest change per path and sorts the batch so the
// handler sees files in a stable order.
func dedupe(changes []Change) []Change {
	latest := make(map[string]Change, len(changes))
	for _, c := range changes {
		latest[c.Path] = c
	}
	out := make([]Change, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
