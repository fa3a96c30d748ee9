// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists check-run summaries in a local BadgerDB.
//
// Records live under keys "run:<started>:<id>" with a fixed-width UTC
// timestamp, so lexicographic key order is chronological and listing
// newest-first is a reverse scan. Only summaries are stored, not the
// full finding list; history answers "what ran, when, how bad", the
// report itself answers "what exactly".
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
// This package follows Apache 2.0 guidelines for attribution and usage.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianGate/services/gate/engine"
)

// keyPrefix namespaces run records.
const keyPrefix = "run:"

// keyTimeLayout is RFC3339 with fixed nanosecond width. Zero padding
// keeps key order chronological; time.RFC3339Nano trims trailing
// zeros and would not.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrRunNotFound is returned when no record matches an id.
	ErrRunNotFound = errors.New("run not found")

	// ErrNilReport is returned when Record is called without a report.
	ErrNilReport = errors.New("nil report")
)

// Config holds configuration for the history store.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil, that
	// logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// GC rewrites a value log file.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and
// periodic GC.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// RunRecord is one persisted run summary.
type RunRecord struct {
	// ID is the run's uuid.
	ID string `json:"id"`

	// PipelineName is the checked pipeline's name ("" when unnamed).
	PipelineName string `json:"pipeline_name,omitempty"`

	// Source labels the surface that triggered the run (cli, api,
	// watch).
	Source string `json:"source"`

	// StartedAt is when evaluation began (UTC).
	StartedAt time.Time `json:"started_at"`

	// DurationMS is the evaluation wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Summary counts findings per severity name.
	Summary map[string]int `json:"summary"`

	// Total is the number of findings.
	Total int `json:"total"`

	// Incomplete mirrors the report's cancellation flag.
	Incomplete bool `json:"incomplete"`

	// Worst is the highest severity present ("info" when clean).
	Worst string `json:"worst"`
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the run-history database.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// Open creates and opens the history store.
//
// Description:
//
//	Opens BadgerDB at the configured path (creating the directory) or
//	in memory, and starts the GC goroutine when GCInterval is set.
//
// Inputs:
//   - cfg: store configuration. Path is required unless InMemory.
//
// Outputs:
//   - *Store: the opened store. Caller must Close when done.
//   - error: invalid configuration or database open failure
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call once.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Record persists a run summary. Implements engine.RunRecorder.
func (s *Store) Record(ctx context.Context, rep *engine.Report, source string) error {
	if rep == nil {
		return ErrNilReport
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	rec := fromReport(rep, source)
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	key := runKey(rec.StartedAt, rec.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration: seek just past the prefix range.
		for it.Seek(seekLast()); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode run record %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the newest record whose ID starts with idPrefix.
func (s *Store) Get(ctx context.Context, idPrefix string) (*RunRecord, error) {
	if idPrefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	records, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if strings.HasPrefix(records[i].ID, idPrefix) {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idPrefix)
}

// Prune deletes all but the newest keep records, returning the number
// removed. keep <= 0 clears the history.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	if keep < 0 {
		keep = 0
	}

	// Forward scan lists keys oldest first.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(keyPrefix)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(keys) <= keep {
		return 0, nil
	}
	doomed := keys[:len(keys)-keep]
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return len(doomed), nil
}

// fromReport projects a report onto its stored summary.
func fromReport(rep *engine.Report, source string) RunRecord {
	summary := make(map[string]int, len(rep.Summary))
	for sev, n := range rep.Summary {
		summary[sev.String()] = n
	}
	return RunRecord{
		ID:           rep.RunID,
		PipelineName: rep.PipelineName,
		Source:       source,
		StartedAt:    rep.StartedAt.UTC(),
		DurationMS:   rep.Duration.Milliseconds(),
		Summary:      summary,
		Total:        rep.Total(),
		Incomplete:   rep.Incomplete,
		Worst:        rep.Worst().String(),
	}
}

func runKey(started time.Time, id string) []byte {
	return []byte(keyPrefix + started.UTC().Format(keyTimeLayout) + ":" + id)
}

// seekLast returns a key past every run key, for reverse iteration.
func seekLast() []byte {
	return []byte(keyPrefix + "\xff")
}

// gcRunner periodically triggers value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) start() {
	go r.run()
}

// stop signals the GC goroutine and waits for it to finish.
func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("history value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		// ErrNoRewrite means no GC was needed, not an error.
		if r.logger != nil {
			r.logger.Warn("history value log GC error", slog.String("error", err.Error()))
		}
	}
}
