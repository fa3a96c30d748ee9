// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gated starts the AleutianGate policy API server.
//
// Gated checks pipeline definitions over HTTP:
//   - One-shot document checks with optional per-request config
//   - The rule catalog and recorded run history
//   - A WebSocket endpoint for interactive checks
//
// With -watch-dir it also watches a directory of pipeline files and
// pushes every re-check report to connected WebSocket clients.
//
// Usage:
//
//	go run ./cmd/gated
//	go run ./cmd/gated -port 9090
//	go run ./cmd/gated -watch-dir ./pipelines -config .gate.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/gate/health
//
//	# List the rule catalog
//	curl http://localhost:8080/v1/gate/rules | jq
//
//	# Check a pipeline document
//	curl -X POST http://localhost:8080/v1/gate/check \
//	  -H "Content-Type: application/json" \
//	  -d '{"document": "name: demo\nstages:\n  - name: build\n    jobs:\n      - name: compile\n        steps:\n          - script: make"}'
//
//	# Recorded runs
//	curl http://localhost:8080/v1/gate/runs | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianGate/pkg/extensions"
	"github.com/AleutianAI/AleutianGate/pkg/logging"
	"github.com/AleutianAI/AleutianGate/services/gate/api"
	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/history"
	"github.com/AleutianAI/AleutianGate/services/gate/loader"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
	"github.com/AleutianAI/AleutianGate/services/gate/telemetry"
	"github.com/AleutianAI/AleutianGate/services/gate/watch"
)

const (
	// Global rate limit across all clients.
	rateLimitRPS   = 50
	rateLimitBurst = 100

	// recheckTimeout bounds one watch-triggered evaluation.
	recheckTimeout = 30 * time.Second
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configFile := flag.String("config", "", "Gate config overlay applied to every check")
	historyPath := flag.String("history-dir", "", "Run history directory (default ~/.gate/history)")
	noHistory := flag.Bool("no-history", false, "Disable run history")
	watchDir := flag.String("watch-dir", "", "Watch this directory and push re-check reports to WebSocket clients")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:   level,
		Service: "gated",
	})
	// The api package logs through the slog default.
	slog.SetDefault(log.Slog())

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.ServiceName = "gated"
	telemetryCfg.ServiceVersion = api.ServiceVersion
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Warn("telemetry init failed, continuing without it", "error", err.Error())
	}

	o := overlay.Default()
	if *configFile != "" {
		loaded, err := overlay.Load(*configFile)
		if err != nil {
			log.Error("failed to load config", "path", *configFile, "error", err.Error())
			os.Exit(1)
		}
		o = loaded
	}

	store := openHistory(*noHistory, *historyPath, log)

	// Enterprise builds replace these with real auth, audit, and
	// redaction providers.
	ext := extensions.DefaultOptions()

	// One engine per surface so history records carry the right source.
	apiOpts := []engine.Option{engine.WithLogger(log)}
	if store != nil {
		apiOpts = append(apiOpts, engine.WithHistory(store, "api"))
	}
	handlers := api.NewHandlers(engine.New(apiOpts...), builtin.Default(), o).
		WithHistory(store).
		WithExtensions(ext)

	var watcher *watch.Watcher
	if *watchDir != "" {
		hub := api.NewWatchHub()
		handlers.WithWatchHub(hub)
		watcher, err = startWatch(*watchDir, o, store, hub, log)
		if err != nil {
			log.Error("failed to start watcher", "dir", *watchDir, "error", err.Error())
			os.Exit(1)
		}
	}

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}
	router.Use(api.RequestLogger())
	router.Use(api.RateLimit(rateLimitRPS, rateLimitBurst))
	router.Use(otelgin.Middleware("gated"))

	// Health stays outside the auth group so probes need no token.
	router.GET("/health", handlers.HandleHealth)
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	v1 := router.Group("/v1")
	v1.Use(api.AuthMiddleware(ext.AuthProvider))
	api.RegisterRoutes(v1, handlers)

	printBanner(*port, *watchDir)

	cleanup := func() {
		if watcher != nil {
			watcher.Stop()
		}
		if store != nil {
			store.Close()
		}
		if shutdownTelemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Warn("telemetry shutdown failed", "error", err.Error())
			}
		}
		log.Close()
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down gated")
		cleanup()
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting gated", "address", addr, "watch_dir", *watchDir)
	if err := router.Run(addr); err != nil {
		log.Error("failed to start server", "error", err.Error())
		cleanup()
		os.Exit(1)
	}
}

// openHistory opens the run history store. Best effort: the server is
// useful without history, so open failures degrade to a warning.
func openHistory(disabled bool, dir string, log *logging.Logger) *history.Store {
	if disabled {
		return nil
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warn("cannot resolve a history directory, run history disabled")
			return nil
		}
		dir = filepath.Join(home, ".gate", "history")
	}

	cfg := history.DefaultConfig()
	cfg.Path = dir
	cfg.Logger = log.Slog()
	store, err := history.Open(cfg)
	if err != nil {
		log.Warn("run history unavailable", "error", err.Error())
		return nil
	}
	return store
}

// startWatch wires the filesystem watcher to the WebSocket hub:
// every changed pipeline is re-checked and the report pushed to all
// connected sessions.
func startWatch(dir string, o *overlay.Overlay, store *history.Store, hub *api.WatchHub, log *logging.Logger) (*watch.Watcher, error) {
	opts := []engine.Option{engine.WithLogger(log)}
	if store != nil {
		opts = append(opts, engine.WithHistory(store, "watch"))
	}
	eng := engine.New(opts...)
	reg := builtin.Default()

	handler := func(changes []watch.Change) {
		for _, c := range changes {
			if c.Op == watch.OpRemove || c.Op == watch.OpRename {
				continue
			}
			p, err := loader.LoadFile(c.Path)
			if err != nil {
				log.Warn("changed pipeline failed to load",
					"path", c.Path, "error", err.Error())
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), recheckTimeout)
			rep := eng.Evaluate(ctx, p, reg, o)
			cancel()

			hub.Broadcast([]string{c.Path}, rep)
			log.Info("re-checked changed pipeline",
				"path", c.Path,
				"findings", rep.Total(),
				"worst", rep.Worst().String(),
				"sessions", hub.Len(),
			)
		}
	}

	w, err := watch.New([]string{dir}, handler, nil)
	if err != nil {
		return nil, err
	}
	if err := w.Start(context.Background()); err != nil {
		w.Stop()
		return nil, err
	}
	log.Info("watching for pipeline changes", "dir", dir)
	return w, nil
}

func printBanner(port int, watchDir string) {
	watchStatus := "DISABLED (set -watch-dir to enable)"
	if watchDir != "" {
		watchStatus = fmt.Sprintf("ENABLED (%s)", watchDir)
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                       ALEUTIAN GATE SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Pipeline policy checks over HTTP and WebSocket.                  ║
║  Watch Push: %-50s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/gate/health                   │  ║
║  │                                                             │  ║
║  │ # List the rule catalog                                     │  ║
║  │ curl http://localhost:%d/v1/gate/rules | jq               │  ║
║  │                                                             │  ║
║  │ # Check a pipeline document                                 │  ║
║  │ curl -X POST http://localhost:%d/v1/gate/check \          │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d "{\"document\": \"$(cat pipeline.yaml)\"}"             │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST /v1/gate/check      one-shot document check             ║
║  ├── GET  /v1/gate/rules      rule catalog                        ║
║  ├── GET  /v1/gate/runs       recorded runs (and /runs/:id)       ║
║  ├── GET  /v1/gate/watch      websocket checks + watch push       ║
║  └── GET  /metrics            prometheus metrics                  ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, watchStatus, port, port, port)
}
