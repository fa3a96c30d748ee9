// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gate_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"endpoint"})

	wsSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_api_watch_sessions_total",
		Help: "Total WebSocket watch sessions opened",
	})

	activeWatchSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_api_active_watch_sessions",
		Help: "WebSocket watch sessions currently connected",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_api_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
)
