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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianGate/services/gate/telemetry"
)

// RequestLogger returns middleware that logs each request and records
// request metrics.
//
// Description:
//
//	Emits one structured log line per request with method, route,
//	status, and latency, carrying the request's trace ids when tracing
//	is enabled. The route template (not the raw path) labels the
//	Prometheus series so path parameters do not explode cardinality.
//
// Thread Safety: Safe for concurrent use.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)

		apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		apiRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

		logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With(
			"method", c.Request.Method,
			"endpoint", endpoint,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		switch {
		case status >= 500:
			logger.Error("Request failed")
		case status >= 400:
			logger.Warn("Request rejected")
		default:
			logger.Info("Request served")
		}
	}
}

// RateLimit returns middleware that applies a global token bucket to
// all requests.
//
// Description:
//
//	Requests beyond the configured rate receive 429 with a Retry-After
//	hint. The bucket is shared across clients; this protects the
//	evaluation engine, it is not per-user fairness.
//
// Inputs:
//
//	rps - Sustained requests per second.
//	burst - Burst capacity above the sustained rate.
//
// Thread Safety: Safe for concurrent use.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			rateLimitedTotal.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "Too many requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
