// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes pipeline checking over HTTP and WebSocket.
package api

import (
	"github.com/AleutianAI/AleutianGate/services/gate/engine"
)

// ServiceVersion is the gate API version.
const ServiceVersion = "0.1.0"

// CheckRequest is the body for POST /v1/gate/check.
type CheckRequest struct {
	// Document is the pipeline definition YAML.
	Document string `json:"document" binding:"required"`

	// Overlay is an optional configuration overlay YAML applied for
	// this request only. Empty uses the server's overlay.
	Overlay string `json:"overlay,omitempty"`
}

// CheckResponse is the result of a check run.
type CheckResponse struct {
	// Report is the full evaluation report.
	Report *engine.Report `json:"report"`
}

// RuleInfo describes one registered rule.
type RuleInfo struct {
	// ID is the rule identifier.
	ID string `json:"id"`

	// Category is the rule's category name.
	Category string `json:"category"`

	// DefaultSeverity is the severity before overlay overrides.
	DefaultSeverity string `json:"default_severity"`

	// Description is the rule's one-line description.
	Description string `json:"description"`
}

// RulesResponse lists the registered rules in registration order.
type RulesResponse struct {
	// Rules are the registered rules.
	Rules []RuleInfo `json:"rules"`

	// Count is the number of rules.
	Count int `json:"count"`
}

// RunsQuery holds query parameters for GET /v1/gate/runs.
type RunsQuery struct {
	// Limit caps the number of runs returned (0 = all).
	Limit int `form:"limit"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	// Status is "ok" when the service is healthy.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// RuleCount is the number of registered rules.
	RuleCount int `json:"rule_count"`

	// HistoryOK is true when the run-history store is available.
	HistoryOK bool `json:"history_ok"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
