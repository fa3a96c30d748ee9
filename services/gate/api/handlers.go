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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGate/pkg/extensions"
	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/history"
	"github.com/AleutianAI/AleutianGate/services/gate/loader"
	"github.com/AleutianAI/AleutianGate/services/gate/model"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule"
	"github.com/AleutianAI/AleutianGate/services/gate/telemetry"
)

// Handlers contains the HTTP handlers for the gate API.
type Handlers struct {
	engine   *engine.Engine
	registry *rule.Registry
	overlay  *overlay.Overlay
	store    *history.Store
	hub      *WatchHub
	ext      extensions.ServiceOptions
}

// NewHandlers creates handlers around an engine, a rule registry, and
// the server's configuration overlay.
func NewHandlers(eng *engine.Engine, reg *rule.Registry, o *overlay.Overlay) *Handlers {
	return &Handlers{
		engine:   eng,
		registry: reg,
		overlay:  o,
		ext:      extensions.DefaultOptions(),
	}
}

// WithHistory sets the run-history store for the /runs endpoints.
func (h *Handlers) WithHistory(store *history.Store) *Handlers {
	h.store = store
	return h
}

// WithWatchHub attaches the hub that pushes server-side watch reports
// into websocket sessions.
func (h *Handlers) WithWatchHub(hub *WatchHub) *Handlers {
	h.hub = hub
	return h
}

// WithExtensions sets the enterprise extension points. Fields left nil
// keep their no-op defaults, so partial option structs are safe.
func (h *Handlers) WithExtensions(opts extensions.ServiceOptions) *Handlers {
	if opts.AuthProvider != nil {
		h.ext.AuthProvider = opts.AuthProvider
	}
	if opts.AuthzProvider != nil {
		h.ext.AuthzProvider = opts.AuthzProvider
	}
	if opts.AuditLogger != nil {
		h.ext.AuditLogger = opts.AuditLogger
	}
	if opts.ContentFilter != nil {
		h.ext.ContentFilter = opts.ContentFilter
	}
	return h
}

// HandleCheck handles POST /v1/gate/check.
//
// Description:
//
//	Parses the submitted pipeline document, evaluates every enabled
//	rule against it, and returns the findings report. An inline
//	overlay in the request replaces the server overlay for this run
//	only.
//
// Request Body:
//
//	CheckRequest
//
// Response:
//
//	200 OK: CheckResponse
//	400 Bad Request: Invalid body, overlay, or pipeline document
//	403 Forbidden: Denied by authorization or content policy
//	413 Request Entity Too Large: Document over the size cap
//	500 Internal Server Error: Evaluation error
func (h *Handlers) HandleCheck(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleCheck")

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	// Enterprise can restrict who may submit checks.
	userID, authInfo := identityFor(c)
	if err := h.ext.AuthzProvider.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User:         authInfo,
		Action:       "check",
		ResourceType: "pipeline",
	}); err != nil {
		logger.Warn("Check denied", "user", userID, "error", err)
		_ = h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "authz.denied",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "check",
			ResourceType: "pipeline",
			Outcome:      "denied",
			Metadata: map[string]any{
				"request_id": requestID,
				"reason":     err.Error(),
			},
		})
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error: "Access denied",
			Code:  "FORBIDDEN",
		})
		return
	}

	o := h.overlay
	if req.Overlay != "" {
		parsed, err := overlay.Parse([]byte(req.Overlay))
		if err != nil {
			logger.Warn("Invalid request overlay", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid configuration overlay",
				Code:    "INVALID_OVERLAY",
				Details: err.Error(),
			})
			return
		}
		o = parsed
	}

	// Enterprise can redact or reject submitted documents.
	filtered, err := h.ext.ContentFilter.FilterDocument(c.Request.Context(), req.Document)
	if err != nil {
		logger.Error("Document filter failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Content filter failed",
			Code:  "FILTER_FAILED",
		})
		return
	}
	if filtered.WasBlocked {
		logger.Warn("Document blocked by content filter",
			"user", userID, "reason", filtered.BlockReason)
		_ = h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "check.blocked",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "check",
			ResourceType: "pipeline",
			Outcome:      "blocked",
			Metadata: map[string]any{
				"request_id": requestID,
				"reason":     filtered.BlockReason,
			},
		})
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "Document blocked by content filter",
			Code:    "DOCUMENT_BLOCKED",
			Details: filtered.BlockReason,
		})
		return
	}

	p, err := loader.ParseBytes([]byte(filtered.Filtered))
	if err != nil {
		status, code := documentErrorStatus(err)
		logger.Warn("Rejected pipeline document", "error", err, "code", code)
		c.JSON(status, ErrorResponse{
			Error: err.Error(),
			Code:  code,
		})
		return
	}

	rep := h.engine.Evaluate(c.Request.Context(), p, h.registry, o)

	if err := h.redactFindings(c.Request.Context(), rep); err != nil {
		logger.Error("Finding filter failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Content filter failed",
			Code:  "FILTER_FAILED",
		})
		return
	}

	logger.Info("Check complete",
		"run_id", rep.RunID,
		"pipeline", rep.PipelineName,
		"findings", rep.Total(),
		"worst", rep.Worst().String())

	_ = h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    "check.run",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       "check",
		ResourceType: "pipeline",
		ResourceID:   rep.PipelineName,
		Outcome:      "success",
		Metadata: map[string]any{
			"request_id": requestID,
			"run_id":     rep.RunID,
			"findings":   rep.Total(),
			"worst":      rep.Worst().String(),
		},
	})

	c.JSON(http.StatusOK, CheckResponse{Report: rep})
}

// redactFindings passes every finding message through the content
// filter before the report leaves the server. Run records hold summary
// counts only, so this affects the response alone.
func (h *Handlers) redactFindings(ctx context.Context, rep *engine.Report) error {
	for i := range rep.Findings {
		res, err := h.ext.ContentFilter.FilterFinding(ctx, rep.Findings[i].Message)
		if err != nil {
			return err
		}
		if res.WasModified {
			rep.Findings[i].Message = res.Filtered
		}
	}
	return nil
}

// documentErrorStatus maps a parse failure to an HTTP status and code.
func documentErrorStatus(err error) (int, string) {
	if me, ok := model.AsModelError(err); ok {
		switch me.Kind {
		case model.KindDuplicateName:
			return http.StatusBadRequest, "DUPLICATE_NAME"
		case model.KindUnresolvedReference:
			return http.StatusBadRequest, "UNRESOLVED_REFERENCE"
		case model.KindCycleDetected:
			return http.StatusBadRequest, "CYCLE_DETECTED"
		case model.KindMalformedNode:
			return http.StatusBadRequest, "MALFORMED_NODE"
		}
	}
	if errors.Is(err, loader.ErrPipelineTooLarge) {
		return http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE"
	}
	if errors.Is(err, model.ErrEmptyDocument) || errors.Is(err, model.ErrNilTree) {
		return http.StatusBadRequest, "EMPTY_DOCUMENT"
	}
	return http.StatusBadRequest, "PARSE_FAILED"
}

// HandleRules handles GET /v1/gate/rules.
//
// Response:
//
//	200 OK: RulesResponse with rules in registration order
func (h *Handlers) HandleRules(c *gin.Context) {
	rules := h.registry.All()
	infos := make([]RuleInfo, 0, len(rules))
	for _, r := range rules {
		infos = append(infos, RuleInfo{
			ID:              r.ID(),
			Category:        r.Category().String(),
			DefaultSeverity: r.DefaultSeverity().String(),
			Description:     r.Describe(),
		})
	}
	c.JSON(http.StatusOK, RulesResponse{Rules: infos, Count: len(infos)})
}

// HandleListRuns handles GET /v1/gate/runs.
//
// Query Parameters:
//
//	limit: Maximum number of runs to return (optional, 0 = all)
//
// Response:
//
//	200 OK: list of run records, newest first
//	403 Forbidden: Denied by authorization
//	503 Service Unavailable: History store not configured
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleListRuns")

	if !h.authorizeRunRead(c, logger, requestID, "") {
		return
	}

	if h.store == nil {
		logger.Warn("Run listing requested but history not configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Run history is not enabled on this server",
			Code:  "HISTORY_NOT_CONFIGURED",
		})
		return
	}

	var q RunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid query parameters",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	runs, err := h.store.List(c.Request.Context(), q.Limit)
	if err != nil {
		logger.Error("Run listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "HISTORY_LIST_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// HandleGetRun handles GET /v1/gate/runs/:id.
//
// Path Parameters:
//
//	id: Run id or unique id prefix
//
// Response:
//
//	200 OK: the run record
//	403 Forbidden: Denied by authorization
//	404 Not Found: no run matches the id
//	503 Service Unavailable: History store not configured
func (h *Handlers) HandleGetRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleGetRun")

	if !h.authorizeRunRead(c, logger, requestID, c.Param("id")) {
		return
	}

	if h.store == nil {
		logger.Warn("Run lookup requested but history not configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Run history is not enabled on this server",
			Code:  "HISTORY_NOT_CONFIGURED",
		})
		return
	}

	id := c.Param("id")
	rec, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "No run matches the given id",
				Code:  "RUN_NOT_FOUND",
			})
			return
		}
		logger.Error("Run lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "HISTORY_GET_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// HandleHealth handles GET /v1/gate/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   ServiceVersion,
		RuleCount: h.registry.Len(),
		HistoryOK: h.store != nil,
	})
}

// authorizeRunRead checks the "read run" permission and writes the 403
// response on denial. Returns false when the request was denied.
func (h *Handlers) authorizeRunRead(c *gin.Context, logger *slog.Logger, requestID, runID string) bool {
	userID, authInfo := identityFor(c)
	err := h.ext.AuthzProvider.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User:         authInfo,
		Action:       "read",
		ResourceType: "run",
		ResourceID:   runID,
	})
	if err == nil {
		return true
	}

	logger.Warn("Run access denied", "user", userID, "error", err)
	_ = h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    "authz.denied",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       "read",
		ResourceType: "run",
		ResourceID:   runID,
		Outcome:      "denied",
		Metadata: map[string]any{
			"request_id": requestID,
			"reason":     err.Error(),
		},
	})
	c.JSON(http.StatusForbidden, ErrorResponse{
		Error: "Access denied",
		Code:  "FORBIDDEN",
	})
	return false
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// requestLogger returns the request-scoped logger. When the tracing
// middleware has a span open, log lines carry its trace and span ids.
func requestLogger(c *gin.Context, requestID, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).
		With("request_id", requestID, "handler", handler)
}
