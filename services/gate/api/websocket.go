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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianGate/pkg/extensions"
	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/loader"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/telemetry"
)

// WSCheckRequest is one inbound WebSocket frame: a pipeline document
// to check, with an optional per-frame overlay.
type WSCheckRequest struct {
	Document string `json:"document"`
	Overlay  string `json:"overlay,omitempty"`
}

// WSCheckResponse is one outbound WebSocket frame. Action is
// "session_created", "check_complete", "check_failed", or "report"
// (server-side watch push).
type WSCheckResponse struct {
	Action string   `json:"action"`
	Paths  []string `json:"paths,omitempty"`
	Report any      `json:"report,omitempty"`
	Error  string   `json:"error,omitempty"`
	Code   string   `json:"code,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	// Pipeline documents are capped at 1MB, so modest buffers suffice.
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsSession serializes writes to one connection. The read loop and the
// hub broadcast on different goroutines; gorilla connections allow only
// one concurrent writer.
type wsSession struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.conn.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "session_id", s.id, "error", err)
	}
	return err
}

// =============================================================================
// WATCH HUB
// =============================================================================

// WatchHub fans server-side watch reports out to every connected
// session. The daemon's file watcher calls Broadcast after each
// re-check; sessions join on upgrade and leave when their read loop
// ends or a push write fails.
//
// Thread Safety: Safe for concurrent use.
type WatchHub struct {
	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

// NewWatchHub returns an empty hub.
func NewWatchHub() *WatchHub {
	return &WatchHub{sessions: make(map[*wsSession]struct{})}
}

func (h *WatchHub) add(s *wsSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
	activeWatchSessions.Set(float64(len(h.sessions)))
}

func (h *WatchHub) remove(s *wsSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
	activeWatchSessions.Set(float64(len(h.sessions)))
}

// Len returns the number of connected sessions.
func (h *WatchHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Broadcast pushes a fresh report to every session. Sessions whose
// write fails are dropped and closed; the report carries the changed
// paths that triggered the run.
func (h *WatchHub) Broadcast(paths []string, rep *engine.Report) {
	h.mu.Lock()
	snapshot := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	frame := WSCheckResponse{
		Action: "report",
		Paths:  paths,
		Report: rep,
	}
	for _, s := range snapshot {
		if err := s.send(frame); err != nil {
			h.remove(s)
			s.conn.Close()
		}
	}
}

// =============================================================================
// WEBSOCKET HANDLER
// =============================================================================

// HandleWatchWebSocket handles GET /v1/gate/watch.
//
// Description:
//
//	Upgrades to a WebSocket session. The client may stream pipeline
//	documents, one per frame; the server evaluates each and streams
//	back a report frame. Invalid documents produce an error frame and
//	the session stays open. When the daemon runs with a watch
//	directory, the session additionally receives "report" frames
//	pushed after every file-triggered re-check.
//
//	Frames pass the same authorization and content filtering as
//	HandleCheck; a denied session receives one error frame and closes.
func (h *Handlers) HandleWatchWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	session := &wsSession{id: uuid.New().String(), conn: ws}
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).
		With("session_id", session.id, "handler", "HandleWatchWebSocket")

	// Same gate as the REST check path; a session is a standing check.
	userID, authInfo := identityFor(c)
	if err := h.ext.AuthzProvider.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User:         authInfo,
		Action:       "watch",
		ResourceType: "pipeline",
	}); err != nil {
		logger.Warn("Watch session denied", "user", userID, "error", err)
		_ = h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "authz.denied",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "watch",
			ResourceType: "pipeline",
			Outcome:      "denied",
			Metadata:     map[string]any{"reason": err.Error()},
		})
		_ = session.send(WSCheckResponse{
			Action: "check_failed",
			Error:  "Access denied",
			Code:   "FORBIDDEN",
		})
		return
	}

	logger.Info("Watch session started")
	wsSessionsTotal.Inc()

	if h.hub != nil {
		h.hub.add(session)
		defer h.hub.remove(session)
	}

	if err := session.send(map[string]interface{}{
		"action":    "session_created",
		"sessionId": session.id,
	}); err != nil {
		return
	}

	for {
		var req WSCheckRequest
		if err := ws.ReadJSON(&req); err != nil {
			logger.Info("Watch session closed", "error", err.Error())
			break
		}

		if req.Document == "" {
			if err := session.send(WSCheckResponse{
				Action: "check_failed",
				Error:  "document must not be empty",
				Code:   "INVALID_REQUEST",
			}); err != nil {
				return
			}
			continue
		}

		o := h.overlay
		if req.Overlay != "" {
			parsed, overlayErr := overlay.Parse([]byte(req.Overlay))
			if overlayErr != nil {
				if err := session.send(WSCheckResponse{
					Action: "check_failed",
					Error:  overlayErr.Error(),
					Code:   "INVALID_OVERLAY",
				}); err != nil {
					return
				}
				continue
			}
			o = parsed
		}

		filtered, filterErr := h.ext.ContentFilter.FilterDocument(c.Request.Context(), req.Document)
		if filterErr != nil {
			logger.Error("Document filter failed", "error", filterErr)
			if err := session.send(WSCheckResponse{
				Action: "check_failed",
				Error:  "Content filter failed",
				Code:   "FILTER_FAILED",
			}); err != nil {
				return
			}
			continue
		}
		if filtered.WasBlocked {
			logger.Warn("Document blocked by content filter",
				"user", userID, "reason", filtered.BlockReason)
			_ = h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
				EventType:    "check.blocked",
				Timestamp:    time.Now().UTC(),
				UserID:       userID,
				Action:       "watch",
				ResourceType: "pipeline",
				Outcome:      "blocked",
				Metadata:     map[string]any{"reason": filtered.BlockReason},
			})
			if err := session.send(WSCheckResponse{
				Action: "check_failed",
				Error:  filtered.BlockReason,
				Code:   "DOCUMENT_BLOCKED",
			}); err != nil {
				return
			}
			continue
		}

		p, parseErr := loader.ParseBytes([]byte(filtered.Filtered))
		if parseErr != nil {
			_, code := documentErrorStatus(parseErr)
			if err := session.send(WSCheckResponse{
				Action: "check_failed",
				Error:  parseErr.Error(),
				Code:   code,
			}); err != nil {
				return
			}
			continue
		}

		rep := h.engine.Evaluate(c.Request.Context(), p, h.registry, o)
		if err := h.redactFindings(c.Request.Context(), rep); err != nil {
			logger.Error("Finding filter failed", "error", err)
			if err := session.send(WSCheckResponse{
				Action: "check_failed",
				Error:  "Content filter failed",
				Code:   "FILTER_FAILED",
			}); err != nil {
				return
			}
			continue
		}
		logger.Info("Watch check complete",
			"run_id", rep.RunID,
			"findings", rep.Total(),
			"worst", rep.Worst().String())

		if err := session.send(WSCheckResponse{
			Action: "check_complete",
			Report: rep,
		}); err != nil {
			return
		}
	}
}
