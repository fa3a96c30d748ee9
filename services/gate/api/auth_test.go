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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGate/pkg/extensions"
)

// probeRouter wires the auth middleware in front of a route that echoes
// the authenticated user id.
func probeRouter(provider extensions.AuthProvider) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/probe", func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusOK, gin.H{"user": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": info.UserID})
	})
	return router
}

func getProbe(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/probe", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_DefaultProviderAllowsAnonymous(t *testing.T) {
	router := probeRouter(&extensions.NopAuthProvider{})

	// No Authorization header at all: the nop provider still
	// authenticates the request as the local user.
	w := getProbe(router, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.User != "local-user" {
		t.Errorf("authenticated user = %q, want %q", resp.User, "local-user")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	provider := &staticTokenProvider{token: "sekrit", userID: "ci-bot"}
	router := probeRouter(provider)

	w := getProbe(router, "Bearer sekrit")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.User != "ci-bot" {
		t.Errorf("authenticated user = %q, want %q", resp.User, "ci-bot")
	}
}

func TestAuthMiddleware_RejectsInvalidToken(t *testing.T) {
	provider := &staticTokenProvider{token: "sekrit", userID: "ci-bot"}
	router := probeRouter(provider)

	tests := []struct {
		name   string
		header string
	}{
		{name: "wrong token", header: "Bearer not-the-token"},
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic sekrit"},
		{name: "scheme without token", header: "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := getProbe(router, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d: %s",
					http.StatusUnauthorized, w.Code, w.Body.String())
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != "UNAUTHORIZED" {
				t.Errorf("expected code UNAUTHORIZED, got %q", errResp.Code)
			}
		})
	}
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	provider := &staticTokenProvider{token: "sekrit", userID: "ci-bot"}
	router := probeRouter(provider)

	for _, header := range []string{"Bearer sekrit", "bearer sekrit", "BEARER sekrit"} {
		if w := getProbe(router, header); w.Code != http.StatusOK {
			t.Errorf("header %q: expected status %d, got %d", header, http.StatusOK, w.Code)
		}
	}
}

func TestAuthMiddleware_ProviderFailure(t *testing.T) {
	router := probeRouter(&failingAuthProvider{})

	w := getProbe(router, "Bearer anything")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	// Infrastructure failures are distinguishable from rejected tokens.
	if errResp.Code != "AUTH_FAILED" {
		t.Errorf("expected code AUTH_FAILED, got %q", errResp.Code)
	}
}

func TestHandlers_Extensions_AuthzDenied(t *testing.T) {
	audit := &recordingAuditLogger{}
	handlers := defaultHandlers().WithExtensions(
		extensions.DefaultOptions().
			WithAuthz(&denyAllAuthz{}).
			WithAudit(audit))
	router := setupTestRouter(handlers)

	w := postCheck(t, router, CheckRequest{Document: unpinnedTaskDoc})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "FORBIDDEN" {
		t.Errorf("expected code FORBIDDEN, got %q", errResp.Code)
	}

	events := audit.recorded()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d: %+v", len(events), events)
	}
	if events[0].EventType != "authz.denied" || events[0].Outcome != "denied" {
		t.Errorf("unexpected audit event: %+v", events[0])
	}
	if events[0].ResourceType != "pipeline" || events[0].Action != "check" {
		t.Errorf("audit event should name the denied check: %+v", events[0])
	}
}

func TestHandlers_Extensions_RunsAuthzDenied(t *testing.T) {
	handlers := defaultHandlers().WithExtensions(
		extensions.DefaultOptions().WithAuthz(&denyAllAuthz{}))
	router := setupTestRouter(handlers)

	// Authorization is checked before history availability, so a denied
	// caller sees 403 rather than 503 on a server without a store.
	for _, path := range []string{"/v1/gate/runs", "/v1/gate/runs/abcd1234"} {
		req, _ := http.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("GET %s: expected status %d, got %d", path, http.StatusForbidden, w.Code)
		}
	}
}

func TestHandlers_Extensions_DocumentBlocked(t *testing.T) {
	audit := &recordingAuditLogger{}
	handlers := defaultHandlers().WithExtensions(
		extensions.DefaultOptions().
			WithFilter(&blockingFilter{reason: "live credential detected"}).
			WithAudit(audit))
	router := setupTestRouter(handlers)

	w := postCheck(t, router, CheckRequest{Document: unpinnedTaskDoc})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "DOCUMENT_BLOCKED" {
		t.Errorf("expected code DOCUMENT_BLOCKED, got %q", errResp.Code)
	}
	if errResp.Details != "live credential detected" {
		t.Errorf("expected block reason in details, got %q", errResp.Details)
	}

	events := audit.recorded()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d: %+v", len(events), events)
	}
	if events[0].EventType != "check.blocked" || events[0].Outcome != "blocked" {
		t.Errorf("unexpected audit event: %+v", events[0])
	}
}

func TestHandlers_Extensions_DocumentRewritten(t *testing.T) {
	handlers := defaultHandlers().WithExtensions(
		extensions.DefaultOptions().WithFilter(&rewritingFilter{}))
	router := setupTestRouter(handlers)

	w := postCheck(t, router, CheckRequest{Document: unpinnedTaskDoc})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp CheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	// The evaluation consumed the filtered document, not the original.
	if resp.Report.PipelineName != "redacted-sample" {
		t.Errorf("pipeline name = %q, want %q (filtered document)",
			resp.Report.PipelineName, "redacted-sample")
	}

	// Outbound finding messages passed through FilterFinding.
	if len(resp.Report.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %+v", resp.Report.Findings)
	}
	msg := resp.Report.Findings[0].Message
	if strings.Contains(msg, "GoBuild") {
		t.Errorf("finding message should be masked, got %q", msg)
	}
	if !strings.Contains(msg, "[MASKED]") {
		t.Errorf("finding message missing mask marker: %q", msg)
	}
}

func TestHandlers_Extensions_CheckAudited(t *testing.T) {
	audit := &recordingAuditLogger{}
	handlers := defaultHandlers().WithExtensions(
		extensions.DefaultOptions().WithAudit(audit))
	router := setupTestRouter(handlers)

	w := postCheck(t, router, CheckRequest{Document: unpinnedTaskDoc})
	if w.Code != http.StatusOK {
		t.Fatalf("check failed: %d %s", w.Code, w.Body.String())
	}
	var resp CheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	events := audit.recorded()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d: %+v", len(events), events)
	}
	ev := events[0]
	if ev.EventType != "check.run" || ev.Outcome != "success" {
		t.Errorf("unexpected audit event: %+v", ev)
	}
	// No auth middleware on this router, so the check is anonymous.
	if ev.UserID != "anonymous" {
		t.Errorf("audit user = %q, want %q", ev.UserID, "anonymous")
	}
	if ev.ResourceID != "sample" {
		t.Errorf("audit resource id = %q, want the pipeline name", ev.ResourceID)
	}
	if ev.Metadata["run_id"] != resp.Report.RunID {
		t.Errorf("audit run_id = %v, want %q", ev.Metadata["run_id"], resp.Report.RunID)
	}
	if ev.Metadata["findings"] != 1 {
		t.Errorf("audit findings = %v, want 1", ev.Metadata["findings"])
	}
	if ev.Metadata["worst"] != "warning" {
		t.Errorf("audit worst = %v, want %q", ev.Metadata["worst"], "warning")
	}
}

// ============================================================================
// Test fakes
// ============================================================================

// staticTokenProvider accepts exactly one bearer token.
type staticTokenProvider struct {
	token  string
	userID string
}

func (p *staticTokenProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	if token != p.token {
		return nil, fmt.Errorf("unknown token: %w", extensions.ErrUnauthorized)
	}
	return &extensions.AuthInfo{UserID: p.userID, Roles: []string{"operator"}}, nil
}

// failingAuthProvider simulates an unreachable identity provider.
type failingAuthProvider struct{}

func (p *failingAuthProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	return nil, errors.New("identity provider unreachable")
}

// denyAllAuthz refuses every action.
type denyAllAuthz struct{}

func (p *denyAllAuthz) Authorize(_ context.Context, req extensions.AuthzRequest) error {
	return fmt.Errorf("%s on %s is not permitted: %w",
		req.Action, req.ResourceType, extensions.ErrUnauthorized)
}

// recordingAuditLogger captures every logged event.
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (l *recordingAuditLogger) Log(_ context.Context, event extensions.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLogger) Query(_ context.Context, _ extensions.AuditFilter) ([]extensions.AuditEvent, error) {
	return l.recorded(), nil
}

func (l *recordingAuditLogger) Flush(_ context.Context) error { return nil }

func (l *recordingAuditLogger) recorded() []extensions.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]extensions.AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// blockingFilter rejects every submitted document.
type blockingFilter struct {
	reason string
}

func (f *blockingFilter) FilterDocument(_ context.Context, document string) (*extensions.FilterResult, error) {
	return &extensions.FilterResult{
		Original:    document,
		WasBlocked:  true,
		BlockReason: f.reason,
	}, nil
}

func (f *blockingFilter) FilterFinding(_ context.Context, message string) (*extensions.FilterResult, error) {
	return &extensions.FilterResult{Original: message, Filtered: message}, nil
}

// rewritingFilter renames the pipeline on the way in and masks task
// names in finding messages on the way out.
type rewritingFilter struct{}

func (f *rewritingFilter) FilterDocument(_ context.Context, document string) (*extensions.FilterResult, error) {
	filtered := strings.Replace(document, "name: sample", "name: redacted-sample", 1)
	return &extensions.FilterResult{
		Original:    document,
		Filtered:    filtered,
		WasModified: filtered != document,
	}, nil
}

func (f *rewritingFilter) FilterFinding(_ context.Context, message string) (*extensions.FilterResult, error) {
	filtered := strings.ReplaceAll(message, "GoBuild", "[MASKED]")
	return &extensions.FilterResult{
		Original:    message,
		Filtered:    filtered,
		WasModified: filtered != message,
	}, nil
}
