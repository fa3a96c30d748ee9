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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/history"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

const unpinnedTaskDoc = `
name: sample
stages:
  - stage: build
    jobs:
      - job: compile
        timeoutInMinutes: 30
        steps:
          - task: GoBuild
            displayName: Build binaries
`

func setupTestRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func defaultHandlers() *Handlers {
	return NewHandlers(engine.New(), builtin.Default(), overlay.Default())
}

func postCheck(t *testing.T, router *gin.Engine, req CheckRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, _ := http.NewRequest("POST", "/v1/gate/check", bytes.NewBuffer(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(defaultHandlers())

	req, _ := http.NewRequest("GET", "/v1/gate/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, resp.Version)
	}
	if resp.RuleCount != builtin.Default().Len() {
		t.Errorf("expected rule_count %d, got %d", builtin.Default().Len(), resp.RuleCount)
	}
	if resp.HistoryOK {
		t.Error("expected history_ok=false without a store")
	}
}

func TestHandlers_HandleRules(t *testing.T) {
	router := setupTestRouter(defaultHandlers())

	req, _ := http.NewRequest("GET", "/v1/gate/rules", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp RulesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Count != builtin.Default().Len() {
		t.Errorf("expected %d rules, got %d", builtin.Default().Len(), resp.Count)
	}
	if len(resp.Rules) == 0 || resp.Rules[0].ID != "TaskVersionPinned" {
		t.Errorf("expected first rule TaskVersionPinned, got %+v", resp.Rules)
	}
	for _, info := range resp.Rules {
		if info.Description == "" {
			t.Errorf("rule %s has empty description", info.ID)
		}
		if info.Category == "" || info.DefaultSeverity == "" {
			t.Errorf("rule %s missing metadata: %+v", info.ID, info)
		}
	}
}

func TestHandlers_HandleCheck(t *testing.T) {
	router := setupTestRouter(defaultHandlers())

	w := postCheck(t, router, CheckRequest{Document: unpinnedTaskDoc})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp CheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Report == nil {
		t.Fatal("response has no report")
	}
	if resp.Report.PipelineName != "sample" {
		t.Errorf("pipeline name = %q, want %q", resp.Report.PipelineName, "sample")
	}
	if len(resp.Report.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(resp.Report.Findings), resp.Report.Findings)
	}
	if resp.Report.Findings[0].RuleID != "TaskVersionPinned" {
		t.Errorf("finding rule = %q, want TaskVersionPinned", resp.Report.Findings[0].RuleID)
	}
	if resp.Report.RunID == "" {
		t.Error("report has no run id")
	}
}

func TestHandlers_HandleCheck_InlineOverlay(t *testing.T) {
	router := setupTestRouter(defaultHandlers())

	w := postCheck(t, router, CheckRequest{
		Document: unpinnedTaskDoc,
		Overlay:  "disabled_rules:\n  - TaskVersionPinned\n",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp CheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Report.Findings) != 0 {
		t.Errorf("expected 0 findings with the rule disabled, got %+v", resp.Report.Findings)
	}
}

func TestHandlers_HandleCheck_InvalidRequest(t *testing.T) {
	router := setupTestRouter(defaultHandlers())

	tests := []struct {
		name       string
		req        CheckRequest
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing document",
			req:        CheckRequest{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "whitespace document",
			req:        CheckRequest{Document: "   \n"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "EMPTY_DOCUMENT",
		},
		{
			name:       "unparseable yaml",
			req:        CheckRequest{Document: "{{ not yaml"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "PARSE_FAILED",
		},
		{
			name: "duplicate stage name",
			req: CheckRequest{Document: `
stages:
  - stage: build
  - stage: build
`},
			wantStatus: http.StatusBadRequest,
			wantCode:   "DUPLICATE_NAME",
		},
		{
			name: "stage cycle",
			req: CheckRequest{Document: `
stages:
  - stage: a
    dependsOn: b
  - stage: b
    dependsOn: a
`},
			wantStatus: http.StatusBadRequest,
			wantCode:   "CYCLE_DETECTED",
		},
		{
			name: "step with task and script",
			req: CheckRequest{Document: `
stages:
  - stage: s
    jobs:
      - job: j
        steps:
          - task: Cache@2
            script: echo hi
`},
			wantStatus: http.StatusBadRequest,
			wantCode:   "MALFORMED_NODE",
		},
		{
			name: "invalid overlay",
			req: CheckRequest{
				Document: unpinnedTaskDoc,
				Overlay:  "severity_overrides:\n  TaskVersionPinned: catastrophic\n",
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_OVERLAY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postCheck(t, router, tt.req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, errResp.Code)
			}
		})
	}
}

func TestHandlers_HandleListRuns_NotConfigured(t *testing.T) {
	router := setupTestRouter(defaultHandlers())

	req, _ := http.NewRequest("GET", "/v1/gate/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "HISTORY_NOT_CONFIGURED" {
		t.Errorf("expected code 'HISTORY_NOT_CONFIGURED', got %q", errResp.Code)
	}
}

func TestHandlers_Runs_WithHistory(t *testing.T) {
	store, err := history.Open(history.InMemoryConfig())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := engine.New(engine.WithHistory(store, "api"))
	handlers := NewHandlers(eng, builtin.Default(), overlay.Default()).WithHistory(store)
	router := setupTestRouter(handlers)

	// A completed check is recorded and then visible via /runs.
	w := postCheck(t, router, CheckRequest{Document: unpinnedTaskDoc})
	if w.Code != http.StatusOK {
		t.Fatalf("check failed: %d %s", w.Code, w.Body.String())
	}
	var checkResp CheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &checkResp); err != nil {
		t.Fatalf("failed to unmarshal check response: %v", err)
	}
	runID := checkResp.Report.RunID

	req, _ := http.NewRequest("GET", "/v1/gate/runs?limit=5", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list runs failed: %d %s", w.Code, w.Body.String())
	}

	var listResp struct {
		Runs  []history.RunRecord `json:"runs"`
		Count int                 `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to unmarshal list response: %v", err)
	}
	if listResp.Count != 1 || len(listResp.Runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %+v", listResp)
	}
	if listResp.Runs[0].ID != runID {
		t.Errorf("recorded run id = %q, want %q", listResp.Runs[0].ID, runID)
	}
	if listResp.Runs[0].Source != "api" {
		t.Errorf("recorded source = %q, want %q", listResp.Runs[0].Source, "api")
	}

	// Lookup by id prefix.
	req, _ = http.NewRequest("GET", "/v1/gate/runs/"+runID[:8], nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get run failed: %d %s", w.Code, w.Body.String())
	}

	var rec history.RunRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to unmarshal run record: %v", err)
	}
	if rec.ID != runID {
		t.Errorf("run record id = %q, want %q", rec.ID, runID)
	}

	// Unknown id yields 404.
	req, _ = http.NewRequest("GET", "/v1/gate/runs/ffffffff", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d for unknown run, got %d", http.StatusNotFound, w.Code)
	}
}
