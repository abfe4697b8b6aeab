// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/slotfill"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

// greetingClassifier predicts a greeting for every turn, which keeps the
// HTTP tests free of model dependencies while still exercising real routing.
type greetingClassifier struct{}

func (greetingClassifier) Classify(_ context.Context, _ []state.Message, _ state.Phase, _ string) (*state.Prediction, error) {
	return &state.Prediction{Intent: state.IntentGreeting, Confidence: 0.9}, nil
}

// emptyExtractor never extracts anything. The chat-level tests do not reach
// slot filling, so the engine only needs a well-behaved stub.
type emptyExtractor struct{}

func (emptyExtractor) Extract(_ context.Context, _ slotfill.ExtractRequest) (*slotfill.Extraction, error) {
	return &slotfill.Extraction{}, nil
}

func setupTestService(t *testing.T) *Service {
	t.Helper()

	manager, err := session.NewManager(session.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	engine, err := slotfill.NewEngine(emptyExtractor{}, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	orch, err := turn.New(turn.Config{
		Manager:    manager,
		Engine:     engine,
		Classifier: greetingClassifier{},
	})
	if err != nil {
		t.Fatalf("turn.New failed: %v", err)
	}
	svc, err := NewService(ServiceConfig{Orchestrator: orch, Manager: manager})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func setupTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

func postChat(t *testing.T, router *gin.Engine, req ChatRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, _ := http.NewRequest("POST", "/v1/dialog/chat", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func TestHandleChat_MintsSessionID(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	w := postChat(t, router, ChatRequest{Message: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("expected a minted session_id")
	}
	if resp.Reply == "" {
		t.Error("expected a non-empty reply")
	}
	if resp.TurnCount != 1 {
		t.Errorf("turn_count = %d, want 1", resp.TurnCount)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected an X-Request-ID response header")
	}
}

func TestHandleChat_MissingMessage(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	w := postChat(t, router, ChatRequest{SessionID: "s1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != "MISSING_MESSAGE" {
		t.Errorf("code = %q, want MISSING_MESSAGE", resp.Code)
	}
}

func TestHandleChat_KeepsSessionAcrossTurns(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	w := postChat(t, router, ChatRequest{SessionID: "regular", Message: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("first turn: status %d: %s", w.Code, w.Body.String())
	}

	w = postChat(t, router, ChatRequest{SessionID: "regular", Message: "hello again"})
	if w.Code != http.StatusOK {
		t.Fatalf("second turn: status %d: %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TurnCount != 2 {
		t.Errorf("turn_count = %d, want 2", resp.TurnCount)
	}
	if resp.SessionID != "regular" {
		t.Errorf("session_id = %q, want %q", resp.SessionID, "regular")
	}
}

func TestHandleGetSession_ReturnsMaskedHistory(t *testing.T) {
	svc := setupTestService(t)
	router := setupTestRouter(svc)

	w := postChat(t, router, ChatRequest{SessionID: "inspect-me", Message: "hi, reach me at jo@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat turn: status %d: %s", w.Code, w.Body.String())
	}

	req, _ := http.NewRequest("GET", "/v1/dialog/sessions/inspect-me", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID != "inspect-me" {
		t.Errorf("session_id = %q, want inspect-me", resp.SessionID)
	}
	if len(resp.History) != 2 {
		t.Fatalf("history length = %d, want 2 (user + assistant)", len(resp.History))
	}
	if got := resp.History[0].Content; got == "" || strings.Contains(got, "jo@example.com") {
		t.Errorf("stored user message leaked the raw email: %q", got)
	}
}

func TestHandleGetSession_NotFound(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	req, _ := http.NewRequest("GET", "/v1/dialog/sessions/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleResetSession_DropsState(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	w := postChat(t, router, ChatRequest{SessionID: "doomed", Message: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat turn: status %d", w.Code)
	}

	req, _ := http.NewRequest("POST", "/v1/dialog/sessions/doomed/reset", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	req, _ = http.NewRequest("GET", "/v1/dialog/sessions/doomed", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("after reset: expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleResetSession_UnknownSessionIsNoOp(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	req, _ := http.NewRequest("POST", "/v1/dialog/sessions/never-existed/reset", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestHandleListProducts(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	req, _ := http.NewRequest("GET", "/v1/dialog/products", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp ListProductsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Products) != 7 {
		t.Fatalf("products = %d, want 7", len(resp.Products))
	}

	byName := make(map[string]ProductInfo, len(resp.Products))
	for _, p := range resp.Products {
		byName[p.Name] = p
	}
	travel, ok := byName["travel"]
	if !ok {
		t.Fatal("travel missing from product list")
	}
	if travel.DisplayName != "Travel Insurance" {
		t.Errorf("travel display name = %q", travel.DisplayName)
	}
	if len(travel.Slots) != 3 {
		t.Errorf("travel slots = %v, want 3 entries", travel.Slots)
	}
	if car := byName["car"]; len(car.Slots) != 0 {
		t.Errorf("car slots = %v, want none", car.Slots)
	}
}

func TestHandleHealth(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	req, _ := http.NewRequest("GET", "/v1/dialog/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestHandleReady(t *testing.T) {
	router := setupTestRouter(setupTestService(t))

	req, _ := http.NewRequest("GET", "/v1/dialog/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}
