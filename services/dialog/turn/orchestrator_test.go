// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/handlers"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/slotfill"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// =============================================================================
// Stubs
// =============================================================================

type stubClassifier struct {
	pred *state.Prediction
	err  error
}

func (s *stubClassifier) Classify(_ context.Context, _ []state.Message, _ state.Phase, _ string) (*state.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pred, nil
}

type scriptedExtractor struct {
	extraction *slotfill.Extraction
	err        error
}

func (s *scriptedExtractor) Extract(_ context.Context, _ slotfill.ExtractRequest) (*slotfill.Extraction, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.extraction == nil {
		return &slotfill.Extraction{}, nil
	}
	return s.extraction, nil
}

type captureRecorder struct {
	events chan TurnEvent
}

func (c *captureRecorder) RecordTurn(_ context.Context, ev TurnEvent) error {
	c.events <- ev
	return nil
}

type captureArchiver struct {
	transcripts chan *state.Session
}

func (c *captureArchiver) ArchiveTranscript(_ context.Context, sess *state.Session) error {
	c.transcripts <- sess
	return nil
}

type fixture struct {
	orch  *Orchestrator
	store *session.MemoryStore
}

func newFixture(t *testing.T, cfg Config, extractor slotfill.Extractor) *fixture {
	t.Helper()

	store := session.NewMemoryStore()
	manager, err := session.NewManager(store)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	cfg.Manager = manager

	if extractor == nil {
		extractor = &scriptedExtractor{}
	}
	engine, err := slotfill.NewEngine(extractor, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	cfg.Engine = engine

	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{orch: orch, store: store}
}

func (f *fixture) seed(t *testing.T, sess *state.Session) {
	t.Helper()
	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("seeding session failed: %v", err)
	}
}

func (f *fixture) stored(t *testing.T, id string) *state.Session {
	t.Helper()
	sess, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("loading committed session failed: %v", err)
	}
	return sess
}

func midCollectionSession(id string) *state.Session {
	sess := state.New(id)
	sess.Product = "travel"
	sess.Phase = state.PhaseSlotFilling
	sess.Slots = map[string]string{"coverage_scope": "self"}
	sess.PendingSlot = "destination"
	return sess
}

// =============================================================================
// Input and routing basics
// =============================================================================

func TestHandleTurn_RejectsEmptyUtterance(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentChat}}}, nil)

	_, err := f.orch.HandleTurn(context.Background(), "s1", "   ")
	if !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}
}

func TestHandleTurn_GreetingDispatch(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentGreeting}}}, nil)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "hello there")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Handler != state.HandlerGreet {
		t.Fatalf("Handler = %q, want greet", res.Handler)
	}
	if !strings.Contains(res.Response, "Travel Insurance") {
		t.Fatalf("greeting should list products: %q", res.Response)
	}

	stored := f.stored(t, "s1")
	if stored.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", stored.TurnCount)
	}
	if len(stored.History) != 2 {
		t.Fatalf("history length = %d, want user+assistant", len(stored.History))
	}
	if stored.History[0].Role != state.RoleUser || stored.History[1].Role != state.RoleAssistant {
		t.Fatalf("unexpected history roles: %+v", stored.History)
	}
}

func TestHandleTurn_RecommendIntentLocksProductAndStartsCollection(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{
		pred: &state.Prediction{Intent: state.IntentRecommend, Product: "travel"},
	}}, nil)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "recommend me travel insurance")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Handler != state.HandlerSlotCollection {
		t.Fatalf("Handler = %q, want slot_collection", res.Handler)
	}

	stored := f.stored(t, "s1")
	if stored.Product != "travel" {
		t.Fatalf("Product = %q, want travel", stored.Product)
	}
	if stored.PendingSlot != "coverage_scope" {
		t.Fatalf("PendingSlot = %q, want coverage_scope first by priority", stored.PendingSlot)
	}
	if stored.Phase != state.PhaseSlotFilling {
		t.Fatalf("Phase = %q, want slot_filling", stored.Phase)
	}
}

func TestHandleTurn_PendingSlotResumes(t *testing.T) {
	extractor := &scriptedExtractor{extraction: &slotfill.Extraction{
		Updates: []slotfill.SlotUpdate{{Slot: "destination", Value: "japan", Confidence: 0.9}},
	}}
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentChat}}}, extractor)
	f.seed(t, midCollectionSession("s1"))

	res, err := f.orch.HandleTurn(context.Background(), "s1", "japan")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Decision != "resume_slots" {
		t.Fatalf("Decision = %q, want resume_slots", res.Decision)
	}

	stored := f.stored(t, "s1")
	if stored.Slots["destination"] != "japan" {
		t.Fatalf("destination = %q, want japan", stored.Slots["destination"])
	}
	if stored.PendingSlot != "duration" {
		t.Fatalf("PendingSlot = %q, want duration next", stored.PendingSlot)
	}
}

func TestHandleTurn_FinalSlotRollsIntoRecommendation(t *testing.T) {
	extractor := &scriptedExtractor{extraction: &slotfill.Extraction{
		Updates: []slotfill.SlotUpdate{{Slot: "duration", Value: "10", Confidence: 0.9}},
	}}
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentChat}}}, extractor)

	sess := midCollectionSession("s1")
	sess.Slots["destination"] = "japan"
	sess.PendingSlot = "duration"
	f.seed(t, sess)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "10 days")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !strings.Contains(res.Response, "Silver") {
		t.Fatalf("expected the recommendation in the same reply, got %q", res.Response)
	}

	stored := f.stored(t, "s1")
	if !stored.RecGiven {
		t.Fatal("RecGiven should be set after the recommendation")
	}
	if stored.Reference.LastTier != "Silver" {
		t.Fatalf("LastTier = %q, want Silver", stored.Reference.LastTier)
	}
	if stored.Phase != state.PhaseRecommendation {
		t.Fatalf("Phase = %q, want recommendation", stored.Phase)
	}
}

func TestHandleTurn_ProductSwitchBlocked(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{
		pred: &state.Prediction{Intent: state.IntentPurchase, Product: "car"},
	}}, nil)
	f.seed(t, midCollectionSession("s1"))

	res, err := f.orch.HandleTurn(context.Background(), "s1", "actually, car insurance please")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Decision != "block" {
		t.Fatalf("Decision = %q, want block", res.Decision)
	}
	if !strings.Contains(res.Response, "Restart Session") {
		t.Fatalf("refusal should explain how to restart: %q", res.Response)
	}

	stored := f.stored(t, "s1")
	if stored.Product != "travel" {
		t.Fatalf("Product = %q, switch must never be written", stored.Product)
	}
	if stored.PendingSlot != "destination" {
		t.Fatalf("PendingSlot = %q, pending question must survive the refusal", stored.PendingSlot)
	}
}

// =============================================================================
// Degraded paths
// =============================================================================

func TestHandleTurn_ClassifierFailureRoutesDegraded(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{err: errors.New("model down")}}, nil)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "hello?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Handler != state.HandlerChat {
		t.Fatalf("Handler = %q, want chat fallback", res.Handler)
	}
	if !res.Degraded {
		t.Fatal("degraded routing should be reported on the result")
	}
}

func TestHandleTurn_ClassifierFailureMidCollectionKeepsCollecting(t *testing.T) {
	extractor := &scriptedExtractor{extraction: &slotfill.Extraction{
		Updates: []slotfill.SlotUpdate{{Slot: "destination", Value: "korea", Confidence: 0.8}},
	}}
	f := newFixture(t, Config{Classifier: &stubClassifier{err: errors.New("model down")}}, extractor)
	f.seed(t, midCollectionSession("s1"))

	_, err := f.orch.HandleTurn(context.Background(), "s1", "korea")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	stored := f.stored(t, "s1")
	if stored.Slots["destination"] != "korea" {
		t.Fatalf("slot answer lost on degraded turn: %v", stored.Slots)
	}
}

func TestHandleTurn_HandlerErrorServesFallback(t *testing.T) {
	registry := handlers.NewRegistry(nil)
	failing := &failingHandler{name: state.HandlerGreet}
	if err := registry.Register(failing); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	f := newFixture(t, Config{
		Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentGreeting}},
		Registry:   registry,
	}, nil)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "hi")
	if err != nil {
		t.Fatalf("handler errors must not escape HandleTurn, got %v", err)
	}
	if res.Response != fallbackReply {
		t.Fatalf("Response = %q, want the fallback reply", res.Response)
	}

	stored := f.stored(t, "s1")
	if stored.HandlerErrorStreak != 1 {
		t.Fatalf("HandlerErrorStreak = %d, want 1", stored.HandlerErrorStreak)
	}
	if !stored.DegradedMode {
		t.Fatal("DegradedMode should be set after a failed handler")
	}
}

type failingHandler struct{ name string }

func (h *failingHandler) Name() string { return h.name }

func (h *failingHandler) Handle(_ context.Context, _ *handlers.Request) (*handlers.Response, error) {
	return nil, errors.New("boom")
}

// =============================================================================
// Recovery ladder
// =============================================================================

func TestHandleTurn_ErrorStreakTriggersSelfCorrection(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentChat}}}, nil)

	sess := state.New("s1")
	sess.HandlerErrorStreak = 2
	f.seed(t, sess)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "hello?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Handler != state.HandlerSelfCorrection {
		t.Fatalf("Handler = %q, want self_correction", res.Handler)
	}
	if !strings.Contains(res.Response, "back on track") {
		t.Fatalf("unexpected self-correction reply: %q", res.Response)
	}

	stored := f.stored(t, "s1")
	if stored.SelfCorrectionCount != 1 {
		t.Fatalf("SelfCorrectionCount = %d, want 1", stored.SelfCorrectionCount)
	}
	if stored.HandlerErrorStreak != 0 {
		t.Fatalf("HandlerErrorStreak = %d, want a clean slate", stored.HandlerErrorStreak)
	}
}

func TestHandleTurn_TooManyCorrectionsEscalates(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentChat}}}, nil)

	sess := state.New("s1")
	sess.SelfCorrectionCount = 3
	f.seed(t, sess)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "this still is not working")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Handler != state.HandlerLiveAgent {
		t.Fatalf("Handler = %q, want live_agent", res.Handler)
	}

	stored := f.stored(t, "s1")
	if !stored.LiveAgentAsked {
		t.Fatal("LiveAgentAsked should be set on escalation")
	}
	if stored.Phase != state.PhaseEscalation {
		t.Fatalf("Phase = %q, want escalation", stored.Phase)
	}
}

// =============================================================================
// Reset and restart phrases
// =============================================================================

func TestHandleTurn_RestartPhraseWorksWithoutClassifier(t *testing.T) {
	archiver := &captureArchiver{transcripts: make(chan *state.Session, 1)}
	f := newFixture(t, Config{Archiver: archiver}, nil)

	sess := midCollectionSession("s1")
	sess.History = []state.Message{
		{Role: state.RoleUser, Content: "travel insurance please"},
		{Role: state.RoleAssistant, Content: "Who is the cover for?"},
	}
	f.seed(t, sess)

	res, err := f.orch.HandleTurn(context.Background(), "s1", "Restart Session!")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if res.Decision != "reset" {
		t.Fatalf("Decision = %q, want reset", res.Decision)
	}
	if res.Response != resetConfirmation {
		t.Fatalf("Response = %q, want the reset confirmation", res.Response)
	}

	stored := f.stored(t, "s1")
	if stored.Product != "" || stored.PendingSlot != "" || len(stored.Slots) != 0 {
		t.Fatalf("reset left state behind: %+v", stored)
	}

	select {
	case transcript := <-archiver.transcripts:
		if transcript.Product != "travel" {
			t.Fatalf("archived transcript should be the pre-reset session, got product %q", transcript.Product)
		}
		if len(transcript.History) == 0 {
			t.Fatal("archived transcript should carry the history")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("archiver was never invoked")
	}
}

// =============================================================================
// Privacy and analytics
// =============================================================================

func TestHandleTurn_MasksPIIBeforeHistory(t *testing.T) {
	f := newFixture(t, Config{Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentChat}}}, nil)

	_, err := f.orch.HandleTurn(context.Background(), "s1", "reach me at jane.doe@example.com please")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	stored := f.stored(t, "s1")
	userMsg := stored.History[0].Content
	if strings.Contains(userMsg, "jane.doe@example.com") {
		t.Fatalf("raw email leaked into history: %q", userMsg)
	}
	if !strings.Contains(userMsg, "[MASKED:email]") {
		t.Fatalf("expected masked email marker, got %q", userMsg)
	}
}

func TestHandleTurn_RecorderReceivesTurnEvent(t *testing.T) {
	recorder := &captureRecorder{events: make(chan TurnEvent, 1)}
	f := newFixture(t, Config{
		Classifier: &stubClassifier{pred: &state.Prediction{Intent: state.IntentGreeting}},
		Recorder:   recorder,
	}, nil)

	if _, err := f.orch.HandleTurn(context.Background(), "s1", "hello"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	select {
	case ev := <-recorder.events:
		if ev.Handler != state.HandlerGreet {
			t.Fatalf("event handler = %q, want greet", ev.Handler)
		}
		if ev.SessionID != "s1" || ev.TurnCount != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recorder was never invoked")
	}
}
