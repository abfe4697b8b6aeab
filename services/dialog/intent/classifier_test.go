// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// stubModel cans one model response and records the prompts it was given.
type stubModel struct {
	response string
	err      error
	system   string
	user     string
}

func (s *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		var text strings.Builder
		for _, part := range m.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				text.WriteString(tp.Text)
			}
		}
		switch m.Role {
		case llms.ChatMessageTypeSystem:
			s.system = text.String()
		case llms.ChatMessageTypeHuman:
			s.user = text.String()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: s.response}},
	}, nil
}

func (s *stubModel) Call(ctx context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func newClassifier(t *testing.T, model llms.Model) *ModelClassifier {
	t.Helper()
	c, err := NewModelClassifier(model, nil, DefaultModelClassifierConfig(), nil)
	if err != nil {
		t.Fatalf("NewModelClassifier failed: %v", err)
	}
	return c
}

func chatHistory(lines ...string) []state.Message {
	out := make([]state.Message, 0, len(lines))
	for i, l := range lines {
		role := state.RoleUser
		if i%2 == 1 {
			role = state.RoleAssistant
		}
		out = append(out, state.Message{Role: role, Content: l})
	}
	return out
}

func TestNewModelClassifier_RequiresModel(t *testing.T) {
	if _, err := NewModelClassifier(nil, nil, DefaultModelClassifierConfig(), nil); err == nil {
		t.Fatal("nil model accepted")
	}
}

func TestClassify_ParsesPrediction(t *testing.T) {
	stub := &stubModel{response: "```json\n" +
		`{"intent": "purchase", "product": "travel", "reset": false, "live_agent": false, "confidence": 0.93, "rationale": "wants the family plan"}` +
		"\n```"}
	c := newClassifier(t, stub)

	pred, err := c.Classify(context.Background(),
		chatHistory("I want travel insurance", "Great, let me help", "sign me up"),
		state.PhaseSlotFilling, "")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if pred.Intent != state.IntentPurchase {
		t.Errorf("Intent = %q, want purchase", pred.Intent)
	}
	if pred.Product != "travel" {
		t.Errorf("Product = %q, want travel", pred.Product)
	}
	if pred.Reset || pred.LiveAgent {
		t.Errorf("flags = reset:%v live_agent:%v, want both false", pred.Reset, pred.LiveAgent)
	}
	if pred.Confidence != 0.93 {
		t.Errorf("Confidence = %v, want 0.93", pred.Confidence)
	}
}

func TestClassify_NormalizesModelSloppiness(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantIntent  string
		wantProduct string
		wantConf    float64
	}{
		{
			name:       "uppercase intent with padding",
			response:   `{"intent": " Greeting ", "confidence": 0.8}`,
			wantIntent: "greeting",
			wantConf:   0.8,
		},
		{
			name:        "product none becomes empty",
			response:    `{"intent": "chat", "product": "None", "confidence": 0.5}`,
			wantIntent:  "chat",
			wantProduct: "",
			wantConf:    0.5,
		},
		{
			name:       "confidence clamped high",
			response:   `{"intent": "info", "confidence": 1.7}`,
			wantIntent: "info",
			wantConf:   1.0,
		},
		{
			name:       "confidence clamped low",
			response:   `{"intent": "info", "confidence": -0.3}`,
			wantIntent: "info",
			wantConf:   0.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClassifier(t, &stubModel{response: tt.response})
			pred, err := c.Classify(context.Background(), chatHistory("hello"), state.PhaseGreeting, "")
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if pred.Intent != tt.wantIntent {
				t.Errorf("Intent = %q, want %q", pred.Intent, tt.wantIntent)
			}
			if pred.Product != tt.wantProduct {
				t.Errorf("Product = %q, want %q", pred.Product, tt.wantProduct)
			}
			if pred.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", pred.Confidence, tt.wantConf)
			}
		})
	}
}

func TestClassify_FlagsPassThrough(t *testing.T) {
	c := newClassifier(t, &stubModel{
		response: `{"intent": "chat", "reset": true, "live_agent": true, "confidence": 0.99}`,
	})
	pred, err := c.Classify(context.Background(), chatHistory("start over and get me a human"), state.PhaseSlotFilling, "")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !pred.Reset {
		t.Error("Reset flag dropped")
	}
	if !pred.LiveAgent {
		t.Error("LiveAgent flag dropped")
	}
}

func TestClassify_FailuresWrapSentinel(t *testing.T) {
	tests := []struct {
		name string
		stub *stubModel
	}{
		{name: "model error", stub: &stubModel{err: errors.New("connection refused")}},
		{name: "garbage output", stub: &stubModel{response: "I think the user wants to buy."}},
		{name: "json without intent", stub: &stubModel{response: `{"product": "travel"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClassifier(t, tt.stub)
			_, err := c.Classify(context.Background(), chatHistory("hi"), state.PhaseGreeting, "")
			if !errors.Is(err, ErrClassification) {
				t.Errorf("err = %v, want ErrClassification", err)
			}
		})
	}
}

func TestBuildSystemPrompt_ListsIntentsAndProducts(t *testing.T) {
	c := newClassifier(t, &stubModel{response: `{"intent": "chat"}`})
	prompt := c.buildSystemPrompt()

	for _, intent := range []string{"greeting", "info", "compare", "purchase", "recommend", "summary", "capabilities", "chat"} {
		if !strings.Contains(prompt, "- "+intent+":") {
			t.Errorf("prompt missing intent %q", intent)
		}
	}
	if !strings.Contains(prompt, "travel") {
		t.Error("prompt does not name the travel product")
	}
	if !strings.Contains(prompt, "JSON") {
		t.Error("prompt does not pin the output format")
	}
}

func TestRenderContext_WindowsRecentMessages(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("message number %d", i))
	}
	got := renderContext(chatHistory(lines...), state.PhaseComparison, "earlier they asked about maid insurance")

	if strings.Contains(got, "message number 0") {
		t.Error("context includes messages beyond the recent window")
	}
	if !strings.Contains(got, "message number 29") {
		t.Error("context dropped the final message")
	}
	if !strings.Contains(got, "earlier they asked about maid insurance") {
		t.Error("context dropped the compressed summary")
	}
	if !strings.Contains(got, "Current phase: comparison") {
		t.Error("context dropped the phase")
	}
}

func TestRenderContext_SkipsToolMessages(t *testing.T) {
	messages := []state.Message{
		{Role: state.RoleUser, Content: "compare the tiers"},
		{Role: state.RoleTool, ToolCallID: "c1", Content: `{"internal": "payload"}`},
		{Role: state.RoleAssistant, Content: "Here is the comparison."},
	}
	got := renderContext(messages, state.PhaseComparison, "")
	if strings.Contains(got, "payload") {
		t.Errorf("tool payload leaked into classifier context:\n%s", got)
	}
}

func TestClassify_SendsConversationToModel(t *testing.T) {
	stub := &stubModel{response: `{"intent": "chat", "confidence": 0.4}`}
	c := newClassifier(t, stub)

	_, err := c.Classify(context.Background(),
		chatHistory("tell me about maid insurance"),
		state.PhaseInfoQuery, "customer prefers annual plans")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !strings.Contains(stub.user, "tell me about maid insurance") {
		t.Error("user turn not sent to the model")
	}
	if !strings.Contains(stub.user, "customer prefers annual plans") {
		t.Error("summary not sent to the model")
	}
	if !strings.Contains(stub.system, "intent classifier") {
		t.Error("system prompt not sent to the model")
	}
}
