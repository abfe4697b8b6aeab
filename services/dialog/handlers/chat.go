// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianDialog/services/dialog/llm"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// DefaultChatTimeout bounds one conversational model call. Chat is the
// lowest-stakes handler, so it gets the shortest leash.
const DefaultChatTimeout = 8 * time.Second

// chatWindow is how many trailing messages the responder model sees.
const chatWindow = 8

const chatSystemPrompt = `You are a friendly insurance assistant for a Singapore insurer.
Keep replies short and conversational, two or three sentences at most.
You may chat about everyday topics, but steer gently back to insurance when natural.
Never invent prices, benefits, or policy terms. If asked for specifics you do not know, offer to look them up or hand over to an advisor.
Never ask for personal identifiers such as NRIC, full name, or payment details.`

// chatFallbackText serves whenever the model is absent, degraded mode is on,
// or the call fails. Deliberately generic so it is safe on any turn.
const chatFallbackText = "Happy to help! I'm best with insurance questions. " +
	"Ask me about any of our plans, or tell me what you'd like to cover."

// ChatHandler produces open conversation. With a model configured it asks the
// responder for a short grounded reply; without one (or when the session is
// degraded) it answers with fixed text. Model failures degrade to the fixed
// text rather than erroring: small talk is never worth an escalation.
type ChatHandler struct {
	model   llms.Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewChatHandler creates the chat handler. model may be nil, which pins the
// handler to its fallback text.
func NewChatHandler(model llms.Model, timeout time.Duration, logger *slog.Logger) *ChatHandler {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{model: model, timeout: timeout, logger: logger}
}

func (h *ChatHandler) Name() string { return state.HandlerChat }

func (h *ChatHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if h.model == nil || (req.Session != nil && req.Session.DegradedMode) {
		return &Response{Text: chatFallbackText, Degraded: h.model == nil}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	reply, err := llm.GenerateText(ctx, h.model, chatSystemPrompt, h.renderUser(req),
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(256),
	)
	if err != nil {
		h.logger.Warn("chat model failed, using fallback text",
			slog.String("error", err.Error()),
		)
		return &Response{Text: chatFallbackText, Degraded: true}, nil
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return &Response{Text: chatFallbackText, Degraded: true}, nil
	}
	return &Response{Text: reply}, nil
}

// renderUser flattens the recent exchange plus the new utterance into the
// single user block GenerateText expects.
func (h *ChatHandler) renderUser(req *Request) string {
	var sb strings.Builder
	if req.Session != nil {
		history := req.Session.History
		start := len(history) - chatWindow
		if start < 0 {
			start = 0
		}
		for _, m := range history[start:] {
			switch m.Role {
			case state.RoleUser:
				fmt.Fprintf(&sb, "User: %s\n", m.Content)
			case state.RoleAssistant:
				if m.Content != "" {
					fmt.Fprintf(&sb, "Assistant: %s\n", m.Content)
				}
			}
		}
	}
	fmt.Fprintf(&sb, "User: %s", req.Utterance)
	return sb.String()
}
