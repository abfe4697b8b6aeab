// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianDialog/services/dialog/llm"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// Summarizer condenses an archived history span into prose. Implementations
// must treat failure as normal; the compressor always has the extractive
// fallback behind them.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []state.Message, maxTokens int) (string, error)
}

// DefaultSummarizeTimeout bounds one LLM summarization call. The compressor
// runs in parallel with the classifier, so this mostly hides inside the
// classifier's latency.
const DefaultSummarizeTimeout = 8 * time.Second

// ModelSummarizer summarizes with an LLM.
type ModelSummarizer struct {
	model   llms.Model
	timeout time.Duration
}

// NewModelSummarizer wraps a model for summarization duty.
func NewModelSummarizer(model llms.Model, timeout time.Duration) (*ModelSummarizer, error) {
	if model == nil {
		return nil, fmt.Errorf("memory: model must not be nil")
	}
	if timeout <= 0 {
		timeout = DefaultSummarizeTimeout
	}
	return &ModelSummarizer{model: model, timeout: timeout}, nil
}

// Summarize condenses the span.
func (s *ModelSummarizer) Summarize(ctx context.Context, msgs []state.Message, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	system := fmt.Sprintf(
		"You summarize insurance consultation transcripts. Condense the conversation below "+
			"into at most %d words of plain prose. Keep decisions, stated preferences, amounts, "+
			"and product names; drop greetings and filler. Do not address the user; write in "+
			"third person past tense.", maxTokens/2)

	text, err := llm.GenerateText(ctx, s.model, system, renderTranscript(msgs),
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(maxTokens+128),
	)
	if err != nil {
		return "", fmt.Errorf("memory: summarizing span: %w", err)
	}
	return text, nil
}

// renderTranscript flattens messages for the summarization prompt. Tool
// traffic is reduced to a marker; its payloads rarely summarize well.
func renderTranscript(msgs []state.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case state.RoleUser:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
		case state.RoleAssistant:
			if len(m.ToolCallIDs) > 0 && m.Content == "" {
				sb.WriteString("Assistant: [consulted tools]")
			} else {
				sb.WriteString("Assistant: ")
				sb.WriteString(m.Content)
			}
		case state.RoleTool:
			sb.WriteString("Tool result: ")
			sb.WriteString(llm.Truncate(m.Content, 200))
		default:
			continue
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// extractiveSummary is the deterministic fallback: role-prefixed first lines
// of each user and assistant message, oldest first, within the token cap.
func extractiveSummary(msgs []state.Message, maxTokens int) string {
	var sb strings.Builder
	used := 0
	for _, m := range msgs {
		if m.Role != state.RoleUser && m.Role != state.RoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if idx := strings.IndexByte(content, '\n'); idx > 0 {
			content = content[:idx]
		}
		line := strings.ToUpper(m.Role[:1]) + m.Role[1:] + ": " + llm.Truncate(content, 160)
		cost := estimateTokens(line)
		if used+cost > maxTokens {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		used += cost
	}
	return strings.TrimSpace(sb.String())
}
