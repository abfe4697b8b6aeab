// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slotfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDialog/services/dialog/llm"
)

// =============================================================================
// Extraction types
// =============================================================================

// SlotSpec describes one slot for the extraction prompt: what we are
// listening for and what shape a valid answer takes.
type SlotSpec struct {
	Name   string
	Type   string
	Values []string
	Unit   string
}

// SlotUpdate is one slot value the extractor heard in the utterance.
type SlotUpdate struct {
	Slot       string  `json:"slot"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Extraction is everything one utterance yielded: zero or more slot values,
// plus at most one side question the user asked us in return.
type Extraction struct {
	Updates      []SlotUpdate `json:"updates"`
	SideQuestion string       `json:"side_question"`
}

// ExtractRequest is the full context for one extraction call.
type ExtractRequest struct {
	// Utterance is the raw user message for this turn.
	Utterance string

	// Product is the canonical product under discussion.
	Product string

	// PendingSlot is the slot we asked about last turn, empty on the first
	// slot turn. The extractor biases toward it but is free to hear answers
	// for any listed slot.
	PendingSlot string

	// Filled maps already-collected slots to their values.
	Filled map[string]string

	// Specs describes every slot still wanted, pending slot included.
	Specs []SlotSpec
}

// Extractor turns an utterance into structured slot updates. Implementations
// must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*Extraction, error)
}

// =============================================================================
// ModelExtractor - LLM-backed extraction
// =============================================================================

// ModelExtractorConfig configures the LLM slot extractor.
type ModelExtractorConfig struct {
	// Timeout is the maximum time for one extraction call.
	// Default: 10s.
	Timeout time.Duration `json:"timeout"`

	// Temperature controls randomness. Extraction wants determinism.
	// Default: 0.1.
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length.
	// Default: 512.
	MaxTokens int `json:"max_tokens"`
}

// DefaultModelExtractorConfig returns sensible defaults.
func DefaultModelExtractorConfig() ModelExtractorConfig {
	return ModelExtractorConfig{
		Timeout:     10 * time.Second,
		Temperature: 0.1,
		MaxTokens:   512,
	}
}

// ModelExtractor extracts slot values with a small LLM acting as a semantic
// parser. It understands answers the rule engine alone cannot, like "just
// me and my wife" for coverage_scope, and it notices when the user answered
// a different slot than the one we asked about.
//
// # Thread Safety
//
// ModelExtractor is safe for concurrent use.
type ModelExtractor struct {
	model  llms.Model
	config ModelExtractorConfig
	logger *slog.Logger
}

// NewModelExtractor creates an LLM-backed extractor.
func NewModelExtractor(model llms.Model, config ModelExtractorConfig, logger *slog.Logger) (*ModelExtractor, error) {
	if model == nil {
		return nil, fmt.Errorf("slotfill: model must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultModelExtractorConfig().Timeout
	}
	return &ModelExtractor{model: model, config: config, logger: logger}, nil
}

// Extract runs one extraction call.
//
// Description:
//
//	Builds a prompt describing the open slots, sends the utterance, and
//	parses the JSON reply. Unknown slot names are dropped here rather than
//	left for validation; confidence is clamped to [0,1]. Errors mean the
//	caller should proceed as if the utterance contained no slot values.
func (e *ModelExtractor) Extract(ctx context.Context, req ExtractRequest) (*Extraction, error) {
	ctx, span := tracer.Start(ctx, "ModelExtractor.Extract")
	defer span.End()

	span.SetAttributes(
		attribute.String("extract.product", req.Product),
		attribute.String("extract.pending_slot", req.PendingSlot),
		attribute.String("utterance_preview", llm.Truncate(req.Utterance, 100)),
	)

	start := time.Now()
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	response, err := llm.GenerateText(ctx, e.model,
		e.buildSystemPrompt(req),
		fmt.Sprintf("User message: %s", req.Utterance),
		llms.WithTemperature(e.config.Temperature),
		llms.WithMaxTokens(e.config.MaxTokens),
	)
	if err != nil {
		duration := time.Since(start)
		if ctx.Err() == context.DeadlineExceeded {
			span.SetStatus(codes.Error, "timeout")
			extractionCalls.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("slotfill: extraction timed out after %s: %w", duration.Round(time.Millisecond), err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		extractionCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("slotfill: extraction chat failed: %w", err)
	}

	extraction, err := e.parseResponse(response, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		extractionCalls.WithLabelValues("parse_error").Inc()
		return nil, fmt.Errorf("slotfill: extraction parse failed: %w", err)
	}

	extractionCalls.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.Int("extract.updates", len(extraction.Updates)),
		attribute.Bool("extract.side_question", extraction.SideQuestion != ""),
		attribute.Int64("extract.duration_ms", time.Since(start).Milliseconds()),
	)
	return extraction, nil
}

// buildSystemPrompt constructs the system prompt for slot extraction.
func (e *ModelExtractor) buildSystemPrompt(req ExtractRequest) string {
	var sb strings.Builder

	sb.WriteString(`You are a slot extraction assistant for an insurance sales conversation.

Given the user's message, extract values for the open slots listed below.
Rules:
- The user may answer the pending slot, a different listed slot, or several at once. Extract whatever they actually provide.
- Copy values as the user said them; do not convert units or expand abbreviations. Validation happens elsewhere.
- Never invent a value the user did not state. An empty updates list is a valid answer.
- If the user also asks a question of their own (for example asking what a term means), put that question verbatim in "side_question". Otherwise leave it empty.
- Ignore small talk and pleasantries.

`)

	sb.WriteString(fmt.Sprintf("Product under discussion: %s\n", req.Product))
	if req.PendingSlot != "" {
		sb.WriteString(fmt.Sprintf("Pending slot (we just asked about this): %s\n", req.PendingSlot))
	}

	sb.WriteString("Open slots:\n")
	for _, spec := range req.Specs {
		sb.WriteString("  - " + spec.Name + " (" + spec.Type)
		if spec.Unit != "" {
			sb.WriteString(", in " + spec.Unit)
		}
		sb.WriteString(")")
		if len(spec.Values) > 0 {
			sb.WriteString(": one of " + strings.Join(spec.Values, ", "))
		}
		sb.WriteString("\n")
	}

	if len(req.Filled) > 0 {
		sb.WriteString("Already collected (do not re-extract unless the user changes them):\n")
		for slot, value := range req.Filled {
			sb.WriteString(fmt.Sprintf("  - %s = %s\n", slot, value))
		}
	}

	sb.WriteString(`
Respond with ONLY a JSON object of this exact shape:
{"updates": [{"slot": "<name>", "value": "<text>", "confidence": 0.0}], "side_question": ""}
Do not include any explanation or markdown formatting.
`)

	return sb.String()
}

// parseResponse extracts the JSON extraction from the LLM response.
func (e *ModelExtractor) parseResponse(response string, req ExtractRequest) (*Extraction, error) {
	jsonStr, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}

	var extraction Extraction
	if err := json.Unmarshal([]byte(jsonStr), &extraction); err != nil {
		return nil, fmt.Errorf("parsing extraction JSON: %w (response: %s)", err, llm.Truncate(jsonStr, 100))
	}

	known := make(map[string]bool, len(req.Specs))
	for _, spec := range req.Specs {
		known[spec.Name] = true
	}

	kept := extraction.Updates[:0]
	for _, update := range extraction.Updates {
		update.Slot = strings.TrimSpace(strings.ToLower(update.Slot))
		update.Value = strings.TrimSpace(update.Value)
		if update.Value == "" {
			continue
		}
		if !known[update.Slot] {
			e.logger.Debug("dropping update for unknown slot",
				slog.String("slot", update.Slot),
				slog.String("product", req.Product),
			)
			continue
		}
		if update.Confidence < 0 {
			update.Confidence = 0
		}
		if update.Confidence > 1 {
			update.Confidence = 1
		}
		kept = append(kept, update)
	}
	extraction.Updates = kept
	extraction.SideQuestion = strings.TrimSpace(extraction.SideQuestion)
	return &extraction, nil
}
