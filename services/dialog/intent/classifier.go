// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// # Description
//
// Package intent wraps the classifier model call. Given the recent
// conversation, the current phase and the compressed summary, it returns a
// structured Prediction: the user's intent, any insurance product they
// mentioned, and whether they asked to reset or to speak to a human.
//
// The classifier is a pure adapter. It never touches session state and it
// never decides anything; the routing supervisor owns every decision made
// from its output. All failure modes surface as ErrClassification so the
// orchestrator can fall back to degraded routing instead of failing the turn.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDialog/services/dialog/llm"
	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultClassifyTimeout bounds one classifier call. On expiry the
	// caller routes the turn degraded rather than waiting.
	DefaultClassifyTimeout = 10 * time.Second

	// recentWindow is how many trailing messages the classifier sees raw;
	// everything older arrives through the compressed summary.
	recentWindow = 12
)

// ErrClassification marks any classifier failure: model error, timeout, or
// unparseable output. Callers check it with errors.Is and fall back to
// degraded routing.
var ErrClassification = errors.New("intent: classification failed")

// =============================================================================
// Metrics
// =============================================================================

var tracer = otel.Tracer("aleutian.dialog.intent")

var (
	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_intent",
		Name:      "classifications_total",
		Help:      "Classifier calls by outcome.",
	}, []string{"outcome"})

	predictedIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_intent",
		Name:      "predicted_total",
		Help:      "Successful predictions by intent.",
	}, []string{"intent"})

	classifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_intent",
		Name:      "classify_duration_seconds",
		Help:      "Latency of one classifier call.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// =============================================================================
// Classifier
// =============================================================================

// Classifier turns conversation context into a structured prediction.
type Classifier interface {
	Classify(ctx context.Context, messages []state.Message, phase state.Phase, summary string) (*state.Prediction, error)
}

// ModelClassifierConfig holds the model-call knobs.
type ModelClassifierConfig struct {
	Timeout     time.Duration `json:"timeout"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// DefaultModelClassifierConfig returns the standard classifier settings.
// Temperature stays at zero; classification wants the mode, not a sample.
func DefaultModelClassifierConfig() ModelClassifierConfig {
	return ModelClassifierConfig{
		Timeout:     DefaultClassifyTimeout,
		Temperature: 0.0,
		MaxTokens:   384,
	}
}

// ModelClassifier implements Classifier over a langchaingo model.
type ModelClassifier struct {
	model   llms.Model
	catalog *products.Catalog
	config  ModelClassifierConfig
	logger  *slog.Logger
}

// NewModelClassifier creates a classifier.
//
// Description:
//
//	model is required. A nil catalog falls back to the embedded product
//	catalog; the catalog only feeds product names into the prompt, it is
//	never used to rewrite the model's answer.
func NewModelClassifier(model llms.Model, catalog *products.Catalog, config ModelClassifierConfig, logger *slog.Logger) (*ModelClassifier, error) {
	if model == nil {
		return nil, fmt.Errorf("intent: model is required")
	}
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("intent: loading product catalog: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClassifyTimeout
	}
	return &ModelClassifier{
		model:   model,
		catalog: catalog,
		config:  config,
		logger:  logger,
	}, nil
}

// Classify runs one classification over the conversation context.
func (c *ModelClassifier) Classify(ctx context.Context, messages []state.Message, phase state.Phase, summary string) (*state.Prediction, error) {
	ctx, span := tracer.Start(ctx, "ModelClassifier.Classify")
	defer span.End()
	start := time.Now()
	defer func() { classifyDuration.Observe(time.Since(start).Seconds()) }()

	span.SetAttributes(
		attribute.String("dialog.phase", string(phase)),
		attribute.Int("dialog.messages", len(messages)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	response, err := llm.GenerateText(ctx, c.model,
		c.buildSystemPrompt(),
		renderContext(messages, phase, summary),
		llms.WithTemperature(c.config.Temperature),
		llms.WithMaxTokens(c.config.MaxTokens),
	)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		classifications.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "classifier model call failed")
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	pred, err := parsePrediction(response)
	if err != nil {
		classifications.WithLabelValues("parse_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "classifier output unparseable")
		c.logger.Warn("classifier returned unparseable output",
			slog.String("response", llm.Truncate(response, 200)),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	classifications.WithLabelValues("ok").Inc()
	predictedIntents.WithLabelValues(intentLabel(pred.Intent)).Inc()
	span.SetAttributes(
		attribute.String("dialog.intent", pred.Intent),
		attribute.Float64("dialog.confidence", pred.Confidence),
	)
	c.logger.Debug("classified turn",
		slog.String("intent", pred.Intent),
		slog.String("product", pred.Product),
		slog.Bool("reset", pred.Reset),
		slog.Bool("live_agent", pred.LiveAgent),
		slog.Float64("confidence", pred.Confidence),
	)
	return pred, nil
}

// =============================================================================
// Prompt assembly
// =============================================================================

func (c *ModelClassifier) buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are the intent classifier for an insurance sales assistant.\n")
	sb.WriteString("Read the conversation and classify the FINAL user message.\n\n")

	sb.WriteString("Intents:\n")
	sb.WriteString("- greeting: hello, small talk openers, introductions\n")
	sb.WriteString("- info: questions about what a product covers, terms, pricing\n")
	sb.WriteString("- compare: asking to compare plans, tiers, or products\n")
	sb.WriteString("- purchase: wanting to buy, sign up, or proceed with a plan\n")
	sb.WriteString("- recommend: asking which plan or tier suits them\n")
	sb.WriteString("- summary: asking to recap what was discussed so far\n")
	sb.WriteString("- capabilities: asking what this assistant can do\n")
	sb.WriteString("- chat: anything else, including answers to a pending question\n\n")

	sb.WriteString("Known products: ")
	sb.WriteString(strings.Join(c.catalog.Names(), ", "))
	sb.WriteString("\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- product: the product the user is talking about in the final message, or \"\" if none is mentioned. Use the known product names.\n")
	sb.WriteString("- reset: true only for explicit requests to restart, start over, or begin a new consultation.\n")
	sb.WriteString("- live_agent: true only for explicit requests for a human, real person, or live agent.\n")
	sb.WriteString("- confidence: your certainty in the intent, 0.0 to 1.0.\n")
	sb.WriteString("- If the assistant just asked a question and the final message answers it, the intent is chat.\n\n")

	sb.WriteString("Respond with ONLY a JSON object of this exact shape:\n")
	sb.WriteString(`{"intent": "...", "product": "...", "reset": false, "live_agent": false, "confidence": 0.0, "rationale": "..."}`)
	return sb.String()
}

// renderContext flattens the conversation for the model: compressed summary
// first, then the trailing raw messages, then the current phase.
func renderContext(messages []state.Message, phase state.Phase, summary string) string {
	var sb strings.Builder
	if strings.TrimSpace(summary) != "" {
		sb.WriteString("Conversation so far (compressed):\n")
		sb.WriteString(strings.TrimSpace(summary))
		sb.WriteString("\n\n")
	}

	recent := messages
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	sb.WriteString("Recent messages:\n")
	for _, m := range recent {
		switch m.Role {
		case state.RoleUser:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		case state.RoleAssistant:
			if m.Content == "" {
				continue
			}
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nCurrent phase: ")
	sb.WriteString(string(phase))
	return sb.String()
}

// =============================================================================
// Response parsing
// =============================================================================

func parsePrediction(response string) (*state.Prediction, error) {
	payload, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}

	var pred state.Prediction
	if err := json.Unmarshal([]byte(payload), &pred); err != nil {
		return nil, fmt.Errorf("unmarshaling prediction: %w", err)
	}

	pred.Intent = strings.ToLower(strings.TrimSpace(pred.Intent))
	if pred.Intent == "" {
		return nil, fmt.Errorf("prediction has no intent")
	}

	// Models like to spell "no product" out loud.
	pred.Product = strings.TrimSpace(pred.Product)
	switch strings.ToLower(pred.Product) {
	case "none", "null", "n/a":
		pred.Product = ""
	}

	if pred.Confidence < 0 {
		pred.Confidence = 0
	}
	if pred.Confidence > 1 {
		pred.Confidence = 1
	}
	pred.Rationale = strings.TrimSpace(pred.Rationale)
	return &pred, nil
}

// intentLabel keeps metric cardinality closed: unknown intents are counted
// under one label instead of minting a series per hallucination.
func intentLabel(intent string) string {
	switch intent {
	case state.IntentGreeting, state.IntentInfo, state.IntentCompare,
		state.IntentPurchase, state.IntentRecommend, state.IntentChat,
		state.IntentSummary, state.IntentCapabilities:
		return intent
	default:
		return "other"
	}
}
