// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// NewModel constructs the langchaingo model for one provider configuration.
//
// Description:
//
//	Cloud provider keys are unsealed here and handed straight to the client
//	constructor; the plaintext copy does not outlive this function. When the
//	config carries a rate cap the returned model is wrapped in a throttle,
//	so callers always hold a ready-to-use llms.Model either way.
func NewModel(ctx context.Context, cfg ProviderConfig) (llms.Model, error) {
	model, err := newRawModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Throttle(model, cfg.RequestsPerSecond), nil
}

func newRawModel(ctx context.Context, cfg ProviderConfig) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: creating ollama client for %q: %w", cfg.Model, err)
		}
		return model, nil

	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey.IsSet() {
			key, err := cfg.APIKey.Reveal()
			if err != nil {
				return nil, err
			}
			opts = append(opts, openai.WithToken(key))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: creating openai client for %q: %w", cfg.Model, err)
		}
		return model, nil

	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey.IsSet() {
			key, err := cfg.APIKey.Reveal()
			if err != nil {
				return nil, err
			}
			opts = append(opts, anthropic.WithToken(key))
		}
		model, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: creating anthropic client for %q: %w", cfg.Model, err)
		}
		return model, nil

	case ProviderGemini:
		opts := []googleai.Option{googleai.WithDefaultModel(cfg.Model)}
		if cfg.APIKey.IsSet() {
			key, err := cfg.APIKey.Reveal()
			if err != nil {
				return nil, err
			}
			opts = append(opts, googleai.WithAPIKey(key))
		}
		model, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: creating gemini client for %q: %w", cfg.Model, err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("llm: unknown provider %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// =============================================================================
// Rate limiting
// =============================================================================

// Throttle wraps a model with a token-bucket rate limit. Calls block in Wait
// until the limiter admits them, so provider quota pressure turns into
// queueing instead of 429 storms. A non-positive rps returns the model
// unwrapped.
func Throttle(model llms.Model, rps float64) llms.Model {
	if rps <= 0 {
		return model
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &throttled{inner: model, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type throttled struct {
	inner   llms.Model
	limiter *rate.Limiter
}

func (t *throttled) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: waiting on rate limiter: %w", err)
	}
	return t.inner.GenerateContent(ctx, messages, options...)
}

func (t *throttled) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: waiting on rate limiter: %w", err)
	}
	return t.inner.Call(ctx, prompt, options...)
}

// =============================================================================
// Generation helpers
// =============================================================================

// GenerateText runs one system+user exchange and returns the text of the
// first choice. This is the shape every dialog component needs; the few that
// need multi-turn history build their own message slice.
func GenerateText(ctx context.Context, model llms.Model, system, user string, options ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", fmt.Errorf("llm: generating content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// ExtractJSONBlock pulls the first JSON object out of a model response,
// tolerating the markdown fences and preamble chatter small models add.
func ExtractJSONBlock(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("llm: empty response from model")
	}

	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("llm: no JSON object found in response: %s", Truncate(response, 100))
	}
	return response[start : end+1], nil
}

// Truncate shortens s to at most n runes for log and span previews.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
