// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm configures and constructs the language models behind the
// dialog system. Three roles, three independently configurable models: the
// classifier reads every turn, the extractor parses slot answers, and the
// responder writes the prose users see. Small fast models for the first two,
// a stronger model for the third.
package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Provider constants for supported LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Role constants for the three LLM roles in the dialog service.
const (
	RoleClassifier = "CLASSIFIER"
	RoleExtractor  = "EXTRACTOR"
	RoleResponder  = "RESPONDER"
)

// Default models per role. Classification and extraction run on every turn
// and sit on the latency path, so they default to small local models; the
// responder writes customer-facing prose and gets the larger one.
const (
	DefaultClassifierModel = "granite4:micro-h"
	DefaultExtractorModel  = "ministral-3:3b"
	DefaultResponderModel  = "glm-4.7-flash"
)

// ProviderConfig holds the configuration for a single LLM provider instance.
//
// Description:
//
//	Specifies which provider to use, which model, and any provider-specific
//	settings. Used by NewModel to create the right langchaingo adapter.
type ProviderConfig struct {
	// Provider is the backend to use: "ollama", "anthropic", "openai", "gemini".
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// BaseURL is an optional endpoint override.
	// For Ollama: defaults to OLLAMA_BASE_URL or http://localhost:11434.
	BaseURL string

	// APIKey is the sealed authentication key for cloud providers. Nil for
	// Ollama. The plaintext exists only inside NewModel, briefly.
	APIKey *Secret

	// RequestsPerSecond caps the call rate against this provider. Zero means
	// no throttle.
	RequestsPerSecond float64
}

// RoleConfig holds per-role provider configurations for the dialog service.
type RoleConfig struct {
	Classifier ProviderConfig
	Extractor  ProviderConfig
	Responder  ProviderConfig
}

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderGemini}

func isValidProvider(provider string) bool {
	for _, p := range ValidProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// ResolveOllamaURL resolves the Ollama server URL from environment variables.
//
// Description:
//
//	Resolution order:
//	  1. OLLAMA_BASE_URL (preferred)
//	  2. OLLAMA_URL (deprecated, emits warning)
//	  3. http://localhost:11434 (default)
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		slog.Warn("OLLAMA_URL is deprecated, use OLLAMA_BASE_URL instead",
			slog.String("ollama_url", url))
		return url
	}
	return "http://localhost:11434"
}

// InferProvider infers the provider from a model name prefix.
//
// Description:
//
//	Maps known model name prefixes to provider names:
//	  - "claude-*" -> "anthropic"
//	  - "gpt-*" -> "openai"
//	  - "gemini-*" -> "gemini"
//	  - anything else -> "" (unknown)
func InferProvider(model string) string {
	if strings.HasPrefix(model, "claude-") {
		return ProviderAnthropic
	}
	if strings.HasPrefix(model, "gpt-") {
		return ProviderOpenAI
	}
	if strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}
	return ""
}

// LoadRoleConfig reads per-role provider configuration from environment
// variables.
//
// Description:
//
//	Reads DIALOG_<ROLE>_PROVIDER and DIALOG_<ROLE>_MODEL for each of the
//	three roles, falling back to Ollama with the built-in default models.
//	Cloud provider keys come from the usual ANTHROPIC_API_KEY /
//	OPENAI_API_KEY / GEMINI_API_KEY variables and are sealed immediately.
//
// Outputs:
//   - *RoleConfig: Per-role configurations.
//   - error: Non-nil if an invalid provider is specified.
func LoadRoleConfig() (*RoleConfig, error) {
	classifier, err := loadSingleRoleConfig(RoleClassifier, DefaultClassifierModel)
	if err != nil {
		return nil, fmt.Errorf("llm: loading classifier role config: %w", err)
	}

	extractor, err := loadSingleRoleConfig(RoleExtractor, DefaultExtractorModel)
	if err != nil {
		return nil, fmt.Errorf("llm: loading extractor role config: %w", err)
	}

	responder, err := loadSingleRoleConfig(RoleResponder, DefaultResponderModel)
	if err != nil {
		return nil, fmt.Errorf("llm: loading responder role config: %w", err)
	}

	return &RoleConfig{
		Classifier: classifier,
		Extractor:  extractor,
		Responder:  responder,
	}, nil
}

// loadSingleRoleConfig loads configuration for a single role.
func loadSingleRoleConfig(role, modelFallback string) (ProviderConfig, error) {
	providerEnv := fmt.Sprintf("DIALOG_%s_PROVIDER", role)
	modelEnv := fmt.Sprintf("DIALOG_%s_MODEL", role)
	rpsEnv := fmt.Sprintf("DIALOG_%s_RPS", role)

	provider := os.Getenv(providerEnv)
	if provider == "" {
		provider = ProviderOllama
	}

	if !isValidProvider(provider) {
		return ProviderConfig{}, fmt.Errorf("invalid provider %q for %s (valid: %v)", provider, providerEnv, ValidProviders)
	}

	model := os.Getenv(modelEnv)
	if model == "" {
		model = modelFallback
	}

	cfg := ProviderConfig{
		Provider: provider,
		Model:    model,
	}

	if raw := os.Getenv(rpsEnv); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			slog.Warn("ignoring invalid rate limit",
				slog.String("env", rpsEnv),
				slog.String("value", raw))
		} else {
			cfg.RequestsPerSecond = rps
		}
	}

	switch provider {
	case ProviderOllama:
		cfg.BaseURL = ResolveOllamaURL()
	case ProviderAnthropic:
		cfg.APIKey = SecretFromEnv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		cfg.APIKey = SecretFromEnv("OPENAI_API_KEY")
	case ProviderGemini:
		cfg.APIKey = SecretFromEnv("GEMINI_API_KEY")
	}

	// An explicit provider with no resolvable model is operator error; say so
	// instead of failing on the first request.
	if os.Getenv(providerEnv) != "" && cfg.Model == "" {
		return ProviderConfig{}, fmt.Errorf(
			"%s is %q but no model specified (set %s)",
			providerEnv, provider, modelEnv,
		)
	}

	return cfg, nil
}
