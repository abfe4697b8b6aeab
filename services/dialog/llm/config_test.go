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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func clearRoleEnv(t *testing.T) {
	t.Helper()
	for _, role := range []string{RoleClassifier, RoleExtractor, RoleResponder} {
		t.Setenv("DIALOG_"+role+"_PROVIDER", "")
		t.Setenv("DIALOG_"+role+"_MODEL", "")
		t.Setenv("DIALOG_"+role+"_RPS", "")
	}
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("OLLAMA_URL", "")
}

func TestLoadRoleConfig_Defaults(t *testing.T) {
	clearRoleEnv(t)

	cfg, err := LoadRoleConfig()
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.Classifier.Provider)
	assert.Equal(t, DefaultClassifierModel, cfg.Classifier.Model)
	assert.Equal(t, DefaultExtractorModel, cfg.Extractor.Model)
	assert.Equal(t, DefaultResponderModel, cfg.Responder.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Classifier.BaseURL)
}

func TestLoadRoleConfig_EnvOverrides(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("DIALOG_CLASSIFIER_PROVIDER", ProviderOpenAI)
	t.Setenv("DIALOG_CLASSIFIER_MODEL", "gpt-5-mini")
	t.Setenv("DIALOG_RESPONDER_MODEL", "qwen3:14b")
	t.Setenv("DIALOG_CLASSIFIER_RPS", "2.5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadRoleConfig()
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.Classifier.Provider)
	assert.Equal(t, "gpt-5-mini", cfg.Classifier.Model)
	assert.True(t, cfg.Classifier.APIKey.IsSet())
	assert.InDelta(t, 2.5, cfg.Classifier.RequestsPerSecond, 0.001)

	// Other roles keep their defaults, with the one model override applied.
	assert.Equal(t, ProviderOllama, cfg.Responder.Provider)
	assert.Equal(t, "qwen3:14b", cfg.Responder.Model)
}

func TestLoadRoleConfig_InvalidProvider(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("DIALOG_EXTRACTOR_PROVIDER", "skynet")

	_, err := LoadRoleConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skynet")
}

func TestLoadRoleConfig_InvalidRPSIgnored(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("DIALOG_RESPONDER_RPS", "lots")

	cfg, err := LoadRoleConfig()
	require.NoError(t, err)
	assert.Zero(t, cfg.Responder.RequestsPerSecond)
}

func TestInferProvider(t *testing.T) {
	assert.Equal(t, ProviderAnthropic, InferProvider("claude-sonnet-4-20250514"))
	assert.Equal(t, ProviderOpenAI, InferProvider("gpt-5-mini"))
	assert.Equal(t, ProviderGemini, InferProvider("gemini-2.5-flash"))
	assert.Equal(t, "", InferProvider("granite4:micro-h"))
}

func TestSecret_RoundTrip(t *testing.T) {
	s := NewSecret([]byte("sk-super-secret"))
	require.True(t, s.IsSet())

	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret", got)

	// Reveal again: the enclave survives each open.
	got, err = s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret", got)
}

func TestSecret_Empty(t *testing.T) {
	var nilSecret *Secret
	assert.False(t, nilSecret.IsSet())
	assert.Nil(t, NewSecret(nil))

	t.Setenv("DIALOG_TEST_ABSENT_KEY", "")
	assert.Nil(t, SecretFromEnv("DIALOG_TEST_ABSENT_KEY"))

	_, err := nilSecret.Reveal()
	assert.Error(t, err)
}

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{"bare object", `{"intent":"greeting"}`, `{"intent":"greeting"}`, false},
		{"fenced", "```json\n{\"intent\":\"info\"}\n```", `{"intent":"info"}`, false},
		{"preamble chatter", `Sure! Here you go: {"a":1} hope that helps`, `{"a":1}`, false},
		{"empty", "", "", true},
		{"no object", "I cannot answer that.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONBlock(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "lon...", Truncate("longer text", 3))
}

type fakeModel struct {
	generated int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.generated++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "ok", nil
}

func TestThrottle(t *testing.T) {
	inner := &fakeModel{}

	t.Run("zero rate is a no-op wrapper", func(t *testing.T) {
		assert.Same(t, llms.Model(inner), Throttle(inner, 0))
	})

	t.Run("limited model still serves", func(t *testing.T) {
		limited := Throttle(inner, 100)
		out, err := GenerateText(context.Background(), limited, "system", "user")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 1, inner.generated)
	})
}
