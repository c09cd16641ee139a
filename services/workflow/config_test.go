// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
provider: anthropic
providers:
  anthropic:
    model: claude-sonnet-4-20250514
  ollama:
    model: llama3.1
    base_url: http://localhost:11434
system_prompt: You are a module reviewer.
max_iterations: 12
retry:
  max_retries: 2
  base_delay_ms: 100
  multiplier: 2.0
  max_delay_ms: 5000
rate_limits:
  anthropic: 30
phases:
  - name: review
    tools: [record_finding]
    prompt: Review the module and record findings.
    gating: true
  - name: report
    tools: [finalize_artifact]
    prompt: "Produce the report using {{.data.total_findings}} findings."
    max_iterations: 4
    provider: ollama
`

func TestParseConfig_Valid(t *testing.T) {
	cfg, err := ParseConfig([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	require.Len(t, cfg.Phases, 2)
	assert.True(t, cfg.Phases[0].Gating)
	assert.Equal(t, []string{"finalize_artifact"}, cfg.Phases[1].Tools)
	assert.Equal(t, 30, cfg.RateLimits["anthropic"])
}

func TestParseConfig_UnknownFieldRejected(t *testing.T) {
	yaml := `
provider: ollama
providers:
  ollama:
    model: llama3.1
phases:
  - name: review
    tools: [record_finding]
    prompt: Go.
    gateing: true
`
	_, err := ParseConfig([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateing")
}

func TestParseConfig_RequiresPhases(t *testing.T) {
	yaml := `
provider: ollama
providers:
  ollama:
    model: llama3.1
phases: []
`
	_, err := ParseConfig([]byte(yaml))
	assert.Error(t, err)
}

func TestParseConfig_DefaultProviderMustHaveEntry(t *testing.T) {
	yaml := `
provider: anthropic
providers:
  ollama:
    model: llama3.1
phases:
  - name: review
    tools: [record_finding]
    prompt: Go.
`
	_, err := ParseConfig([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic")
}

func TestParseConfig_DuplicatePhaseNamesRejected(t *testing.T) {
	yaml := `
provider: ollama
providers:
  ollama:
    model: llama3.1
phases:
  - name: review
    tools: [record_finding]
    prompt: Go.
  - name: review
    tools: [finalize_artifact]
    prompt: Again.
`
	_, err := ParseConfig([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate phase")
}

func TestParseConfig_PhaseProviderOverrideMustExist(t *testing.T) {
	yaml := `
provider: ollama
providers:
  ollama:
    model: llama3.1
phases:
  - name: review
    tools: [record_finding]
    prompt: Go.
    provider: gemini
`
	_, err := ParseConfig([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini")
}

func TestRetryConfig_PolicyFillsDefaults(t *testing.T) {
	policy := RetryConfig{MaxRetries: 5}.Policy()

	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)
}

func TestRetryConfig_PolicyHonorsExplicitValues(t *testing.T) {
	policy := RetryConfig{
		MaxRetries: 1, BaseDelayMS: 100, Multiplier: 3, MaxDelayMS: 2000,
	}.Policy()

	assert.Equal(t, 100*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 3.0, policy.Multiplier)
	assert.Equal(t, 2*time.Second, policy.MaxDelay)
}

func TestConfig_IterationCapPrecedence(t *testing.T) {
	cfg := &Config{MaxIterations: 12}

	assert.Equal(t, 4, cfg.IterationCap(PhaseSpec{MaxIterations: 4}), "phase override wins")
	assert.Equal(t, 12, cfg.IterationCap(PhaseSpec{}), "workflow default applies")
	assert.Equal(t, 10, (&Config{}).IterationCap(PhaseSpec{}), "hard default when nothing set")
}

func TestConfig_ProviderConfigsResolvesEnvCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	cfg := &Config{
		Provider: "anthropic",
		Providers: map[string]ProviderCredentials{
			"anthropic": {Model: "claude-sonnet-4-20250514"},
			"ollama":    {Model: "llama3.1"},
		},
	}

	configs, err := cfg.ProviderConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 2)

	byName := map[string]string{}
	for _, pc := range configs {
		byName[pc.Provider] = pc.APIKey
	}
	assert.Equal(t, "sk-ant-test", byName["anthropic"])
	assert.Empty(t, byName["ollama"], "local inference needs no credential")
}

func TestConfig_ProviderConfigsFailsOnMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := &Config{
		Provider: "openai",
		Providers: map[string]ProviderCredentials{
			"openai": {Model: "gpt-4o"},
		},
	}

	_, err := cfg.ProviderConfigs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestConfig_ProviderConfigsHonorsCustomKeyEnv(t *testing.T) {
	t.Setenv("REVIEW_BOT_KEY", "sk-custom")
	cfg := &Config{
		Provider: "openai",
		Providers: map[string]ProviderCredentials{
			"openai": {Model: "gpt-4o", APIKeyEnv: "REVIEW_BOT_KEY"},
		},
	}

	configs, err := cfg.ProviderConfigs()
	require.NoError(t, err)
	assert.Equal(t, "sk-custom", configs[0].APIKey)
}
