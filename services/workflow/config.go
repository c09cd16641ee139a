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
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/conductor/services/llm"
	"github.com/AleutianAI/conductor/services/workflow/agent"
)

// defaultKeyEnv maps provider ids to the conventional credential variable.
var defaultKeyEnv = map[string]string{
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderGemini:    "GEMINI_API_KEY",
}

// RetryConfig is the backoff policy in configuration units.
type RetryConfig struct {
	// MaxRetries is the retry count after the first attempt.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`

	// BaseDelayMS is the wait in milliseconds before the first retry.
	BaseDelayMS int `yaml:"base_delay_ms" validate:"omitempty,min=1"`

	// Multiplier scales the delay after each retry.
	Multiplier float64 `yaml:"multiplier" validate:"omitempty,gte=1"`

	// MaxDelayMS caps the per-retry wait in milliseconds.
	MaxDelayMS int `yaml:"max_delay_ms" validate:"omitempty,min=1"`
}

// Policy converts the config into the loop's retry policy, filling defaults.
func (c RetryConfig) Policy() agent.RetryPolicy {
	policy := agent.DefaultRetryPolicy()
	policy.MaxRetries = c.MaxRetries
	if c.BaseDelayMS > 0 {
		policy.BaseDelay = time.Duration(c.BaseDelayMS) * time.Millisecond
	}
	if c.Multiplier >= 1 {
		policy.Multiplier = c.Multiplier
	}
	if c.MaxDelayMS > 0 {
		policy.MaxDelay = time.Duration(c.MaxDelayMS) * time.Millisecond
	}
	return policy
}

// ProviderCredentials configures one provider backend.
//
// Description:
//
//	Credentials are never written in the config file itself; APIKeyEnv
//	names the environment variable to read, defaulting to the provider's
//	conventional variable (ANTHROPIC_API_KEY, OPENAI_API_KEY,
//	GEMINI_API_KEY). Ollama needs no credential.
type ProviderCredentials struct {
	// Model is the vendor model name.
	Model string `yaml:"model" validate:"required"`

	// BaseURL overrides the vendor endpoint. Empty uses the default.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Config is the full workflow configuration.
type Config struct {
	// Provider is the default provider id for every phase.
	Provider string `yaml:"provider" validate:"required"`

	// Providers configures each backend the phases may reference.
	Providers map[string]ProviderCredentials `yaml:"providers" validate:"required,min=1,dive"`

	// SystemPrompt is the default system message for every phase.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxIterations is the default per-phase iteration cap.
	MaxIterations int `yaml:"max_iterations" validate:"omitempty,min=1,max=100"`

	// Retry is the backoff policy for retryable provider errors.
	Retry RetryConfig `yaml:"retry"`

	// RateLimits caps outbound requests per minute per provider id.
	// Providers without an entry are unlimited.
	RateLimits map[string]int `yaml:"rate_limits" validate:"omitempty,dive,min=1"`

	// Phases run in declaration order.
	Phases []PhaseSpec `yaml:"phases" validate:"required,min=1,dive"`
}

// LoadConfig reads and validates a workflow configuration file.
//
// Description:
//
//	Decoding is strict: unknown YAML fields are an error, which catches
//	typos like `gateing:` that would otherwise silently disable gating.
//
// Inputs:
//   - path: Path to the YAML file.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil on read, decode, or validation failure.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading config %s: %w", path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes and validates raw YAML configuration.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("workflow: decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus the cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("workflow: invalid config: %w", err)
	}

	if _, ok := c.Providers[c.Provider]; !ok {
		return fmt.Errorf("workflow: default provider %q has no providers entry", c.Provider)
	}

	seen := make(map[string]bool, len(c.Phases))
	for _, phase := range c.Phases {
		if seen[phase.Name] {
			return fmt.Errorf("workflow: duplicate phase name %q", phase.Name)
		}
		seen[phase.Name] = true

		if phase.Provider != "" {
			if _, ok := c.Providers[phase.Provider]; !ok {
				return fmt.Errorf("workflow: phase %q references provider %q with no providers entry",
					phase.Name, phase.Provider)
			}
		}
	}
	return nil
}

// ProviderConfigs resolves credentials from the environment and returns one
// construction config per providers entry.
//
// Outputs:
//   - []llm.ProviderConfig: Ready for llm.NewRegistry.
//   - error: Non-nil when a cloud provider's key variable is unset or empty.
func (c *Config) ProviderConfigs() ([]llm.ProviderConfig, error) {
	configs := make([]llm.ProviderConfig, 0, len(c.Providers))
	for name, creds := range c.Providers {
		cfg := llm.ProviderConfig{
			Provider: name,
			Model:    creds.Model,
			BaseURL:  creds.BaseURL,
		}

		keyEnv := creds.APIKeyEnv
		if keyEnv == "" {
			keyEnv = defaultKeyEnv[name]
		}
		if keyEnv != "" {
			cfg.APIKey = os.Getenv(keyEnv)
			if cfg.APIKey == "" && name != llm.ProviderOllama {
				return nil, fmt.Errorf("workflow: provider %q: environment variable %s is not set",
					name, keyEnv)
			}
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// IterationCap returns the effective cap for a phase.
func (c *Config) IterationCap(phase PhaseSpec) int {
	if phase.MaxIterations > 0 {
		return phase.MaxIterations
	}
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return 10
}

// PhaseProvider returns the effective provider id for a phase.
func (c *Config) PhaseProvider(phase PhaseSpec) string {
	if phase.Provider != "" {
		return phase.Provider
	}
	return c.Provider
}

// PhaseSystemPrompt returns the effective system prompt for a phase.
func (c *Config) PhaseSystemPrompt(phase PhaseSpec) string {
	if phase.System != "" {
		return phase.System
	}
	return c.SystemPrompt
}
