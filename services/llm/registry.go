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
	"fmt"
	"sort"
	"sync"
)

// ProviderConfig describes one provider instance to construct.
//
// Description:
//
//	Provider selects the backend ("anthropic", "openai", "gemini", "ollama").
//	Model is the vendor model name. APIKey is required for the cloud
//	providers and ignored for Ollama. BaseURL overrides the endpoint,
//	which tests use to point clients at mock servers.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewProvider creates the right client for the given provider configuration.
//
// Description:
//
//	Central creation point for all provider clients. Cloud providers fail
//	fast on missing credentials; Ollama needs none.
//
// Inputs:
//   - cfg: Provider configuration specifying backend, model, and credentials.
//
// Outputs:
//   - Provider: The configured client.
//   - error: Non-nil if the provider is unsupported or construction fails.
//
// Example:
//
//	p, err := llm.NewProvider(llm.ProviderConfig{
//	    Provider: "anthropic",
//	    Model:    "claude-sonnet-4-20250514",
//	    APIKey:   "sk-ant-...",
//	})
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		client, err := NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating Anthropic client: %w", err)
		}
		return client, nil

	case ProviderOpenAI:
		client, err := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		return client, nil

	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating Gemini client: %w", err)
		}
		return client, nil

	case ProviderOllama:
		return NewOllamaClient(cfg.Model, cfg.BaseURL), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// Registry holds constructed providers keyed by provider id.
//
// Description:
//
//	Phases name the provider they want by id; the registry is the single
//	lookup point so credentials are read once at startup rather than
//	threaded through the workflow layer.
//
// Thread Safety: Registry is safe for concurrent use after construction.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	limiter   *RateLimiter
}

// NewRegistry constructs providers for every config and registers them.
//
// Inputs:
//   - cfgs: One config per provider instance. Duplicate provider ids are an
//     error.
//
// Outputs:
//   - *Registry: The populated registry.
//   - error: Non-nil if any provider fails to construct.
func NewRegistry(cfgs ...ProviderConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(cfgs))}
	for _, cfg := range cfgs {
		p, err := NewProvider(cfg)
		if err != nil {
			return nil, err
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider to the registry.
//
// Outputs:
//   - error: Non-nil if a provider with the same id is already registered.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// SetRateLimits installs per-provider request budgets.
//
// Description:
//
//	After this call, every provider handed out by Get consults the limiter
//	before each Complete, blocking until a slot opens in the provider's
//	sliding window. Providers without a budget (and Ollama) pass freely.
//
// Inputs:
//   - perMinute: Requests per minute per provider id.
func (r *Registry) SetRateLimits(perMinute map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = NewRateLimiter(perMinute)
}

// Get looks up a provider by id.
//
// Description:
//
//	When rate limits are configured, the returned provider is wrapped so
//	its Complete waits for budget first.
//
// Outputs:
//   - Provider: The registered provider.
//   - error: Non-nil if no provider with that id is registered.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("no provider registered for %q (registered: %v)", name, r.namesLocked())
	}
	if r.limiter != nil {
		return &throttledProvider{inner: p, limiter: r.limiter}, nil
	}
	return p, nil
}

// Names returns the registered provider ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
