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
	"errors"
	"strings"
	"testing"
)

// fixedProvider is a minimal Provider stub for registry behavior tests.
type fixedProvider struct {
	name  string
	calls int
}

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) NormalizeToolSchema(tools []ToolDef) any { return tools }

func (p *fixedProvider) Complete(ctx context.Context, messages []ChatMessage,
	tools []ToolDef, opts CompleteOptions) (*Completion, error) {
	p.calls++
	return &Completion{Content: "ok", StopReason: "end"}, nil
}

func TestNewProvider_Dispatch(t *testing.T) {
	tests := []struct {
		provider string
		apiKey   string
	}{
		{ProviderAnthropic, "test-key"},
		{ProviderOpenAI, "test-key"},
		{ProviderGemini, "test-key"},
		{ProviderOllama, ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(ProviderConfig{Provider: tt.provider, Model: "m", APIKey: tt.apiKey})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.provider {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.provider)
			}
		})
	}
}

func TestNewProvider_MissingCloudKey(t *testing.T) {
	for _, provider := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		_, err := NewProvider(ProviderConfig{Provider: provider, Model: "m"})
		if err == nil {
			t.Errorf("%s: expected error for missing API key", provider)
		}
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "grok", Model: "m"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "grok") {
		t.Errorf("error should name the bad provider: %v", err)
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	reg, err := NewRegistry(
		ProviderConfig{Provider: ProviderOllama, Model: "m1"},
		ProviderConfig{Provider: ProviderAnthropic, Model: "m2", APIKey: "test-key"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := reg.Get(ProviderOllama)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name() != ProviderOllama {
		t.Errorf("wrong provider returned: %q", p.Name())
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != ProviderAnthropic || names[1] != ProviderOllama {
		t.Errorf("unexpected sorted names: %v", names)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, err := NewRegistry(ProviderConfig{Provider: ProviderOllama, Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Get(ProviderGemini); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestRegistry_GetWithoutLimitsReturnsProviderDirectly(t *testing.T) {
	stub := &fixedProvider{name: ProviderAnthropic}
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(stub); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p, err := reg.Get(ProviderAnthropic)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p != Provider(stub) {
		t.Fatal("without rate limits, Get should return the registered provider unwrapped")
	}
}

func TestRegistry_RateLimitedCompleteConsultsLimiter(t *testing.T) {
	stub := &fixedProvider{name: ProviderAnthropic}
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(stub); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	reg.SetRateLimits(map[string]int{ProviderAnthropic: 1})

	p, err := reg.Get(ProviderAnthropic)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if _, err := p.Complete(context.Background(), nil, nil, CompleteOptions{}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	// Budget exhausted: a canceled context must surface instead of sleeping
	// out the window.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Complete(ctx, nil, nil, CompleteOptions{})
	if err == nil {
		t.Fatal("expected error for rate-limited call with canceled context")
	}
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("expected a ProviderError, got %T", err)
	}
	if pe.Kind != ErrKindTransient {
		t.Errorf("Kind = %q, want %q", pe.Kind, ErrKindTransient)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("underlying provider called %d times, want 1", stub.calls)
	}
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	reg, err := NewRegistry(ProviderConfig{Provider: ProviderOllama, Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(NewOllamaClient("other", "")); err == nil {
		t.Fatal("expected error for duplicate provider id")
	}
}
