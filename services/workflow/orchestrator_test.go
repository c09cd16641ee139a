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
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conductor/services/llm"
	"github.com/AleutianAI/conductor/services/workflow/session"
	"github.com/AleutianAI/conductor/services/workflow/tools"
)

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedProvider replays a fixed response sequence across every phase of a
// run and records each request for prompt assertions.
type scriptedProvider struct {
	responses []any // *llm.Completion or error
	calls     int
	requests  [][]llm.ChatMessage
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) NormalizeToolSchema(defs []llm.ToolDef) any { return defs }

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.ChatMessage,
	defs []llm.ToolDef, opts llm.CompleteOptions) (*llm.Completion, error) {

	snapshot := make([]llm.ChatMessage, len(messages))
	copy(snapshot, messages)
	p.requests = append(p.requests, snapshot)

	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", p.calls)
	}
	response := p.responses[p.calls]
	p.calls++

	switch v := response.(type) {
	case error:
		return nil, v
	case *llm.Completion:
		return v, nil
	default:
		return nil, fmt.Errorf("bad script entry %T", response)
	}
}

func toolTurn(calls ...llm.ToolCall) *llm.Completion {
	return &llm.Completion{ToolCalls: calls, StopReason: "tool_use"}
}

func textTurn(content string) *llm.Completion {
	return &llm.Completion{Content: content, StopReason: "end"}
}

// payloadTool returns a fixed payload on every call.
type payloadTool struct {
	name    string
	payload map[string]any
}

func (t *payloadTool) Name() string { return t.name }

func (t *payloadTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        t.name,
		Description: "fixed-payload test tool",
		Parameters:  llm.ToolParameters{Type: "object"},
	}
}

func (t *payloadTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	return &tools.Result{Success: true, Payload: t.payload}, nil
}

func newOrchestratorFixture(t *testing.T, provider llm.Provider,
	toolset ...tools.Tool) (*Orchestrator, *session.MemoryStore) {
	t.Helper()

	registry, err := llm.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, registry.Register(provider))

	toolRegistry := tools.NewRegistry()
	for _, tool := range toolset {
		require.NoError(t, toolRegistry.Register(tool))
	}

	store := session.NewMemoryStore()
	return NewOrchestrator(registry, toolRegistry, store), store
}

func twoPhaseConfig() *Config {
	return &Config{
		Provider:     "scripted",
		SystemPrompt: "You are a module reviewer.",
		Phases: []PhaseSpec{
			{
				Name:   "scan",
				Tools:  []string{"emit_value"},
				Prompt: "Scan the module.",
				Gating: true,
			},
			{
				Name:   "report",
				Tools:  []string{"publish"},
				Prompt: "Report with x={{.data.x}}.",
			},
		},
	}
}

// =============================================================================
// Pipeline Scenarios
// =============================================================================

func TestOrchestrator_ExtractedDataFlowsIntoNextPrompt(t *testing.T) {
	call := func(name string) llm.ToolCall {
		return llm.ToolCall{ID: "call_0", Name: name, Arguments: map[string]any{}}
	}
	provider := &scriptedProvider{responses: []any{
		toolTurn(call("emit_value")), textTurn("scanned"), // phase: scan
		toolTurn(call("publish")), textTurn("reported"), // phase: report
	}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{"x": float64(1)}},
		&payloadTool{name: "publish", payload: map[string]any{"url": "report://1"}},
	)

	result, err := orchestrator.Run(context.Background(), twoPhaseConfig())
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Phases, 2)
	assert.Equal(t, PhaseDone, result.Phases[0].Status)
	assert.Equal(t, PhaseDone, result.Phases[1].Status)

	// Phase 2's opening prompt must embed phase 1's extracted value.
	require.Len(t, provider.requests, 4)
	reportOpening := provider.requests[2]
	var userPrompt string
	for _, msg := range reportOpening {
		if msg.Role == "user" {
			userPrompt = msg.Content
		}
	}
	assert.Contains(t, userPrompt, "x=1")

	assert.Equal(t, float64(1), result.Artifacts["scan"]["x"])
	assert.Equal(t, "report://1", result.Artifacts["report"]["url"])
}

func TestOrchestrator_GatingAuthFailureHaltsPipeline(t *testing.T) {
	provider := &scriptedProvider{responses: []any{
		&llm.ProviderError{
			Provider: "scripted", Kind: llm.ErrKindAuth,
			StatusCode: 401, Message: "invalid credentials",
		},
	}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{"x": float64(1)}},
		&payloadTool{name: "publish", payload: map[string]any{}},
	)

	result, err := orchestrator.Run(context.Background(), twoPhaseConfig())
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Phases, 1, "the report phase must never start")
	assert.Equal(t, PhaseFatal, result.Phases[0].Status)
	assert.Equal(t, 1, provider.calls, "no request beyond the failing phase")
	assert.Equal(t, []string{"scan (fatal)"}, result.FailedPhases())
}

func TestOrchestrator_NonGatingFailureContinues(t *testing.T) {
	cfg := twoPhaseConfig()
	cfg.Phases[0].Gating = false
	// Phase 2's prompt cannot reference phase 1 data that may not exist.
	cfg.Phases[1].Prompt = "Report what you can."

	provider := &scriptedProvider{responses: []any{
		&llm.ProviderError{
			Provider: "scripted", Kind: llm.ErrKindInvalidRequest,
			StatusCode: 400, Message: "bad payload",
		},
		toolTurn(llm.ToolCall{ID: "call_0", Name: "publish", Arguments: map[string]any{}}),
		textTurn("reported"),
	}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{"x": float64(1)}},
		&payloadTool{name: "publish", payload: map[string]any{"url": "report://partial"}},
	)

	result, err := orchestrator.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, result.Phases, 2)
	assert.Equal(t, PhaseFatal, result.Phases[0].Status)
	assert.Equal(t, PhaseDone, result.Phases[1].Status)
	assert.False(t, result.Success, "a failed phase keeps the overall run unsuccessful")
}

func TestOrchestrator_ProseOnlyPhaseIsEmptyResult(t *testing.T) {
	cfg := twoPhaseConfig()
	provider := &scriptedProvider{responses: []any{
		textTurn("everything looks fine, nothing to record"),
	}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{"x": float64(1)}},
		&payloadTool{name: "publish", payload: map[string]any{}},
	)

	result, err := orchestrator.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, result.Phases, 1, "gating empty result halts the run")
	assert.Equal(t, PhaseEmptyResult, result.Phases[0].Status)
	assert.False(t, result.Success)
}

func TestOrchestrator_FreshSessionPerPhase(t *testing.T) {
	call := func(name string) llm.ToolCall {
		return llm.ToolCall{ID: "call_0", Name: name, Arguments: map[string]any{}}
	}
	provider := &scriptedProvider{responses: []any{
		toolTurn(call("emit_value")), textTurn("scanned"),
		toolTurn(call("publish")), textTurn("reported"),
	}}
	orchestrator, store := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{"x": float64(1)}},
		&payloadTool{name: "publish", payload: map[string]any{}},
	)

	result, err := orchestrator.Run(context.Background(), twoPhaseConfig())
	require.NoError(t, err)
	require.Len(t, result.Phases, 2)

	assert.NotEqual(t, result.Phases[0].SessionID, result.Phases[1].SessionID)

	// Phase 2's journaled transcript must not contain phase 1's prompt.
	reportLog, err := store.Load(context.Background(), result.Phases[1].SessionID)
	require.NoError(t, err)
	for _, msg := range reportLog {
		assert.NotContains(t, msg.Content, "Scan the module")
	}
}

func TestOrchestrator_CancellationStopsAtPhaseBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{responses: []any{textTurn("never reached")}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{}},
		&payloadTool{name: "publish", payload: map[string]any{}},
	)

	result, err := orchestrator.Run(ctx, twoPhaseConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Phases)
	assert.Zero(t, provider.calls)
}

func TestOrchestrator_UnknownToolInPhaseSpecIsInfrastructureError(t *testing.T) {
	cfg := twoPhaseConfig()
	cfg.Phases[0].Tools = []string{"no_such_tool"}

	provider := &scriptedProvider{responses: []any{textTurn("never reached")}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{}},
		&payloadTool{name: "publish", payload: map[string]any{}},
	)

	_, err := orchestrator.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_tool")
}

func TestOrchestrator_PromptRenderFailureIsPhaseFatal(t *testing.T) {
	cfg := twoPhaseConfig()
	cfg.Phases[0].Gating = false
	// Phase 1 produces no "y"; phase 2's template demands it.
	cfg.Phases[1].Prompt = "Report with y={{.data.y}}."

	provider := &scriptedProvider{responses: []any{
		toolTurn(llm.ToolCall{ID: "call_0", Name: "emit_value", Arguments: map[string]any{}}),
		textTurn("scanned"),
	}}
	orchestrator, _ := newOrchestratorFixture(t, provider,
		&payloadTool{name: "emit_value", payload: map[string]any{"x": float64(1)}},
		&payloadTool{name: "publish", payload: map[string]any{}},
	)

	result, err := orchestrator.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, result.Phases, 2)
	assert.Equal(t, PhaseFatal, result.Phases[1].Status)
	assert.Empty(t, result.Phases[1].SessionID, "no session is created for an unrenderable phase")
	assert.Equal(t, 2, provider.calls, "the broken phase never reaches the provider")
}
