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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// sampleTools returns a one-tool catalog used across adapter tests.
func sampleTools() []ToolDef {
	return []ToolDef{{
		Type: "function",
		Function: ToolFunction{
			Name:        "find_callers",
			Description: "Find callers of a function",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolParamDef{
					"symbol": {Type: "string", Description: "Fully qualified symbol name"},
					"limit":  {Type: "integer", Description: "Max results"},
				},
				Required: []string{"symbol"},
			},
		},
	}}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewAnthropicClient_MissingKey(t *testing.T) {
	_, err := NewAnthropicClient("", "claude-sonnet-4-20250514", "")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// =============================================================================
// NormalizeToolSchema
// =============================================================================

func TestAnthropicNormalizeToolSchema_InputSchemaShape(t *testing.T) {
	client, err := NewAnthropicClient("test-key", "test-model", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := json.Marshal(client.NormalizeToolSchema(sampleTools()))
	if err != nil {
		t.Fatalf("marshaling tool schema: %v", err)
	}

	var defs []map[string]any
	if err := json.Unmarshal(encoded, &defs); err != nil {
		t.Fatalf("unmarshaling tool schema: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(defs))
	}
	if defs[0]["name"] != "find_callers" {
		t.Errorf("expected flat name field, got %v", defs[0]["name"])
	}
	if _, hasEnvelope := defs[0]["function"]; hasEnvelope {
		t.Error("Anthropic schema must not keep the function envelope")
	}
	schema, ok := defs[0]["input_schema"].(map[string]any)
	if !ok {
		t.Fatalf("expected input_schema object, got %T", defs[0]["input_schema"])
	}
	if schema["type"] != "object" {
		t.Errorf("expected lowercase object type tag, got %v", schema["type"])
	}
}

// =============================================================================
// Complete
// =============================================================================

func TestAnthropicComplete_ToolUseNormalization(t *testing.T) {
	var gotRequest map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotRequest); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_01",
			"content": [
				{"type": "text", "text": "Checking callers."},
				{"type": "tool_use", "id": "toolu_abc", "name": "find_callers",
				 "input": {"symbol": "pkg.Foo", "limit": 5}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`)
	}))
	defer server.Close()

	client, err := NewAnthropicClient("test-key", "test-model", server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := []ChatMessage{
		{Role: "system", Content: "You are a code analyst."},
		{Role: "user", Content: "Who calls pkg.Foo?"},
	}
	completion, err := client.Complete(context.Background(), messages, sampleTools(), CompleteOptions{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// System message must leave the messages array and become system blocks.
	if _, hasSystem := gotRequest["system"]; !hasSystem {
		t.Error("system prompt was not lifted into the system field")
	}
	reqMessages := gotRequest["messages"].([]any)
	if len(reqMessages) != 1 {
		t.Errorf("expected 1 wire message after system extraction, got %d", len(reqMessages))
	}

	if completion.StopReason != "tool_use" {
		t.Errorf("expected stop reason tool_use, got %q", completion.StopReason)
	}
	if completion.Content != "Checking callers." {
		t.Errorf("unexpected content: %q", completion.Content)
	}
	if len(completion.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(completion.ToolCalls))
	}

	tc := completion.ToolCalls[0]
	if tc.ID != "toolu_abc" {
		t.Errorf("native call id must be preserved, got %q", tc.ID)
	}
	if tc.Name != "find_callers" {
		t.Errorf("unexpected tool name: %q", tc.Name)
	}
	if tc.Arguments["symbol"] != "pkg.Foo" {
		t.Errorf("arguments not decoded to map: %v", tc.Arguments)
	}
	if completion.Usage.TotalTokens != 150 {
		t.Errorf("expected total tokens 150, got %d", completion.Usage.TotalTokens)
	}
}

func TestAnthropicComplete_ToolResultRoundTrip(t *testing.T) {
	var gotRequest struct {
		Messages []struct {
			Role    string            `json:"role"`
			Content []map[string]any  `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotRequest); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content": [{"type": "text", "text": "done"}], "stop_reason": "end_turn"}`)
	}))
	defer server.Close()

	client, _ := NewAnthropicClient("test-key", "test-model", server.URL)

	messages := []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "toolu_abc", Name: "find_callers", Arguments: map[string]any{"symbol": "pkg.Foo"}},
		}},
		{Role: "tool", ToolCallID: "toolu_abc", ToolName: "find_callers", Content: `{"callers": []}`},
	}
	if _, err := client.Complete(context.Background(), messages, nil, CompleteOptions{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(gotRequest.Messages) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(gotRequest.Messages))
	}

	// Assistant tool calls become tool_use blocks with the original id.
	toolUse := gotRequest.Messages[0].Content[0]
	if toolUse["type"] != "tool_use" || toolUse["id"] != "toolu_abc" {
		t.Errorf("unexpected tool_use block: %v", toolUse)
	}

	// Tool results become user-role tool_result blocks keyed by tool_use_id.
	resultMsg := gotRequest.Messages[1]
	if resultMsg.Role != "user" {
		t.Errorf("tool result must be sent as user role, got %q", resultMsg.Role)
	}
	resultBlock := resultMsg.Content[0]
	if resultBlock["type"] != "tool_result" || resultBlock["tool_use_id"] != "toolu_abc" {
		t.Errorf("unexpected tool_result block: %v", resultBlock)
	}
}

func TestAnthropicComplete_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, ErrKindAuth},
		{"forbidden", http.StatusForbidden, ErrKindAuth},
		{"rate limited", http.StatusTooManyRequests, ErrKindRateLimit},
		{"bad request", http.StatusBadRequest, ErrKindInvalidRequest},
		{"server error", http.StatusInternalServerError, ErrKindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error": {"type": "test", "message": "boom"}}`)
			}))
			defer server.Close()

			client, _ := NewAnthropicClient("test-key", "test-model", server.URL)
			_, err := client.Complete(context.Background(),
				[]ChatMessage{{Role: "user", Content: "hi"}}, nil, CompleteOptions{})
			if err == nil {
				t.Fatal("expected error")
			}

			pe, ok := AsProviderError(err)
			if !ok {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("status %d: expected kind %q, got %q", tt.status, tt.wantKind, pe.Kind)
			}
			if pe.Provider != ProviderAnthropic {
				t.Errorf("expected provider anthropic, got %q", pe.Provider)
			}
		})
	}
}

func TestAnthropicComplete_KeyRedactedInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `invalid key sk-ant-REDACTED`)
	}))
	defer server.Close()

	client, _ := NewAnthropicClient("test-key", "test-model", server.URL)
	_, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, nil, CompleteOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "sk-ant-api03-") {
		t.Errorf("API key leaked into error message: %v", err)
	}
}
