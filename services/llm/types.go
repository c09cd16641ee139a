// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides provider-agnostic LLM completion with native tool
// calling for the Conductor workflow engine. Each supported backend
// (Anthropic, OpenAI, Gemini, Ollama) gets one client that owns its wire
// format end to end: tool schema encoding, request building, and response
// decoding. Nothing vendor-shaped leaks past this package.
//
// Thread Safety:
//
//	All clients in this package are safe for concurrent use.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider id constants for supported LLM backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// ValidProviders contains the set of valid provider ids.
var ValidProviders = []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama}

// ToolDef is the generic tool definition used as input to Complete for all
// providers. Follows the OpenAI function calling schema.
//
// Description:
//
//	Provides a provider-agnostic way to define tools. Each provider's
//	NormalizeToolSchema method converts ToolDef into its wire format
//	(Anthropic input_schema, OpenAI function, Gemini functionDeclarations,
//	Ollama function).
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Type is the tool type. Always "function" for function calling.
	Type string `json:"type"`

	// Function contains the function definition.
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name, description, and parameter schema.
type ToolFunction struct {
	// Name is the function name the model will call.
	Name string `json:"name"`

	// Description explains what the function does.
	Description string `json:"description"`

	// Parameters defines the JSON Schema for function parameters.
	Parameters ToolParameters `json:"parameters"`
}

// ToolParameters defines the JSON Schema for tool parameters.
type ToolParameters struct {
	// Type is the JSON Schema type. Always "object" for tool parameters.
	Type string `json:"type"`

	// Properties maps parameter names to their definitions.
	Properties map[string]ToolParamDef `json:"properties,omitempty"`

	// Required lists parameter names that must be provided.
	Required []string `json:"required,omitempty"`
}

// ToolParamDef defines a single parameter in JSON Schema format.
type ToolParamDef struct {
	// Type is the JSON Schema type (string, integer, boolean, number).
	Type string `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description,omitempty"`

	// Enum restricts values to a set of options.
	Enum []any `json:"enum,omitempty"`

	// Default is the default value if not provided.
	Default any `json:"default,omitempty"`
}

// ChatMessage is the provider-agnostic conversation message.
//
// Description:
//
//	Regular messages use Role + Content. Tool results include ToolCallID
//	and ToolName. Assistant messages that requested tools include ToolCalls.
//	Each client converts this into its own wire shape (Anthropic content
//	blocks, OpenAI flat messages, Gemini parts).
//
// Thread Safety: ChatMessage is safe for concurrent read access.
type ChatMessage struct {
	// Role is the message role: "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool invocations (for assistant messages).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links this message back to a specific tool call
	// (for tool result messages).
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is the tool name for tool result messages. Required by
	// Gemini's functionResponse, which keys responses by function name.
	ToolName string `json:"tool_name,omitempty"`
}

// ToolCall is a normalized tool invocation request from any provider.
//
// Description:
//
//	Arguments are always a decoded map, even when the vendor serializes
//	them as a JSON string (OpenAI) or a raw object (Anthropic). Providers
//	that omit call ids (Gemini, Ollama) get deterministic synthetic ids
//	of the form "call_<index>" so downstream logic can always key on ID.
//
// Thread Safety: ToolCall is safe for concurrent read access.
type ToolCall struct {
	// ID is the unique identifier for this tool call within its turn.
	ID string `json:"id"`

	// Name is the function name to call.
	Name string `json:"name"`

	// Arguments is the decoded argument map.
	Arguments map[string]any `json:"arguments"`
}

// ArgumentsJSON returns the arguments re-encoded as a JSON object string.
//
// Outputs:
//   - string: JSON encoding of Arguments, "{}" when nil or encoding fails.
//
// Thread Safety: This method is safe for concurrent use.
func (t *ToolCall) ArgumentsJSON() string {
	if len(t.Arguments) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(t.Arguments)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// SyntheticCallID builds the deterministic call id used when a vendor omits
// its own: "call_<index>", indexed by position within the turn.
func SyntheticCallID(index int) string {
	return fmt.Sprintf("call_%d", index)
}

// Usage carries provider-reported token accounting for one completion.
type Usage struct {
	// InputTokens is the prompt token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the completion token count.
	OutputTokens int `json:"output_tokens"`

	// TotalTokens is the provider-reported total, when given.
	TotalTokens int `json:"total_tokens"`
}

// Completion is the provider-agnostic result of one model turn.
//
// Description:
//
//	Contains the assistant text, any requested tool calls in the exact
//	order the vendor returned them, the stop reason, and usage metadata.
//	All provider clients return this from Complete.
//
// Thread Safety: Completion is safe for concurrent read access.
type Completion struct {
	// Content is the text response (may be empty if only tool calls).
	Content string

	// ToolCalls contains tool calls in vendor-returned order.
	ToolCalls []ToolCall

	// StopReason indicates why generation stopped.
	// Values: "end" (normal completion) or "tool_use" (tool calls present).
	StopReason string

	// Usage is the token accounting for this turn.
	Usage Usage

	// Model is the model that produced the completion.
	Model string

	// Duration is the wall-clock time of the provider call.
	Duration time.Duration
}

// CompleteOptions holds provider-agnostic generation options.
//
// Description:
//
//	Zero value means "use provider defaults". Temperature and TopP are
//	pointers so 0.0 can be expressed explicitly.
type CompleteOptions struct {
	// Temperature controls randomness (0.0-1.0). Nil omits the field.
	Temperature *float32

	// TopP is the nucleus sampling parameter. Nil omits the field.
	TopP *float32

	// MaxTokens limits the response length. 0 uses the client default.
	MaxTokens int

	// Stop lists stop sequences.
	Stop []string
}

// Provider is the contract every LLM backend client satisfies.
//
// Description:
//
//	One instance per configured backend. NormalizeToolSchema is pure and
//	deterministic; Complete performs exactly one blocking network call and
//	returns either a Completion or a typed *ProviderError — clients never
//	retry on their own (retry policy lives in the agent loop).
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider id ("anthropic", "openai", "gemini", "ollama").
	Name() string

	// NormalizeToolSchema converts generic tool definitions into this
	// vendor's wire schema. Pure and deterministic; the returned value
	// marshals to exactly what Complete sends on the wire.
	NormalizeToolSchema(tools []ToolDef) any

	// Complete sends one conversation turn and returns the normalized result.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation history with tool metadata.
	//   - tools: Tool definitions visible to the model. May be empty.
	//   - opts: Generation options.
	//
	// Outputs:
	//   - *Completion: Content and/or tool calls.
	//   - error: A *ProviderError on any failure.
	Complete(ctx context.Context, messages []ChatMessage, tools []ToolDef, opts CompleteOptions) (*Completion, error)
}
