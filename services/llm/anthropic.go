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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicDefaultMaxTok  = 4096
)

// --- Wire Types ---
//
// Anthropic wraps tool parameters in "input_schema" and carries tool calls
// as "tool_use" content blocks inside a block-structured message body.

// anthropicToolDef is a tool definition for the Anthropic API.
type anthropicToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema ToolParameters `json:"input_schema"`
}

// anthropicTextMessage is a plain string-content message.
type anthropicTextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicBlockMessage is a message whose content is structured blocks
// (tool_use, tool_result, text).
type anthropicBlockMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicRequest struct {
	Model     string                 `json:"model"`
	Messages  []any                  `json:"messages"`
	System    []anthropicSystemBlock `json:"system,omitempty"`
	MaxTokens int                    `json:"max_tokens"`
	Tools     []anthropicToolDef     `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []json.RawMessage  `json:"content"`
	StopReason string             `json:"stop_reason,omitempty"`
	Usage      *anthropicUsage    `json:"usage,omitempty"`
	Error      *anthropicAPIError `json:"error,omitempty"`
}

// --- Client ---

// AnthropicClient implements Provider for the Anthropic Messages API.
//
// Description:
//
//	Talks to the Messages endpoint directly over HTTP. Tool calls arrive
//	as "tool_use" content blocks with native call ids; tool results are
//	sent back as "tool_result" blocks inside user messages.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicClient creates an AnthropicClient with explicit configuration.
//
// Inputs:
//   - apiKey: The Anthropic API key. Must not be empty.
//   - model: The model name (e.g., "claude-sonnet-4-20250514").
//   - baseURL: Endpoint override; empty uses the production API.
//
// Outputs:
//   - *AnthropicClient: The configured client.
//   - error: Non-nil if the API key is missing.
func NewAnthropicClient(apiKey, model, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is missing (ANTHROPIC_API_KEY)")
	}
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}, nil
}

// Name implements Provider.Name.
func (a *AnthropicClient) Name() string {
	return ProviderAnthropic
}

// NormalizeToolSchema implements Provider.NormalizeToolSchema for Anthropic.
//
// Description:
//
//	Unwraps the generic function envelope into Anthropic's flat tool shape:
//	the parameter schema moves under "input_schema" unchanged (Anthropic
//	accepts standard lowercase JSON Schema type tags).
func (a *AnthropicClient) NormalizeToolSchema(tools []ToolDef) any {
	defs := make([]anthropicToolDef, 0, len(tools))
	for _, td := range tools {
		defs = append(defs, anthropicToolDef{
			Name:        td.Function.Name,
			Description: td.Function.Description,
			InputSchema: td.Function.Parameters,
		})
	}
	return defs
}

// Complete implements Provider.Complete for Anthropic.
func (a *AnthropicClient) Complete(ctx context.Context, messages []ChatMessage,
	tools []ToolDef, opts CompleteOptions) (*Completion, error) {

	ctx, span := otel.Tracer(llmTracerName).Start(ctx, "llm.Anthropic.Complete",
		trace.WithAttributes(
			attribute.String("provider", ProviderAnthropic),
			attribute.String("model", a.model),
			attribute.Int("message_count", len(messages)),
			attribute.Int("tool_count", len(tools)),
		),
	)
	defer span.End()

	reqPayload := a.buildRequest(messages, tools, opts)

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("marshaling request: %v", err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("creating HTTP request: %v", err), Err: err}
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending request to Anthropic",
		slog.String("model", a.model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	startTime := time.Now()
	resp, err := a.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		perr := networkError(ProviderAnthropic, err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderAnthropic, duration, perr)
		return nil, perr
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		perr := networkError(ProviderAnthropic, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderAnthropic, duration, perr)
		return nil, perr
	}

	if resp.StatusCode != http.StatusOK {
		perr := classifyStatus(ProviderAnthropic, resp.StatusCode, string(bodyBytes))
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderAnthropic, duration, perr)
		return nil, perr
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		perr := decodeError(ProviderAnthropic, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderAnthropic, duration, perr)
		return nil, perr
	}
	if apiResp.Error != nil {
		perr := &ProviderError{Provider: ProviderAnthropic, Kind: ErrKindInvalidRequest,
			Message: SafeLogString(apiResp.Error.Type + ": " + apiResp.Error.Message)}
		span.RecordError(perr)
		recordCompleteMetrics(ProviderAnthropic, duration, perr)
		return nil, perr
	}

	completion, perr := a.parseContent(apiResp)
	if perr != nil {
		span.RecordError(perr)
		recordCompleteMetrics(ProviderAnthropic, duration, perr)
		return nil, perr
	}

	completion.Model = a.model
	completion.Duration = duration
	if apiResp.Usage != nil {
		completion.Usage = Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}

	span.AddEvent("response_received", trace.WithAttributes(
		attribute.Int("input_tokens", completion.Usage.InputTokens),
		attribute.Int("output_tokens", completion.Usage.OutputTokens),
		attribute.Int("tool_calls", len(completion.ToolCalls)),
		attribute.String("stop_reason", completion.StopReason),
	))
	recordCompleteMetrics(ProviderAnthropic, duration, nil)

	return completion, nil
}

// buildRequest converts generic messages and tools into the Anthropic payload.
func (a *AnthropicClient) buildRequest(messages []ChatMessage, tools []ToolDef,
	opts CompleteOptions) anthropicRequest {

	var apiMessages []any
	var systemPrompt string

	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			continue
		}

		switch {
		case msg.Role == "tool" && msg.ToolCallID != "":
			// Tool result → user message with tool_result content block.
			apiMessages = append(apiMessages, anthropicBlockMessage{
				Role: "user",
				Content: []any{anthropicToolResultBlock{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			var blocks []any
			if msg.Content != "" {
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(tc.ArgumentsJSON()),
				})
			}
			apiMessages = append(apiMessages, anthropicBlockMessage{Role: "assistant", Content: blocks})

		default:
			apiMessages = append(apiMessages, anthropicTextMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	var systemBlocks []anthropicSystemBlock
	if systemPrompt != "" {
		systemBlocks = append(systemBlocks, anthropicSystemBlock{Type: "text", Text: systemPrompt})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTok
	}

	req := anthropicRequest{
		Model:       a.model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   maxTokens,
		Tools:       a.NormalizeToolSchema(tools).([]anthropicToolDef),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		StopSeqs:    opts.Stop,
	}
	if len(tools) == 0 {
		req.Tools = nil
	}
	return req
}

// parseContent decodes content blocks into a normalized Completion.
func (a *AnthropicClient) parseContent(apiResp anthropicResponse) (*Completion, *ProviderError) {
	completion := &Completion{}
	var textParts []string

	for _, raw := range apiResp.Content {
		var block anthropicContentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			slog.Warn("Failed to parse Anthropic content block", slog.String("error", err.Error()))
			continue
		}

		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, decodeError(ProviderAnthropic,
						fmt.Errorf("tool_use input for %q: %w", block.Name, err))
				}
			}
			id := block.ID
			if id == "" {
				id = SyntheticCallID(len(completion.ToolCalls))
			}
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:        id,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	completion.Content = strings.Join(textParts, "")
	if len(completion.ToolCalls) > 0 {
		completion.StopReason = "tool_use"
	} else {
		completion.StopReason = "end"
	}
	return completion, nil
}
