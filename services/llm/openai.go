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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1/chat/completions"

// --- Wire Types ---
//
// OpenAI keeps the generic function envelope intact ("type": "function"
// wrapper) and serializes tool call arguments as a JSON *string*, not an
// object — the one vendor quirk that forces the decode in parseChoice.

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Tools               []openaiTool    `json:"tools,omitempty"`
	Temperature         *float32        `json:"temperature,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiResponse struct {
	Choices []openaiChoice  `json:"choices"`
	Usage   *openaiUsage    `json:"usage,omitempty"`
	Error   *openaiAPIError `json:"error,omitempty"`
}

// --- Client ---

// OpenAIClient implements Provider for the OpenAI Chat Completions API.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewOpenAIClient creates an OpenAIClient with explicit configuration.
//
// Inputs:
//   - apiKey: The OpenAI API key. Must not be empty.
//   - model: The model name (e.g., "gpt-4o").
//   - baseURL: Endpoint override; empty uses the production API.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if the API key is missing.
func NewOpenAIClient(apiKey, model, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}, nil
}

// Name implements Provider.Name.
func (o *OpenAIClient) Name() string {
	return ProviderOpenAI
}

// NormalizeToolSchema implements Provider.NormalizeToolSchema for OpenAI.
//
// The generic ToolDef already follows the OpenAI function calling schema,
// so this is a near-identity mapping into the wire struct.
func (o *OpenAIClient) NormalizeToolSchema(tools []ToolDef) any {
	defs := make([]openaiTool, 0, len(tools))
	for _, td := range tools {
		defs = append(defs, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}
	return defs
}

// Complete implements Provider.Complete for OpenAI.
func (o *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage,
	tools []ToolDef, opts CompleteOptions) (*Completion, error) {

	ctx, span := otel.Tracer(llmTracerName).Start(ctx, "llm.OpenAI.Complete",
		trace.WithAttributes(
			attribute.String("provider", ProviderOpenAI),
			attribute.String("model", o.model),
			attribute.Int("message_count", len(messages)),
			attribute.Int("tool_count", len(tools)),
		),
	)
	defer span.End()

	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openaiMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == "tool" && msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiCallFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON(),
					},
				})
			}
		}
		oaiMessages = append(oaiMessages, oaiMsg)
	}

	reqPayload := openaiRequest{
		Model:       o.model,
		Messages:    oaiMessages,
		Tools:       o.NormalizeToolSchema(tools).([]openaiTool),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	}
	if len(tools) == 0 {
		reqPayload.Tools = nil
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		reqPayload.MaxCompletionTokens = &maxTokens
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("marshaling request: %v", err), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("creating HTTP request: %v", err), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	slog.Debug("Sending request to OpenAI",
		slog.String("model", o.model),
		slog.Int("messages", len(oaiMessages)),
		slog.Int("tools", len(tools)),
	)

	startTime := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		perr := networkError(ProviderOpenAI, err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		perr := networkError(ProviderOpenAI, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}

	if resp.StatusCode != http.StatusOK {
		perr := classifyStatus(ProviderOpenAI, resp.StatusCode, string(bodyBytes))
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		perr := decodeError(ProviderOpenAI, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}
	if apiResp.Error != nil {
		perr := &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindInvalidRequest,
			Message: SafeLogString(apiResp.Error.Type + ": " + apiResp.Error.Message)}
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}
	if len(apiResp.Choices) == 0 {
		perr := decodeError(ProviderOpenAI, fmt.Errorf("response contained no choices"))
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}

	completion, perr := o.parseChoice(apiResp.Choices[0])
	if perr != nil {
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOpenAI, duration, perr)
		return nil, perr
	}

	completion.Model = o.model
	completion.Duration = duration
	if apiResp.Usage != nil {
		completion.Usage = Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		}
	}

	span.AddEvent("response_received", trace.WithAttributes(
		attribute.Int("input_tokens", completion.Usage.InputTokens),
		attribute.Int("output_tokens", completion.Usage.OutputTokens),
		attribute.Int("tool_calls", len(completion.ToolCalls)),
		attribute.String("stop_reason", completion.StopReason),
	))
	recordCompleteMetrics(ProviderOpenAI, duration, nil)

	return completion, nil
}

// parseChoice converts the first choice into a normalized Completion,
// decoding each tool call's argument string into a map.
func (o *OpenAIClient) parseChoice(choice openaiChoice) (*Completion, *ProviderError) {
	completion := &Completion{Content: choice.Message.Content}

	for i, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, decodeError(ProviderOpenAI,
					fmt.Errorf("tool call arguments for %q: %w", tc.Function.Name, err))
			}
		}
		id := tc.ID
		if id == "" {
			id = SyntheticCallID(i)
		}
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if len(completion.ToolCalls) > 0 {
		completion.StopReason = "tool_use"
	} else {
		completion.StopReason = "end"
	}
	return completion, nil
}
