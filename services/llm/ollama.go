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

const ollamaDefaultBaseURL = "http://localhost:11434"

// --- Wire Types ---
//
// Ollama's /api/chat mirrors the OpenAI function envelope for tool
// definitions, but sends tool call arguments as a JSON object (no string
// decode needed) and emits no call ids.

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaCallFunction `json:"function"`
}

type ollamaCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// --- Client ---

// OllamaClient implements Provider for a local Ollama server's /api/chat
// endpoint. No credentials are required.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	model      string
	baseURL    string
}

// NewOllamaClient creates an OllamaClient with explicit configuration.
//
// Inputs:
//   - model: The model name (e.g., "qwen2.5-coder:32b").
//   - baseURL: Server address; empty uses http://localhost:11434.
//
// Outputs:
//   - *OllamaClient: The configured client.
func NewOllamaClient(model, baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	return &OllamaClient{
		// Local inference can take minutes on cold models.
		httpClient: &http.Client{Timeout: 300 * time.Second},
		model:      model,
		baseURL:    baseURL,
	}
}

// Name implements Provider.Name.
func (c *OllamaClient) Name() string {
	return ProviderOllama
}

// NormalizeToolSchema implements Provider.NormalizeToolSchema for Ollama.
// The wire shape matches the OpenAI function envelope.
func (c *OllamaClient) NormalizeToolSchema(tools []ToolDef) any {
	defs := make([]ollamaTool, 0, len(tools))
	for _, td := range tools {
		defs = append(defs, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}
	return defs
}

// Complete implements Provider.Complete for Ollama.
func (c *OllamaClient) Complete(ctx context.Context, messages []ChatMessage,
	tools []ToolDef, opts CompleteOptions) (*Completion, error) {

	ctx, span := otel.Tracer(llmTracerName).Start(ctx, "llm.Ollama.Complete",
		trace.WithAttributes(
			attribute.String("provider", ProviderOllama),
			attribute.String("model", c.model),
			attribute.Int("message_count", len(messages)),
			attribute.Int("tool_count", len(tools)),
		),
	)
	defer span.End()

	olMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		olMsg := ollamaMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == "tool" {
			olMsg.ToolName = msg.ToolName
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				olMsg.ToolCalls = append(olMsg.ToolCalls, ollamaToolCall{
					Function: ollamaCallFunction{Name: tc.Name, Arguments: args},
				})
			}
		}
		olMessages = append(olMessages, olMsg)
	}

	reqPayload := ollamaRequest{
		Model:    c.model,
		Messages: olMessages,
		Stream:   false,
	}
	if len(tools) > 0 {
		reqPayload.Tools = c.NormalizeToolSchema(tools).([]ollamaTool)
	}

	options := &ollamaOptions{
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		options.NumPredict = &maxTokens
	}
	reqPayload.Options = options

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("marshaling request: %v", err), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("creating HTTP request: %v", err), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Sending request to Ollama",
		slog.String("model", c.model),
		slog.Int("messages", len(olMessages)),
		slog.Int("tools", len(tools)),
	)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		perr := networkError(ProviderOllama, err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderOllama, duration, perr)
		return nil, perr
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		perr := networkError(ProviderOllama, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOllama, duration, perr)
		return nil, perr
	}

	if resp.StatusCode != http.StatusOK {
		perr := classifyStatus(ProviderOllama, resp.StatusCode, string(bodyBytes))
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderOllama, duration, perr)
		return nil, perr
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		perr := decodeError(ProviderOllama, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOllama, duration, perr)
		return nil, perr
	}
	if apiResp.Error != "" {
		perr := &ProviderError{Provider: ProviderOllama, Kind: ErrKindInvalidRequest,
			Message: SafeLogString(apiResp.Error)}
		span.RecordError(perr)
		recordCompleteMetrics(ProviderOllama, duration, perr)
		return nil, perr
	}

	completion := &Completion{
		Content:  apiResp.Message.Content,
		Model:    c.model,
		Duration: duration,
		Usage: Usage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
			TotalTokens:  apiResp.PromptEvalCount + apiResp.EvalCount,
		},
	}
	for i, tc := range apiResp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        SyntheticCallID(i),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if len(completion.ToolCalls) > 0 {
		completion.StopReason = "tool_use"
	} else {
		completion.StopReason = "end"
	}

	span.AddEvent("response_received", trace.WithAttributes(
		attribute.Int("input_tokens", completion.Usage.InputTokens),
		attribute.Int("output_tokens", completion.Usage.OutputTokens),
		attribute.Int("tool_calls", len(completion.ToolCalls)),
		attribute.String("stop_reason", completion.StopReason),
	))
	recordCompleteMetrics(ProviderOllama, duration, nil)

	return completion, nil
}
