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

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// --- Wire Types ---
//
// Gemini differs from the other vendors on three axes the normalized layer
// has to absorb: function declarations are wrapped in a tools array entry,
// JSON Schema type tags are UPPERCASE ("STRING", not "string"), and
// functionCall parts carry no call ids.

// geminiSchema is the Gemini-flavored JSON Schema for tool parameters.
type geminiSchema struct {
	Type       string                  `json:"type"`
	Properties map[string]geminiSchema `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`

	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  geminiSchema `json:"parameters"`
}

type geminiToolDeclaration struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiToolDeclaration `json:"tools,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	Error         *geminiAPIError   `json:"error,omitempty"`
}

// --- Client ---

// GeminiClient implements Provider for the Gemini generateContent API.
//
// Thread Safety: GeminiClient is safe for concurrent use.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGeminiClient creates a GeminiClient with explicit configuration.
//
// Inputs:
//   - apiKey: The Gemini API key. Must not be empty.
//   - model: The model name (e.g., "gemini-2.0-flash").
//   - baseURL: Endpoint override; empty uses the production API.
//
// Outputs:
//   - *GeminiClient: The configured client.
//   - error: Non-nil if the API key is missing.
func NewGeminiClient(apiKey, model, baseURL string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing (GEMINI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &GeminiClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}, nil
}

// Name implements Provider.Name.
func (g *GeminiClient) Name() string {
	return ProviderGemini
}

// NormalizeToolSchema implements Provider.NormalizeToolSchema for Gemini.
//
// Description:
//
//	Wraps all function declarations in a single tools array entry and
//	uppercases every JSON Schema type tag ("string" → "STRING"), which is
//	what the generateContent API expects.
func (g *GeminiClient) NormalizeToolSchema(tools []ToolDef) any {
	if len(tools) == 0 {
		return []geminiToolDeclaration(nil)
	}

	funcDecls := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, td := range tools {
		properties := make(map[string]geminiSchema, len(td.Function.Parameters.Properties))
		for name, p := range td.Function.Parameters.Properties {
			properties[name] = geminiSchema{
				Type:        strings.ToUpper(p.Type),
				Description: p.Description,
				Enum:        p.Enum,
			}
		}
		funcDecls = append(funcDecls, geminiFunctionDeclaration{
			Name:        td.Function.Name,
			Description: td.Function.Description,
			Parameters: geminiSchema{
				Type:       "OBJECT",
				Properties: properties,
				Required:   td.Function.Parameters.Required,
			},
		})
	}
	return []geminiToolDeclaration{{FunctionDeclarations: funcDecls}}
}

// Complete implements Provider.Complete for Gemini.
func (g *GeminiClient) Complete(ctx context.Context, messages []ChatMessage,
	tools []ToolDef, opts CompleteOptions) (*Completion, error) {

	ctx, span := otel.Tracer(llmTracerName).Start(ctx, "llm.Gemini.Complete",
		trace.WithAttributes(
			attribute.String("provider", ProviderGemini),
			attribute.String("model", g.model),
			attribute.Int("message_count", len(messages)),
			attribute.Int("tool_count", len(tools)),
		),
	)
	defer span.End()

	reqPayload := g.buildRequest(messages, tools, opts)

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("marshaling request: %v", err), Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Kind: ErrKindInvalidRequest,
			Message: fmt.Sprintf("creating HTTP request: %v", err), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Sending request to Gemini",
		slog.String("model", g.model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	startTime := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		perr := networkError(ProviderGemini, err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderGemini, duration, perr)
		return nil, perr
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		perr := networkError(ProviderGemini, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderGemini, duration, perr)
		return nil, perr
	}

	if resp.StatusCode != http.StatusOK {
		perr := classifyStatus(ProviderGemini, resp.StatusCode, string(bodyBytes))
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordCompleteMetrics(ProviderGemini, duration, perr)
		return nil, perr
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		perr := decodeError(ProviderGemini, err)
		span.RecordError(perr)
		recordCompleteMetrics(ProviderGemini, duration, perr)
		return nil, perr
	}
	if apiResp.Error != nil {
		perr := &ProviderError{Provider: ProviderGemini, Kind: ErrKindInvalidRequest,
			Message: SafeLogString(fmt.Sprintf("%s (%d): %s", apiResp.Error.Status, apiResp.Error.Code, apiResp.Error.Message))}
		span.RecordError(perr)
		recordCompleteMetrics(ProviderGemini, duration, perr)
		return nil, perr
	}
	if len(apiResp.Candidates) == 0 {
		perr := decodeError(ProviderGemini, fmt.Errorf("response contained no candidates"))
		span.RecordError(perr)
		recordCompleteMetrics(ProviderGemini, duration, perr)
		return nil, perr
	}

	completion := g.parseCandidate(apiResp.Candidates[0])
	completion.Model = g.model
	completion.Duration = duration
	if apiResp.UsageMetadata != nil {
		completion.Usage = Usage{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  apiResp.UsageMetadata.TotalTokenCount,
		}
	}

	span.AddEvent("response_received", trace.WithAttributes(
		attribute.Int("input_tokens", completion.Usage.InputTokens),
		attribute.Int("output_tokens", completion.Usage.OutputTokens),
		attribute.Int("tool_calls", len(completion.ToolCalls)),
		attribute.String("stop_reason", completion.StopReason),
	))
	recordCompleteMetrics(ProviderGemini, duration, nil)

	return completion, nil
}

// buildRequest converts generic messages into Gemini contents.
//
// Role mapping: "assistant" → "model"; tool results become user-role
// functionResponse parts keyed by function name (Gemini has no call ids).
func (g *GeminiClient) buildRequest(messages []ChatMessage, tools []ToolDef,
	opts CompleteOptions) geminiRequest {

	var contents []geminiContent
	var systemInstruction *geminiContent

	for _, msg := range messages {
		switch {
		case msg.Role == "system":
			systemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}

		case msg.Role == "tool" && msg.ToolName != "":
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResp{
					Name:     msg.ToolName,
					Response: map[string]any{"content": msg.Content},
				}}},
			})

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Name,
					Args: args,
				}})
			}
			contents = append(contents, geminiContent{Role: "model", Parts: parts})

		default:
			role := msg.Role
			if role == "assistant" {
				role = "model"
			}
			contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	req := geminiRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
		Tools:             g.NormalizeToolSchema(tools).([]geminiToolDeclaration),
	}

	genCfg := &geminiGenerationConfig{
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.Stop,
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		genCfg.MaxOutputTokens = &maxTokens
	}
	req.GenerationConfig = genCfg

	return req
}

// parseCandidate converts candidate parts into a normalized Completion,
// synthesizing deterministic call ids for functionCall parts.
func (g *GeminiClient) parseCandidate(candidate geminiCandidate) *Completion {
	completion := &Completion{}
	var textParts []string

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:        SyntheticCallID(len(completion.ToolCalls)),
				Name:      part.FunctionCall.Name,
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
	return completion
}
