// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the tool contract the workflow engine executes on
// behalf of a model: named operations with typed parameter schemas, a
// registry that owns schema validation, and an execution wrapper that turns
// every kind of tool failure into a structured Result instead of an error.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/conductor/services/llm"
)

// Tool is one invocable operation exposed to the model.
//
// Description:
//
//	Implementations are created once at startup and registered; the
//	registry is read-only afterwards. Execute receives the decoded argument
//	map exactly as the provider returned it. A Tool may return a failed
//	Result (preferred) or an error; the registry's execution wrapper folds
//	both, plus panics, into failed Results.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Tool interface {
	// Name returns the unique tool name the model calls.
	Name() string

	// Definition returns the schema the model sees.
	Definition() ToolDefinition

	// Execute runs the tool with validated arguments.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// ToolDefinition describes a tool to the model: name, description, and the
// JSON Schema of its parameters.
type ToolDefinition struct {
	// Name is the unique tool name.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters is the JSON Schema for the argument object.
	Parameters llm.ToolParameters
}

// LLMToolDef converts the definition into the generic provider tool shape.
func (d ToolDefinition) LLMToolDef() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
	}
}

// Result is the outcome of one tool invocation.
//
// Description:
//
//	Immutable once returned. Failed results carry the failure in Errors and
//	an empty or partial Payload; they are fed back to the model as failed
//	tool results, never raised. SideEffects records what the tool changed
//	(e.g. "finding_recorded": "fp_abc123") for debugging and extraction
//	metadata.
//
// Thread Safety: Result is safe for concurrent read access.
type Result struct {
	// Success reports whether the invocation succeeded.
	Success bool

	// Payload is the structured output of a successful invocation.
	Payload map[string]any

	// Errors lists what went wrong, empty on success.
	Errors []string

	// SideEffects records state the tool changed, keyed by effect name.
	SideEffects map[string]string

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// FailedResult builds a failed Result from an error message.
func FailedResult(format string, args ...any) *Result {
	return &Result{
		Success: false,
		Errors:  []string{fmt.Sprintf(format, args...)},
	}
}

// UnknownToolError reports a model request for a tool that is not registered.
//
// Description:
//
//	Non-fatal: the loop synthesizes a failed tool result from it and keeps
//	going, giving the model a chance to self-correct.
type UnknownToolError struct {
	// Name is the tool name the model asked for.
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %q", e.Name)
}

// ToolExecutionError reports a tool that returned an error or panicked.
type ToolExecutionError struct {
	// Name is the tool that failed.
	Name string

	// Err is the underlying failure.
	Err error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}
