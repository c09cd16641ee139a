// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var executeTracer = otel.Tracer("conductor.tools")

// Execute runs a named tool and always returns a Result, never an error.
//
// Description:
//
//	The single entry point the agent loop uses. Every failure mode is
//	folded into a failed Result so it can be appended to the conversation
//	as a tool result and shown to the model:
//	  - unknown tool name → failed Result ("unknown tool")
//	  - arguments failing schema validation → failed Result
//	  - tool returning an error → failed Result
//	  - tool panicking → recovered, failed Result
//
// Inputs:
//   - ctx: Context passed through to the tool.
//   - name: The tool name the model requested.
//   - args: The decoded argument map from the provider.
//
// Outputs:
//   - *Result: Always non-nil.
//
// Thread Safety: Safe for concurrent use after registration completes.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	start := time.Now()

	ctx, span := executeTracer.Start(ctx, "tools.Execute",
		trace.WithAttributes(attribute.String("tool", name)),
	)
	defer span.End()

	tool, err := r.Get(name)
	if err != nil {
		span.RecordError(err)
		recordToolMetrics(name, "unknown_tool", time.Since(start))
		slog.Warn("Model requested unregistered tool", slog.String("tool", name))
		res := FailedResult("%v", err)
		res.Duration = time.Since(start)
		return res
	}

	if err := r.ValidateArgs(name, args); err != nil {
		span.RecordError(err)
		recordToolMetrics(name, "invalid_args", time.Since(start))
		res := FailedResult("%v", err)
		res.Duration = time.Since(start)
		return res
	}

	result := r.executeGuarded(ctx, tool, args)
	result.Duration = time.Since(start)

	status := "success"
	if !result.Success {
		status = "failed"
		span.SetAttributes(attribute.StringSlice("tool_errors", result.Errors))
	}
	span.SetAttributes(attribute.Bool("success", result.Success))
	recordToolMetrics(name, status, result.Duration)

	slog.Debug("Tool executed",
		slog.String("tool", name),
		slog.Bool("success", result.Success),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// executeGuarded invokes the tool with panic recovery.
func (r *Registry) executeGuarded(ctx context.Context, tool Tool, args map[string]any) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			err := &ToolExecutionError{Name: tool.Name(), Err: fmt.Errorf("panic: %v", rec)}
			slog.Error("Tool panicked",
				slog.String("tool", tool.Name()),
				slog.String("panic", fmt.Sprintf("%v", rec)),
			)
			result = FailedResult("%v", err)
		}
	}()

	res, err := tool.Execute(ctx, args)
	if err != nil {
		return FailedResult("%v", &ToolExecutionError{Name: tool.Name(), Err: err})
	}
	if res == nil {
		return FailedResult("%v", &ToolExecutionError{
			Name: tool.Name(), Err: fmt.Errorf("tool returned nil result"),
		})
	}
	return res
}
