// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing installs a tracer provider when CONDUCTOR_TRACE=stdout is set.
//
// Description:
//
//	Spans are recorded by the llm, agent, and workflow packages regardless;
//	without an installed provider they are no-ops. The stdout exporter is
//	enough for a CLI tool — runs are short and the output lands next to
//	the structured logs.
//
// Outputs:
//   - func(): Shutdown hook; always safe to call.
//   - error: Non-nil if the exporter fails to construct.
func setupTracing(ctx context.Context) (func(), error) {
	if os.Getenv("CONDUCTOR_TRACE") != "stdout" {
		return func() {}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Shutting down tracer provider", slog.String("error", err.Error()))
		}
	}, nil
}
