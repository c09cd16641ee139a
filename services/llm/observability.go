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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// llmTracerName is the shared OTel tracer name for all provider clients.
const llmTracerName = "conductor.llm"

// Package-level Prometheus metrics for provider operations.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// completeCallDuration measures the duration of provider Complete calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "gemini", "ollama"
	//   - status: "success" or "error"
	completeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "llm",
			Name:      "complete_duration_seconds",
			Help:      "Duration of provider Complete calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	// completeCallsTotal counts the total number of provider Complete calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "gemini", "ollama"
	//   - status: "success" or "error"
	completeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "llm",
			Name:      "complete_calls_total",
			Help:      "Total number of provider Complete calls.",
		},
		[]string{"provider", "status"},
	)

	// completeErrorsTotal counts provider errors by taxonomy kind.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "gemini", "ollama"
	//   - error_kind: "auth", "invalid_request", "rate_limit", "transient", "unknown"
	completeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "llm",
			Name:      "complete_errors_total",
			Help:      "Total provider errors by taxonomy kind.",
		},
		[]string{"provider", "error_kind"},
	)
)

// errorKindLabel maps an error to a label-safe kind string.
//
// Description:
//
//	Uses the ProviderError taxonomy when present; anything else (which
//	should not happen on the client error paths) is labeled "unknown".
//	Keeping label values to the closed taxonomy set avoids high-cardinality
//	labels from raw error messages.
//
// Thread Safety: Safe for concurrent use.
func errorKindLabel(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := AsProviderError(err); ok {
		return string(pe.Kind)
	}
	return "unknown"
}

// recordCompleteMetrics records Prometheus metrics for a finished Complete
// call, on both success and error paths.
//
// Inputs:
//   - provider: Provider id ("anthropic", "openai", "gemini", "ollama").
//   - duration: How long the HTTP round trip took.
//   - err: The error, if any. Nil means success.
//
// Thread Safety: Safe for concurrent use.
func recordCompleteMetrics(provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		completeErrorsTotal.WithLabelValues(provider, errorKindLabel(err)).Inc()
	}

	completeCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	completeCallsTotal.WithLabelValues(provider, status).Inc()
}
