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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for tool execution.
var (
	// toolExecutionsTotal counts tool executions by outcome.
	//
	// Labels:
	//   - tool: the tool name
	//   - status: "success", "failed", "invalid_args", "unknown_tool"
	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "tools",
			Name:      "executions_total",
			Help:      "Total tool executions by outcome.",
		},
		[]string{"tool", "status"},
	)

	// toolExecutionDuration measures tool execution time.
	//
	// Labels:
	//   - tool: the tool name
	toolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "tools",
			Name:      "execution_duration_seconds",
			Help:      "Duration of tool executions in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"tool"},
	)
)

// recordToolMetrics records one finished tool execution.
func recordToolMetrics(tool, status string, duration time.Duration) {
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
	toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
