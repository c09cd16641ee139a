// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loopRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "loop_runs_total",
			Help:      "Agent loop runs by provider and terminal status.",
		},
		[]string{"provider", "status"},
	)

	loopIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "loop_iterations",
			Help:      "Model turns consumed per loop run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20, 30},
		},
		[]string{"provider", "status"},
	)
)

// recordLoopMetrics records the terminal metrics for one loop run.
func recordLoopMetrics(provider, status string, iterations int) {
	loopRunsTotal.WithLabelValues(provider, status).Inc()
	loopIterations.WithLabelValues(provider, status).Observe(float64(iterations))
}
