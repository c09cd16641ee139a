// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Workflow runs by outcome.",
		},
		[]string{"outcome"},
	)

	phasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "phases_total",
			Help:      "Phase executions by phase name and terminal status.",
		},
		[]string{"phase", "status"},
	)
)

func recordWorkflowMetrics(outcome string) {
	workflowRunsTotal.WithLabelValues(outcome).Inc()
}

func recordPhaseMetrics(phase, status string) {
	phasesTotal.WithLabelValues(phase, status).Inc()
}
