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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowResult_ArtifactSummaries(t *testing.T) {
	result := &WorkflowResult{
		Artifacts: map[string]map[string]any{
			"report": {
				"title":         "Module Review",
				"conclusion":    "Two risks, one recommendation.",
				"finding_count": float64(3), // JSON numbers decode as float64
				"url":           "report://1",
			},
			"scan": {
				"fingerprint": "fp_abc",
			},
		},
	}

	summaries, err := result.ArtifactSummaries()
	require.NoError(t, err)

	report := summaries["report"]
	assert.Equal(t, "Module Review", report.Title)
	assert.Equal(t, "Two risks, one recommendation.", report.Conclusion)
	assert.Equal(t, 3, report.FindingCount, "float64 payload must land in the int field")

	assert.Empty(t, summaries["scan"].Title, "phases without artifact fields yield zero summaries")
}

func TestWorkflowResult_ArtifactSummariesEmptyResult(t *testing.T) {
	summaries, err := (&WorkflowResult{}).ArtifactSummaries()
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestWorkflowResult_FailedPhases(t *testing.T) {
	result := &WorkflowResult{
		Phases: []PhaseResult{
			{Phase: "scan", Status: PhaseDone},
			{Phase: "triage", Status: PhaseEmptyResult},
			{Phase: "report", Status: PhaseFatal},
		},
	}

	assert.Equal(t, []string{"triage (empty_result)", "report (fatal)"}, result.FailedPhases())
}
