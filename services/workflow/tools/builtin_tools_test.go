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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFinding_Deduplicates(t *testing.T) {
	store := NewFindingStore()
	r := newTestRegistry(t, NewRecordFindingTool(store))

	args := map[string]any{"category": "risk", "summary": "unbounded recursion in parser"}

	first := r.Execute(context.Background(), "record_finding", args)
	require.True(t, first.Success)
	assert.Equal(t, false, first.Payload["duplicate"])
	assert.Equal(t, 1, first.Payload["total_findings"])

	// Identical call is a safe no-op keyed by content fingerprint.
	second := r.Execute(context.Background(), "record_finding", args)
	require.True(t, second.Success)
	assert.Equal(t, true, second.Payload["duplicate"])
	assert.Equal(t, 1, second.Payload["total_findings"])
	assert.Equal(t, first.Payload["fingerprint"], second.Payload["fingerprint"])
}

func TestRecordFinding_RejectsBadCategory(t *testing.T) {
	store := NewFindingStore()
	r := newTestRegistry(t, NewRecordFindingTool(store))

	result := r.Execute(context.Background(), "record_finding",
		map[string]any{"category": "vibes", "summary": "something"})
	assert.False(t, result.Success, "category outside the enum must fail validation")
	assert.Equal(t, 0, store.Len())
}

func TestFinalizeArtifact_ConsumesFindingsInOrder(t *testing.T) {
	store := NewFindingStore()
	r := newTestRegistry(t, NewRecordFindingTool(store), NewFinalizeArtifactTool(store))

	for _, summary := range []string{"first", "second", "third"} {
		res := r.Execute(context.Background(), "record_finding",
			map[string]any{"category": "observation", "summary": summary})
		require.True(t, res.Success)
	}

	result := r.Execute(context.Background(), "finalize_artifact",
		map[string]any{"title": "Analysis", "conclusion": "three observations"})
	require.True(t, result.Success)

	assert.Equal(t, 3, result.Payload["finding_count"])
	findings := result.Payload["findings"].([]map[string]any)
	require.Len(t, findings, 3)
	assert.Equal(t, "first", findings[0]["summary"])
	assert.Equal(t, "second", findings[1]["summary"])
	assert.Equal(t, "third", findings[2]["summary"])
}

func TestFinalizeArtifact_SecondCallSeesNoFindings(t *testing.T) {
	store := NewFindingStore()
	r := newTestRegistry(t, NewRecordFindingTool(store), NewFinalizeArtifactTool(store))

	r.Execute(context.Background(), "record_finding",
		map[string]any{"category": "risk", "summary": "only one"})

	args := map[string]any{"title": "T", "conclusion": "C"}
	first := r.Execute(context.Background(), "finalize_artifact", args)
	require.True(t, first.Success)
	assert.Equal(t, 1, first.Payload["finding_count"])

	// Findings are marked used; a second finalize consumes nothing.
	second := r.Execute(context.Background(), "finalize_artifact", args)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.Payload["finding_count"])
}

func TestFinalizeArtifact_RequiresTitleAndConclusion(t *testing.T) {
	store := NewFindingStore()
	r := newTestRegistry(t, NewFinalizeArtifactTool(store))

	result := r.Execute(context.Background(), "finalize_artifact",
		map[string]any{"title": "T"})
	assert.False(t, result.Success)
}
