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

	"github.com/AleutianAI/conductor/services/llm"
)

// =============================================================================
// finalize_artifact Tool
// =============================================================================

// finalizeArtifactTool assembles the phase's terminal structured artifact
// from every finding recorded so far.
//
// Description:
//
//	The terminal tool of a reporting phase: once the model has recorded its
//	findings it must call this exactly once to produce the artifact. This
//	collapses what would otherwise be an open-ended stream of granular
//	calls into one structured terminal call, giving the loop a clear
//	completion signal before the iteration cap fires.
//
// Thread Safety: Safe for concurrent use; state lives in the FindingStore.
type finalizeArtifactTool struct {
	store *FindingStore
}

// NewFinalizeArtifactTool creates the finalize_artifact tool.
//
// Inputs:
//   - store: The shared finding store. Must not be nil.
//
// Outputs:
//   - Tool: The finalize_artifact tool implementation.
func NewFinalizeArtifactTool(store *FindingStore) Tool {
	return &finalizeArtifactTool{store: store}
}

func (t *finalizeArtifactTool) Name() string {
	return "finalize_artifact"
}

func (t *finalizeArtifactTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "finalize_artifact",
		Description: "Assemble the final structured artifact from every recorded finding. " +
			"Call exactly once, after all findings have been recorded with record_finding. " +
			"This is the terminal step: after a successful call, stop requesting tools.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"title": {
					Type:        "string",
					Description: "Title of the artifact",
				},
				"conclusion": {
					Type:        "string",
					Description: "Overall conclusion drawn from the findings",
				},
			},
			Required: []string{"title", "conclusion"},
		},
	}
}

// Execute marks all findings used and returns the assembled artifact.
func (t *finalizeArtifactTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	title, _ := args["title"].(string)
	conclusion, _ := args["conclusion"].(string)

	if title == "" || conclusion == "" {
		return FailedResult("finalize_artifact: title and conclusion must not be empty"), nil
	}

	findings := t.store.MarkAllUsed()
	findingPayload := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		findingPayload = append(findingPayload, map[string]any{
			"fingerprint": f.Fingerprint,
			"category":    f.Category,
			"summary":     f.Summary,
			"detail":      f.Detail,
		})
	}

	return &Result{
		Success: true,
		Payload: map[string]any{
			"title":         title,
			"conclusion":    conclusion,
			"findings":      findingPayload,
			"finding_count": len(findings),
		},
		SideEffects: map[string]string{
			"findings_consumed": "all",
		},
	}, nil
}
