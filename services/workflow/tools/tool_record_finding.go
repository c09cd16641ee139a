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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/AleutianAI/conductor/services/llm"
)

// =============================================================================
// record_finding Tool
// =============================================================================

// Finding is one recorded observation, deduplicated by content fingerprint.
type Finding struct {
	// Fingerprint is the content hash used for deduplication.
	Fingerprint string `json:"fingerprint"`

	// Category groups findings ("risk", "observation", "recommendation").
	Category string `json:"category"`

	// Summary is the one-line finding.
	Summary string `json:"summary"`

	// Detail is the optional supporting detail.
	Detail string `json:"detail,omitempty"`

	// Used marks a finding consumed by finalize_artifact.
	Used bool `json:"used"`
}

// FindingStore accumulates findings across tool calls within one phase.
//
// Description:
//
//	Shared between record_finding and finalize_artifact. Re-recording an
//	identical finding is a no-op keyed by content fingerprint, which makes
//	re-running a phase with identical inputs safe. MarkAllUsed is
//	order-sensitive: findings recorded after finalization are not included
//	in the artifact.
//
// Thread Safety: Safe for concurrent use via sync.Mutex, though the loop
// executes same-turn calls strictly in order.
type FindingStore struct {
	mu       sync.Mutex
	seen     map[string]int // fingerprint → index into findings
	findings []Finding
}

// NewFindingStore creates an empty finding store.
func NewFindingStore() *FindingStore {
	return &FindingStore{seen: make(map[string]int)}
}

// Record adds a finding, deduplicating by fingerprint.
//
// Outputs:
//   - string: The finding's fingerprint.
//   - bool: True if this fingerprint was already recorded.
func (s *FindingStore) Record(category, summary, detail string) (string, bool) {
	fingerprint := findingFingerprint(category, summary)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[fingerprint]; exists {
		return fingerprint, true
	}
	s.seen[fingerprint] = len(s.findings)
	s.findings = append(s.findings, Finding{
		Fingerprint: fingerprint,
		Category:    category,
		Summary:     summary,
		Detail:      detail,
	})
	return fingerprint, false
}

// MarkAllUsed marks every unused finding as used and returns them in
// recording order.
func (s *FindingStore) MarkAllUsed() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	consumed := make([]Finding, 0, len(s.findings))
	for i := range s.findings {
		if s.findings[i].Used {
			continue
		}
		s.findings[i].Used = true
		consumed = append(consumed, s.findings[i])
	}
	return consumed
}

// Len returns the number of recorded findings.
func (s *FindingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.findings)
}

// findingFingerprint hashes the identity-bearing fields of a finding.
func findingFingerprint(category, summary string) string {
	h := sha256.Sum256([]byte(category + "\x00" + summary))
	return "fp_" + hex.EncodeToString(h[:8])
}

// recordFindingTool records one structured finding into the shared store.
//
// Thread Safety: Safe for concurrent use; state lives in the FindingStore.
type recordFindingTool struct {
	store *FindingStore
}

// NewRecordFindingTool creates the record_finding tool.
//
// Inputs:
//   - store: The shared finding store. Must not be nil.
//
// Outputs:
//   - Tool: The record_finding tool implementation.
func NewRecordFindingTool(store *FindingStore) Tool {
	return &recordFindingTool{store: store}
}

func (t *recordFindingTool) Name() string {
	return "record_finding"
}

func (t *recordFindingTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "record_finding",
		Description: "Record one structured finding (a risk, observation, or recommendation). " +
			"Call once per distinct finding. Identical findings are deduplicated by content, " +
			"so re-recording the same finding is safe. " +
			"When all findings are recorded, call finalize_artifact exactly once.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"category": {
					Type:        "string",
					Description: "Finding category",
					Enum:        []any{"risk", "observation", "recommendation"},
				},
				"summary": {
					Type:        "string",
					Description: "One-line summary of the finding",
				},
				"detail": {
					Type:        "string",
					Description: "Supporting detail, optional",
				},
			},
			Required: []string{"category", "summary"},
		},
	}
}

// Execute records the finding and reports whether it was a duplicate.
func (t *recordFindingTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	category, _ := args["category"].(string)
	summary, _ := args["summary"].(string)
	detail, _ := args["detail"].(string)

	if summary == "" {
		return FailedResult("record_finding: summary must not be empty"), nil
	}

	fingerprint, duplicate := t.store.Record(category, summary, detail)

	return &Result{
		Success: true,
		Payload: map[string]any{
			"fingerprint":    fingerprint,
			"duplicate":      duplicate,
			"total_findings": t.store.Len(),
		},
		SideEffects: map[string]string{
			"finding_recorded": fingerprint,
			"deduplicated":     fmt.Sprintf("%v", duplicate),
		},
	}, nil
}
