// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow chains isolated tool-calling conversations into a
// multi-phase pipeline. Each phase runs a fresh session against a restricted
// tool subset; the structured data extracted from its tool results — never
// the raw transcript — becomes input for later phases' prompts.
package workflow

import "fmt"

// PhaseStatus is the terminal state of one phase.
type PhaseStatus string

const (
	// PhaseDone means the phase's loop completed and produced usable tool
	// output.
	PhaseDone PhaseStatus = "done"

	// PhaseFatal means a permanent provider error, exhausted retries, or a
	// tool circuit break aborted the phase.
	PhaseFatal PhaseStatus = "fatal"

	// PhaseIterationCapExceeded means the model never reached a terminal
	// state within the phase's iteration budget.
	PhaseIterationCapExceeded PhaseStatus = "iteration_cap_exceeded"

	// PhaseEmptyResult means the loop completed but no tool call succeeded:
	// the model finished with prose instead of invoking its tools. Surfaced
	// distinctly so it is never mistaken for success.
	PhaseEmptyResult PhaseStatus = "empty_result"
)

// PhaseSpec declares one pipeline phase.
//
// Description:
//
//	Loaded from workflow configuration. Tools is the exact subset visible
//	to the model during this phase. Prompt is a text/template rendered from
//	prior phases' extracted data (see RenderPrompt). A gating phase that
//	does not reach PhaseDone halts every later phase.
type PhaseSpec struct {
	// Name identifies the phase in results, logs, and prompt contexts.
	Name string `yaml:"name" validate:"required"`

	// Tools lists the tool names this phase may invoke.
	Tools []string `yaml:"tools" validate:"required,min=1,dive,required"`

	// Prompt is the opening user message template.
	Prompt string `yaml:"prompt" validate:"required"`

	// System optionally overrides the workflow-level system prompt.
	System string `yaml:"system"`

	// Gating halts the remaining phases when this one does not reach Done.
	Gating bool `yaml:"gating"`

	// MaxIterations overrides the workflow-level iteration cap. 0 inherits.
	MaxIterations int `yaml:"max_iterations" validate:"omitempty,min=1"`

	// Provider optionally overrides the workflow-level provider id.
	Provider string `yaml:"provider"`
}

// PhaseResult is the immutable outcome of one phase.
type PhaseResult struct {
	// Phase is the PhaseSpec name.
	Phase string

	// Status is the terminal state.
	Status PhaseStatus

	// ExtractedData maps tool name to the payload of that tool's last
	// successful call within the phase.
	ExtractedData map[string]map[string]any

	// ToolOrder lists ExtractedData's keys ordered by last successful call,
	// keeping merges over the payloads deterministic. Empty falls back to
	// sorted key order.
	ToolOrder []string

	// Errors lists failed tool results and any fatal loop error, redacted.
	Errors []string

	// SessionID references the phase's journaled session for post-hoc
	// debugging. Reporting consumers use ExtractedData only.
	SessionID string

	// Iterations is how many model turns the phase consumed.
	Iterations int
}

// WorkflowResult is the outcome of one full pipeline run.
//
// Description:
//
//	Phases holds every PhaseResult completed before the run ended,
//	including the failing gating phase when one halts the pipeline.
//	Success is true only when every phase reached PhaseDone. Artifacts
//	maps phase name to that phase's flattened extracted payload fields.
type WorkflowResult struct {
	// Phases holds results in execution order.
	Phases []PhaseResult

	// Success reports whether every phase reached PhaseDone.
	Success bool

	// Artifacts maps phase name to flattened extracted data.
	Artifacts map[string]map[string]any
}

// ArtifactSummary is the typed view of a phase's artifact fields, decoded
// from the built-in terminal tool's payload.
type ArtifactSummary struct {
	// Title is the artifact title, empty when the phase produced none.
	Title string `mapstructure:"title"`

	// Conclusion is the synthesized conclusion text.
	Conclusion string `mapstructure:"conclusion"`

	// FindingCount is how many findings the artifact consumed.
	FindingCount int `mapstructure:"finding_count"`
}

// ArtifactSummaries decodes each phase's flattened artifact data into the
// typed summary shape.
//
// Description:
//
//	Payload values carry JSON-decoded types (float64 numbers); the weak
//	decode lands them in the struct's int fields. Phases whose tools never
//	produced artifact fields yield a zero summary.
//
// Outputs:
//   - map[string]ArtifactSummary: Keyed by phase name.
//   - error: Non-nil when a phase's data cannot decode into the summary.
func (r *WorkflowResult) ArtifactSummaries() (map[string]ArtifactSummary, error) {
	summaries := make(map[string]ArtifactSummary, len(r.Artifacts))
	for phase, data := range r.Artifacts {
		var summary ArtifactSummary
		if err := DecodePhaseContext(data, &summary); err != nil {
			return nil, fmt.Errorf("workflow: summarizing phase %q artifacts: %w", phase, err)
		}
		summaries[phase] = summary
	}
	return summaries, nil
}

// FailedPhases returns the names and statuses of phases that did not reach
// Done, formatted for the run summary.
func (r *WorkflowResult) FailedPhases() []string {
	var failed []string
	for _, phase := range r.Phases {
		if phase.Status != PhaseDone {
			failed = append(failed, fmt.Sprintf("%s (%s)", phase.Phase, phase.Status))
		}
	}
	return failed
}
