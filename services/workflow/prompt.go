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
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/mitchellh/mapstructure"
)

// PromptContext is what a phase's prompt template renders against.
//
// Description:
//
//	Built exclusively from prior phases' extracted data — never from raw
//	transcripts — so context size is bounded by tool payloads and earlier
//	conversations cannot leak prose into later prompts.
//
//	Templates address it two ways:
//
//	  {{.data.x}}                      merged payload fields; later phases
//	                                   win, and within a phase the tool
//	                                   whose last success came later wins
//	  {{.phases.review.record_finding}} a specific phase+tool payload
type PromptContext struct {
	// Data merges every payload field across prior phases in order.
	Data map[string]any

	// Phases maps phase name to that phase's per-tool extracted payloads.
	Phases map[string]map[string]map[string]any
}

// BuildPromptContext assembles the template context from completed phases.
func BuildPromptContext(prior []PhaseResult) PromptContext {
	pctx := PromptContext{
		Data:   make(map[string]any),
		Phases: make(map[string]map[string]map[string]any, len(prior)),
	}
	for _, phase := range prior {
		pctx.Phases[phase.Phase] = phase.ExtractedData
		for _, tool := range orderedTools(phase.ExtractedData, phase.ToolOrder) {
			for k, v := range phase.ExtractedData[tool] {
				pctx.Data[k] = v
			}
		}
	}
	return pctx
}

// orderedTools returns the tool names of one phase's extracted data in a
// deterministic merge order: the recorded call order when present, sorted
// keys otherwise.
func orderedTools(data map[string]map[string]any, order []string) []string {
	if len(order) == len(data) {
		return order
	}
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderPrompt renders a phase's opening message from prior extracted data.
//
// Description:
//
//	Templates use missingkey=error so a prompt referencing data an earlier
//	phase never produced fails the phase loudly instead of sending the
//	model a prompt with silent gaps.
//
// Inputs:
//   - name: Phase name, used as the template name in error messages.
//   - tmpl: The text/template source from the PhaseSpec.
//   - prior: Completed phases, in execution order.
//
// Outputs:
//   - string: The rendered opening message.
//   - error: Non-nil for parse failures or missing context keys.
func RenderPrompt(name, tmpl string, prior []PhaseResult) (string, error) {
	parsed, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("workflow: parsing prompt for phase %q: %w", name, err)
	}

	pctx := BuildPromptContext(prior)
	var out strings.Builder
	err = parsed.Execute(&out, map[string]any{
		"data":   pctx.Data,
		"phases": pctx.Phases,
	})
	if err != nil {
		return "", fmt.Errorf("workflow: rendering prompt for phase %q: %w", name, err)
	}
	return out.String(), nil
}

// DecodePhaseContext decodes merged extracted data into a typed struct.
//
// Description:
//
//	Tool payloads arrive as map[string]any with JSON-decoded value types
//	(float64 numbers). WeaklyTypedInput lets callers declare int fields on
//	their context structs without per-field casts.
//
// Inputs:
//   - data: Merged payload fields, typically PromptContext.Data.
//   - out: Pointer to the target struct; fields tagged `mapstructure:"..."`.
//
// Outputs:
//   - error: Non-nil on decoder construction or type mismatch.
func DecodePhaseContext(data map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("workflow: building context decoder: %w", err)
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("workflow: decoding phase context: %w", err)
	}
	return nil
}
