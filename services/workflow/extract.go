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

	"github.com/AleutianAI/conductor/services/workflow/session"
)

// Extraction is the structured view of a finished session's tool results.
type Extraction struct {
	// Data maps tool name to the payload of that tool's last successful
	// call. Earlier successful calls of the same tool are overwritten.
	Data map[string]map[string]any

	// Order lists the tools in Data ordered by their last successful call,
	// so merges over Data stay deterministic.
	Order []string

	// Errors lists every failed tool result, in session order.
	Errors []string
}

// Empty reports whether no tool call succeeded.
func (e Extraction) Empty() bool {
	return len(e.Data) == 0
}

// ExtractResults scans a finished session's messages for tool results.
//
// Description:
//
//	Pure function over the message snapshot, so extraction is idempotent:
//	running it twice on the same session yields identical output. Successful
//	results land in Data keyed by tool name with last-call-wins semantics;
//	a tool that succeeds again also moves to the back of Order, so the most
//	recently updated payload takes precedence in merges. Failed results
//	land in Errors and never contribute to Data. Free-text assistant turns
//	are ignored.
//
// Inputs:
//   - messages: The session snapshot, in seq order.
//
// Outputs:
//   - Extraction: Never nil maps; an all-prose session yields an empty Data.
func ExtractResults(messages []session.Message) Extraction {
	extraction := Extraction{Data: make(map[string]map[string]any)}

	for _, msg := range messages {
		if msg.Role != session.RoleTool || msg.ToolResult == nil {
			continue
		}
		result := msg.ToolResult

		if !result.Success {
			for _, errMsg := range result.Errors {
				extraction.Errors = append(extraction.Errors,
					fmt.Sprintf("%s: %s", result.ToolName, errMsg))
			}
			if len(result.Errors) == 0 {
				extraction.Errors = append(extraction.Errors,
					fmt.Sprintf("%s: failed without detail", result.ToolName))
			}
			continue
		}

		payload := make(map[string]any, len(result.Payload))
		for k, v := range result.Payload {
			payload[k] = v
		}
		if _, seen := extraction.Data[result.ToolName]; seen {
			extraction.Order = removeTool(extraction.Order, result.ToolName)
		}
		extraction.Order = append(extraction.Order, result.ToolName)
		extraction.Data[result.ToolName] = payload
	}
	return extraction
}

func removeTool(order []string, name string) []string {
	kept := order[:0]
	for _, tool := range order {
		if tool != name {
			kept = append(kept, tool)
		}
	}
	return kept
}
