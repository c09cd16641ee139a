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
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AleutianAI/conductor/services/llm"
)

// Registry is the catalog of tools visible to a workflow.
//
// Description:
//
//	Built once at startup, read-only afterwards. Each registered tool's
//	parameter schema is compiled with gojsonschema at registration time so
//	argument validation at execution time is a pure lookup. An explicit
//	Registry instance is injected into the orchestrator (no package-level
//	singleton), which keeps test registries isolated.
//
// Thread Safety: Safe for concurrent reads after registration completes.
// Registration itself is not synchronized; register everything before use.
type Registry struct {
	byName  map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool and compiles its parameter schema.
//
// Outputs:
//   - error: Non-nil for an empty name, duplicate name, or a parameter
//     schema that does not compile.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	rawSchema, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling schema for tool %q: %w", def.Name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rawSchema))
	if err != nil {
		return fmt.Errorf("compiling schema for tool %q: %w", def.Name, err)
	}

	r.byName[def.Name] = t
	r.schemas[def.Name] = schema
	r.order = append(r.order, def.Name)
	return nil
}

// Get looks up a tool by name.
//
// Outputs:
//   - Tool: The registered tool.
//   - error: An *UnknownToolError if the name is not registered.
func (r *Registry) Get(name string) (Tool, error) {
	t, exists := r.byName[name]
	if !exists {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Subset builds a new registry containing exactly the named tools.
//
// Description:
//
//	Phases declare the tool subset they may use; the orchestrator calls
//	Subset so the agent loop and the provider only ever see that subset.
//	Compiled schemas are shared, not recompiled.
//
// Outputs:
//   - *Registry: The restricted registry, preserving the requested order.
//   - error: An *UnknownToolError for any name not in the parent registry.
func (r *Registry) Subset(names []string) (*Registry, error) {
	sub := NewRegistry()
	for _, name := range names {
		t, exists := r.byName[name]
		if !exists {
			return nil, &UnknownToolError{Name: name}
		}
		if _, dup := sub.byName[name]; dup {
			continue
		}
		sub.byName[name] = t
		sub.schemas[name] = r.schemas[name]
		sub.order = append(sub.order, name)
	}
	return sub, nil
}

// LLMToolDefs returns the catalog in the generic provider shape, in
// registration order.
func (r *Registry) LLMToolDefs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].Definition().LLMToolDef())
	}
	return defs
}

// ValidateArgs checks an argument map against the tool's compiled schema.
//
// Outputs:
//   - error: Non-nil if the tool is unknown, the arguments cannot be
//     encoded, or validation fails. The message enumerates every schema
//     violation so the model can correct all of them in one turn.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	schema, exists := r.schemas[name]
	if !exists {
		return &UnknownToolError{Name: name}
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments for tool %q: %w", name, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validating arguments for tool %q: %w", name, err)
	}
	if !result.Valid() {
		msg := fmt.Sprintf("invalid arguments for tool %q:", name)
		for _, verr := range result.Errors() {
			msg += " " + verr.String() + ";"
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
