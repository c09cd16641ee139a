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
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/conductor/services/llm"
	"github.com/AleutianAI/conductor/services/workflow/agent"
	"github.com/AleutianAI/conductor/services/workflow/session"
	"github.com/AleutianAI/conductor/services/workflow/tools"
)

var workflowTracer = otel.Tracer("conductor.workflow")

// Orchestrator sequences phases into one pipeline run.
//
// Description:
//
//	Both registries are injected at construction, never global, so tests
//	build isolated tool catalogs and scripted providers. The session store
//	journals every phase's transcript; reporting consumers only ever see
//	extracted data.
//
// Thread Safety: Safe for concurrent Run calls; per-run state is local.
type Orchestrator struct {
	providers *llm.Registry
	tools     *tools.Registry
	store     session.Store
}

// NewOrchestrator creates an Orchestrator.
//
// Inputs:
//   - providers: Constructed provider clients keyed by provider id.
//   - registry: The full tool catalog; phases see subsets of it.
//   - store: Session journal. May be nil to skip persistence.
func NewOrchestrator(providers *llm.Registry, registry *tools.Registry, store session.Store) *Orchestrator {
	return &Orchestrator{providers: providers, tools: registry, store: store}
}

// Run executes every phase in order and assembles the WorkflowResult.
//
// Description:
//
//	Each phase gets a brand-new session, a tool subset, and an opening
//	prompt rendered from previously completed phases' extracted data only.
//	A gating phase that does not reach Done halts the run immediately; the
//	returned result still carries every PhaseResult completed so far.
//	Non-gating failures let later phases run on the data that does exist.
//
// Inputs:
//   - ctx: Cancellation is honored at phase boundaries.
//   - cfg: Validated configuration.
//
// Outputs:
//   - *WorkflowResult: Always non-nil; partial on halt or cancellation.
//   - error: Non-nil only for infrastructure failures (unknown provider or
//     tool, cancellation) — phase-level failures live in the result.
func (o *Orchestrator) Run(ctx context.Context, cfg *Config) (*WorkflowResult, error) {
	ctx, span := workflowTracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(attribute.Int("phases", len(cfg.Phases))),
	)
	defer span.End()

	result := &WorkflowResult{Artifacts: make(map[string]map[string]any)}

	for _, phase := range cfg.Phases {
		if err := ctx.Err(); err != nil {
			recordWorkflowMetrics("canceled")
			return result, fmt.Errorf("workflow: canceled before phase %q: %w", phase.Name, err)
		}

		phaseResult, err := o.runPhase(ctx, cfg, phase, result.Phases)
		if err != nil {
			recordWorkflowMetrics("error")
			return result, err
		}
		result.Phases = append(result.Phases, *phaseResult)

		if phaseResult.Status == PhaseDone {
			result.Artifacts[phase.Name] = flattenExtractedData(phaseResult)
			continue
		}

		slog.Warn("Phase did not complete",
			slog.String("phase", phase.Name),
			slog.String("status", string(phaseResult.Status)),
			slog.Bool("gating", phase.Gating),
		)
		if phase.Gating {
			// Later phases would run on missing data; stop here.
			result.Success = false
			recordWorkflowMetrics("gating_failure")
			span.SetAttributes(attribute.String("halted_at", phase.Name))
			return result, nil
		}
	}

	result.Success = true
	for _, phase := range result.Phases {
		if phase.Status != PhaseDone {
			result.Success = false
			break
		}
	}

	if result.Success {
		recordWorkflowMetrics("success")
	} else {
		recordWorkflowMetrics("partial")
	}
	return result, nil
}

// runPhase executes one phase end to end: session, loop, extraction.
func (o *Orchestrator) runPhase(ctx context.Context, cfg *Config, phase PhaseSpec,
	completed []PhaseResult) (*PhaseResult, error) {

	ctx, span := workflowTracer.Start(ctx, "workflow.Phase",
		trace.WithAttributes(
			attribute.String("phase", phase.Name),
			attribute.Bool("gating", phase.Gating),
		),
	)
	defer span.End()

	providerID := cfg.PhaseProvider(phase)
	provider, err := o.providers.Get(providerID)
	if err != nil {
		return nil, fmt.Errorf("workflow: phase %q: %w", phase.Name, err)
	}

	subset, err := o.tools.Subset(phase.Tools)
	if err != nil {
		return nil, fmt.Errorf("workflow: phase %q: %w", phase.Name, err)
	}

	prompt, err := RenderPrompt(phase.Name, phase.Prompt, completed)
	if err != nil {
		// A prompt referencing data no prior phase produced is a phase
		// failure, not an infrastructure one: gating decides what it halts.
		phaseResult := &PhaseResult{
			Phase:  phase.Name,
			Status: PhaseFatal,
			Errors: []string{err.Error()},
		}
		recordPhaseMetrics(phase.Name, string(phaseResult.Status))
		return phaseResult, nil
	}

	sess := session.New(providerID, o.store)
	span.SetAttributes(attribute.String("session_id", sess.ID()))

	var opening []session.Message
	if system := cfg.PhaseSystemPrompt(phase); system != "" {
		opening = append(opening, session.Message{Role: session.RoleSystem, Content: system})
	}
	opening = append(opening, session.Message{Role: session.RoleUser, Content: prompt})

	slog.Info("Starting phase",
		slog.String("phase", phase.Name),
		slog.String("provider", providerID),
		slog.String("session_id", sess.ID()),
		slog.Any("tools", phase.Tools),
	)

	loop := agent.New(provider, subset, agent.Options{
		MaxIterations: cfg.IterationCap(phase),
		Retry:         cfg.Retry.Policy(),
	})
	outcome := loop.Run(ctx, sess, opening)

	extraction := ExtractResults(sess.Messages())
	phaseResult := &PhaseResult{
		Phase:         phase.Name,
		Status:        phaseStatus(outcome, extraction),
		ExtractedData: extraction.Data,
		ToolOrder:     extraction.Order,
		Errors:        extraction.Errors,
		SessionID:     sess.ID(),
		Iterations:    outcome.Iterations,
	}
	if outcome.Err != nil {
		phaseResult.Errors = append(phaseResult.Errors, llm.SafeLogString(outcome.Err.Error()))
	}

	slog.Info("Phase finished",
		slog.String("phase", phase.Name),
		slog.String("status", string(phaseResult.Status)),
		slog.Int("iterations", phaseResult.Iterations),
		slog.Int("tools_extracted", len(extraction.Data)),
	)
	recordPhaseMetrics(phase.Name, string(phaseResult.Status))
	span.SetAttributes(attribute.String("status", string(phaseResult.Status)))
	return phaseResult, nil
}

// phaseStatus folds the loop outcome and extraction into the phase status.
func phaseStatus(outcome *agent.Outcome, extraction Extraction) PhaseStatus {
	switch outcome.Status {
	case agent.StatusFatal:
		return PhaseFatal
	case agent.StatusIterationCapExceeded:
		return PhaseIterationCapExceeded
	}
	if extraction.Empty() {
		// The model completed with prose but never invoked a tool
		// successfully. Surfacing this beats pretending it worked.
		return PhaseEmptyResult
	}
	return PhaseDone
}

// flattenExtractedData merges payload fields across a phase's tools, in
// tool order so later-succeeding tools win shared keys.
func flattenExtractedData(phase *PhaseResult) map[string]any {
	flat := make(map[string]any)
	for _, tool := range orderedTools(phase.ExtractedData, phase.ToolOrder) {
		for k, v := range phase.ExtractedData[tool] {
			flat[k] = v
		}
	}
	return flat
}
