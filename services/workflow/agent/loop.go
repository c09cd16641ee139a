// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent drives one session through repeated "ask model → run
// requested tools → feed results back" cycles until the model stops
// requesting tools, the iteration cap fires, or a permanent failure aborts
// the run.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/conductor/services/llm"
	"github.com/AleutianAI/conductor/services/workflow/session"
	"github.com/AleutianAI/conductor/services/workflow/tools"
)

// Status is the terminal state of one loop run.
type Status string

const (
	// StatusDone means the model completed without requesting more tools.
	StatusDone Status = "done"

	// StatusFatal means a permanent provider error, exhausted retries, or a
	// tool circuit break aborted the run.
	StatusFatal Status = "fatal"

	// StatusIterationCapExceeded means the model never reached a terminal
	// state within the iteration budget. Distinct from Fatal: it signals a
	// tool or prompt design problem, not an infrastructure failure.
	StatusIterationCapExceeded Status = "iteration_cap_exceeded"
)

// consecutiveFailureLimit is how many consecutive failures of the same tool
// abort the loop.
const consecutiveFailureLimit = 3

// RetryPolicy configures exponential backoff for retryable provider errors.
//
// Description:
//
//	A provider call that fails with a retryable error (rate limit,
//	transient) is attempted MaxRetries more times, so the total call count
//	is MaxRetries+1. Permanent errors (auth, invalid request) are never
//	retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the delay after each retry.
	Multiplier float64

	// MaxDelay caps the per-retry wait.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the standard backoff: 3 retries, 500ms base,
// doubling, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   30 * time.Second,
	}
}

// Options configures one loop run.
type Options struct {
	// MaxIterations bounds the number of model turns. 0 uses 10.
	MaxIterations int

	// Retry is the backoff policy for retryable provider errors.
	// The zero value uses DefaultRetryPolicy.
	Retry RetryPolicy

	// Complete carries generation options through to the provider.
	Complete llm.CompleteOptions
}

// Outcome is the result of one loop run.
//
// Description:
//
//	Immutable once returned. Err is set only for StatusFatal and carries
//	the typed cause (a *llm.ProviderError or *tools.ToolExecutionError).
type Outcome struct {
	// Status is the terminal state.
	Status Status

	// Iterations is how many model turns ran.
	Iterations int

	// Err is the fatal cause, nil unless Status is StatusFatal.
	Err error
}

// Loop runs bounded tool-invocation conversations against one provider with
// one tool registry.
//
// Thread Safety: Safe for concurrent use; per-run state lives on the stack.
// Each Session must still have only one concurrent run (single writer).
type Loop struct {
	provider llm.Provider
	registry *tools.Registry
	opts     Options

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

var loopTracer = otel.Tracer("conductor.agent")

// New creates a Loop for the given provider and tool registry.
//
// Inputs:
//   - provider: The provider client. Must not be nil.
//   - registry: The tool subset visible to the model. Must not be nil.
//   - opts: Loop options; zero values get defaults.
//
// Outputs:
//   - *Loop: The configured loop.
func New(provider llm.Provider, registry *tools.Registry, opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Loop{
		provider: provider,
		registry: registry,
		opts:     opts,
		sleep:    time.Sleep,
	}
}

// Run drives the session until a terminal state.
//
// Description:
//
//	Appends the opening messages only when the session is still empty, then
//	cycles: complete → append assistant turn → execute requested tools in
//	the order the model returned them → append one tool result per call →
//	repeat. Terminates with Done when the model requests no tools, Fatal on
//	permanent provider errors, exhausted retries, or three consecutive
//	failures of the same tool, and IterationCapExceeded when the iteration
//	budget runs out.
//
// Inputs:
//   - ctx: Checked between iterations; cancellation aborts with Fatal.
//   - sess: The session to drive. Single writer: this run.
//   - opening: Messages that seed an empty session. Ignored otherwise.
//
// Outputs:
//   - *Outcome: Always non-nil. Tool failures do not surface here; they
//     live in the session as failed tool results.
func (l *Loop) Run(ctx context.Context, sess *session.Session, opening []session.Message) *Outcome {
	ctx, span := loopTracer.Start(ctx, "agent.Run",
		trace.WithAttributes(
			attribute.String("provider", l.provider.Name()),
			attribute.String("session_id", sess.ID()),
			attribute.Int("max_iterations", l.opts.MaxIterations),
		),
	)
	defer span.End()

	if sess.Len() == 0 {
		for _, msg := range opening {
			if _, err := sess.Append(ctx, msg); err != nil {
				return l.finish(span, &Outcome{Status: StatusFatal, Err: err})
			}
		}
	}

	toolDefs := l.registry.LLMToolDefs()
	failStreakTool := ""
	failStreak := 0

	for iteration := 1; iteration <= l.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return l.finish(span, &Outcome{
				Status: StatusFatal, Iterations: iteration - 1,
				Err: fmt.Errorf("agent: canceled before iteration %d: %w", iteration, err),
			})
		}

		completion, err := l.completeWithRetry(ctx, sess.LLMMessages(), toolDefs)
		if err != nil {
			return l.finish(span, &Outcome{Status: StatusFatal, Iterations: iteration, Err: err})
		}

		if _, err := sess.Append(ctx, session.Message{
			Role:      session.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		}); err != nil {
			return l.finish(span, &Outcome{Status: StatusFatal, Iterations: iteration, Err: err})
		}

		if len(completion.ToolCalls) == 0 {
			slog.Info("Agent loop completed",
				slog.String("session_id", sess.ID()),
				slog.Int("iterations", iteration),
			)
			return l.finish(span, &Outcome{Status: StatusDone, Iterations: iteration})
		}

		// Execute strictly in the order the model returned the calls; some
		// tools have evaluation-order-sensitive side effects.
		for _, call := range completion.ToolCalls {
			result := l.registry.Execute(ctx, call.Name, call.Arguments)

			if _, err := sess.Append(ctx, toolResultMessage(call, result)); err != nil {
				return l.finish(span, &Outcome{Status: StatusFatal, Iterations: iteration, Err: err})
			}

			if result.Success {
				if call.Name == failStreakTool {
					failStreakTool, failStreak = "", 0
				}
				continue
			}

			if call.Name == failStreakTool {
				failStreak++
			} else {
				failStreakTool, failStreak = call.Name, 1
			}
			if failStreak >= consecutiveFailureLimit {
				err := &tools.ToolExecutionError{
					Name: call.Name,
					Err:  fmt.Errorf("%d consecutive failures: %s", failStreak, strings.Join(result.Errors, "; ")),
				}
				slog.Error("Tool circuit breaker tripped",
					slog.String("session_id", sess.ID()),
					slog.String("tool", call.Name),
					slog.Int("failures", failStreak),
				)
				return l.finish(span, &Outcome{Status: StatusFatal, Iterations: iteration, Err: err})
			}
		}
	}

	slog.Warn("Agent loop hit iteration cap",
		slog.String("session_id", sess.ID()),
		slog.Int("max_iterations", l.opts.MaxIterations),
	)
	return l.finish(span, &Outcome{
		Status:     StatusIterationCapExceeded,
		Iterations: l.opts.MaxIterations,
	})
}

// completeWithRetry calls the provider, retrying retryable errors with
// exponential backoff. Total attempts = MaxRetries + 1.
func (l *Loop) completeWithRetry(ctx context.Context, messages []llm.ChatMessage,
	toolDefs []llm.ToolDef) (*llm.Completion, error) {

	policy := l.opts.Retry
	delay := policy.BaseDelay

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("Retrying provider call",
				slog.String("provider", l.provider.Name()),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			l.sleep(delay)
			delay = time.Duration(float64(delay) * policy.Multiplier)
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		completion, err := l.provider.Complete(ctx, messages, toolDefs, l.opts.Complete)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		pe, ok := llm.AsProviderError(err)
		if !ok || !pe.Retryable() {
			// Permanent: retrying the same credentials or payload cannot help.
			return nil, err
		}
	}
	return nil, fmt.Errorf("agent: retries exhausted after %d attempts: %w",
		policy.MaxRetries+1, lastErr)
}

// toolResultMessage builds the session message for one tool invocation.
func toolResultMessage(call llm.ToolCall, result *tools.Result) session.Message {
	return session.Message{
		Role:    session.RoleTool,
		Content: renderResultContent(result),
		ToolResult: &session.ToolResultRecord{
			CallID:   call.ID,
			ToolName: call.Name,
			Success:  result.Success,
			Payload:  result.Payload,
			Errors:   result.Errors,
		},
	}
}

// renderResultContent produces the model-visible text for a tool result.
func renderResultContent(result *tools.Result) string {
	if !result.Success {
		return "ERROR: " + strings.Join(result.Errors, "; ")
	}
	if len(result.Payload) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Sprintf("ERROR: encoding payload: %v", err)
	}
	return string(raw)
}

// finish records metrics and span status for a terminal outcome.
func (l *Loop) finish(span trace.Span, outcome *Outcome) *Outcome {
	span.SetAttributes(
		attribute.String("status", string(outcome.Status)),
		attribute.Int("iterations", outcome.Iterations),
	)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	recordLoopMetrics(l.provider.Name(), string(outcome.Status), outcome.Iterations)
	return outcome
}
