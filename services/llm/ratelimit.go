// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// rateWindow is the span over which per-provider request counts apply.
const rateWindow = time.Minute

// RateLimiter throttles outbound requests per provider over a sliding
// one-minute window.
//
// Description:
//
//	Each provider gets an independent budget of requests per minute. Allow
//	answers immediately with a retry-after duration when the budget is
//	spent; Wait blocks until a slot opens or the context ends. Providers
//	without a configured budget pass freely, and Ollama is always exempt:
//	throttling a local model only slows the run down.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute map[string]int
	recent    map[string][]time.Time

	// now is swapped out in tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter with per-provider budgets.
//
// Inputs:
//   - perMinute: Requests per minute per provider id. A missing or zero
//     entry means unlimited.
func NewRateLimiter(perMinute map[string]int) *RateLimiter {
	budgets := make(map[string]int, len(perMinute))
	for provider, budget := range perMinute {
		budgets[provider] = budget
	}
	return &RateLimiter{
		perMinute: budgets,
		recent:    make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Allow reports whether a request to the provider fits the current window,
// recording it when it does.
//
// Outputs:
//   - bool: True when the request may proceed.
//   - time.Duration: How long until the oldest in-window request expires;
//     zero when allowed.
func (r *RateLimiter) Allow(provider string) (bool, time.Duration) {
	if provider == ProviderOllama {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	budget, configured := r.perMinute[provider]
	if !configured || budget <= 0 {
		return true, 0
	}

	now := r.now()
	inWindow := r.pruneLocked(provider, now)

	if len(inWindow) >= budget {
		retryAfter := rateWindow - now.Sub(inWindow[0])
		return false, retryAfter
	}

	r.recent[provider] = append(inWindow, now)
	return true, 0
}

// Wait blocks until the provider has budget or ctx ends.
//
// Outputs:
//   - error: The ctx error when canceled mid-wait, nil otherwise.
func (r *RateLimiter) Wait(ctx context.Context, provider string) error {
	for {
		allowed, retryAfter := r.Allow(provider)
		if allowed {
			return nil
		}

		slog.Warn("Provider rate limit reached, waiting",
			slog.String("provider", provider),
			slog.Duration("retry_after", retryAfter),
		)
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// pruneLocked drops entries older than the window. Caller holds mu.
func (r *RateLimiter) pruneLocked(provider string, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	kept := r.recent[provider][:0]
	for _, ts := range r.recent[provider] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.recent[provider] = kept
	return kept
}

// throttledProvider wraps a Provider so every Complete passes through the
// registry's rate limiter first.
type throttledProvider struct {
	inner   Provider
	limiter *RateLimiter
}

func (t *throttledProvider) Name() string { return t.inner.Name() }

func (t *throttledProvider) NormalizeToolSchema(tools []ToolDef) any {
	return t.inner.NormalizeToolSchema(tools)
}

func (t *throttledProvider) Complete(ctx context.Context, messages []ChatMessage,
	tools []ToolDef, opts CompleteOptions) (*Completion, error) {

	if err := t.limiter.Wait(ctx, t.inner.Name()); err != nil {
		return nil, &ProviderError{
			Provider: t.inner.Name(),
			Kind:     ErrKindTransient,
			Message:  "canceled while waiting for rate limit",
			Err:      err,
		}
	}
	return t.inner.Complete(ctx, messages, tools, opts)
}
