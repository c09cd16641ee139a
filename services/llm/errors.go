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
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures into the common taxonomy shared by
// every backend. The agent loop keys its retry decision on this, never on
// vendor-specific status codes or error strings.
type ErrorKind string

// Error kinds, from most to least permanent.
const (
	// ErrKindAuth is an authentication/authorization failure. Permanent;
	// never retried.
	ErrKindAuth ErrorKind = "auth"

	// ErrKindInvalidRequest is a malformed or rejected request. Permanent;
	// never retried.
	ErrKindInvalidRequest ErrorKind = "invalid_request"

	// ErrKindRateLimit is a provider throttle response. Retryable with backoff.
	ErrKindRateLimit ErrorKind = "rate_limit"

	// ErrKindTransient is a server-side or network failure. Retryable with
	// backoff.
	ErrKindTransient ErrorKind = "transient"
)

// ProviderError is the typed error every client returns on failure.
//
// Description:
//
//	Wraps a vendor failure into the common taxonomy. StatusCode is zero for
//	pure network failures. Message is pre-redacted via SafeLogString before
//	construction, so ProviderError values are safe to log as-is.
//
// Thread Safety: ProviderError is immutable after construction.
type ProviderError struct {
	// Provider is the provider id that produced the error.
	Provider string

	// Kind is the taxonomy classification.
	Kind ErrorKind

	// StatusCode is the HTTP status, 0 for network-level failures.
	StatusCode int

	// Message is the redacted vendor error detail.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the request.
//
// Auth and invalid-request failures are permanent: retrying with the same
// credentials or payload cannot succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrKindRateLimit || e.Kind == ErrKindTransient
}

// AsProviderError extracts a *ProviderError from an error chain.
//
// Outputs:
//   - *ProviderError: The typed error, nil if none in the chain.
//   - bool: Whether one was found.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classifyStatus maps an HTTP status code to the common error taxonomy.
//
// Description:
//
//	401/403 → auth; 429 → rate limit; remaining 4xx → invalid request;
//	everything else (5xx and unexpected codes) → transient. The body is
//	redacted before storage so the error is safe to log.
//
// Thread Safety: This function is safe for concurrent use.
func classifyStatus(provider string, status int, body string) *ProviderError {
	kind := ErrKindTransient
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrKindAuth
	case status == http.StatusTooManyRequests:
		kind = ErrKindRateLimit
	case status >= 400 && status < 500:
		kind = ErrKindInvalidRequest
	}

	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		Message:    SafeLogString(body),
	}
}

// networkError wraps a transport-level failure (DNS, connect, timeout) as a
// transient ProviderError.
func networkError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     ErrKindTransient,
		Message:  SafeLogString(err.Error()),
		Err:      err,
	}
}

// decodeError wraps a response-parsing failure. Classified as transient:
// truncated or garbled bodies are usually proxy/network artifacts.
func decodeError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     ErrKindTransient,
		Message:  fmt.Sprintf("parsing response: %v", err),
		Err:      err,
	}
}
