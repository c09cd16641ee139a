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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Success(t *testing.T) {
	r := newTestRegistry(t, &stubTool{name: "alpha"})

	result := r.Execute(context.Background(), "alpha", nil)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "alpha", result.Payload["tool"])
}

func TestExecute_UnknownToolIsFailedResult(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), "ghost", nil)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unknown tool")
	assert.Contains(t, result.Errors[0], "ghost")
}

func TestExecute_InvalidArgsIsFailedResult(t *testing.T) {
	alpha := &stubTool{name: "alpha"}
	alpha.params.Type = "object"
	alpha.params.Required = []string{"symbol"}

	r := newTestRegistry(t, alpha)

	result := r.Execute(context.Background(), "alpha", map[string]any{})
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, strings.Join(result.Errors, " "), "invalid arguments")
}

func TestExecute_ToolErrorIsFailedResult(t *testing.T) {
	boom := &stubTool{
		name: "boom",
		execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	r := newTestRegistry(t, boom)

	result := r.Execute(context.Background(), "boom", nil)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Errors[0], "backend unavailable")
}

func TestExecute_PanicIsRecovered(t *testing.T) {
	panicky := &stubTool{
		name: "panicky",
		execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			panic("index out of range")
		},
	}
	r := newTestRegistry(t, panicky)

	result := r.Execute(context.Background(), "panicky", nil)
	require.NotNil(t, result, "panics must never escape Execute")
	assert.False(t, result.Success)
	assert.Contains(t, result.Errors[0], "panic")
}

func TestExecute_NilResultIsFailedResult(t *testing.T) {
	broken := &stubTool{
		name: "broken",
		execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return nil, nil
		},
	}
	r := newTestRegistry(t, broken)

	result := r.Execute(context.Background(), "broken", nil)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Errors[0], "nil result")
}
