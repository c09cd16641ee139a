// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
)

// Store is the durable journal behind a Session.
//
// Description:
//
//	AppendMessage is called once per appended message, in order. Load
//	reconstructs a finished session's log for post-hoc extraction and
//	debugging without re-running the workflow.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// AppendMessage journals one message under the session id.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error

	// Load returns every journaled message for the session in seq order.
	// A session id with no messages returns an empty slice, not an error.
	Load(ctx context.Context, sessionID string) ([]Message, error)
}

// MemoryStore is an in-memory Store for tests and store-less runs.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Message)}
}

// AppendMessage implements Store.
func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.sessions[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
