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

// =============================================================================
// BadgerStore — Session Journal Persistence
// =============================================================================
//
// Session transcripts are debugging state, not user data: an embedded
// key-value store with ordered iteration is exactly enough. Messages are
// JSON-encoded (not gob) so a journal can be inspected with any Badger dump
// tool without this package's types.
//
// Storage layout:
//
//	session/msg/v1/{sessionID}/{seq:010d}  →  JSON-encoded Message
//
// The zero-padded sequence number makes lexicographic key order equal seq
// order, so Load is a single prefix iteration.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// sessionKeyPrefix is the versioned storage layout prefix.
const sessionKeyPrefix = "session/msg/v1/"

// BadgerStore implements Store backed by a BadgerDB instance.
//
// Description:
//
//	The DB is opened by the caller (typically in main) and shared; this
//	store does not own its lifecycle. Appends are synchronous single-key
//	transactions — a session loop appends a handful of messages per turn,
//	so batching would buy nothing and cost durability.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a BadgerStore backed by the given DB.
//
// Inputs:
//   - db: Opened BadgerDB instance. Must not be nil.
//
// Outputs:
//   - *BadgerStore: Ready-to-use store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	return &BadgerStore{db: db}
}

// AppendMessage implements Store.
func (s *BadgerStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.Seq, err)
	}

	key := messageKey(sessionID, msg.Seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("writing message %d for session %s: %w", msg.Seq, sessionID, err)
	}

	slog.Debug("Journaled session message",
		slog.String("session_id", sessionID),
		slog.Int("seq", msg.Seq),
		slog.String("role", msg.Role),
	)
	return nil
}

// Load implements Store.
//
// Description:
//
//	Iterates the session's key prefix in lexicographic order, which equals
//	seq order by key construction.
func (s *BadgerStore) Load(ctx context.Context, sessionID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(sessionKeyPrefix + sessionID + "/")
	var messages []Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copying value: %w", err)
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return fmt.Errorf("decoding message at key %s: %w", it.Item().Key(), err)
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return messages, nil
}

// messageKey builds the journal key for one message.
func messageKey(sessionID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", sessionKeyPrefix, sessionID, seq))
}
