// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides the append-only conversation log for one phase.
// A Session is owned by exactly one phase and has exactly one writer; every
// appended message is durably journaled message-by-message through a Store,
// so finished conversations can be inspected or re-extracted without
// re-running the workflow.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/conductor/services/llm"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolResultRecord is the structured record of one tool invocation outcome,
// carried on role "tool" messages alongside the model-visible Content.
type ToolResultRecord struct {
	// CallID links the result to the originating tool call.
	CallID string `json:"call_id"`

	// ToolName is the tool that produced the result.
	ToolName string `json:"tool_name"`

	// Success reports whether the invocation succeeded.
	Success bool `json:"success"`

	// Payload is the structured output of a successful invocation.
	Payload map[string]any `json:"payload,omitempty"`

	// Errors lists what went wrong, empty on success.
	Errors []string `json:"errors,omitempty"`
}

// Message is one entry in a session's append-only log.
//
// Description:
//
//	Never mutated after Append. Assistant messages carry the tool calls the
//	model requested; tool messages carry exactly one ToolResult each, in
//	the order the calls were executed. Seq is assigned by the session and
//	strictly increases.
type Message struct {
	// Seq is the strictly increasing sequence number within the session.
	Seq int `json:"seq"`

	// Role is "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content visible to the model.
	Content string `json:"content,omitempty"`

	// ToolCalls holds the tool calls requested by an assistant message,
	// in the order the provider returned them.
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`

	// ToolResult holds the structured outcome on a tool message.
	ToolResult *ToolResultRecord `json:"tool_result,omitempty"`

	// Timestamp is when the message was appended.
	Timestamp time.Time `json:"timestamp"`
}

// Session is the ordered, persisted message history of one phase's
// conversation with one provider.
//
// Description:
//
//	Append-only: messages get the next sequence number and are journaled
//	through the Store before becoming visible. A session belongs to exactly
//	one phase and is never reused; the orchestrator creates a fresh one per
//	phase. Not synchronized — the single-writer invariant is structural
//	(the owning phase's loop is strictly sequential).
type Session struct {
	id        string
	provider  string
	createdAt time.Time

	messages []Message
	store    Store
}

// New creates an empty session for the given provider.
//
// Inputs:
//   - provider: The provider id this session talks to.
//   - store: Journal for durable appends. May be nil (in-memory only).
//
// Outputs:
//   - *Session: The empty session with a fresh uuid.
func New(provider string, store Store) *Session {
	return &Session{
		id:        uuid.NewString(),
		provider:  provider,
		createdAt: time.Now().UTC(),
		store:     store,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Provider returns the provider id this session talks to.
func (s *Session) Provider() string { return s.provider }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Len returns the number of appended messages.
func (s *Session) Len() int { return len(s.messages) }

// Append adds a message to the log, assigning the next sequence number and
// journaling it through the store.
//
// Description:
//
//	A zero Seq is assigned the next number. A non-zero Seq must be exactly
//	the next number; anything else is rejected, which catches accidental
//	replays and out-of-order writes at the boundary.
//
// Outputs:
//   - Message: The appended message with Seq and Timestamp set.
//   - error: Non-nil on a bad role, an out-of-order Seq, or a journal
//     failure. The message is not appended on error.
func (s *Session) Append(ctx context.Context, msg Message) (Message, error) {
	switch msg.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return Message{}, fmt.Errorf("session: invalid role %q", msg.Role)
	}

	next := len(s.messages) + 1
	if msg.Seq != 0 && msg.Seq != next {
		return Message{}, fmt.Errorf("session: out-of-order seq %d (next is %d)", msg.Seq, next)
	}
	msg.Seq = next
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if s.store != nil {
		if err := s.store.AppendMessage(ctx, s.id, msg); err != nil {
			return Message{}, fmt.Errorf("session: journaling message %d: %w", msg.Seq, err)
		}
	}

	s.messages = append(s.messages, msg)
	return msg, nil
}

// Messages returns a snapshot copy of the log.
func (s *Session) Messages() []Message {
	snapshot := make([]Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

// LLMMessages converts the log into provider chat messages.
//
// Description:
//
//	Tool messages become role "tool" chat messages carrying the call id and
//	tool name the providers need to encode vendor-specific result shapes.
func (s *Session) LLMMessages() []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		cm := llm.ChatMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		}
		if msg.ToolResult != nil {
			cm.ToolCallID = msg.ToolResult.CallID
			cm.ToolName = msg.ToolResult.ToolName
		}
		out = append(out, cm)
	}
	return out
}
