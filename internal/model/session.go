// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is an append-only ordered list of messages. UpdatedAt is bumped on
// every mutation. One Session backs at most one Talk.
type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Model     string     `json:"model,omitempty"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewSession creates an empty session with a generated ID.
func NewSession(modelName string) *Session {
	now := time.Now()
	return &Session{
		ID:        NewID("sess"),
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the session and bumps UpdatedAt.
func (s *Session) Append(msg *Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// DeleteMessage removes a message by ID. Returns true if a message was
// removed; UpdatedAt is bumped only on an actual removal.
func (s *Session) DeleteMessage(id string) bool {
	for i, msg := range s.Messages {
		if msg.ID == id {
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			s.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// History returns the non-system messages as role/content pairs in emission
// order, suitable for sending as conversation history to the gateway.
// System messages produced locally (error reports) and empty streaming
// placeholders are excluded: they were never part of the model conversation.
func (s *Session) History() []ChatMessage {
	history := make([]ChatMessage, 0, len(s.Messages))
	for _, msg := range s.Messages {
		if msg.Role == RoleSystem || msg.IsEmpty() {
			continue
		}
		history = append(history, ChatMessage{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return history
}

// LastMessage returns the most recent message, or nil for an empty session.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// FirstUserContent returns the content of the first user message, or "".
func (s *Session) FirstUserContent() string {
	for _, msg := range s.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return msg.Content
		}
	}
	return ""
}

// ChatMessage is the wire shape of a single history entry sent to the
// gateway's chat endpoints.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
