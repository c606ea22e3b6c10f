// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// TALK METADATA TYPES
// =============================================================================

// Job is a scheduled or recurring task attached to a talk.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Agent is a named persona participating in a talk.
type Agent struct {
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Model string `json:"model,omitempty"`
}

// Directive is a standing instruction applied to every turn of a talk.
type Directive struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Enabled bool   `json:"enabled"`
}

// PlatformBinding links a talk to an external platform channel.
type PlatformBinding struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
}

// =============================================================================
// GATEWAY TALK SNAPSHOT
// =============================================================================

// TalkSnapshot is the gateway's view of a talk, as returned by the talk
// metadata endpoint. It is merged into the local Talk record field by field:
// a gateway value wins only when present and, for array-typed fields,
// non-empty. The zero value of every field therefore means "not supplied".
type TalkSnapshot struct {
	ID               string            `json:"id"`
	TopicTitle       string            `json:"topic_title,omitempty"`
	Objective        string            `json:"objective,omitempty"`
	Model            string            `json:"model,omitempty"`
	PinnedMessageIDs []string          `json:"pinned_message_ids,omitempty"`
	Jobs             []Job             `json:"jobs,omitempty"`
	Agents           []Agent           `json:"agents,omitempty"`
	Directives       []Directive       `json:"directives,omitempty"`
	PlatformBindings []PlatformBinding `json:"platform_bindings,omitempty"`
	CreatedAt        time.Time         `json:"created_at,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at,omitempty"`
}
