// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jeranaias/talkrun-tui/internal/model"
	"github.com/jeranaias/talkrun-tui/internal/util"
)

// =============================================================================
// TALK RECORD
// =============================================================================

// Talk is the persisted record of a conversation and its metadata. The
// message transcript is local-authoritative; the metadata fields below the
// transcript are gateway-authoritative and updated via MergeSnapshot.
type Talk struct {
	// Identity
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// IsSaved marks a talk the user explicitly kept. Unsaved talks are
	// eligible for cleanup when the store enforces its size limit.
	IsSaved bool `json:"is_saved"`

	// Transcript
	Messages []*model.Message `json:"messages"`

	// Gateway-authoritative metadata
	GatewayTalkID    string                  `json:"gateway_talk_id,omitempty"`
	TopicTitle       string                  `json:"topic_title,omitempty"`
	Objective        string                  `json:"objective,omitempty"`
	Model            string                  `json:"model,omitempty"`
	PinnedMessageIDs []string                `json:"pinned_message_ids,omitempty"`
	Jobs             []model.Job             `json:"jobs,omitempty"`
	Agents           []model.Agent           `json:"agents,omitempty"`
	Directives       []model.Directive       `json:"directives,omitempty"`
	PlatformBindings []model.PlatformBinding `json:"platform_bindings,omitempty"`
}

// NewTalk creates a new local talk record. Talk and session are created
// together: when no session ID is supplied, one is generated.
func NewTalk(sessionID, modelName string) *Talk {
	if sessionID == "" {
		sessionID = model.NewID("sess")
	}
	now := time.Now()
	return &Talk{
		ID:        model.NewID("talk"),
		SessionID: sessionID,
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Session returns the session view of this talk's transcript: the identity
// and message sequence that back the gateway conversation.
func (t *Talk) Session() *model.Session {
	return &model.Session{
		ID:        t.SessionID,
		Name:      t.TopicTitle,
		Model:     t.Model,
		Messages:  t.Messages,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// =============================================================================
// GATEWAY MERGE
// =============================================================================

// MergeSnapshot applies the gateway's view of this talk to the local record.
// Reports whether any field changed.
//
// Merge rules, applied independently per field:
//   - A gateway string wins only when non-empty.
//   - A gateway array wins only when non-empty.
//   - GatewayTalkID is set once and never reverts, even if a later
//     snapshot carries a different or empty ID.
//   - UpdatedAt takes the gateway value whenever one is supplied.
//
// The merge is idempotent: applying the same snapshot twice leaves the
// record identical after the first application.
func (t *Talk) MergeSnapshot(snap *model.TalkSnapshot) bool {
	if snap == nil {
		return false
	}
	changed := false

	if t.GatewayTalkID == "" && snap.ID != "" {
		t.GatewayTalkID = snap.ID
		changed = true
	}
	if snap.TopicTitle != "" && snap.TopicTitle != t.TopicTitle {
		t.TopicTitle = snap.TopicTitle
		changed = true
	}
	if snap.Objective != "" && snap.Objective != t.Objective {
		t.Objective = snap.Objective
		changed = true
	}
	if snap.Model != "" && snap.Model != t.Model {
		t.Model = snap.Model
		changed = true
	}
	if len(snap.PinnedMessageIDs) > 0 && !equalStrings(snap.PinnedMessageIDs, t.PinnedMessageIDs) {
		t.PinnedMessageIDs = append([]string(nil), snap.PinnedMessageIDs...)
		changed = true
	}
	if len(snap.Jobs) > 0 && !equalJSON(snap.Jobs, t.Jobs) {
		t.Jobs = append([]model.Job(nil), snap.Jobs...)
		changed = true
	}
	if len(snap.Agents) > 0 && !equalJSON(snap.Agents, t.Agents) {
		t.Agents = append([]model.Agent(nil), snap.Agents...)
		changed = true
	}
	if len(snap.Directives) > 0 && !equalJSON(snap.Directives, t.Directives) {
		t.Directives = append([]model.Directive(nil), snap.Directives...)
		changed = true
	}
	if len(snap.PlatformBindings) > 0 && !equalJSON(snap.PlatformBindings, t.PlatformBindings) {
		t.PlatformBindings = append([]model.PlatformBinding(nil), snap.PlatformBindings...)
		changed = true
	}
	if !snap.UpdatedAt.IsZero() && !snap.UpdatedAt.Equal(t.UpdatedAt) {
		t.UpdatedAt = snap.UpdatedAt
		changed = true
	}

	return changed
}

// equalStrings compares two string slices element-wise.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// equalJSON compares two values by their JSON encoding. Used for the
// struct-typed metadata arrays, where an encoding comparison is what the
// idempotence guarantee actually requires.
func equalJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

// =============================================================================
// TRANSCRIPT HELPERS
// =============================================================================

// Append adds a message to the transcript and bumps UpdatedAt.
func (t *Talk) Append(msg *model.Message) {
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now()
}

// MessageCount returns the number of messages in the transcript.
func (t *Talk) MessageCount() int {
	return len(t.Messages)
}

// Preview returns the first user message, truncated for list display.
func (t *Talk) Preview() string {
	for _, msg := range t.Messages {
		if msg.Role == model.RoleUser && msg.Content != "" {
			return util.TruncateString(util.FirstLine(msg.Content), 80)
		}
	}
	return ""
}

// Title returns the display title: the gateway topic title when set,
// otherwise a preview of the first user message.
func (t *Talk) Title() string {
	if t.TopicTitle != "" {
		return t.TopicTitle
	}
	if p := t.Preview(); p != "" {
		return p
	}
	return "New talk"
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the talk as a Markdown document.
func (t *Talk) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + t.Title() + "\n\n")
	sb.WriteString("Created: " + t.CreatedAt.Format(time.RFC3339) + "\n\n")
	if t.Objective != "" {
		sb.WriteString("Objective: " + t.Objective + "\n\n")
	}
	sb.WriteString("---\n\n")

	for _, msg := range t.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders the talk as pretty-printed JSON.
func (t *Talk) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
