// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines the Bubble Tea message types the chat view consumes
// beyond the orchestrator events and command messages it receives directly:
// voice session plumbing, gateway sync results, and the streaming tick.
package chat

import (
	"time"

	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/voice"
)

// =============================================================================
// VOICE MESSAGES
// =============================================================================

// VoiceStartedMsg reports the outcome of dialing a voice session.
type VoiceStartedMsg struct {
	Session *voice.Session
	Error   error
}

// VoiceEventMsg wraps one event from the active voice session.
type VoiceEventMsg struct {
	Event voice.Event
}

// VoiceEndedMsg signals that the voice session tore down.
type VoiceEndedMsg struct {
	Error error
}

// =============================================================================
// GATEWAY SYNC MESSAGES
// =============================================================================

// TalkSyncedMsg reports the outcome of pulling the gateway snapshot for
// the current talk.
type TalkSyncedMsg struct {
	Talk    *store.Talk
	Changed bool
	Error   error
}

// TalkFileChangedMsg reports an external change to a talk file on disk,
// forwarded from the store watcher.
type TalkFileChangedMsg struct {
	TalkID  string
	Removed bool
}

// =============================================================================
// STREAMING TICK
// =============================================================================

// StreamTickMsg is sent at a capped rate during streaming so tokens are
// rendered in batches instead of one viewport rebuild per token.
type StreamTickMsg struct {
	Time time.Time
}
