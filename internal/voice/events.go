// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import "encoding/json"

// =============================================================================
// WIRE FRAMES
// =============================================================================

// Frames are a tagged union discriminated by "type". The client sends
// config, audio, interrupt, and end; the server sends session.start,
// audio, transcript.user, transcript.ai, session.end, and error.

type clientConfig struct {
	Type  string `json:"type"` // "config"
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
	// PCM signed 16-bit little-endian at 16kHz mono, base64 in "audio"
	// frames.
	SampleRateHz int `json:"sample_rate_hz"`
}

type clientAudioFrame struct {
	Type    string `json:"type"` // "audio"
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data"`
}

type clientControl struct {
	Type string `json:"type"` // "interrupt" | "end"
}

type serverFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	DataB64 string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func marshalFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}

// =============================================================================
// CONSUMER EVENTS
// =============================================================================

// Event is delivered on Session.Events().
type Event interface {
	voiceEventType() string
}

// StateChanged is emitted on every state machine transition.
type StateChanged struct {
	From State
	To   State
}

func (StateChanged) voiceEventType() string { return "state_changed" }

// UserTranscript carries speech-to-text for the user's microphone audio.
type UserTranscript struct {
	Text  string
	Final bool
}

func (UserTranscript) voiceEventType() string { return "transcript_user" }

// AITranscript carries the text of what the AI is saying.
type AITranscript struct {
	Text  string
	Final bool
}

func (AITranscript) voiceEventType() string { return "transcript_ai" }

// AIAudio carries one decoded chunk of AI speech for playback. Chunks
// already discarded by a barge-in are never delivered.
type AIAudio struct {
	Data []byte
}

func (AIAudio) voiceEventType() string { return "audio_ai" }

// SessionError carries a server-reported or transport error. The session
// tears down after emitting it.
type SessionError struct {
	Err error
}

func (SessionError) voiceEventType() string { return "error" }
