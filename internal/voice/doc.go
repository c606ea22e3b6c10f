// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package voice implements the realtime voice transport: a WebSocket
// session against the gateway's voice endpoint with a small state machine
// (disconnected, connecting, listening, aiSpeaking) on top.
//
// Barge-in is client-authoritative: Interrupt discards buffered AI audio
// and returns to listening immediately, without waiting for the server to
// acknowledge. Outbound microphone audio captured while the AI is speaking
// is buffered and flushed, in order, once the session is listening again.
package voice
