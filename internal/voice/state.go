// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

// State is the voice session state machine.
//
// Transitions:
//
//	disconnected -> connecting        Connect
//	connecting   -> listening         server session.start
//	listening    -> aiSpeaking        inbound AI audio or partial AI transcript
//	aiSpeaking   -> listening         final AI transcript, or client Interrupt
//	any          -> disconnected      Disconnect, server session.end, or transport failure
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateAISpeaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateAISpeaking:
		return "aiSpeaking"
	default:
		return "unknown"
	}
}
