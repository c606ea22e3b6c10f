// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// STREAM CHUNK TYPES
// =============================================================================

// MaxFrameSize is the maximum allowed size for a single buffered protocol
// frame (64KB). This is the single backpressure control in the system: the
// gateway does not flow-control the stream, so an accumulation window that
// outgrows this bound is rejected instead of buffered unboundedly.
const MaxFrameSize = 64 * 1024

// ChunkType discriminates the stream chunk tagged union.
type ChunkType string

const (
	ChunkContent   ChunkType = "content"
	ChunkToolStart ChunkType = "tool_start"
	ChunkToolEnd   ChunkType = "tool_end"
)

// StreamChunk is one application-level event from the turn stream. Chunks
// carry no sequence number; the receiver's append order is authoritative.
type StreamChunk struct {
	Type ChunkType `json:"type"`

	// content
	Text string `json:"text,omitempty"`

	// tool_start / tool_end
	ToolName string `json:"name,omitempty"`
	ToolArgs string `json:"arguments,omitempty"`

	// tool_end
	ToolSuccess bool   `json:"success,omitempty"`
	ToolContent string `json:"content,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// =============================================================================
// FRAME VALIDATION
// =============================================================================

// Frame rejection signals. Both are local stream hygiene: a rejected frame
// is dropped and logged, but never terminates an otherwise-healthy stream.
var (
	// ErrFrameTooLarge indicates a frame exceeded MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedFrame indicates a frame that could not be parsed or had
	// an unknown shape.
	ErrMalformedFrame = errors.New("malformed frame")
)

// ParseFrame validates a raw inbound protocol frame and returns the
// well-formed application-level chunk, or a rejection error.
//
// Purely functional: no side effects, safe to call from any goroutine.
func ParseFrame(data []byte) (StreamChunk, error) {
	if len(data) > MaxFrameSize {
		return StreamChunk{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	var chunk StreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return StreamChunk{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch chunk.Type {
	case ChunkContent:
		return chunk, nil
	case ChunkToolStart:
		if chunk.ToolName == "" {
			return StreamChunk{}, fmt.Errorf("%w: tool_start without name", ErrMalformedFrame)
		}
		return chunk, nil
	case ChunkToolEnd:
		if chunk.ToolName == "" {
			return StreamChunk{}, fmt.Errorf("%w: tool_end without name", ErrMalformedFrame)
		}
		return chunk, nil
	default:
		return StreamChunk{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, chunk.Type)
	}
}
