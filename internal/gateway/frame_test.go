// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"strings"
	"testing"
)

func TestParseFrameContent(t *testing.T) {
	chunk, err := ParseFrame([]byte(`{"type":"content","text":"hello"}`))
	if err != nil {
		t.Fatalf("ParseFrame error: %v", err)
	}
	if chunk.Type != ChunkContent {
		t.Errorf("Type = %q, want %q", chunk.Type, ChunkContent)
	}
	if chunk.Text != "hello" {
		t.Errorf("Text = %q, want %q", chunk.Text, "hello")
	}
}

func TestParseFrameToolChunks(t *testing.T) {
	start, err := ParseFrame([]byte(`{"type":"tool_start","name":"search","arguments":"{\"q\":\"go\"}"}`))
	if err != nil {
		t.Fatalf("tool_start parse error: %v", err)
	}
	if start.ToolName != "search" {
		t.Errorf("ToolName = %q, want %q", start.ToolName, "search")
	}

	end, err := ParseFrame([]byte(`{"type":"tool_end","name":"search","success":true,"content":"ok","duration_ms":42}`))
	if err != nil {
		t.Fatalf("tool_end parse error: %v", err)
	}
	if !end.ToolSuccess {
		t.Error("ToolSuccess should be true")
	}
	if end.DurationMs != 42 {
		t.Errorf("DurationMs = %d, want 42", end.DurationMs)
	}
}

func TestParseFrameTooLarge(t *testing.T) {
	big := []byte(`{"type":"content","text":"` + strings.Repeat("x", MaxFrameSize) + `"}`)
	_, err := ParseFrame(big)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("error = %v, want ErrFrameTooLarge", err)
	}
}

func TestParseFrameAtBoundary(t *testing.T) {
	// A frame of exactly MaxFrameSize bytes is accepted.
	padding := MaxFrameSize - len(`{"type":"content","text":""}`)
	data := []byte(`{"type":"content","text":"` + strings.Repeat("a", padding) + `"}`)
	if len(data) != MaxFrameSize {
		t.Fatalf("test frame is %d bytes, want %d", len(data), MaxFrameSize)
	}
	if _, err := ParseFrame(data); err != nil {
		t.Errorf("frame of exactly MaxFrameSize rejected: %v", err)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"invalid json", `{"type":"content"`},
		{"unknown type", `{"type":"mystery","text":"x"}`},
		{"tool_start without name", `{"type":"tool_start","arguments":"{}"}`},
		{"tool_end without name", `{"type":"tool_end","success":true}`},
		{"not an object", `"just a string"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tc.data))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}
