// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"
	"time"
)

// =============================================================================
// STREAMING BUFFER TESTS
// =============================================================================

func TestStreamingBufferWrite(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.Write("Hello")
	sb.Write(" ")
	sb.Write("World")

	if pending := sb.Pending(); pending != 3 {
		t.Errorf("Expected 3 pending tokens, got %d", pending)
	}
}

func TestStreamingBufferFlushBySize(t *testing.T) {
	sb := NewStreamingBuffer()

	// One short of the batch threshold: only a time-based flush could fire,
	// and the buffer was just created.
	for i := 0; i < defaultBatchSize-1; i++ {
		sb.Write("x")
	}
	if _, hasContent := sb.Flush(); hasContent {
		t.Error("Should not flush before reaching batch size")
	}

	sb.Write("x")

	content, hasContent := sb.Flush()
	if !hasContent {
		t.Error("Should flush after reaching batch size")
	}
	if len(content) != defaultBatchSize {
		t.Errorf("Expected %d bytes flushed, got %d", defaultBatchSize, len(content))
	}

	if pending := sb.Pending(); pending != 0 {
		t.Errorf("Expected 0 pending tokens after flush, got %d", pending)
	}
}

func TestStreamingBufferFlushByTime(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.Write("A")

	if _, hasContent := sb.Flush(); hasContent {
		t.Error("Should not flush immediately")
	}

	// Wait past the 30fps interval.
	time.Sleep(40 * time.Millisecond)

	content, hasContent := sb.Flush()
	if !hasContent {
		t.Error("Should flush after time threshold")
	}
	if content != "A" {
		t.Errorf("Expected flushed content 'A', got '%s'", content)
	}
}

func TestStreamingBufferForceFlush(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.Write("Test")

	content, hasContent := sb.ForceFlush()
	if !hasContent {
		t.Error("ForceFlush should return content")
	}
	if content != "Test" {
		t.Errorf("Expected 'Test', got '%s'", content)
	}

	if pending := sb.Pending(); pending != 0 {
		t.Errorf("Expected 0 pending after force flush, got %d", pending)
	}
}

func TestStreamingBufferForceFlushEmpty(t *testing.T) {
	sb := NewStreamingBuffer()

	if _, hasContent := sb.ForceFlush(); hasContent {
		t.Error("ForceFlush on empty buffer should return nothing")
	}
}

func TestStreamingBufferReset(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.Write("A")
	sb.Write("B")
	sb.Write("C")

	sb.Reset()

	if pending := sb.Pending(); pending != 0 {
		t.Errorf("Expected 0 pending after reset, got %d", pending)
	}
	if _, hasContent := sb.ForceFlush(); hasContent {
		t.Error("Should have no content after reset")
	}
}

func TestStreamingBufferConcurrency(t *testing.T) {
	sb := NewStreamingBuffer()

	// Writes from one goroutine, flushes from another (test with -race flag).
	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			sb.Write("x")
			time.Sleep(time.Millisecond)
		}
		done <- true
	}()

	flushCount := 0
	go func() {
		for i := 0; i < 100; i++ {
			if _, hasContent := sb.Flush(); hasContent {
				flushCount++
			}
			time.Sleep(time.Millisecond)
		}
		done <- true
	}()

	<-done
	<-done

	t.Logf("Completed with %d flushes", flushCount)
}

func TestStreamingBufferUnicode(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.Write("Hello")
	sb.Write(" ")
	sb.Write("世界")
	sb.Write("!")

	content, hasContent := sb.ForceFlush()
	if !hasContent {
		t.Error("Should have content")
	}

	expected := "Hello 世界!"
	if content != expected {
		t.Errorf("Expected '%s', got '%s'", expected, content)
	}
}

// =============================================================================
// BENCHMARK TESTS
// =============================================================================

func BenchmarkStreamingBufferWrite(b *testing.B) {
	sb := NewStreamingBuffer()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sb.Write("token")
	}
}

func BenchmarkStreamingBufferFlush(b *testing.B) {
	sb := NewStreamingBuffer()
	for i := 0; i < 100; i++ {
		sb.Write("token")
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sb.Flush()
	}
}
