// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches tokens for efficient rendering. Tokens accumulate
// and are flushed when either the batch size threshold is reached or enough
// time has passed since the last flush.
//
// PERFORMANCE: Rendering once per token can exceed 1000fps on fast streams,
// which flickers and burns CPU. Batching caps the rebuild rate.
//
// Thread-safe: tokens arrive from the turn goroutine while flushes happen
// on the Bubble Tea loop.
type StreamingBuffer struct {
	mu         sync.Mutex
	buffer     strings.Builder
	tokenCount int
	lastFlush  time.Time

	batchSize  int
	minFlushMs time.Duration
}

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// NewStreamingBuffer creates a streaming buffer with default settings:
// 15 tokens per batch, flushes capped at 30fps.
func NewStreamingBuffer() *StreamingBuffer {
	return &StreamingBuffer{
		batchSize:  defaultBatchSize,
		minFlushMs: time.Second / defaultMaxFPS,
		lastFlush:  time.Now(),
	}
}

// Write adds a token to the buffer. Called from the turn goroutine.
func (sb *StreamingBuffer) Write(token string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buffer.WriteString(token)
	sb.tokenCount++
}

// Flush returns accumulated content if a flush threshold has been reached.
// Returns ("", false) when there is nothing to flush yet.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.buffer.Len() == 0 || !sb.shouldFlushLocked() {
		return "", false
	}
	return sb.drainLocked(), true
}

// ForceFlush immediately flushes all buffered content regardless of
// thresholds. Use when a stream completes so nothing stays unrendered.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.buffer.Len() == 0 {
		return "", false
	}
	return sb.drainLocked(), true
}

// Reset clears the buffer without flushing. Use when a stream is canceled
// or a new message starts.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
}

// Pending returns the number of tokens waiting to be flushed.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.tokenCount
}

func (sb *StreamingBuffer) shouldFlushLocked() bool {
	if sb.tokenCount >= sb.batchSize {
		return true
	}
	return time.Since(sb.lastFlush) >= sb.minFlushMs
}

func (sb *StreamingBuffer) drainLocked() string {
	content := sb.buffer.String()
	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
	return content
}

// =============================================================================
// STREAMING TICK COMMAND
// =============================================================================

// streamTickCmd sends StreamTickMsg at the render cap so buffered tokens
// reach the screen even when the stream slows down.
func streamTickCmd() tea.Cmd {
	return tea.Tick(time.Second/defaultMaxFPS, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
