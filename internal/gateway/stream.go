// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError represents a failure during streaming, preserving any partial
// content received before the failure. Callers must never discard the
// partial content: the recovery controller resumes from it.
type StreamError struct {
	Partial string // Content received before the error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream with a bounded
// per-event accumulation window.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream and returns its data.
// Returns io.EOF when the stream ends. An event whose accumulated data
// exceeds MaxFrameSize is discarded up to the next event boundary and
// reported as ErrFrameTooLarge; the reader remains usable afterwards.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var dataLines [][]byte
	accumulated := 0
	oversized := false

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if oversized {
					return nil, fmt.Errorf("%w: event exceeded %d bytes", ErrFrameTooLarge, MaxFrameSize)
				}
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if oversized {
				return nil, fmt.Errorf("%w: event exceeded %d bytes", ErrFrameTooLarge, MaxFrameSize)
			}
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			accumulated += len(data)
			if accumulated > MaxFrameSize {
				// Keep draining to the event boundary, drop the data.
				oversized = true
				dataLines = nil
				continue
			}
			if !oversized {
				dataLines = append(dataLines, data)
			}
		}
		// Ignore other fields (event:, id:, retry:, comments starting with :)
	}
}

// =============================================================================
// STREAM TRANSPORT
// =============================================================================

// OpenStream opens a single-turn token stream on the chat endpoint.
//
// The chunk channel is finite and single-consumption: it closes when the
// stream ends, cleanly or not. On failure the error channel receives a
// *StreamError carrying all content emitted before the failure, including
// the cancellation case - cancellation closes the underlying connection via
// the context and stops emission within one scheduling step.
//
// A stream that closes cleanly after zero chunks simply closes both
// channels; the caller is expected to fall back to the non-streaming
// endpoint.
func (c *Client) OpenStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 64)
	errCh := make(chan error, 1)

	if !c.IsConfigured() {
		errCh <- ErrNotConfigured
		close(chunks)
		close(errCh)
		return chunks, errCh
	}

	if req.Model == "" {
		req.Model = c.modelName
	}
	req.Stream = true

	go func() {
		defer close(chunks)
		defer close(errCh)

		var partial strings.Builder

		fail := func(err error) {
			errCh <- &StreamError{Partial: partial.String(), Err: err}
		}

		bodyBytes, err := json.Marshal(req)
		if err != nil {
			fail(fmt.Errorf("failed to marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
		if err != nil {
			fail(fmt.Errorf("failed to create request: %w", err))
			return
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
		c.logRequest(httpReq)

		startTime := time.Now()
		resp, err := sharedStreamingClient.Do(httpReq)
		if err != nil {
			fail(fmt.Errorf("request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		c.logResponse(resp, time.Since(startTime))

		if resp.StatusCode != http.StatusOK {
			body, _ := readResponse(resp)
			fail(c.handleErrorResponse(resp, body))
			return
		}

		reader := NewSSEReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				fail(ctx.Err())
				return
			default:
			}

			data, err := reader.ReadEvent()
			if err != nil {
				if err == io.EOF {
					return
				}
				// Oversized events are stream hygiene, not turn failures:
				// drop the frame and keep reading.
				if isFrameRejection(err) {
					log.Printf("stream: dropped frame: %v", err)
					continue
				}
				fail(fmt.Errorf("read error: %w", err))
				return
			}

			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			chunk, err := ParseFrame(data)
			if err != nil {
				// One bad frame must not abort an otherwise-healthy turn.
				log.Printf("stream: dropped frame: %v", err)
				continue
			}

			if chunk.Type == ChunkContent {
				partial.WriteString(chunk.Text)
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}
	}()

	return chunks, errCh
}

// isFrameRejection reports whether err is one of the non-fatal frame
// hygiene rejections.
func isFrameRejection(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrMalformedFrame)
}
