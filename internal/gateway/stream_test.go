// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// collectStream drains both channels and returns the chunks plus the final
// error, if any.
func collectStream(t *testing.T, chunks <-chan StreamChunk, errCh <-chan error) ([]StreamChunk, error) {
	t.Helper()
	var got []StreamChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	var streamErr error
	select {
	case streamErr = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error channel")
	}
	return got, streamErr
}

func sseServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, "test-key").WithModel("test-model")
}

func TestSSEReaderBasic(t *testing.T) {
	input := "data: {\"type\":\"content\",\"text\":\"a\"}\n\ndata: [DONE]\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	ev, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if string(ev) != `{"type":"content","text":"a"}` {
		t.Errorf("event = %q", ev)
	}

	ev, err = reader.ReadEvent()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if string(ev) != "[DONE]" {
		t.Errorf("event = %q, want [DONE]", ev)
	}
}

func TestSSEReaderOversizedEventSkipped(t *testing.T) {
	big := strings.Repeat("x", MaxFrameSize+1)
	input := "data: " + big + "\n\ndata: ok\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	_, err := reader.ReadEvent()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("error = %v, want ErrFrameTooLarge", err)
	}

	// The reader must survive past the oversized event.
	ev, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("event after oversized: %v", err)
	}
	if string(ev) != "ok" {
		t.Errorf("event = %q, want ok", ev)
	}
}

func TestSSEReaderMultiLineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	ev, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if string(ev) != "line1\nline2" {
		t.Errorf("event = %q", ev)
	}
}

func TestOpenStreamHappyPath(t *testing.T) {
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"Hello\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\", world\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	got, streamErr := collectStream(t, chunks, errCh)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if len(got) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(got))
	}
	if got[0].Text+got[1].Text != "Hello, world" {
		t.Errorf("content = %q", got[0].Text+got[1].Text)
	}
}

func TestOpenStreamMalformedFramesDropped(t *testing.T) {
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"keep\"}\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"unknown_kind\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\" going\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	got, streamErr := collectStream(t, chunks, errCh)
	if streamErr != nil {
		t.Fatalf("malformed frames must not fail the stream: %v", streamErr)
	}
	if len(got) != 2 {
		t.Fatalf("chunk count = %d, want 2 (malformed dropped)", len(got))
	}
	if got[0].Text != "keep" || got[1].Text != " going" {
		t.Errorf("unexpected chunks: %+v", got)
	}
}

func TestOpenStreamOversizedFrameDropped(t *testing.T) {
	big := strings.Repeat("x", MaxFrameSize+100)
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: "+big+"\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"after\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	got, streamErr := collectStream(t, chunks, errCh)
	if streamErr != nil {
		t.Fatalf("oversized frame must not fail the stream: %v", streamErr)
	}
	if len(got) != 1 || got[0].Text != "after" {
		t.Errorf("unexpected chunks: %+v", got)
	}
}

func TestOpenStreamAbortPreservesPartial(t *testing.T) {
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"partial \"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"answer\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Kill the connection mid-stream without [DONE].
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	})

	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	got, streamErr := collectStream(t, chunks, errCh)
	if len(got) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(got))
	}
	if streamErr == nil {
		t.Fatal("expected a stream error for the aborted connection")
	}
	var se *StreamError
	if !errors.As(streamErr, &se) {
		t.Fatalf("error type = %T, want *StreamError", streamErr)
	}
	if se.Partial != "partial answer" {
		t.Errorf("Partial = %q, want %q", se.Partial, "partial answer")
	}
}

func TestOpenStreamCancellation(t *testing.T) {
	started := make(chan struct{})
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"before cancel\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chunks, errCh := client.OpenStream(ctx, ChatRequest{})

	<-started
	var got []StreamChunk
	for chunk := range chunks {
		got = append(got, chunk)
		cancel()
	}

	var streamErr error
	select {
	case streamErr = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation error")
	}

	var se *StreamError
	if !errors.As(streamErr, &se) {
		t.Fatalf("error type = %T, want *StreamError", streamErr)
	}
	if !errors.Is(se.Err, context.Canceled) {
		t.Errorf("underlying error = %v, want context.Canceled", se.Err)
	}
	if se.Partial != "before cancel" {
		t.Errorf("Partial = %q, want %q", se.Partial, "before cancel")
	}
}

func TestOpenStreamZeroChunksCleanClose(t *testing.T) {
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	got, streamErr := collectStream(t, chunks, errCh)
	if streamErr != nil {
		t.Fatalf("zero-chunk clean close is not an error: %v", streamErr)
	}
	if len(got) != 0 {
		t.Errorf("chunk count = %d, want 0", len(got))
	}
}

func TestOpenStreamHTTPError(t *testing.T) {
	_, client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	_, streamErr := collectStream(t, chunks, errCh)
	if !errors.Is(streamErr, ErrOverloaded) {
		t.Errorf("error = %v, want ErrOverloaded", streamErr)
	}
}

func TestOpenStreamNotConfigured(t *testing.T) {
	client := NewClient("", "")
	chunks, errCh := client.OpenStream(context.Background(), ChatRequest{})
	_, streamErr := collectStream(t, chunks, errCh)
	if !errors.Is(streamErr, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", streamErr)
	}
}
