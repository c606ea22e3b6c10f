// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// FAKE CONNECTION
// =============================================================================

type fakeConn struct {
	incoming chan []byte

	mu      sync.Mutex
	written [][]byte

	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 64)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.incoming
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.incoming) })
	return nil
}

// serve pushes a server frame to the session.
func (c *fakeConn) serve(t *testing.T, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal server frame: %v", err)
	}
	c.incoming <- data
}

// sentFrames decodes everything the client wrote, filtered by type.
func (c *fakeConn) sentFrames(frameType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, data := range c.written {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil && m["type"] == frameType {
			out = append(out, m)
		}
	}
	return out
}

func testSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	sess, err := NewSession(conn, Config{Model: "test-model", Voice: "test-voice"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Disconnect() })
	return sess, conn
}

func nextEvent[T Event](t *testing.T, sess *Session) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				var zero T
				t.Fatalf("events channel closed while waiting for %T", zero)
				return zero
			}
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitState(t *testing.T, sess *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", sess.State(), want)
}

// =============================================================================
// CONNECT / STATE MACHINE
// =============================================================================

func TestConfigSentOnConnect(t *testing.T) {
	sess, conn := testSession(t)

	if sess.State() != StateConnecting {
		t.Errorf("initial state = %v, want connecting", sess.State())
	}

	configs := conn.sentFrames("config")
	if len(configs) != 1 {
		t.Fatalf("config frames = %d, want 1", len(configs))
	}
	if configs[0]["model"] != "test-model" {
		t.Errorf("config model = %v", configs[0]["model"])
	}
	if configs[0]["voice"] != "test-voice" {
		t.Errorf("config voice = %v", configs[0]["voice"])
	}
}

func TestSessionStartMovesToListening(t *testing.T) {
	sess, conn := testSession(t)

	conn.serve(t, map[string]any{"type": "session.start"})

	change := nextEvent[StateChanged](t, sess)
	if change.From != StateConnecting || change.To != StateListening {
		t.Errorf("transition = %v -> %v", change.From, change.To)
	}
	waitState(t, sess, StateListening)
}

func TestInboundAudioStartsAISpeaking(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	pcm := []byte{1, 2, 3, 4}
	conn.serve(t, map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString(pcm)})
	waitState(t, sess, StateAISpeaking)

	audio := nextEvent[AIAudio](t, sess)
	if string(audio.Data) != string(pcm) {
		t.Errorf("audio = %v, want %v", audio.Data, pcm)
	}

	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "done", "final": true})
	waitState(t, sess, StateListening)
}

func TestPartialAITranscriptStartsAISpeaking(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "thinking"})
	waitState(t, sess, StateAISpeaking)

	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "thinking out loud", "final": true})
	waitState(t, sess, StateListening)
}

func TestTranscripts(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})

	conn.serve(t, map[string]any{"type": "transcript.user", "text": "hello there", "final": true})
	user := nextEvent[UserTranscript](t, sess)
	if user.Text != "hello there" || !user.Final {
		t.Errorf("user transcript = %+v", user)
	}

	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "hi!"})
	ai := nextEvent[AITranscript](t, sess)
	if ai.Text != "hi!" {
		t.Errorf("ai transcript = %+v", ai)
	}
}

// =============================================================================
// BARGE-IN
// =============================================================================

func TestInterruptDiscardsAIAudioImmediately(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)
	conn.serve(t, map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString([]byte("live"))})
	waitState(t, sess, StateAISpeaking)
	nextEvent[AIAudio](t, sess)

	if err := sess.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	// The transition does not wait for any server acknowledgement.
	waitState(t, sess, StateListening)
	if len(conn.sentFrames("interrupt")) != 1 {
		t.Error("interrupt frame not sent")
	}

	// Frames the server sent before processing the interrupt are dropped
	// and must not restart aiSpeaking.
	conn.serve(t, map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString([]byte("stale"))})
	conn.serve(t, map[string]any{"type": "transcript.user", "text": "marker", "final": true})

	// The marker transcript arrives but no AIAudio before it.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			switch ev.(type) {
			case AIAudio:
				t.Fatal("discarded AI audio was delivered")
			case UserTranscript:
				if sess.State() != StateListening {
					t.Errorf("state after stale audio = %v, want listening", sess.State())
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for marker transcript")
		}
	}
}

func TestInterruptNoOpWhenNotSpeaking(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	if err := sess.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if len(conn.sentFrames("interrupt")) != 0 {
		t.Error("interrupt frame sent while listening")
	}
	waitState(t, sess, StateListening)
}

func TestAudioResumesAfterInterruptedTurnEnds(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)
	conn.serve(t, map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString([]byte("live"))})
	waitState(t, sess, StateAISpeaking)
	nextEvent[AIAudio](t, sess)

	sess.Interrupt()
	waitState(t, sess, StateListening)

	// Stale audio from the interrupted turn is dropped; its final
	// transcript clears the discard flag, so the next turn plays.
	conn.serve(t, map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString([]byte("stale"))})
	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "canceled", "final": true})
	conn.serve(t, map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString([]byte("fresh"))})

	audio := nextEvent[AIAudio](t, sess)
	if string(audio.Data) != "fresh" {
		t.Errorf("audio = %q", audio.Data)
	}
}

// =============================================================================
// OUTBOUND BUFFERING
// =============================================================================

func TestOutboundAudioBufferedWhileAISpeaks(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)
	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "speaking"})
	waitState(t, sess, StateAISpeaking)

	if err := sess.SendAudio([]byte("one")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.SendAudio([]byte("two")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if got := len(conn.sentFrames("audio")); got != 0 {
		t.Fatalf("audio frames sent during aiSpeaking = %d, want 0", got)
	}

	conn.serve(t, map[string]any{"type": "transcript.ai", "text": "spoken", "final": true})
	waitState(t, sess, StateListening)

	// Flush happens on the transition; poll for both frames.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(conn.sentFrames("audio")) == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	frames := conn.sentFrames("audio")
	if len(frames) != 2 {
		t.Fatalf("flushed audio frames = %d, want 2", len(frames))
	}
	first, _ := base64.StdEncoding.DecodeString(frames[0]["data"].(string))
	second, _ := base64.StdEncoding.DecodeString(frames[1]["data"].(string))
	if string(first) != "one" || string(second) != "two" {
		t.Errorf("flush order = %q, %q", first, second)
	}
	if frames[0]["seq"].(float64) >= frames[1]["seq"].(float64) {
		t.Errorf("sequence numbers not increasing: %v, %v", frames[0]["seq"], frames[1]["seq"])
	}
}

func TestAudioSentDirectlyWhileListening(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	if err := sess.SendAudio([]byte("live")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	frames := conn.sentFrames("audio")
	if len(frames) != 1 {
		t.Fatalf("audio frames = %d, want 1", len(frames))
	}
}

// =============================================================================
// TEARDOWN
// =============================================================================

func TestDisconnectIdempotent(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	if err := sess.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := sess.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if sess.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", sess.State())
	}
	if got := len(conn.sentFrames("end")); got != 1 {
		t.Errorf("end frames = %d, want 1", got)
	}

	if err := sess.SendAudio([]byte("late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendAudio after disconnect = %v, want ErrSessionClosed", err)
	}
}

func TestServerSessionEndDisconnects(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	conn.serve(t, map[string]any{"type": "session.end"})
	waitState(t, sess, StateDisconnected)

	if err := sess.Err(); err != nil {
		t.Errorf("session.end is a clean shutdown, got %v", err)
	}
	if err := sess.SendAudio([]byte("late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendAudio after session.end = %v, want ErrSessionClosed", err)
	}
}

func TestServerErrorEndsSession(t *testing.T) {
	sess, conn := testSession(t)
	conn.serve(t, map[string]any{"type": "session.start"})
	waitState(t, sess, StateListening)

	conn.serve(t, map[string]any{"type": "error", "code": "overloaded", "message": "too busy"})

	errEvent := nextEvent[SessionError](t, sess)
	if errEvent.Err == nil {
		t.Fatal("SessionError without an error")
	}
	waitState(t, sess, StateDisconnected)
	if sess.Err() == nil {
		t.Error("terminal error not recorded")
	}
}
