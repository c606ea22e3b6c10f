// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultConnectTimeout = 15 * time.Second

// =============================================================================
// CONNECTION
// =============================================================================

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Config holds voice session settings.
type Config struct {
	Model        string
	Voice        string
	SampleRateHz int
}

// Dial opens a voice session against the gateway's realtime endpoint.
func Dial(ctx context.Context, baseURL, apiKey string, cfg Config) (*Session, error) {
	wsURL, err := websocketURL(baseURL, "/voice")
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if apiKey != "" {
		headers.Set("Authorization", "Bearer "+apiKey)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("voice dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("voice dial failed: %w", err)
	}

	return NewSession(conn, cfg)
}

// websocketURL converts the gateway base URL to the ws(s) voice endpoint.
func websocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("gateway URL must use http(s) or ws(s), got %q", u.Scheme)
	}
	return u.String(), nil
}

// =============================================================================
// SESSION
// =============================================================================

// ErrSessionClosed is returned for operations on a torn-down session.
var ErrSessionClosed = errors.New("voice session is closed")

// Session is one realtime voice connection.
type Session struct {
	conn Conn

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	// mu guards the state machine and the outbound buffer.
	mu        sync.Mutex
	state     State
	outBuf    [][]byte
	discardAI bool
	seq       int64

	errMu sync.Mutex
	err   error
}

// NewSession wraps an open connection, sends the config frame, and starts
// the read loop. The session begins in StateConnecting and moves to
// StateListening when the server confirms the session.
func NewSession(conn Conn, cfg Config) (*Session, error) {
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 16000
	}

	s := &Session{
		conn:   conn,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		state:  StateConnecting,
	}

	frame := clientConfig{
		Type:         "config",
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		SampleRateHz: cfg.SampleRateHz,
	}
	if err := s.writeJSON(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send voice config: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// Events yields session events. The channel closes on teardown.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal session error, if any. Blocks until teardown.
func (s *Session) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// =============================================================================
// OUTBOUND AUDIO
// =============================================================================

// SendAudio sends one microphone frame. While the AI is speaking (or the
// session is still connecting) the frame is buffered and flushed in order
// once the session returns to listening.
func (s *Session) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateListening:
		s.seq++
		seq := s.seq
		s.mu.Unlock()
		return s.writeAudioFrame(pcm, seq)
	default:
		// Buffered; owned by the session from here on.
		s.outBuf = append(s.outBuf, append([]byte(nil), pcm...))
		s.mu.Unlock()
		return nil
	}
}

func (s *Session) writeAudioFrame(pcm []byte, seq int64) error {
	frame := clientAudioFrame{
		Type:    "audio",
		Seq:     seq,
		DataB64: base64.StdEncoding.EncodeToString(pcm),
	}
	return s.writeJSON(frame)
}

// =============================================================================
// BARGE-IN
// =============================================================================

// Interrupt stops AI speech locally and returns the session to listening.
// Any AI audio not yet played is discarded immediately; the interrupt frame
// goes to the server as a courtesy, and AI frames it sends before processing
// it are dropped on arrival until the final transcript closes the
// interrupted turn. A no-op unless the AI is speaking.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	if s.state != StateAISpeaking {
		s.mu.Unlock()
		return nil
	}
	s.discardAI = true
	s.mu.Unlock()

	err := s.writeJSON(clientControl{Type: "interrupt"})
	s.setState(StateListening)
	return err
}

// =============================================================================
// TEARDOWN
// =============================================================================

// Disconnect tears the session down. Safe to call any number of times,
// from any state.
func (s *Session) Disconnect() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// Best effort goodbye; the close below is what actually ends it.
		_ = s.writeJSONLocked(clientControl{Type: "end"})
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// writeJSONLocked skips the closed check for use during teardown.
func (s *Session) writeJSONLocked(v any) error {
	data, err := marshalFrame(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeJSON(v any) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.writeJSONLocked(v)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// setState transitions the state machine, emits the change, and flushes
// buffered outbound audio when entering listening.
func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to

	var toFlush [][]byte
	if to == StateListening {
		toFlush = s.outBuf
		s.outBuf = nil
	}
	s.mu.Unlock()

	s.emit(StateChanged{From: from, To: to})

	for _, pcm := range toFlush {
		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()
		if err := s.writeAudioFrame(pcm, seq); err != nil {
			return
		}
	}
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		// Never let a slow consumer stall the read loop.
	}
}

// =============================================================================
// READ LOOP
// =============================================================================

func (s *Session) readLoop() {
	defer func() {
		s.closed.Store(true)
		_ = s.conn.Close()
		s.mu.Lock()
		s.outBuf = nil
		s.mu.Unlock()
		s.setState(StateDisconnected)
		close(s.events)
		close(s.done)
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed.Load() {
				return
			}
			s.setErr(err)
			s.emit(SessionError{Err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// One garbled frame is not worth the session.
			continue
		}
		if s.handleFrame(frame) {
			return
		}
	}
}

// handleFrame processes one server frame. Returns true to end the session.
//
// AI speech has no dedicated start or end frame: the first inbound audio
// chunk or partial AI transcript marks the AI as speaking, and the final AI
// transcript closes the turn.
func (s *Session) handleFrame(frame serverFrame) bool {
	switch frame.Type {
	case "session.start":
		s.setState(StateListening)

	case "audio":
		s.mu.Lock()
		discard := s.discardAI
		s.mu.Unlock()
		if discard {
			// Stale speech from the interrupted turn. It neither plays
			// nor re-enters aiSpeaking.
			return false
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.DataB64)
		if err != nil {
			return false
		}
		if s.State() == StateListening {
			s.setState(StateAISpeaking)
		}
		s.emit(AIAudio{Data: pcm})

	case "transcript.user":
		s.emit(UserTranscript{Text: frame.Text, Final: frame.Final})

	case "transcript.ai":
		s.mu.Lock()
		discard := s.discardAI
		if discard && frame.Final {
			// The interrupted turn is over; whatever follows is fresh.
			s.discardAI = false
		}
		s.mu.Unlock()
		if discard {
			return false
		}
		if !frame.Final && s.State() == StateListening {
			s.setState(StateAISpeaking)
		}
		s.emit(AITranscript{Text: frame.Text, Final: frame.Final})
		if frame.Final {
			s.setState(StateListening)
		}

	case "session.end":
		return true

	case "error":
		err := fmt.Errorf("voice server error: %s", frame.Message)
		if frame.Code != "" {
			err = fmt.Errorf("voice server error [%s]: %s", frame.Code, frame.Message)
		}
		s.setErr(err)
		s.emit(SessionError{Err: err})
		return true
	}
	return false
}
