// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/talkrun-tui/internal/commands"
	"github.com/jeranaias/talkrun-tui/internal/config"
	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/turn"
	"github.com/jeranaias/talkrun-tui/internal/voice"
)

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// dialVoiceCmd opens a voice session against the gateway.
func dialVoiceCmd(cfg *gatewayVoiceConfig) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		sess, err := voice.Dial(ctx, cfg.baseURL, cfg.apiKey, voice.Config{
			Model:        cfg.model,
			Voice:        cfg.voice,
			SampleRateHz: cfg.sampleRateHz,
		})
		return VoiceStartedMsg{Session: sess, Error: err}
	}
}

// gatewayVoiceConfig carries the handful of settings the dial needs, so the
// closure does not capture the whole Model.
type gatewayVoiceConfig struct {
	baseURL      string
	apiKey       string
	model        string
	voice        string
	sampleRateHz int
}

// waitVoiceEventCmd blocks on the next voice event. Re-armed after each
// event until the session's channel closes.
func waitVoiceEventCmd(sess *voice.Session) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sess.Events()
		if !ok {
			return VoiceEndedMsg{Error: sess.Err()}
		}
		return VoiceEventMsg{Event: event}
	}
}

// syncTalkCmd pulls the gateway snapshot for a talk and merges it into the
// store.
func syncTalkCmd(client *gateway.Client, talks *store.TalkStore, gatewayTalkID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		snap, err := client.FetchTalk(ctx, gatewayTalkID)
		if err != nil {
			return TalkSyncedMsg{Error: err}
		}
		talk, err := talks.MergeGatewaySnapshot(snap)
		if err != nil {
			return TalkSyncedMsg{Error: err}
		}
		return TalkSyncedMsg{Talk: talk, Changed: true}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleResize(msg)

	case tea.KeyMsg:
		newModel, cmd, handled := m.handleKey(msg)
		if handled {
			return newModel, cmd
		}
		m = newModel

	case spinner.TickMsg:
		if m.state == StateStreaming || m.retrying {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case StreamTickMsg:
		if chunk, ok := m.streamingBuffer.Flush(); ok {
			m.streamingText += chunk
			m.refreshViewport()
			m.viewport.GotoBottom()
		}
		if m.state == StateStreaming {
			cmds = append(cmds, streamTickCmd())
		}

	// Turn lifecycle
	case turn.TurnStarted:
		m = m.onTurnStarted(msg)
		cmds = append(cmds, streamTickCmd(), m.spinner.Tick)
	case turn.TurnToken:
		if msg.TalkID == m.talk.ID && msg.MessageID == m.streamingMsgID {
			m.streamingBuffer.Write(msg.Token)
		}
	case turn.TurnRetrying:
		if msg.TalkID == m.talk.ID {
			m.retrying = true
			m.statusMsg = "connection lost, retrying..."
		}
	case turn.TurnCompleted:
		m = m.onTurnCompleted(msg)
	case turn.TurnCanceled:
		m = m.onTurnCanceled(msg)
	case turn.TurnFailed:
		m = m.onTurnFailed(msg)

	// Slash command results
	case commands.NewTalkMsg:
		talk := store.NewTalk("", m.client.Model())
		m.setTalk(talk)
		m.statusMsg = "new talk"
	case commands.SaveTalkMsg:
		m.talk.IsSaved = true
		if _, err := m.talks.Save(m.talk); err != nil {
			m.lastError = &commands.ErrorMsg{Title: "Save failed", Message: err.Error()}
			m.state = StateError
		} else {
			m.statusMsg = "talk saved"
		}
	case commands.TalkListMsg:
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{Title: "Talk list failed", Message: msg.Error.Error()}
			m.state = StateError
		} else {
			m.talkList = msg.Talks
			m.showTalkList = true
		}
	case commands.TalkLoadedMsg:
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{
				Title:   "Load failed",
				Message: msg.Error.Error(),
				Tip:     "Run /talks to see stored talk IDs",
			}
			m.state = StateError
		} else {
			m.setTalk(msg.Talk)
			m.showTalkList = false
			m.statusMsg = fmt.Sprintf("loaded %s", msg.Talk.Title())
		}
	case commands.TalkDeletedMsg:
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{Title: "Delete failed", Message: msg.Error.Error()}
			m.state = StateError
		} else {
			m.statusMsg = fmt.Sprintf("deleted %s", msg.ID)
		}
	case commands.ModelSwitchMsg:
		m.client.WithModel(msg.Model)
		m.talk.Model = msg.Model
		m.statusMsg = fmt.Sprintf("model: %s", msg.Model)
	case commands.ExportTalkMsg:
		m = m.exportTalk(msg.Format)
	case commands.SyncTalkMsg:
		if m.talk.GatewayTalkID == "" {
			m.statusMsg = "talk has no gateway ID yet"
		} else {
			m.statusMsg = "syncing..."
			cmds = append(cmds, syncTalkCmd(m.client, m.talks, m.talk.GatewayTalkID))
		}
	case TalkFileChangedMsg:
		// Another process rewrote the current talk's file. Reload unless a
		// turn is mid-flight; the in-memory talk wins until it settles.
		if msg.TalkID == m.talk.ID && !msg.Removed && m.state != StateStreaming {
			if reloaded, err := m.talks.Load(msg.TalkID); err == nil {
				m.talk = reloaded
				m.refreshViewport()
				m.statusMsg = "talk reloaded from disk"
			}
		}

	case TalkSyncedMsg:
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{Title: "Sync failed", Message: msg.Error.Error()}
			m.state = StateError
		} else {
			if msg.Talk.ID == m.talk.ID {
				m.talk = msg.Talk
				m.refreshViewport()
			}
			m.statusMsg = "synced with gateway"
		}
	case commands.VoiceToggleMsg:
		newModel, cmd := m.toggleVoice(msg.On)
		return newModel, tea.Batch(append(cmds, cmd)...)
	case commands.MuteToggleMsg:
		if m.voiceSession == nil {
			m.statusMsg = "voice mode is not active"
		} else {
			m.voiceMuted = !m.voiceMuted
			if m.voiceMuted {
				m.statusMsg = "microphone muted"
			} else {
				m.statusMsg = "microphone live"
			}
		}
	case commands.ShowHelpMsg:
		m.showHelp = true
	case commands.ShowStatusMsg:
		m.statusMsg = m.statusSummary()
	case commands.UsageTotalsMsg:
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{Title: "Usage query failed", Message: msg.Error.Error()}
			m.state = StateError
		} else {
			m.statusMsg = fmt.Sprintf("%s usage: %d turns, %d tokens (%d prompt / %d completion)",
				msg.Scope, msg.Totals.Turns, msg.Totals.TotalTokens,
				msg.Totals.PromptTokens, msg.Totals.CompletionTokens)
		}
	case commands.ThemeMsg:
		m.cfg.UI.Theme = msg.Name
		if err := config.Save(m.cfg); err != nil {
			m.lastError = &commands.ErrorMsg{Title: "Theme save failed", Message: err.Error()}
			m.state = StateError
		} else {
			m.statusMsg = fmt.Sprintf("theme: %s (applies on restart)", msg.Name)
		}
	case commands.ErrorMsg:
		m.lastError = &msg
		m.state = StateError
	case commands.SystemMessageMsg:
		m.statusMsg = msg.Content

	// Voice session lifecycle
	case VoiceStartedMsg:
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{
				Title:   "Voice connection failed",
				Message: msg.Error.Error(),
				Tip:     "Check the gateway URL and API key",
			}
			m.state = StateError
		} else {
			m.voiceSession = msg.Session
			m.voiceState = msg.Session.State()
			m.statusMsg = "voice: connecting"
			cmds = append(cmds, waitVoiceEventCmd(msg.Session))
		}
	case VoiceEventMsg:
		newModel, cmd := m.onVoiceEvent(msg.Event)
		return newModel, tea.Batch(append(cmds, cmd)...)
	case VoiceEndedMsg:
		m.voiceSession = nil
		m.voiceState = voice.StateDisconnected
		m.liveUserText = ""
		if msg.Error != nil {
			m.lastError = &commands.ErrorMsg{Title: "Voice session ended", Message: msg.Error.Error()}
			m.state = StateError
		} else {
			m.statusMsg = "voice mode off"
		}
	}

	// Forward remaining updates to the focused input.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

// handleKey processes key presses. handled=true short-circuits the rest of
// Update so overlay keys don't leak into the text input.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit, true

	case "esc":
		switch {
		case m.showHelp:
			m.showHelp = false
			return m, nil, true
		case m.showTalkList:
			m.showTalkList = false
			return m, nil, true
		case m.state == StateError:
			m.lastError = nil
			m.state = StateReady
			return m, nil, true
		case m.state == StateStreaming:
			m.orch.Cancel(m.talk.ID)
			return m, nil, true
		case m.voiceState == voice.StateAISpeaking:
			// Barge-in: cut AI speech off right now.
			m.voiceSession.Interrupt()
			return m, nil, true
		}

	case "enter":
		return m.submitInput()

	case "pgup":
		m.viewport.HalfViewUp()
		return m, nil, true
	case "pgdown":
		m.viewport.HalfViewDown()
		return m, nil, true
	}

	return m, nil, false
}

// submitInput handles the enter key: slash commands run through the
// registry, anything else starts a turn.
func (m Model) submitInput() (Model, tea.Cmd, bool) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil, true
	}

	if commands.IsCommand(text) {
		result := m.parser.Parse(text)
		if result.Command == nil {
			m.lastError = &commands.ErrorMsg{
				Title:   "Unknown command",
				Message: result.CommandName,
				Tip:     "Run /help to see available commands",
			}
			m.state = StateError
			return m, nil, true
		}
		if err := commands.ValidateArgs(result.Command, result.Args); err != nil {
			m.lastError = &commands.ErrorMsg{Title: "Invalid arguments", Message: err.Error()}
			m.state = StateError
			return m, nil, true
		}
		m.input.Reset()
		return m, result.Command.Handler(m.cmdCtx, result.Args), true
	}

	if m.state == StateStreaming {
		m.statusMsg = "a turn is already running; esc to cancel it"
		return m, nil, true
	}

	if err := m.orch.StartTurn(context.Background(), m.talk, text); err != nil {
		if errors.Is(err, turn.ErrTurnInFlight) {
			m.statusMsg = "a turn is already running; esc to cancel it"
		} else {
			m.lastError = &commands.ErrorMsg{Title: "Turn failed to start", Message: err.Error()}
			m.state = StateError
		}
		return m, nil, true
	}

	m.input.Reset()
	return m, nil, true
}

// =============================================================================
// TURN EVENT HANDLING
// =============================================================================

// Events for other talks are persisted by the orchestrator; the view only
// reacts to the talk on screen.

func (m Model) onTurnStarted(msg turn.TurnStarted) Model {
	if msg.TalkID != m.talk.ID {
		return m
	}
	m.state = StateStreaming
	m.streamingMsgID = msg.AssistantID
	m.streamingText = ""
	m.streamingBuffer.Reset()
	m.retrying = false
	m.statusMsg = ""
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m
}

func (m Model) onTurnCompleted(msg turn.TurnCompleted) Model {
	if msg.TalkID != m.talk.ID {
		return m
	}
	m.finishStreaming()
	m.sessionUsage.Add(msg.Usage)
	switch {
	case msg.Suppressed:
		m.statusMsg = "no reply needed"
	case msg.Resumed:
		m.statusMsg = "recovered after connection loss"
	case msg.Retried:
		m.statusMsg = "recovered after retry"
	}
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m
}

func (m Model) onTurnCanceled(msg turn.TurnCanceled) Model {
	if msg.TalkID != m.talk.ID {
		return m
	}
	m.finishStreaming()
	if msg.Message != nil {
		m.statusMsg = "canceled; partial response kept"
	} else {
		m.statusMsg = "canceled"
	}
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m
}

func (m Model) onTurnFailed(msg turn.TurnFailed) Model {
	if msg.TalkID != m.talk.ID {
		return m
	}
	m.finishStreaming()
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m
}

// finishStreaming drops any unrendered buffer content: the talk itself now
// carries the authoritative message text.
func (m *Model) finishStreaming() {
	m.state = StateReady
	m.retrying = false
	m.streamingMsgID = ""
	m.streamingText = ""
	m.streamingBuffer.Reset()
}

// =============================================================================
// VOICE HANDLING
// =============================================================================

// toggleVoice starts or stops the voice session. on=nil toggles.
func (m Model) toggleVoice(on *bool) (Model, tea.Cmd) {
	active := m.voiceSession != nil
	wantActive := !active
	if on != nil {
		wantActive = *on
	}

	if wantActive == active {
		return m, nil
	}

	if !wantActive {
		sess := m.voiceSession
		return m, func() tea.Msg {
			sess.Disconnect()
			return nil
		}
	}

	m.statusMsg = "voice: dialing..."
	return m, dialVoiceCmd(&gatewayVoiceConfig{
		baseURL:      m.cfg.Gateway.BaseURL,
		apiKey:       m.cfg.Gateway.APIKey,
		model:        m.client.Model(),
		voice:        m.cfg.Voice.Voice,
		sampleRateHz: m.cfg.Voice.SampleRateHz,
	})
}

// onVoiceEvent applies one voice session event and re-arms the listener.
func (m Model) onVoiceEvent(event voice.Event) (Model, tea.Cmd) {
	switch ev := event.(type) {
	case voice.StateChanged:
		m.voiceState = ev.To

	case voice.UserTranscript:
		if ev.Final {
			m.liveUserText = ""
			if strings.TrimSpace(ev.Text) != "" && m.state != StateStreaming {
				// A finished utterance becomes a regular turn.
				if err := m.orch.StartTurn(context.Background(), m.talk, ev.Text); err != nil && !errors.Is(err, turn.ErrTurnInFlight) {
					m.lastError = &commands.ErrorMsg{Title: "Turn failed to start", Message: err.Error()}
					m.state = StateError
				}
			}
		} else {
			m.liveUserText = ev.Text
		}

	case voice.AITranscript:
		// Playback text shows up in the status line; the canonical reply
		// still arrives through the turn pipeline.
		if !ev.Final {
			m.statusMsg = ev.Text
		}

	case voice.AIAudio:
		// Playback is the platform audio layer's job; nothing to render.

	case voice.SessionError:
		m.lastError = &commands.ErrorMsg{Title: "Voice error", Message: ev.Err.Error()}
		m.state = StateError
	}

	if m.voiceSession == nil {
		return m, nil
	}
	return m, waitVoiceEventCmd(m.voiceSession)
}

// =============================================================================
// MISC
// =============================================================================

func (m *Model) handleResize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	// Header, input, and status bar take four rows.
	viewportHeight := msg.Height - 4
	if viewportHeight < 3 {
		viewportHeight = 3
	}
	m.viewport.Width = msg.Width
	m.viewport.Height = viewportHeight
	m.input.Width = msg.Width - 4
	m.refreshViewport()
}

// exportTalk writes the current talk next to the working directory.
func (m Model) exportTalk(format string) Model {
	var (
		path string
		data []byte
		err  error
	)
	switch format {
	case "json":
		path = m.talk.ID + ".json"
		data, err = m.talk.ExportJSON()
	default:
		path = m.talk.ID + ".md"
		data = []byte(m.talk.ExportMarkdown())
	}
	if err == nil {
		err = os.WriteFile(path, data, 0644)
	}
	if err != nil {
		m.lastError = &commands.ErrorMsg{Title: "Export failed", Message: err.Error()}
		m.state = StateError
		return m
	}
	m.statusMsg = fmt.Sprintf("exported to %s", path)
	return m
}

func (m Model) statusSummary() string {
	gw := "not configured"
	if m.client.IsConfigured() {
		gw = m.cfg.Gateway.BaseURL
	}
	return fmt.Sprintf("gateway: %s | model: %s | talk: %s | voice: %s | session tokens: %d",
		gw, m.client.Model(), m.talk.Title(), m.voiceState, m.sessionUsage.TotalTokens)
}
