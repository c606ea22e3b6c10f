// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/talkrun-tui/internal/commands"
	"github.com/jeranaias/talkrun-tui/internal/config"
	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/telemetry"
	"github.com/jeranaias/talkrun-tui/internal/turn"
	"github.com/jeranaias/talkrun-tui/internal/ui/styles"
	"github.com/jeranaias/talkrun-tui/internal/voice"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateStreaming              // A turn is in flight
	StateError                  // Showing an error
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	// State
	state State

	// Styling
	theme *styles.Theme

	// Dimensions
	width  int
	height int

	// Wiring
	cfg    *config.Config
	client *gateway.Client
	talks  *store.TalkStore
	ledger *telemetry.UsageLedger
	orch   *turn.Orchestrator

	// Slash commands
	registry *commands.Registry
	parser   *commands.Parser
	cmdCtx   *commands.Context

	// Current talk
	talk *store.Talk

	// Active turn rendering. streamingText holds tokens already flushed to
	// the viewport; the buffer holds tokens still waiting for a tick.
	streamingMsgID  string
	streamingText   string
	streamingBuffer *StreamingBuffer

	// UI components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// Markdown rendering for assistant messages
	renderer *glamour.TermRenderer

	// Voice session
	voiceSession *voice.Session
	voiceState   voice.State
	voiceMuted   bool
	liveUserText string // in-progress user transcript while in voice mode

	// Status
	lastError    *commands.ErrorMsg
	statusMsg    string
	retrying     bool
	sessionUsage gateway.Usage

	// Overlays
	showHelp     bool
	showTalkList bool
	talkList     []commands.TalkInfo
}

// New creates a new chat model. The talk is the one the user starts in;
// ledger may be nil.
func New(cfg *config.Config, theme *styles.Theme, client *gateway.Client, talks *store.TalkStore, ledger *telemetry.UsageLedger, orch *turn.Orchestrator, talk *store.Talk) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message or /help..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 30,
	}

	// Plain text is the fallback when the renderer cannot initialize.
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		renderer = nil
	}

	registry := commands.NewRegistry()
	cmdCtx := commands.NewContext(cfg, client, talks, ledger)
	if talk != nil {
		cmdCtx.CurrentTalkID = talk.ID
	}

	return Model{
		state:           StateReady,
		theme:           theme,
		cfg:             cfg,
		client:          client,
		talks:           talks,
		ledger:          ledger,
		orch:            orch,
		registry:        registry,
		parser:          commands.NewParser(registry),
		cmdCtx:          cmdCtx,
		talk:            talk,
		streamingBuffer: NewStreamingBuffer(),
		viewport:        vp,
		input:           ti,
		spinner:         sp,
		renderer:        renderer,
		voiceState:      voice.StateDisconnected,
	}
}

// Init starts the input cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Talk returns the talk the user is currently looking at.
func (m Model) Talk() *store.Talk {
	return m.talk
}

// setTalk switches the view to a different talk.
func (m *Model) setTalk(talk *store.Talk) {
	m.talk = talk
	m.cmdCtx.CurrentTalkID = talk.ID
	m.streamingMsgID = ""
	m.streamingText = ""
	m.streamingBuffer.Reset()
	if m.orch != nil && m.orch.InFlight(talk.ID) {
		m.state = StateStreaming
	} else {
		m.state = StateReady
	}
	m.refreshViewport()
	m.viewport.GotoBottom()
}
