// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/telemetry"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// These messages are sent by command handlers to update the application state.

// ShowHelpMsg triggers the help display.
type ShowHelpMsg struct {
	Topic string
}

// NewTalkMsg starts a fresh talk.
type NewTalkMsg struct{}

// SaveTalkMsg marks the current talk as saved.
type SaveTalkMsg struct{}

// TalkListMsg contains the list of stored talks.
type TalkListMsg struct {
	Talks []TalkInfo
	Error error
}

// TalkInfo contains metadata about a stored talk.
type TalkInfo struct {
	ID        string
	Title     string
	Model     string
	Preview   string
	UpdatedAt string
	MsgCount  int
}

// TalkLoadedMsg contains a loaded talk.
type TalkLoadedMsg struct {
	Talk  *store.Talk
	Error error
}

// TalkDeletedMsg indicates delete completion.
type TalkDeletedMsg struct {
	ID    string
	Error error
}

// ModelSwitchMsg indicates a model switch request.
type ModelSwitchMsg struct {
	Model string
}

// ExportTalkMsg triggers exporting the current talk.
type ExportTalkMsg struct {
	Format string // "markdown" or "json"
}

// SyncTalkMsg triggers pulling the gateway snapshot for the current talk.
type SyncTalkMsg struct{}

// VoiceToggleMsg starts or stops voice mode.
type VoiceToggleMsg struct {
	// On forces a state; nil toggles.
	On *bool
}

// MuteToggleMsg toggles the microphone.
type MuteToggleMsg struct{}

// ShowStatusMsg triggers showing detailed status.
type ShowStatusMsg struct{}

// UsageTotalsMsg contains usage totals for display.
type UsageTotalsMsg struct {
	Scope  string // "talk" or "all"
	Totals telemetry.TalkTotals
	Error  error
}

// ThemeMsg changes the color theme.
type ThemeMsg struct {
	Name string
}

// ErrorMsg indicates an error occurred.
type ErrorMsg struct {
	Title   string
	Message string
	Tip     string
}

// SystemMessageMsg adds a system message to the chat.
type SystemMessageMsg struct {
	Content string
}

// =============================================================================
// HANDLER IMPLEMENTATIONS
// =============================================================================

// HandleHelp shows help information.
func HandleHelp(ctx *Context, args []string) tea.Cmd {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	return func() tea.Msg {
		return ShowHelpMsg{Topic: topic}
	}
}

// HandleQuit exits the application.
func HandleQuit(ctx *Context, args []string) tea.Cmd {
	return tea.Quit
}

// HandleNew starts a new talk.
func HandleNew(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return NewTalkMsg{}
	}
}

// HandleSave marks the current talk as saved.
func HandleSave(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return SaveTalkMsg{}
	}
}

// HandleTalks lists stored talks.
func HandleTalks(ctx *Context, args []string) tea.Cmd {
	if ctx == nil || ctx.Store == nil {
		return func() tea.Msg {
			return TalkListMsg{Error: fmt.Errorf("talk store not available")}
		}
	}
	talks := ctx.Store
	return func() tea.Msg {
		metas, err := talks.List()
		if err != nil {
			return TalkListMsg{Error: err}
		}
		infos := make([]TalkInfo, len(metas))
		for i, m := range metas {
			infos[i] = TalkInfo{
				ID:        m.ID,
				Title:     m.Title,
				Model:     m.Model,
				Preview:   m.Preview,
				UpdatedAt: m.UpdatedAt.Format("2006-01-02 15:04"),
				MsgCount:  m.MessageCount,
			}
		}
		return TalkListMsg{Talks: infos}
	}
}

// HandleLoad loads a stored talk.
func HandleLoad(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		// No ID given; show the list instead.
		return HandleTalks(ctx, args)
	}
	if ctx == nil || ctx.Store == nil {
		return func() tea.Msg {
			return TalkLoadedMsg{Error: fmt.Errorf("talk store not available")}
		}
	}

	talkID := args[0]
	talks := ctx.Store
	return func() tea.Msg {
		talk, err := talks.Load(talkID)
		if err != nil {
			return TalkLoadedMsg{Error: err}
		}
		return TalkLoadedMsg{Talk: talk}
	}
}

// HandleDelete deletes a stored talk.
func HandleDelete(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "Missing talk ID",
				Message: "Usage: /delete <talk_id>",
				Tip:     "Run /talks to see stored talk IDs",
			}
		}
	}
	if ctx == nil || ctx.Store == nil {
		return func() tea.Msg {
			return TalkDeletedMsg{ID: args[0], Error: fmt.Errorf("talk store not available")}
		}
	}

	talkID := args[0]
	talks := ctx.Store
	return func() tea.Msg {
		return TalkDeletedMsg{ID: talkID, Error: talks.Delete(talkID)}
	}
}

// HandleSearch searches stored talks.
func HandleSearch(ctx *Context, args []string) tea.Cmd {
	if ctx == nil || ctx.Store == nil {
		return func() tea.Msg {
			return TalkListMsg{Error: fmt.Errorf("talk store not available")}
		}
	}

	query := strings.Join(args, " ")
	talks := ctx.Store
	return func() tea.Msg {
		metas, err := talks.Search(query)
		if err != nil {
			return TalkListMsg{Error: err}
		}
		infos := make([]TalkInfo, len(metas))
		for i, m := range metas {
			infos[i] = TalkInfo{
				ID:        m.ID,
				Title:     m.Title,
				Model:     m.Model,
				Preview:   m.Preview,
				UpdatedAt: m.UpdatedAt.Format("2006-01-02 15:04"),
				MsgCount:  m.MessageCount,
			}
		}
		return TalkListMsg{Talks: infos}
	}
}

// HandleExport exports the current talk.
func HandleExport(ctx *Context, args []string) tea.Cmd {
	format := "markdown"
	if len(args) > 0 {
		format = strings.ToLower(args[0])
		if format == "md" {
			format = "markdown"
		}
	}

	switch format {
	case "markdown", "json":
	default:
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "Invalid export format",
				Message: fmt.Sprintf("Unknown format: %s", format),
				Tip:     "Supported formats: markdown, json",
			}
		}
	}

	return func() tea.Msg {
		return ExportTalkMsg{Format: format}
	}
}

// HandleSync requests a gateway snapshot pull for the current talk.
func HandleSync(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return SyncTalkMsg{}
	}
}

// HandleModel switches or shows the current model.
func HandleModel(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		current := ""
		if ctx != nil && ctx.Gateway != nil {
			current = ctx.Gateway.Model()
		}
		return func() tea.Msg {
			return SystemMessageMsg{Content: fmt.Sprintf("Current model: %s", current)}
		}
	}
	name := args[0]
	return func() tea.Msg {
		return ModelSwitchMsg{Model: name}
	}
}

// HandleVoice starts or stops voice mode.
func HandleVoice(ctx *Context, args []string) tea.Cmd {
	if ctx != nil && ctx.Config != nil && !ctx.Config.Voice.Enabled {
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "Voice mode disabled",
				Message: "Voice mode is turned off in the configuration",
				Tip:     "Set voice.enabled = true in ~/.talkrun/config.toml",
			}
		}
	}

	var on *bool
	if len(args) > 0 {
		v := strings.EqualFold(args[0], "on")
		on = &v
	}
	return func() tea.Msg {
		return VoiceToggleMsg{On: on}
	}
}

// HandleMute toggles the microphone.
func HandleMute(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return MuteToggleMsg{}
	}
}

// HandleStatus shows detailed status information.
func HandleStatus(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return ShowStatusMsg{}
	}
}

// HandleUsage shows token usage totals.
func HandleUsage(ctx *Context, args []string) tea.Cmd {
	scope := "talk"
	if len(args) > 0 {
		scope = strings.ToLower(args[0])
	}
	if ctx == nil || ctx.Ledger == nil {
		return func() tea.Msg {
			return UsageTotalsMsg{Scope: scope, Error: fmt.Errorf("usage ledger not available")}
		}
	}

	ledger := ctx.Ledger
	talkID := ""
	if scope == "talk" {
		talkID = ctx.CurrentTalkID
	}
	return func() tea.Msg {
		queryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		totals, err := ledger.Totals(queryCtx, talkID)
		return UsageTotalsMsg{Scope: scope, Totals: totals, Error: err}
	}
}

// HandleTheme changes the color theme.
func HandleTheme(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "Missing theme name",
				Message: "Usage: /theme <dark|light|auto>",
			}
		}
	}
	name := strings.ToLower(args[0])
	return func() tea.Msg {
		return ThemeMsg{Name: name}
	}
}
