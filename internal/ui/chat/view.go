// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/talkrun-tui/internal/model"
	"github.com/jeranaias/talkrun-tui/internal/voice"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat interface.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	switch {
	case m.showHelp:
		return m.renderHelp()
	case m.showTalkList:
		return m.renderTalkList()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.state == StateError && m.lastError != nil {
		b.WriteString(m.renderError())
		b.WriteString("\n")
	}

	b.WriteString(m.theme.InputContainer.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	return b.String()
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("talkrun")
	subtitle := m.theme.HeaderSubtitle.Render(m.talk.Title())
	return m.theme.Header.Width(m.width - 2).Render(title + "  " + subtitle)
}

func (m Model) renderError() string {
	var parts []string
	parts = append(parts, m.theme.ErrorTitle.Render(m.lastError.Title))
	if m.lastError.Message != "" {
		parts = append(parts, m.theme.ErrorMessage.Render(m.lastError.Message))
	}
	if m.lastError.Tip != "" {
		parts = append(parts, m.theme.ErrorTip.Render("Tip: "+m.lastError.Tip))
	}
	parts = append(parts, m.theme.ErrorTip.Render("esc to dismiss"))
	return m.theme.ErrorBox.Width(m.width - 4).Render(strings.Join(parts, "\n"))
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m Model) renderStatusBar() string {
	var parts []string

	parts = append(parts, m.theme.ModelBadge.Render(m.client.Model()))

	if m.voiceState != voice.StateDisconnected {
		parts = append(parts, m.renderVoiceIndicator())
	}

	switch {
	case m.retrying:
		parts = append(parts, m.theme.RetryNotice.Render(m.spinner.View()+" retrying"))
	case m.state == StateStreaming:
		parts = append(parts, m.theme.ThinkingText.Render(m.spinner.View()+" thinking"))
	}

	if m.cfg.UI.ShowTokens && m.sessionUsage.TotalTokens > 0 {
		parts = append(parts, m.theme.StatsValue.Render(fmt.Sprintf("%d tok", m.sessionUsage.TotalTokens)))
	}

	if m.statusMsg != "" {
		parts = append(parts, m.theme.ShortcutDesc.Render(m.statusMsg))
	}

	hints := m.theme.ShortcutKey.Render("/help") + m.theme.ShortcutDesc.Render(" commands  ") +
		m.theme.ShortcutKey.Render("esc") + m.theme.ShortcutDesc.Render(" cancel")
	left := strings.Join(parts, m.theme.ShortcutDesc.Render(" | "))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(hints) - 2
	if gap < 1 {
		return m.theme.StatusBar.Width(m.width).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + hints)
}

func (m Model) renderVoiceIndicator() string {
	if m.voiceMuted {
		return m.theme.VoiceMutedStyle.Render("voice: muted")
	}
	switch m.voiceState {
	case voice.StateConnecting:
		return m.theme.VoiceConnectingStyle.Render("voice: connecting")
	case voice.StateListening:
		if m.liveUserText != "" {
			return m.theme.VoiceListeningStyle.Render("voice: " + m.liveUserText)
		}
		return m.theme.VoiceListeningStyle.Render("voice: listening")
	case voice.StateAISpeaking:
		return m.theme.VoiceSpeakingStyle.Render("voice: speaking (esc to interrupt)")
	default:
		return m.theme.VoiceMutedStyle.Render("voice: off")
	}
}

// =============================================================================
// MESSAGE RENDERING
// =============================================================================

// refreshViewport rebuilds the viewport content from the current talk plus
// any streaming partial.
func (m *Model) refreshViewport() {
	var b strings.Builder

	for _, msg := range m.talk.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n\n")
	}

	if m.streamingMsgID != "" {
		text := m.streamingText
		if text == "" {
			text = "..."
		}
		b.WriteString(m.theme.AssistantBubble.Width(m.bubbleWidth()).Render(text))
		b.WriteString("\n")
	}

	m.viewport.SetContent(b.String())
}

func (m Model) renderMessage(msg *model.Message) string {
	width := m.bubbleWidth()
	content := msg.GetDisplayContent()

	switch msg.Role {
	case model.RoleUser:
		return m.theme.UserBubble.Width(width).Render(content)
	case model.RoleSystem:
		return m.theme.SystemBubble.Width(width).Render(content)
	default:
		return m.theme.AssistantBubble.Width(width).Render(m.renderMarkdown(content))
	}
}

// renderMarkdown renders assistant markdown, falling back to the raw text
// when the renderer is unavailable or errors.
func (m Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

func (m Model) bubbleWidth() int {
	width := m.width - 10
	if width < 20 {
		width = 20
	}
	if width > 100 {
		width = 100
	}
	return width
}

// =============================================================================
// OVERLAYS
// =============================================================================

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Commands"))
	b.WriteString("\n\n")

	byCategory := m.registry.ByCategory()
	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		cmds := byCategory[category]
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

		b.WriteString(m.theme.TalkTitle.Render(category))
		b.WriteString("\n")
		for _, cmd := range cmds {
			usage := cmd.Name
			if cmd.Usage != "" {
				usage = cmd.Usage
			}
			b.WriteString(fmt.Sprintf("  %s %s\n",
				m.theme.ShortcutKey.Render(fmt.Sprintf("%-24s", usage)),
				m.theme.ShortcutDesc.Render(cmd.Description)))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.theme.ShortcutDesc.Render("esc to close"))
	return m.theme.Container.Render(b.String())
}

func (m Model) renderTalkList() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Stored talks"))
	b.WriteString("\n\n")

	if len(m.talkList) == 0 {
		b.WriteString(m.theme.TalkMeta.Render("no talks stored yet"))
	}
	for _, info := range m.talkList {
		line := m.theme.TalkID.Render(info.ID) +
			m.theme.TalkTitle.Render(info.Title) +
			m.theme.TalkMeta.Render(fmt.Sprintf("  %s · %d messages", info.UpdatedAt, info.MsgCount))
		b.WriteString(m.theme.TalkItem.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.ShortcutDesc.Render("/load <talk_id> to open · esc to close"))
	return m.theme.TalkList.Width(m.width - 4).Render(b.String())
}
