// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/talkrun-tui/internal/commands"
	"github.com/jeranaias/talkrun-tui/internal/config"
	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/model"
	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/turn"
	"github.com/jeranaias/talkrun-tui/internal/ui/styles"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestModel(t *testing.T) Model {
	t.Helper()

	cfg := config.Default()
	client := gateway.NewClient("https://gateway.test", "tk-test")
	talks, err := store.NewTalkStoreWithDir(t.TempDir())
	require.NoError(t, err)

	talk := store.NewTalk("", "forge-standard")
	m := New(cfg, styles.NewTheme(), client, talks, nil, nil, talk)

	// Give the view a size so rendering paths run.
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(Model)
}

func applyMsg(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

// =============================================================================
// TURN EVENT TESTS
// =============================================================================

func TestTurnStartedEntersStreaming(t *testing.T) {
	m := newTestModel(t)

	m = applyMsg(t, m, turn.TurnStarted{
		TalkID:      m.talk.ID,
		AssistantID: "msg_abc",
	})

	assert.Equal(t, StateStreaming, m.state)
	assert.Equal(t, "msg_abc", m.streamingMsgID)
}

func TestTurnEventsForOtherTalksIgnored(t *testing.T) {
	m := newTestModel(t)

	m = applyMsg(t, m, turn.TurnStarted{TalkID: "talk_other", AssistantID: "msg_x"})
	assert.NotEqual(t, StateStreaming, m.state, "turn start for another talk should not enter streaming")

	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})
	m = applyMsg(t, m, turn.TurnToken{TalkID: "talk_other", MessageID: "msg_abc", Token: "nope"})
	assert.Zero(t, m.streamingBuffer.Pending(), "token for another talk should not reach the buffer")

	m = applyMsg(t, m, turn.TurnCompleted{TalkID: "talk_other"})
	assert.Equal(t, StateStreaming, m.state, "completion for another talk should not end streaming")
}

func TestTurnTokenFilteredByMessageID(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})

	m = applyMsg(t, m, turn.TurnToken{TalkID: m.talk.ID, MessageID: "msg_stale", Token: "old"})
	assert.Zero(t, m.streamingBuffer.Pending(), "token for a stale message should not reach the buffer")

	m = applyMsg(t, m, turn.TurnToken{TalkID: m.talk.ID, MessageID: "msg_abc", Token: "Hello"})
	assert.Equal(t, 1, m.streamingBuffer.Pending())
}

func TestTurnCompletedAccumulatesUsage(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})

	m.talk.Append(model.NewMessage(model.RoleAssistant, "answer"))
	m = applyMsg(t, m, turn.TurnCompleted{
		TalkID: m.talk.ID,
		Usage:  gateway.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	})

	assert.Equal(t, StateReady, m.state)
	assert.Equal(t, 30, m.sessionUsage.TotalTokens)

	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_def"})
	m = applyMsg(t, m, turn.TurnCompleted{
		TalkID: m.talk.ID,
		Usage:  gateway.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	})
	assert.Equal(t, 40, m.sessionUsage.TotalTokens, "usage should accumulate across turns")
}

func TestTurnCompletedStatusVariants(t *testing.T) {
	tests := []struct {
		name string
		msg  turn.TurnCompleted
		want string
	}{
		{"suppressed", turn.TurnCompleted{Suppressed: true}, "no reply needed"},
		{"resumed", turn.TurnCompleted{Resumed: true, Retried: true}, "recovered after connection loss"},
		{"retried", turn.TurnCompleted{Retried: true}, "recovered after retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})

			tt.msg.TalkID = m.talk.ID
			m = applyMsg(t, m, tt.msg)

			assert.Equal(t, tt.want, m.statusMsg)
		})
	}
}

func TestTurnCanceledKeepsPartialNote(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})

	partial := model.NewMessage(model.RoleAssistant, "partial answer")
	m.talk.Append(partial)
	m = applyMsg(t, m, turn.TurnCanceled{TalkID: m.talk.ID, Message: partial})

	assert.Equal(t, StateReady, m.state)
	assert.Equal(t, "canceled; partial response kept", m.statusMsg)
}

func TestTurnRetryingSetsNotice(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})

	m = applyMsg(t, m, turn.TurnRetrying{TalkID: m.talk.ID})
	assert.True(t, m.retrying)

	m = applyMsg(t, m, turn.TurnCompleted{TalkID: m.talk.ID, Retried: true})
	assert.False(t, m.retrying, "retrying should clear on completion")
}

// =============================================================================
// STREAM TICK TESTS
// =============================================================================

func TestStreamTickFlushesBufferedTokens(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})

	for i := 0; i < defaultBatchSize; i++ {
		m = applyMsg(t, m, turn.TurnToken{TalkID: m.talk.ID, MessageID: "msg_abc", Token: "x"})
	}
	m = applyMsg(t, m, StreamTickMsg{})

	assert.Len(t, m.streamingText, defaultBatchSize)
	assert.Zero(t, m.streamingBuffer.Pending())
}

// =============================================================================
// VIEW TESTS
// =============================================================================

func TestViewRendersMessages(t *testing.T) {
	m := newTestModel(t)
	m.talk.Append(model.NewUserMessage("what is the capital of France?"))
	m.talk.Append(model.NewMessage(model.RoleAssistant, "Paris."))
	m.refreshViewport()

	require.NotEmpty(t, m.View())
}

func TestViewShowsHelpOverlay(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, commands.ShowHelpMsg{})

	require.True(t, m.showHelp)
	require.NotEmpty(t, m.View())

	m = applyMsg(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.showHelp, "esc should dismiss the help overlay")
}

func TestSetTalkResetsStreamingState(t *testing.T) {
	m := newTestModel(t)
	m = applyMsg(t, m, turn.TurnStarted{TalkID: m.talk.ID, AssistantID: "msg_abc"})
	m = applyMsg(t, m, turn.TurnToken{TalkID: m.talk.ID, MessageID: "msg_abc", Token: "partial"})

	other := store.NewTalk("", "forge-standard")
	m.setTalk(other)

	assert.NotEqual(t, StateStreaming, m.state, "switching to an idle talk should leave streaming state")
	assert.Zero(t, m.streamingBuffer.Pending(), "buffer should be cleared on talk switch")
	assert.Equal(t, other.ID, m.cmdCtx.CurrentTalkID)
}
