// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/model"
	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/telemetry"
)

// ErrTurnInFlight is returned when a talk already has a running turn.
var ErrTurnInFlight = errors.New("a turn is already running for this talk")

// =============================================================================
// EVENTS
// =============================================================================

// Events carry a TalkID so the UI can decide whether to render them: only
// events for the currently active talk reach the screen, but every event is
// persisted to the talk that originated the turn.

// TurnStarted is emitted when a turn begins.
type TurnStarted struct {
	TalkID      string
	UserMessage *model.Message
	AssistantID string
}

// TurnToken is emitted for each streamed content token.
type TurnToken struct {
	TalkID    string
	MessageID string
	Token     string
}

// TurnRetrying is emitted when the recovery retry kicks in.
type TurnRetrying struct {
	TalkID string
	Cause  error
}

// TurnCompleted is emitted when a turn finishes successfully. Message is nil
// when the response was a suppressed sentinel.
type TurnCompleted struct {
	TalkID     string
	Message    *model.Message
	Usage      gateway.Usage
	Retried    bool
	Resumed    bool
	Suppressed bool
}

// TurnCanceled is emitted when the user stopped the turn. Message carries
// the partial content when any was received, nil otherwise.
type TurnCanceled struct {
	TalkID  string
	Message *model.Message
}

// TurnFailed is emitted when a turn ends in an error the recovery policy
// could not absorb. Message is the system message describing the failure.
type TurnFailed struct {
	TalkID  string
	Message *model.Message
	Err     error
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs turns against talks: one in-flight turn per talk,
// results persisted to the originating talk, usage recorded in the ledger.
type Orchestrator struct {
	ctrl   *Controller
	talks  *store.TalkStore
	ledger *telemetry.UsageLedger
	send   func(event any)

	defaultModel string

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewOrchestrator creates an orchestrator. The ledger may be nil to disable
// usage recording; send may be nil to drop events.
func NewOrchestrator(ctrl *Controller, talks *store.TalkStore, ledger *telemetry.UsageLedger, send func(event any)) *Orchestrator {
	if send == nil {
		send = func(any) {}
	}
	return &Orchestrator{
		ctrl:     ctrl,
		talks:    talks,
		ledger:   ledger,
		send:     send,
		inflight: make(map[string]context.CancelFunc),
	}
}

// WithDefaultModel sets the model used when a talk has none.
func (o *Orchestrator) WithDefaultModel(name string) *Orchestrator {
	o.defaultModel = name
	return o
}

// InFlight reports whether a talk has a running turn.
func (o *Orchestrator) InFlight(talkID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[talkID]
	return ok
}

// Cancel stops the running turn for a talk, if any. Reports whether there
// was one. The turn ends with TurnCanceled; the partial content survives.
func (o *Orchestrator) Cancel(talkID string) bool {
	o.mu.Lock()
	cancel, ok := o.inflight[talkID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// StartTurn appends the user's message to the talk and runs the assistant
// turn in the background. The talk pointer is captured here: everything the
// turn produces is persisted to this talk, no matter which talk the user is
// looking at when it finishes.
func (o *Orchestrator) StartTurn(ctx context.Context, talk *store.Talk, input string) error {
	o.mu.Lock()
	if _, running := o.inflight[talk.ID]; running {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	o.inflight[talk.ID] = cancel
	o.mu.Unlock()

	userMsg := model.NewUserMessage(input)
	talk.Append(userMsg)
	if _, err := o.talks.Save(talk); err != nil {
		log.Printf("turn: failed to persist user message: %v", err)
	}

	modelName := talk.Model
	if modelName == "" {
		modelName = o.defaultModel
	}
	req := gateway.ChatRequest{
		Model:    modelName,
		Messages: talk.Session().History(),
		TalkID:   talk.GatewayTalkID,
	}

	assistant := model.NewAssistantMessage(modelName)
	o.send(TurnStarted{TalkID: talk.ID, UserMessage: userMsg, AssistantID: assistant.ID})

	go o.runTurn(turnCtx, cancel, talk, req, assistant)
	return nil
}

func (o *Orchestrator) runTurn(ctx context.Context, cancel context.CancelFunc, talk *store.Talk, req gateway.ChatRequest, assistant *model.Message) {
	defer func() {
		o.mu.Lock()
		delete(o.inflight, talk.ID)
		o.mu.Unlock()
		cancel()
	}()

	cb := Callbacks{
		OnToken: func(token string) {
			assistant.AppendToken(token)
			o.send(TurnToken{TalkID: talk.ID, MessageID: assistant.ID, Token: token})
		},
		OnRetry: func(cause error) {
			o.send(TurnRetrying{TalkID: talk.ID, Cause: cause})
		},
	}

	result, err := o.ctrl.Run(ctx, req, cb)

	if err != nil {
		if Classify(err) == ClassCanceled {
			o.finishCanceled(talk, assistant, result)
			return
		}
		o.finishFailed(talk, assistant, result, err)
		return
	}

	if result.FromFallback && strings.TrimSpace(result.Content) == "" {
		// Streaming produced nothing and neither did the fallback: the
		// user needs to see that, not an empty bubble.
		sysMsg := model.NewSystemMessage("no response from gateway")
		talk.Append(sysMsg)
		if _, err := o.talks.Save(talk); err != nil {
			log.Printf("turn: failed to persist empty-response notice: %v", err)
		}
		o.send(TurnFailed{TalkID: talk.ID, Message: sysMsg, Err: nil})
		o.recordUsage(talk, req.Model, result)
		return
	}

	if result.Suppressed {
		// Sentinel replies never reach the transcript.
		o.send(TurnCompleted{TalkID: talk.ID, Usage: result.Usage, Retried: result.Retried, Suppressed: true})
		o.recordUsage(talk, req.Model, result)
		return
	}

	assistant.FinalizeStream(result.Stats)
	assistant.Content = result.Content
	talk.Append(assistant)
	if _, err := o.talks.Save(talk); err != nil {
		log.Printf("turn: failed to persist assistant message: %v", err)
	}
	o.recordUsage(talk, req.Model, result)

	o.send(TurnCompleted{
		TalkID:  talk.ID,
		Message: assistant,
		Usage:   result.Usage,
		Retried: result.Retried,
		Resumed: result.Resumed,
	})
}

// finishCanceled keeps any partial content the user already saw.
func (o *Orchestrator) finishCanceled(talk *store.Talk, assistant *model.Message, result *Result) {
	var kept *model.Message
	if result != nil && result.Content != "" {
		assistant.FinalizeStream(result.Stats)
		assistant.Content = result.Content
		talk.Append(assistant)
		if _, err := o.talks.Save(talk); err != nil {
			log.Printf("turn: failed to persist canceled turn: %v", err)
		}
		kept = assistant
	}
	o.send(TurnCanceled{TalkID: talk.ID, Message: kept})
}

// finishFailed surfaces the failure as a visible system message on the
// originating talk, preserving any partial content above it.
func (o *Orchestrator) finishFailed(talk *store.Talk, assistant *model.Message, result *Result, err error) {
	if result != nil && result.Content != "" {
		assistant.FinalizeStream(result.Stats)
		assistant.Content = result.Content
		talk.Append(assistant)
	}

	sysMsg := model.NewSystemMessage("error: " + err.Error())
	talk.Append(sysMsg)
	if _, saveErr := o.talks.Save(talk); saveErr != nil {
		log.Printf("turn: failed to persist failure: %v", saveErr)
	}

	o.send(TurnFailed{TalkID: talk.ID, Message: sysMsg, Err: err})
}

func (o *Orchestrator) recordUsage(talk *store.Talk, modelName string, result *Result) {
	if o.ledger == nil {
		return
	}
	rec := telemetry.TurnRecord{
		TalkID:           talk.ID,
		Model:            modelName,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		Retried:          result.Retried,
		Resumed:          result.Resumed,
	}
	if result.Stats != nil {
		rec.DurationMs = result.Stats.TotalDuration.Milliseconds()
		rec.TTFTMs = result.Stats.TTFT.Milliseconds()
	}
	if err := o.ledger.RecordTurn(context.Background(), rec); err != nil {
		log.Printf("turn: failed to record usage: %v", err)
	}
}
