// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/model"
)

// =============================================================================
// GATEWAY DEPENDENCY
// =============================================================================

// Gateway is the slice of the gateway client the controller needs.
type Gateway interface {
	OpenStream(ctx context.Context, req gateway.ChatRequest) (<-chan gateway.StreamChunk, <-chan error)
	Chat(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error)
	IsSentinel(content string) bool
}

// Callbacks receive progress during a turn. Any field may be nil.
type Callbacks struct {
	OnToken     func(token string)
	OnToolStart func(name, args string)
	OnToolEnd   func(chunk gateway.StreamChunk)

	// OnRetry fires when a transient failure triggers the turn's single
	// recovery attempt.
	OnRetry func(cause error)
}

func (cb Callbacks) token(t string) {
	if cb.OnToken != nil {
		cb.OnToken(t)
	}
}

// =============================================================================
// TURN RESULT
// =============================================================================

// Result is the outcome of a completed turn.
type Result struct {
	// Content is the full assistant response. After a resumed retry it is
	// the concatenation of the partial content and the continuation.
	Content string

	// Usage accumulates the token accounting of every attempt the turn
	// made, not just the last one.
	Usage gateway.Usage

	Stats *model.Statistics

	// Retried is true when the recovery retry ran.
	Retried bool

	// Resumed is true when the retry continued from partial content.
	Resumed bool

	// Suppressed is true when the response is a sentinel marker that must
	// not be rendered or persisted.
	Suppressed bool

	// FromFallback is true when the content came from the non-streaming
	// endpoint after a zero-chunk stream.
	FromFallback bool
}

// continuePrompt asks the model to resume a response that was cut off by a
// transient failure. The already-received partial travels as an assistant
// message so the model sees exactly what the user already has.
const continuePrompt = "Continue your previous answer exactly where it left off. Do not repeat anything already written."

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs turns with the single-retry recovery policy.
type Controller struct {
	gw Gateway
}

// NewController creates a turn controller.
func NewController(gw Gateway) *Controller {
	return &Controller{gw: gw}
}

// Run executes one turn.
//
// On cancellation the returned error wraps context.Canceled and the Result
// still carries whatever content was streamed; cancellation never triggers
// a retry. On fatal errors the Result carries the partial content for the
// caller to surface alongside the failure.
func (c *Controller) Run(ctx context.Context, req gateway.ChatRequest, cb Callbacks) (*Result, error) {
	stats := model.NewStatistics()
	res := &Result{Stats: stats}

	content, chunkCount, streamErr := c.streamOnce(ctx, req, cb, stats)
	res.Content = content

	if streamErr == nil {
		if chunkCount == 0 {
			// Some gateways answer certain prompts without streaming
			// support; an empty stream is their signal to ask again
			// on the plain endpoint.
			return c.fallback(ctx, req, res)
		}
		return c.finish(res), nil
	}

	switch class := Classify(streamErr); class {
	case ClassCanceled, ClassFatal:
		stats.Finalize(estimateTokens(content))
		return res, streamErr

	case ClassTransient:
		if cb.OnRetry != nil {
			cb.OnRetry(streamErr)
		}
		log.Printf("turn: transient failure, retrying once: %v", streamErr)
		res.Retried = true
		return c.retry(ctx, req, cb, res)

	default:
		return res, streamErr
	}
}

// streamOnce consumes a single stream attempt. The returned content is
// everything received, whether or not an error followed it.
func (c *Controller) streamOnce(ctx context.Context, req gateway.ChatRequest, cb Callbacks, stats *model.Statistics) (string, int, error) {
	chunks, errCh := c.gw.OpenStream(ctx, req)

	var sb strings.Builder
	count := 0
	for chunk := range chunks {
		count++
		switch chunk.Type {
		case gateway.ChunkContent:
			if chunk.Text != "" {
				stats.RecordFirstToken()
				sb.WriteString(chunk.Text)
				cb.token(chunk.Text)
			}
		case gateway.ChunkToolStart:
			if cb.OnToolStart != nil {
				cb.OnToolStart(chunk.ToolName, chunk.ToolArgs)
			}
		case gateway.ChunkToolEnd:
			if cb.OnToolEnd != nil {
				cb.OnToolEnd(chunk)
			}
		}
	}

	err := <-errCh
	if err != nil {
		// The transport's partial view is authoritative; a chunk can be
		// dropped between the channel send and our read during abort.
		var se *gateway.StreamError
		if errors.As(err, &se) && se.Partial != "" {
			return se.Partial, count, err
		}
		return sb.String(), count, err
	}
	return sb.String(), count, nil
}

// retry performs the turn's single recovery attempt.
//
// With partial content in hand the retry resumes: the partial goes back to
// the gateway as an assistant message with an instruction to continue, via
// the non-streaming endpoint so the continuation arrives whole or not at
// all. With nothing received yet, the retry is a plain re-run of the
// stream.
func (c *Controller) retry(ctx context.Context, req gateway.ChatRequest, cb Callbacks, res *Result) (*Result, error) {
	if res.Content != "" {
		res.Resumed = true

		resumeReq := req
		resumeReq.Messages = append(append([]model.ChatMessage(nil), req.Messages...),
			model.ChatMessage{Role: "assistant", Content: res.Content},
			model.ChatMessage{Role: "user", Content: continuePrompt},
		)

		resp, err := c.gw.Chat(ctx, resumeReq)
		if err != nil {
			// Retry budget spent: surface the failure with the partial
			// content intact.
			res.Stats.Finalize(estimateTokens(res.Content))
			return res, err
		}
		res.Usage.Add(resp.Usage)

		continuation := resp.GetContent()
		if !c.gw.IsSentinel(continuation) {
			cb.token(continuation)
			res.Content += continuation
		}
		return c.finish(res), nil
	}

	content, chunkCount, err := c.streamOnce(ctx, req, cb, res.Stats)
	res.Content = content
	if err != nil {
		res.Stats.Finalize(estimateTokens(content))
		return res, err
	}
	if chunkCount == 0 {
		return c.fallback(ctx, req, res)
	}
	return c.finish(res), nil
}

// fallback asks the non-streaming endpoint after an empty stream. It runs
// at most once per turn.
func (c *Controller) fallback(ctx context.Context, req gateway.ChatRequest, res *Result) (*Result, error) {
	res.FromFallback = true

	resp, err := c.gw.Chat(ctx, req)
	if err != nil {
		res.Stats.Finalize(0)
		return res, err
	}
	res.Usage.Add(resp.Usage)
	res.Content = resp.GetContent()
	return c.finish(res), nil
}

// finish computes final statistics and sentinel suppression.
func (c *Controller) finish(res *Result) *Result {
	res.Suppressed = c.gw.IsSentinel(res.Content)

	tokens := res.Usage.CompletionTokens
	if tokens == 0 {
		tokens = estimateTokens(res.Content)
		res.Usage.CompletionTokens = tokens
		res.Usage.TotalTokens += tokens
	}
	res.Stats.Finalize(tokens)
	return res
}

func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
