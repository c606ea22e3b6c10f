// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"net"

	"github.com/jeranaias/talkrun-tui/internal/gateway"
)

// =============================================================================
// FAILURE CLASSIFICATION
// =============================================================================

// Class buckets a turn failure for the recovery policy.
type Class int

const (
	// ClassTransient failures may be retried once per turn.
	ClassTransient Class = iota

	// ClassFatal failures are never retried; the user must act.
	ClassFatal

	// ClassCanceled is a user-initiated stop. It is not a failure and is
	// never auto-retried, but any partial content is kept.
	ClassCanceled
)

// String returns the class name for logging.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify buckets an error from a gateway call.
//
// Auth failures and permanent rejections are fatal: retrying an invalid key
// or a malformed request can only produce the same answer. Rate limits,
// overload, timeouts, and network failures are transient. Errors with no
// recognizable cause default to transient; the one-retry bound keeps that
// safe.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	switch {
	case errors.Is(err, gateway.ErrAuthFailed),
		errors.Is(err, gateway.ErrBadRequest),
		errors.Is(err, gateway.ErrNotConfigured):
		return ClassFatal

	case errors.Is(err, gateway.ErrRateLimited),
		errors.Is(err, gateway.ErrOverloaded),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}
