// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway implements the client for the remote LLM gateway.
//
// It covers the four endpoints the application depends on: the streaming
// chat endpoint (an SSE event stream of content/tool frames), the
// non-streaming chat endpoint (single JSON response with usage), the talk
// metadata endpoint, and the realtime voice endpoint (which lives in the
// voice package but shares this package's error taxonomy).
//
// The client performs no automatic retries: failure classification and the
// single-retry recovery policy belong to the turn package. This package's
// job is to surface every failure as a typed error precise enough to
// classify, and to never lose partial output that was already streamed.
package gateway
