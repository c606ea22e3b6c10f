// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn runs chat turns against the gateway and owns the recovery
// policy around them.
//
// A turn is one user message and the assistant response it produces. The
// controller in this package streams the response, classifies failures as
// transient or fatal, and performs at most one retry per turn. When partial
// content was already streamed, the retry asks the gateway to continue from
// it and the final message is the concatenation of both parts.
//
// The orchestrator layers talk-level concerns on top: one in-flight turn
// per talk, persistence to the talk that originated the turn (even if the
// user has since switched talks), and usage accounting.
package turn
