// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for talks, sessions and messages.
//
// A Session owns an ordered, append-only list of Messages. A Talk is the
// user-facing saved-conversation record layered on top of exactly one
// Session; the Talk record itself lives in the store package, but the
// gateway's view of a talk (TalkSnapshot) and the metadata types shared by
// both sides are defined here so that the transport and persistence layers
// do not depend on each other.
package model
