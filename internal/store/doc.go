// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides talk persistence for the talkrun TUI.
//
// Each talk is stored as one JSON file under the base directory. Writes are
// atomic (temp file, fsync, rename) and serialized per talk, so a crash never
// leaves a half-written record and concurrent saves of the same talk never
// interleave.
//
// The gateway is authoritative for talk metadata: FetchTalk snapshots are
// merged into the local record field by field, where a gateway value wins
// only when it is present and non-empty. A merge never erases local state.
package store
