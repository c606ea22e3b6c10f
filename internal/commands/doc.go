// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system for the TUI.
//
// Input starting with / is parsed against a registry of commands, each
// with aliases, argument definitions, and a handler that returns a
// bubbletea command. Handlers never mutate UI state directly; they emit
// messages the chat model consumes.
package commands
