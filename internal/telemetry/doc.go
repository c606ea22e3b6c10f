// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records per-turn token usage in a local SQLite ledger.
//
// Every completed turn writes one row, including turns that needed a
// recovery retry: the row carries the accumulated usage of all attempts, so
// the ledger reflects what the gateway actually billed rather than what the
// user saw rendered.
package telemetry
