// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// talkrun.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.talkrun/config.toml
//   - Built-in defaults
//
// Environment overrides (applied last):
//   - TALKRUN_GATEWAY_URL, TALKRUN_API_KEY, TALKRUN_MODEL
//   - TALKRUN_VOICE, TALKRUN_TALKS_DIR, TALKRUN_THEME
package config
