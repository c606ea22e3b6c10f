// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/talkrun-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete talkrun configuration.
type Config struct {
	Version string `toml:"version"`

	// Gateway configuration
	Gateway GatewayConfig `toml:"gateway"`

	// Voice configuration
	Voice VoiceConfig `toml:"voice"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// UI configuration
	UI UIConfig `toml:"ui"`
}

// GatewayConfig contains remote gateway connection configuration.
type GatewayConfig struct {
	// BaseURL is the gateway base URL
	BaseURL string `toml:"base_url"`
	// APIKey is the gateway API key
	APIKey string `toml:"api_key"`
	// Model is the default model requested for new talks
	Model string `toml:"model"`
	// TimeoutSecs is the per-request timeout in seconds
	TimeoutSecs int `toml:"timeout_secs"`
	// PollIntervalSecs is the minimum interval between talk polls
	PollIntervalSecs int `toml:"poll_interval_secs"`
	// ExtraSentinels are additional no-op reply markers to suppress,
	// on top of the built-in set
	ExtraSentinels []string `toml:"extra_sentinels"`
}

// VoiceConfig contains realtime voice configuration.
type VoiceConfig struct {
	// Enabled controls whether voice mode is offered at all
	Enabled bool `toml:"enabled"`
	// Voice is the server-side voice identifier
	Voice string `toml:"voice"`
	// SampleRateHz is the microphone capture rate (PCM16 mono)
	SampleRateHz int `toml:"sample_rate_hz"`
}

// StorageConfig contains local persistence configuration.
type StorageConfig struct {
	// TalksDir is where talk files live (empty = ~/.talkrun/talks)
	TalksDir string `toml:"talks_dir"`
	// LedgerPath is the usage ledger database (empty = ~/.talkrun/usage.db)
	LedgerPath string `toml:"ledger_path"`
	// MaxTalks bounds how many unsaved talks are kept before eviction
	MaxTalks int `toml:"max_talks"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme"`
	// ShowTokens displays token counts in the UI
	ShowTokens bool `toml:"show_tokens"`
	// CompactMode uses a more compact UI layout
	CompactMode bool `toml:"compact_mode"`
}

// Timeout returns the gateway request timeout as a duration.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// PollInterval returns the talk poll interval as a duration.
func (g GatewayConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSecs) * time.Second
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Gateway: GatewayConfig{
			BaseURL:          "https://gateway.morganforge.dev",
			APIKey:           "",
			Model:            "forge-standard",
			TimeoutSecs:      60,
			PollIntervalSecs: 2,
		},

		Voice: VoiceConfig{
			Enabled:      true,
			Voice:        "alloy",
			SampleRateHz: 16000,
		},

		Storage: StorageConfig{
			TalksDir:   "",
			LedgerPath: "",
			MaxTalks:   100,
		},

		UI: UIConfig{
			Theme:       "dark",
			ShowTokens:  true,
			CompactMode: false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the talkrun configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".talkrun"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// built-in defaults when no file exists. Environment overrides are applied
// last, then the result is validated.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := loadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadTOML decodes a TOML file over cfg and fills missing values.
// SECURITY: Checks and fixes file permissions on load.
func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = defaults.Gateway.BaseURL
	}
	if cfg.Gateway.Model == "" {
		cfg.Gateway.Model = defaults.Gateway.Model
	}
	if cfg.Gateway.TimeoutSecs == 0 {
		cfg.Gateway.TimeoutSecs = defaults.Gateway.TimeoutSecs
	}
	if cfg.Gateway.PollIntervalSecs == 0 {
		cfg.Gateway.PollIntervalSecs = defaults.Gateway.PollIntervalSecs
	}

	if cfg.Voice.Voice == "" {
		cfg.Voice.Voice = defaults.Voice.Voice
	}
	if cfg.Voice.SampleRateHz == 0 {
		cfg.Voice.SampleRateHz = defaults.Voice.SampleRateHz
	}

	if cfg.Storage.MaxTalks == 0 {
		cfg.Storage.MaxTalks = defaults.Storage.MaxTalks
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported variables:
//   - TALKRUN_GATEWAY_URL: overrides gateway.base_url
//   - TALKRUN_API_KEY: overrides gateway.api_key
//   - TALKRUN_MODEL: overrides gateway.model
//   - TALKRUN_VOICE: overrides voice.voice
//   - TALKRUN_TALKS_DIR: overrides storage.talks_dir
//   - TALKRUN_THEME: overrides ui.theme
func (c *Config) ApplyEnvOverrides() {
	if baseURL := os.Getenv("TALKRUN_GATEWAY_URL"); baseURL != "" {
		c.Gateway.BaseURL = baseURL
	}
	if key := os.Getenv("TALKRUN_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if model := os.Getenv("TALKRUN_MODEL"); model != "" {
		c.Gateway.Model = model
	}
	if voice := os.Getenv("TALKRUN_VOICE"); voice != "" {
		c.Voice.Voice = voice
	}
	if dir := os.Getenv("TALKRUN_TALKS_DIR"); dir != "" {
		c.Storage.TalksDir = dir
	}
	if theme := os.Getenv("TALKRUN_THEME"); theme != "" {
		c.UI.Theme = theme
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# talkrun configuration file")
	fmt.Fprintln(&buf, "# Generated by talkrun - edit with care")
	fmt.Fprintln(&buf, "")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Gateway.BaseURL != "" {
		u, err := url.Parse(c.Gateway.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "gateway.base_url",
				Message: fmt.Sprintf("must be an http(s) URL, got '%s'", c.Gateway.BaseURL),
			})
		}
	}
	if c.Gateway.TimeoutSecs < 1 || c.Gateway.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "gateway.timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Gateway.TimeoutSecs),
		})
	}
	if c.Gateway.PollIntervalSecs < 1 || c.Gateway.PollIntervalSecs > 300 {
		errs = append(errs, ValidationError{
			Field:   "gateway.poll_interval_secs",
			Message: fmt.Sprintf("must be 1-300, got %d", c.Gateway.PollIntervalSecs),
		})
	}

	// PCM16 capture rates the voice endpoint accepts.
	validRates := map[int]bool{8000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[c.Voice.SampleRateHz] {
		errs = append(errs, ValidationError{
			Field:   "voice.sample_rate_hz",
			Message: fmt.Sprintf("must be one of: 8000, 16000, 24000, 48000, got %d", c.Voice.SampleRateHz),
		})
	}

	if c.Storage.MaxTalks < 1 || c.Storage.MaxTalks > 100000 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_talks",
			Message: fmt.Sprintf("must be 1-100000, got %d", c.Storage.MaxTalks),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED PATHS
// =============================================================================

// TalksDir resolves the talks directory, honoring the configured override.
func (c *Config) TalksDir() (string, error) {
	if c.Storage.TalksDir != "" {
		return c.Storage.TalksDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "talks"), nil
}

// LedgerPath resolves the usage ledger path, honoring the configured override.
func (c *Config) LedgerPath() (string, error) {
	if c.Storage.LedgerPath != "" {
		return c.Storage.LedgerPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "usage.db"), nil
}
