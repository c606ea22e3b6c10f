// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Gateway.BaseURL = "https://gw.example.com"
	cfg.Gateway.APIKey = "sk-test"
	cfg.Gateway.Model = "forge-pro"
	cfg.Gateway.ExtraSentinels = []string{"[ack]"}
	cfg.Voice.Voice = "echo"
	cfg.UI.CompactMode = true

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Gateway.BaseURL != "https://gw.example.com" {
		t.Errorf("base_url = %q", loaded.Gateway.BaseURL)
	}
	if loaded.Gateway.APIKey != "sk-test" {
		t.Errorf("api_key = %q", loaded.Gateway.APIKey)
	}
	if loaded.Gateway.Model != "forge-pro" {
		t.Errorf("model = %q", loaded.Gateway.Model)
	}
	if len(loaded.Gateway.ExtraSentinels) != 1 || loaded.Gateway.ExtraSentinels[0] != "[ack]" {
		t.Errorf("extra_sentinels = %v", loaded.Gateway.ExtraSentinels)
	}
	if !loaded.UI.CompactMode {
		t.Error("compact_mode lost in round trip")
	}
}

func TestSaveSetsSecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveTOML(Default(), path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

func TestLoadFillsMissingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := `
[gateway]
api_key = "sk-partial"
`
	if err := os.WriteFile(path, []byte(partial), 0600); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Gateway.APIKey != "sk-partial" {
		t.Errorf("api_key = %q", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.TimeoutSecs != 60 {
		t.Errorf("timeout_secs = %d, want default 60", cfg.Gateway.TimeoutSecs)
	}
	if cfg.Voice.SampleRateHz != 16000 {
		t.Errorf("sample_rate_hz = %d, want default 16000", cfg.Voice.SampleRateHz)
	}
	if cfg.UI.Theme != "dark" {
		t.Errorf("theme = %q, want default dark", cfg.UI.Theme)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TALKRUN_GATEWAY_URL", "https://env.example.com")
	t.Setenv("TALKRUN_API_KEY", "sk-env")
	t.Setenv("TALKRUN_MODEL", "forge-env")
	t.Setenv("TALKRUN_THEME", "light")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Gateway.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.APIKey != "sk-env" {
		t.Errorf("api_key = %q", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.Model != "forge-env" {
		t.Errorf("model = %q", cfg.Gateway.Model)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("theme = %q", cfg.UI.Theme)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad gateway url", func(c *Config) { c.Gateway.BaseURL = "not a url" }, "gateway.base_url"},
		{"ftp gateway url", func(c *Config) { c.Gateway.BaseURL = "ftp://example.com" }, "gateway.base_url"},
		{"zero timeout", func(c *Config) { c.Gateway.TimeoutSecs = 0 }, "gateway.timeout_secs"},
		{"huge poll interval", func(c *Config) { c.Gateway.PollIntervalSecs = 9999 }, "gateway.poll_interval_secs"},
		{"odd sample rate", func(c *Config) { c.Voice.SampleRateHz = 44100 }, "voice.sample_rate_hz"},
		{"negative max talks", func(c *Config) { c.Storage.MaxTalks = -1 }, "storage.max_talks"},
		{"unknown theme", func(c *Config) { c.UI.Theme = "solarized" }, "ui.theme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted bad config")
			}
			var errs ValidateErrors
			if !errors.As(err, &errs) {
				t.Fatalf("error type = %T", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention field %s", err, tt.field)
			}
		})
	}
}

func TestLoadFixesInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600 after load", perm)
	}
}

func TestDerivedPathsHonorOverrides(t *testing.T) {
	cfg := Default()
	cfg.Storage.TalksDir = "/tmp/talks-override"
	cfg.Storage.LedgerPath = "/tmp/usage-override.db"

	dir, err := cfg.TalksDir()
	if err != nil || dir != "/tmp/talks-override" {
		t.Errorf("TalksDir = %q, %v", dir, err)
	}
	ledger, err := cfg.LedgerPath()
	if err != nil || ledger != "/tmp/usage-override.db" {
		t.Errorf("LedgerPath = %q, %v", ledger, err)
	}
}
