// talkrun TUI - A terminal client for the Morgan Forge LLM gateway.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/talkrun-tui/internal/config"
	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/telemetry"
	"github.com/jeranaias/talkrun-tui/internal/turn"
	"github.com/jeranaias/talkrun-tui/internal/ui/chat"
	"github.com/jeranaias/talkrun-tui/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Global program reference for async event delivery. Turn and voice
// goroutines outlive single Update calls, so they post through p.Send.
var (
	programRef *tea.Program
	programMu  sync.Mutex
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	modelFlag := flag.String("model", "", "override the configured model")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("talkrun %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *modelFlag != "" {
		cfg.Gateway.Model = *modelFlag
	}

	setupLogging()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error running talkrun: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// setupLogging routes the stdlib logger to a file under the config dir.
// Writing log lines into the alternate screen would corrupt the TUI.
func setupLogging() {
	dir, err := config.ConfigDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "talkrun.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		log.SetOutput(os.Stderr)
		return
	}
	log.SetOutput(f)
}

func run(cfg *config.Config) error {
	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey).
		WithModel(cfg.Gateway.Model).
		WithTimeout(cfg.Gateway.Timeout()).
		WithSentinels(cfg.Gateway.ExtraSentinels).
		WithPollInterval(cfg.Gateway.PollInterval())

	talksDir, err := cfg.TalksDir()
	if err != nil {
		return fmt.Errorf("resolve talks dir: %w", err)
	}
	talks, err := store.NewTalkStoreWithDir(talksDir)
	if err != nil {
		return fmt.Errorf("open talk store: %w", err)
	}
	talks.MaxTalks = cfg.Storage.MaxTalks

	// The ledger is best-effort: without it the app runs, /usage does not.
	var ledger *telemetry.UsageLedger
	if ledgerPath, lerr := cfg.LedgerPath(); lerr != nil {
		log.Printf("usage ledger unavailable: %v", lerr)
	} else if ledger, lerr = telemetry.NewUsageLedger(ledgerPath); lerr != nil {
		log.Printf("usage ledger unavailable: %v", lerr)
		ledger = nil
	} else {
		defer ledger.Close()
	}

	// Orchestrator events reach the UI through p.Send; the program does not
	// exist yet, so the send function resolves the reference at call time.
	orch := turn.NewOrchestrator(turn.NewController(client), talks, ledger, sendToProgram).
		WithDefaultModel(cfg.Gateway.Model)

	talk := store.NewTalk("", client.Model())
	theme := styles.NewTheme()
	m := chat.New(cfg, theme, client, talks, ledger, orch, talk)

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	programMu.Lock()
	programRef = p
	programMu.Unlock()

	// Surface external edits to talk files (another talkrun instance, manual
	// edits) as UI messages.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if changes, err := talks.Watch(watchCtx); err != nil {
		log.Printf("store watcher unavailable: %v", err)
	} else {
		go func() {
			for change := range changes {
				sendToProgram(chat.TalkFileChangedMsg{
					TalkID:  change.TalkID,
					Removed: change.Op == store.TalkRemoved,
				})
			}
		}()
	}

	_, err = p.Run()
	return err
}

// sendToProgram delivers a message to the running program, dropping it when
// the program has not started or already quit.
func sendToProgram(msg any) {
	programMu.Lock()
	p := programRef
	programMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}
