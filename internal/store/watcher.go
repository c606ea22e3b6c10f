// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// STORE WATCHER
// =============================================================================

// ChangeOp describes what happened to a talk file on disk.
type ChangeOp int

const (
	TalkWritten ChangeOp = iota
	TalkRemoved
)

// Change is emitted when a talk file changes outside this process, for
// example when another talkrun instance saves the same talk directory.
type Change struct {
	TalkID string
	Op     ChangeOp
}

// Watch reports external modifications to the store's directory until ctx is
// canceled. Events for the store's own temp files are filtered out.
func (s *TalkStore) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.BaseDir); err != nil {
		watcher.Close()
		return nil, err
	}

	changes := make(chan Change, 16)

	go func() {
		defer close(changes)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, ".json") {
					continue
				}
				id := strings.TrimSuffix(name, ".json")

				var change Change
				switch {
				case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
					change = Change{TalkID: id, Op: TalkWritten}
				case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					change = Change{TalkID: id, Op: TalkRemoved}
				default:
					continue
				}

				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("store watcher: %v", err)
			}
		}
	}()

	return changes, nil
}
