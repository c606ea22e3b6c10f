// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/talkrun-tui/internal/model"
	"github.com/jeranaias/talkrun-tui/internal/util"
)

// ErrNotFound is returned when a talk does not exist in the store.
var ErrNotFound = errors.New("talk not found")

// =============================================================================
// TALK METADATA (LIST VIEW)
// =============================================================================

// TalkMeta contains the metadata needed to list talks without loading full
// transcripts into memory all at once.
type TalkMeta struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Model         string    `json:"model"`
	GatewayTalkID string    `json:"gateway_talk_id,omitempty"`
	IsSaved       bool      `json:"is_saved"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	MessageCount  int       `json:"message_count"`
	Preview       string    `json:"preview"`
}

// =============================================================================
// TALK STORE
// =============================================================================

// TalkStore handles talk persistence, one JSON file per talk.
type TalkStore struct {
	// BaseDir is the directory for storing talks.
	// Default: ~/.talkrun/talks/
	BaseDir string

	// MaxTalks limits stored unsaved talks (0 = unlimited). Talks marked
	// IsSaved are never evicted.
	MaxTalks int

	// locks serializes writes per talk ID.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTalkStore creates a talk store rooted in the user's home directory.
func NewTalkStore() (*TalkStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewTalkStoreWithDir(filepath.Join(homeDir, ".talkrun", "talks"))
}

// NewTalkStoreWithDir creates a store with a custom directory.
func NewTalkStoreWithDir(baseDir string) (*TalkStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &TalkStore{
		BaseDir:  baseDir,
		MaxTalks: 100,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// talkLock returns the write lock for a talk ID, creating it on first use.
func (s *TalkStore) talkLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a talk and returns its ID. Writes to the same talk are
// serialized; the file on disk is always a complete record.
func (s *TalkStore) Save(talk *Talk) (string, error) {
	if talk.ID == "" {
		talk.ID = model.NewID("talk")
	}
	if talk.CreatedAt.IsZero() {
		talk.CreatedAt = time.Now()
	}
	if talk.UpdatedAt.IsZero() {
		talk.UpdatedAt = talk.CreatedAt
	}

	data, err := json.MarshalIndent(talk, "", "  ")
	if err != nil {
		return "", err
	}

	lock := s.talkLock(talk.ID)
	lock.Lock()
	defer lock.Unlock()

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(talk.ID), data, 0644); err != nil {
		return "", err
	}

	if s.MaxTalks > 0 {
		s.enforceLimit()
	}
	return talk.ID, nil
}

// enforceLimit evicts the oldest unsaved talks when over the limit.
func (s *TalkStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxTalks {
		return
	}

	var unsaved []TalkMeta
	for _, m := range metas {
		if !m.IsSaved {
			unsaved = append(unsaved, m)
		}
	}
	sort.Slice(unsaved, func(i, j int) bool {
		return unsaved[i].UpdatedAt.Before(unsaved[j].UpdatedAt)
	})

	excess := len(metas) - s.MaxTalks
	for i := 0; i < excess && i < len(unsaved); i++ {
		s.Delete(unsaved[i].ID)
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a talk by ID.
func (s *TalkStore) Load(id string) (*Talk, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var talk Talk
	if err := json.Unmarshal(data, &talk); err != nil {
		return nil, err
	}
	return &talk, nil
}

// =============================================================================
// LIST / SEARCH OPERATIONS
// =============================================================================

// List returns metadata for all stored talks, most recently updated first.
// Corrupted files are skipped rather than failing the whole listing.
func (s *TalkStore) List() ([]TalkMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TalkMeta{}, nil
		}
		return nil, err
	}

	var metas []TalkMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		talk, err := s.Load(id)
		if err != nil {
			continue
		}
		metas = append(metas, TalkMeta{
			ID:            talk.ID,
			Title:         talk.Title(),
			Model:         talk.Model,
			GatewayTalkID: talk.GatewayTalkID,
			IsSaved:       talk.IsSaved,
			CreatedAt:     talk.CreatedAt,
			UpdatedAt:     talk.UpdatedAt,
			MessageCount:  talk.MessageCount(),
			Preview:       talk.Preview(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search finds talks whose title, preview, or message content matches the
// query (case-insensitive). An empty query returns everything.
func (s *TalkStore) Search(query string) ([]TalkMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}

	query = strings.ToLower(query)
	var results []TalkMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
			continue
		}
		talk, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range talk.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// FindByGatewayID returns the local talk linked to a gateway talk ID.
func (s *TalkStore) FindByGatewayID(gatewayID string) (*Talk, error) {
	if gatewayID == "" {
		return nil, ErrNotFound
	}
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if meta.GatewayTalkID == gatewayID {
			return s.Load(meta.ID)
		}
	}
	return nil, ErrNotFound
}

// =============================================================================
// GATEWAY IMPORT / MERGE
// =============================================================================

// MergeGatewaySnapshot merges a gateway snapshot into the local talk linked
// to it, creating the local record on first sight. The updated talk is
// persisted only when the merge changed something, so re-applying the same
// snapshot is a no-op on disk.
func (s *TalkStore) MergeGatewaySnapshot(snap *model.TalkSnapshot) (*Talk, error) {
	if snap == nil || snap.ID == "" {
		return nil, ErrNotFound
	}

	talk, err := s.FindByGatewayID(snap.ID)
	if errors.Is(err, ErrNotFound) {
		// First import: the gateway record is the talk's origin.
		talk = NewTalk(snap.ID, snap.Model)
		talk.GatewayTalkID = snap.ID
		talk.IsSaved = true
		if !snap.CreatedAt.IsZero() {
			talk.CreatedAt = snap.CreatedAt
		}
		talk.MergeSnapshot(snap)
		if _, err := s.Save(talk); err != nil {
			return nil, err
		}
		return talk, nil
	}
	if err != nil {
		return nil, err
	}

	if talk.MergeSnapshot(snap) {
		if _, err := s.Save(talk); err != nil {
			return nil, err
		}
	}
	return talk, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a talk by ID.
func (s *TalkStore) Delete(id string) error {
	lock := s.talkLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a talk ID.
func (s *TalkStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
