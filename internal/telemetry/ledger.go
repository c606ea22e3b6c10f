// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// TURN RECORD
// =============================================================================

// TurnRecord is one completed turn's usage accounting.
type TurnRecord struct {
	TalkID           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Retried is true when the turn needed the one-shot recovery retry;
	// the token counts above then cover both attempts.
	Retried bool

	// Resumed is true when the retry continued from partial content
	// rather than regenerating from scratch.
	Resumed bool

	DurationMs int64
	TTFTMs     int64
	CreatedAt  time.Time
}

// TalkTotals aggregates usage for one talk (or all talks).
type TalkTotals struct {
	Turns            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	RetriedTurns     int
}

// =============================================================================
// USAGE LEDGER
// =============================================================================

// UsageLedger is a SQLite-backed ledger of turn usage.
type UsageLedger struct {
	db *sql.DB
}

// NewUsageLedger opens (or creates) the ledger database at dbPath.
func NewUsageLedger(dbPath string) (*UsageLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	// WAL mode for concurrent reads while the orchestrator writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	ledger := &UsageLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize ledger schema: %w", err)
	}
	return ledger, nil
}

func (l *UsageLedger) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		talk_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		retried INTEGER NOT NULL DEFAULT 0,
		resumed INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		ttft_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_talk ON turns(talk_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (l *UsageLedger) Close() error {
	return l.db.Close()
}

// =============================================================================
// WRITE PATH
// =============================================================================

// RecordTurn appends one turn's usage to the ledger.
func (l *UsageLedger) RecordTurn(ctx context.Context, rec TurnRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO turns (talk_id, model, prompt_tokens, completion_tokens,
			total_tokens, retried, resumed, duration_ms, ttft_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		rec.TalkID, rec.Model, rec.PromptTokens, rec.CompletionTokens,
		rec.TotalTokens, boolToInt(rec.Retried), boolToInt(rec.Resumed),
		rec.DurationMs, rec.TTFTMs, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// =============================================================================
// READ PATH
// =============================================================================

// Totals returns aggregate usage for one talk, or for every talk when
// talkID is empty.
func (l *UsageLedger) Totals(ctx context.Context, talkID string) (TalkTotals, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(retried), 0)
		FROM turns`
	args := []any{}
	if talkID != "" {
		query += ` WHERE talk_id = ?`
		args = append(args, talkID)
	}

	var totals TalkTotals
	row := l.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&totals.Turns, &totals.PromptTokens,
		&totals.CompletionTokens, &totals.TotalTokens, &totals.RetriedTurns); err != nil {
		return TalkTotals{}, fmt.Errorf("scan totals: %w", err)
	}
	return totals, nil
}

// RecentTurns returns the most recent turn records, newest first.
func (l *UsageLedger) RecentTurns(ctx context.Context, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT talk_id, model, prompt_tokens, completion_tokens, total_tokens,
		       retried, resumed, duration_ms, ttft_ms, created_at
		FROM turns ORDER BY id DESC LIMIT ?`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var retried, resumed int
		var createdAt int64
		if err := rows.Scan(&rec.TalkID, &rec.Model, &rec.PromptTokens,
			&rec.CompletionTokens, &rec.TotalTokens, &retried, &resumed,
			&rec.DurationMs, &rec.TTFTMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		rec.Retried = retried != 0
		rec.Resumed = resumed != 0
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
