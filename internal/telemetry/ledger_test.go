// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"path/filepath"
	"testing"
)

func testLedger(t *testing.T) *UsageLedger {
	t.Helper()
	ledger, err := NewUsageLedger(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewUsageLedger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestRecordAndTotals(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	recs := []TurnRecord{
		{TalkID: "talk_a", Model: "m", PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		{TalkID: "talk_a", Model: "m", PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10, Retried: true, Resumed: true},
		{TalkID: "talk_b", Model: "m", PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
	for _, rec := range recs {
		if err := ledger.RecordTurn(ctx, rec); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	totals, err := ledger.Totals(ctx, "talk_a")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Turns != 2 {
		t.Errorf("Turns = %d, want 2", totals.Turns)
	}
	if totals.TotalTokens != 40 {
		t.Errorf("TotalTokens = %d, want 40", totals.TotalTokens)
	}
	if totals.RetriedTurns != 1 {
		t.Errorf("RetriedTurns = %d, want 1", totals.RetriedTurns)
	}

	all, err := ledger.Totals(ctx, "")
	if err != nil {
		t.Fatalf("Totals(all): %v", err)
	}
	if all.Turns != 3 || all.TotalTokens != 42 {
		t.Errorf("all totals = %+v", all)
	}
}

func TestRecentTurns(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := ledger.RecordTurn(ctx, TurnRecord{TalkID: "talk_a", Model: "m", TotalTokens: i}); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	records, err := ledger.RecentTurns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("record count = %d, want 3", len(records))
	}
	if records[0].TotalTokens != 4 {
		t.Errorf("newest record TotalTokens = %d, want 4", records[0].TotalTokens)
	}
}

func TestEmptyLedgerTotals(t *testing.T) {
	ledger := testLedger(t)

	totals, err := ledger.Totals(context.Background(), "talk_none")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Turns != 0 || totals.TotalTokens != 0 {
		t.Errorf("empty totals = %+v", totals)
	}
}
