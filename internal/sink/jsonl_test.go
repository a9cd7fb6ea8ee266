package sink

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan output: %v", err)
	}
	return lines
}

func TestJsonlSinkDuplicateSuppression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	s := NewJsonlSink(path)

	trade := model.Trade{
		ID:          "0xabc:1",
		UserAddress: "0xaaaa",
		MarketID:    "42",
		Side:        model.SideBuy,
		TokenAmount: decimal.NewFromInt(50),
		TxHash:      "0xabc",
	}

	if err := s.UpsertTrades(context.Background(), []model.Trade{trade}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Reprocessing the same block must not duplicate the record.
	if err := s.UpsertTrades(context.Background(), []model.Trade{trade}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if got := countLines(t, path); got != 1 {
		t.Fatalf("expected one line, got %d", got)
	}

	other := trade
	other.ID = "0xabc:2"
	if err := s.UpsertTrades(context.Background(), []model.Trade{other}); err != nil {
		t.Fatalf("third write: %v", err)
	}
	if got := countLines(t, path); got != 2 {
		t.Fatalf("expected two lines, got %d", got)
	}
}

func TestJsonlSinkSuppressionSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")

	trade := model.Trade{
		ID:          "0xabc:1",
		UserAddress: "0xaaaa",
		MarketID:    "42",
		Side:        model.SideBuy,
		TokenAmount: decimal.NewFromInt(50),
		TxHash:      "0xabc",
	}
	if err := NewJsonlSink(path).UpsertTrades(context.Background(), []model.Trade{trade}); err != nil {
		t.Fatalf("first process write: %v", err)
	}

	// A fresh sink over the same file, as after a restart overlapping a
	// backfill, must pick up the ids already on disk.
	restarted := NewJsonlSink(path)
	other := trade
	other.ID = "0xabc:2"
	if err := restarted.UpsertTrades(context.Background(), []model.Trade{trade, other}); err != nil {
		t.Fatalf("second process write: %v", err)
	}

	if got := countLines(t, path); got != 2 {
		t.Fatalf("expected two lines, got %d", got)
	}
}
