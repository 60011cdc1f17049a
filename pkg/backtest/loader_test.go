package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, dir, symbol, content string) {
	t.Helper()
	path := filepath.Join(dir, symbol+".csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture CSV: %v", err)
	}
}

func TestCSVDataProviderLoadsEpochTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "T", "timestamp,open,high,low,close,volume\n1704067200,100,105,95,102,1000\n1704153600,102,108,100,106,1200\n")

	p := NewCSVDataProvider(dir)
	bars, err := p.Load(context.Background(), "T", 0, 2000000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Close != 102 {
		t.Errorf("got close=%v, want 102", bars[0].Close)
	}
}

func TestCSVDataProviderFiltersByRange(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "T", "timestamp,open,high,low,close,volume\n1704067200,100,105,95,102,1000\n1704153600,102,108,100,106,1200\n")

	p := NewCSVDataProvider(dir)
	bars, err := p.Load(context.Background(), "T", 1704067200, 1704067200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1 (filtered)", len(bars))
	}
}

func TestCSVDataProviderSkipsUnparsableRecords(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "T", "timestamp,open,high,low,close,volume\nnot-a-time,100,105,95,102,1000\n1704067200,100,105,95,102,1000\n")

	p := NewCSVDataProvider(dir)
	bars, err := p.Load(context.Background(), "T", 0, 2000000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1 (bad row skipped)", len(bars))
	}
}

func TestCSVDataProviderHasData(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "T", "timestamp,open,high,low,close,volume\n1704067200,100,105,95,102,1000\n")

	p := NewCSVDataProvider(dir)
	has, err := p.HasData(context.Background(), "T", 0, 2000000000)
	if err != nil || !has {
		t.Errorf("expected HasData true, got has=%v err=%v", has, err)
	}
	has, err = p.HasData(context.Background(), "MISSING", 0, 2000000000)
	if err != nil || has {
		t.Errorf("expected HasData false for missing file, got has=%v err=%v", has, err)
	}
}

func TestCSVDataProviderMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	p := NewCSVDataProvider(dir)
	_, err := p.Load(context.Background(), "NOPE", 0, 1)
	if err == nil {
		t.Errorf("expected an error loading a missing symbol file")
	}
}
