package backtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleResult() *BacktestResult {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []*Trade{
		{ID: "t1", Symbol: "T", Side: PositionLong, EntryTime: t0, EntryPrice: 100, ExitTime: t0.AddDate(0, 0, 1), ExitPrice: 110, Quantity: 10, ExitReason: ExitSignal, NetPnL: 100},
	}
	curve := []EquityCurvePoint{
		{Timestamp: t0, Equity: 10_000},
		{Timestamp: t0.AddDate(0, 0, 1), Equity: 10_100},
	}
	return &BacktestResult{
		Config:      BacktestConfig{ID: "cfg1", Symbols: []string{"T"}},
		Trades:      trades,
		EquityCurve: curve,
		Metrics:     CalculateMetrics(MetricsInput{EquityCurve: curve, ClosedTrades: trades, InitialCapital: 10_000, Start: t0, End: t0.AddDate(0, 0, 1)}),
		FinalEquity: 10_100,
	}
}

func TestExportJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	result := sampleResult()

	if err := ExportJSON(result, path); err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported file: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("exported JSON is not valid: %v", err)
	}
	if decoded["final_equity"].(float64) != 10_100 {
		t.Errorf("got final_equity=%v, want 10100", decoded["final_equity"])
	}
}

func TestExportTradesCSVWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv")
	result := sampleResult()

	if err := ExportTradesCSV(result, path); err != nil {
		t.Fatalf("ExportTradesCSV failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported CSV: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty CSV output")
	}
}

func TestExportEquityCurveCSVWritesRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "equity.csv")
	result := sampleResult()

	if err := ExportEquityCurveCSV(result, path); err != nil {
		t.Fatalf("ExportEquityCurveCSV failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported CSV: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty CSV output")
	}
}
