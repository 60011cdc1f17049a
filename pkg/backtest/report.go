package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// resultExport is the JSON-serializable shape of a BacktestResult. The
// Metrics block has already been through PerformanceMetrics' finiteify(), so
// none of its values is NaN/Inf; trades, the equity curve and FinalEquity
// are exported as recorded, without that pass.
type resultExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Config      BacktestConfig     `json:"-"` // CommissionModel/SlippageModel are interfaces and not meaningfully serializable
	ConfigID    string             `json:"config_id"`
	Symbols     []string           `json:"symbols"`
	FinalEquity float64            `json:"final_equity"`
	Metrics     *PerformanceMetrics `json:"metrics"`
	Trades      []*Trade           `json:"trades"`
	EquityCurve []EquityCurvePoint `json:"equity_curve"`
	Events      []BacktestEvent    `json:"events"`
}

// ExportJSON writes result to path as indented JSON.
func ExportJSON(result *BacktestResult, path string) error {
	export := resultExport{
		ExportedAt:  time.Now().UTC(),
		ConfigID:    result.Config.ID,
		Symbols:     result.Config.Symbols,
		FinalEquity: result.FinalEquity,
		Metrics:     result.Metrics,
		Trades:      result.Trades,
		EquityCurve: result.EquityCurve,
		Events:      result.Events,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ExportTradesCSV writes result.Trades to path as a CSV, one row per closed
// trade, with a header row naming every column.
func ExportTradesCSV(result *BacktestResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{
		"id", "symbol", "side", "entry_time", "entry_price", "exit_time", "exit_price",
		"quantity", "exit_reason", "gross_pnl", "commission", "slippage", "net_pnl",
		"return_pct", "mae", "mfe", "r_value", "hold_duration_seconds", "strategy_name",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	for _, t := range result.Trades {
		row := []string{
			t.ID,
			t.Symbol,
			string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			t.ExitTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			string(t.ExitReason),
			strconv.FormatFloat(t.GrossPnL, 'f', -1, 64),
			strconv.FormatFloat(t.Commission, 'f', -1, 64),
			strconv.FormatFloat(t.Slippage, 'f', -1, 64),
			strconv.FormatFloat(t.NetPnL, 'f', -1, 64),
			strconv.FormatFloat(t.ReturnPct, 'f', -1, 64),
			strconv.FormatFloat(t.MAE, 'f', -1, 64),
			strconv.FormatFloat(t.MFE, 'f', -1, 64),
			strconv.FormatFloat(t.RValue, 'f', -1, 64),
			strconv.FormatFloat(t.HoldDuration.Seconds(), 'f', -1, 64),
			t.StrategyName,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write CSV row for trade %s: %w", t.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}
	return nil
}

// ExportEquityCurveCSV writes result.EquityCurve to path as a CSV.
func ExportEquityCurveCSV(result *BacktestResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{"timestamp", "cash", "positions_value", "equity", "cumulative_return", "daily_return", "drawdown"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	for _, p := range result.EquityCurve {
		row := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Cash, 'f', -1, 64),
			strconv.FormatFloat(p.PositionsValue, 'f', -1, 64),
			strconv.FormatFloat(p.Equity, 'f', -1, 64),
			strconv.FormatFloat(p.CumulativeReturn, 'f', -1, 64),
			strconv.FormatFloat(p.DailyReturn, 'f', -1, 64),
			strconv.FormatFloat(p.Drawdown, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}
	return nil
}
