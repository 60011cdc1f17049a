// Backtest Runner CLI
// Runs a strategy against historical bars loaded from CSV and prints a
// plain-text performance report, with optional JSON/CSV result export.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantlab/backtester/internal/config"
	"github.com/quantlab/backtester/pkg/backtest"
)

var (
	strategyName = flag.String("strategy", "sma-crossover", "Strategy name (sma-crossover)")
	fastPeriod   = flag.Int("fast-period", 10, "Fast SMA period (sma-crossover only)")
	slowPeriod   = flag.Int("slow-period", 30, "Slow SMA period (sma-crossover only)")

	symbols  = flag.String("symbols", "", "Comma-separated list of symbols to trade (required)")
	dataDir  = flag.String("data-dir", "data", "Directory containing one <symbol>.csv file per symbol")
	startStr = flag.String("start", "", "Start date (YYYY-MM-DD, required)")
	endStr   = flag.String("end", "", "End date (YYYY-MM-DD, required)")

	configPath = flag.String("config", "", "Path to YAML config file (optional, falls back to defaults)")

	initialCapital  = flag.Float64("capital", 0, "Initial capital (overrides config default when > 0)")
	commissionModel = flag.String("commission-model", "", "fixed, per_share, percentage, or tiered (overrides config default)")
	commissionValue = flag.Float64("commission-value", 0, "Commission model parameter (overrides config default when > 0)")
	slippageModel   = flag.String("slippage-model", "", "fixed_dollar, fixed_bps, percentage, or volume (overrides config default)")
	slippageValue   = flag.Float64("slippage-value", 0, "Slippage model parameter (overrides config default when > 0)")
	maxPositions    = flag.Int("max-positions", 0, "Maximum concurrent positions (overrides config default when > 0)")

	jsonOut   = flag.String("json-out", "", "Write full result as JSON to this path (optional)")
	tradesOut = flag.String("trades-csv", "", "Write closed trades as CSV to this path (optional)")
	equityOut = flag.String("equity-csv", "", "Write the equity curve as CSV to this path (optional)")
	verbose   = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logFormat := cfg.App.LogFormat
	if *verbose {
		cfg.App.LogLevel = "debug"
	}
	config.InitLogger(cfg.App.LogLevel, logFormat)
	logger := config.NewLogger("cmd.backtest")

	if cfg.Monitoring.EnableMetrics {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info().Str("addr", addr).Msg("serving Prometheus metrics")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	if *symbols == "" || *startStr == "" || *endStr == "" {
		fmt.Fprintln(os.Stderr, "Error: -symbols, -start and -end are required")
		flag.Usage()
		os.Exit(1)
	}

	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid -start date, expected YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", *endStr)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid -end date, expected YYYY-MM-DD")
	}

	btCfg := buildBacktestConfig(cfg, start, end)
	strategy, err := createStrategy(*strategyName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create strategy")
	}

	provider := backtest.NewCSVDataProvider(*dataDir)
	engine := backtest.NewEngine(btCfg)

	logger.Info().
		Str("strategy", *strategyName).
		Strs("symbols", btCfg.Symbols).
		Float64("capital", btCfg.InitialCapital).
		Msg("starting backtest")

	ctx := context.Background()
	result, err := engine.Run(ctx, provider, strategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("backtest run failed")
	}

	fmt.Println(backtest.GenerateReport(result.Metrics))

	if *jsonOut != "" {
		if err := backtest.ExportJSON(result, *jsonOut); err != nil {
			logger.Error().Err(err).Str("path", *jsonOut).Msg("failed to write JSON result")
		} else {
			logger.Info().Str("path", *jsonOut).Msg("wrote JSON result")
		}
	}
	if *tradesOut != "" {
		if err := backtest.ExportTradesCSV(result, *tradesOut); err != nil {
			logger.Error().Err(err).Str("path", *tradesOut).Msg("failed to write trades CSV")
		} else {
			logger.Info().Str("path", *tradesOut).Msg("wrote trades CSV")
		}
	}
	if *equityOut != "" {
		if err := backtest.ExportEquityCurveCSV(result, *equityOut); err != nil {
			logger.Error().Err(err).Str("path", *equityOut).Msg("failed to write equity curve CSV")
		} else {
			logger.Info().Str("path", *equityOut).Msg("wrote equity curve CSV")
		}
	}

	logger.Info().Float64("final_equity", result.FinalEquity).Msg("backtest complete")
}

func buildBacktestConfig(cfg *config.Config, start, end time.Time) backtest.BacktestConfig {
	capital := cfg.Backtest.InitialCapital
	if *initialCapital > 0 {
		capital = *initialCapital
	}

	maxPos := cfg.Backtest.MaxPositions
	if *maxPositions > 0 {
		maxPos = *maxPositions
	}

	return backtest.BacktestConfig{
		ID:              uuid.NewString(),
		Symbols:         parseSymbols(*symbols),
		StartDate:       start,
		EndDate:         end,
		InitialCapital:  capital,
		CommissionModel: buildCommissionModel(cfg),
		SlippageModel:   buildSlippageModel(cfg),
		SizingMethod:    sizingMethod(cfg.Backtest.SizingMethod),
		SizingParam:     cfg.Backtest.SizingParam,
		MaxPositions:    maxPos,
		StrategyName:    *strategyName,
		RiskFreeRate:    cfg.Backtest.RiskFreeRate,
	}
}

func sizingMethod(name string) backtest.SizingMethod {
	switch name {
	case "percent_equity", "kelly":
		return backtest.SizingPercent
	default:
		return backtest.SizingFixedDollar
	}
}

func buildCommissionModel(cfg *config.Config) backtest.CommissionModel {
	model := cfg.Backtest.CommissionModel
	if *commissionModel != "" {
		model = *commissionModel
	}
	value := cfg.Backtest.CommissionValue
	if *commissionValue > 0 {
		value = *commissionValue
	}

	switch model {
	case "fixed":
		return backtest.FixedCommission{Amount: value}
	case "per_share":
		return backtest.PerShareCommission{AmountPerShare: value}
	case "tiered":
		return backtest.TieredCommission{Tiers: []backtest.CommissionTier{
			{Threshold: 0, Rate: value * 2},
			{Threshold: 10_000, Rate: value},
			{Threshold: 100_000, Rate: value / 2},
		}}
	default:
		return backtest.PercentageCommission{Rate: value}
	}
}

func buildSlippageModel(cfg *config.Config) backtest.SlippageModel {
	model := cfg.Backtest.SlippageModel
	if *slippageModel != "" {
		model = *slippageModel
	}
	value := cfg.Backtest.SlippageValue
	if *slippageValue > 0 {
		value = *slippageValue
	}

	switch model {
	case "fixed_dollar":
		return backtest.FixedDollarSlippage{AmountPerShare: value}
	case "percentage":
		return backtest.PercentageSlippage{Percent: value}
	case "volume":
		return backtest.VolumeBasedSlippage{BaseBPS: value}
	default:
		return backtest.FixedBPSSlippage{BPS: value}
	}
}

func createStrategy(name string) (backtest.Strategy, error) {
	switch strings.ToLower(name) {
	case "sma-crossover", "sma_crossover", "":
		return backtest.NewSMACrossoverStrategy(*fastPeriod, *slowPeriod), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s (available: sma-crossover)", name)
	}
}

func parseSymbols(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
