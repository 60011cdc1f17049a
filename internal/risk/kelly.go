package risk

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/backtester/internal/metrics"
	"github.com/quantlab/backtester/pkg/backtest"
)

// KellyVariant selects how much of the full Kelly fraction to actually risk.
// Full Kelly maximizes long-run geometric growth but tolerates large
// drawdowns; Half and Quarter trade growth for smoother equity curves.
type KellyVariant string

const (
	KellyFull    KellyVariant = "FULL"
	KellyHalf    KellyVariant = "HALF"
	KellyQuarter KellyVariant = "QUARTER"
)

// Fraction returns the multiplier applied to the raw Kelly percentage.
func (v KellyVariant) Fraction() float64 {
	switch v {
	case KellyHalf:
		return 0.5
	case KellyQuarter:
		return 0.25
	default:
		return 1.0
	}
}

// TradingStats holds the win/loss statistics the Kelly formula is computed
// from.
type TradingStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"` // positive value
	WinRate       float64 `json:"win_rate"` // 0..1
	TotalProfit   float64 `json:"total_profit"`
	TotalLoss     float64 `json:"total_loss"` // positive value
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"` // positive value
	WinLossRatio  float64 `json:"win_loss_ratio"`
}

// CalculateStatsFromTrades computes TradingStats from a closed-trade list, as
// produced by backtest.PortfolioTracker. A database-backed variant lives in
// HistoricalLoader.LoadWinRateStats; this in-memory path is what a live
// optimization run uses, since the kernel never touches a database mid-run.
func CalculateStatsFromTrades(trades []*backtest.Trade) *TradingStats {
	stats := &TradingStats{}
	if len(trades) == 0 {
		return stats
	}

	stats.TotalTrades = len(trades)
	for _, t := range trades {
		pl := t.NetPnL
		if pl > 0 {
			stats.WinningTrades++
			stats.TotalProfit += pl
			if pl > stats.LargestWin {
				stats.LargestWin = pl
			}
		} else {
			stats.LosingTrades++
			absLoss := -pl
			stats.TotalLoss += absLoss
			if absLoss > stats.LargestLoss {
				stats.LargestLoss = absLoss
			}
		}
	}

	if stats.WinningTrades > 0 {
		stats.AvgWin = stats.TotalProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = stats.TotalLoss / float64(stats.LosingTrades)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if stats.AvgLoss > 0 {
		stats.WinLossRatio = stats.AvgWin / stats.AvgLoss
	}
	return stats
}

// KellyResult reports the sizing decision and the reasoning behind it.
type KellyResult struct {
	Variant         KellyVariant `json:"variant"`
	RawKellyPercent float64      `json:"raw_kelly_percent"` // unconstrained f*, may be negative
	AdjustedPercent float64      `json:"adjusted_percent"`  // after variant fraction, capped [0.01, 0.25]
	PositionSize    float64      `json:"position_size"`
	Recommendation  string       `json:"recommendation"`
}

const (
	minTradesForKelly  = 30
	kellyFallbackPct   = 0.10
	kellyNegativeEdge  = 0.01
	kellyCap           = 0.25
	kellyFloor         = 0.01
)

// CalculatePositionSize applies the Kelly criterion, f* = (p*b - q) / b,
// to size a position against capital. With fewer than 30 trades, or invalid
// win-rate/win-loss inputs, it falls back to a conservative fixed fraction,
// since a Kelly estimate from a thin sample is not trustworthy.
func CalculatePositionSize(stats *TradingStats, capital float64, variant KellyVariant) *KellyResult {
	defer func(start time.Time) {
		metrics.RecordRiskCalculation("kelly", time.Since(start).Seconds())
	}(time.Now())

	if stats.TotalTrades < minTradesForKelly {
		log.Debug().Int("total_trades", stats.TotalTrades).Msg("not enough trades for Kelly criterion, using conservative fallback")
		return &KellyResult{
			Variant:         variant,
			AdjustedPercent: kellyFallbackPct,
			PositionSize:    capital * kellyFallbackPct,
			Recommendation:  "Insufficient trade history (<30 trades) - using conservative 10% fallback",
		}
	}

	if stats.WinRate <= 0 || stats.WinRate >= 1 || stats.AvgWin <= 0 || stats.AvgLoss <= 0 {
		log.Warn().
			Float64("win_rate", stats.WinRate).
			Float64("avg_win", stats.AvgWin).
			Float64("avg_loss", stats.AvgLoss).
			Msg("invalid Kelly inputs, using conservative fallback")
		return &KellyResult{
			Variant:         variant,
			AdjustedPercent: kellyFallbackPct,
			PositionSize:    capital * kellyFallbackPct,
			Recommendation:  "Invalid win rate or average win/loss - using conservative 10% fallback",
		}
	}

	p := stats.WinRate
	q := 1 - p
	b := stats.WinLossRatio
	rawKelly := (p*b - q) / b

	result := &KellyResult{Variant: variant, RawKellyPercent: rawKelly}

	if rawKelly <= 0 {
		result.AdjustedPercent = kellyNegativeEdge
		result.PositionSize = capital * kellyNegativeEdge
		result.Recommendation = GetRecommendation(rawKelly)
		return result
	}

	adjusted := rawKelly * variant.Fraction()
	if adjusted > kellyCap {
		adjusted = kellyCap
	}
	if adjusted < kellyFloor {
		adjusted = kellyFloor
	}

	result.AdjustedPercent = adjusted
	result.PositionSize = capital * adjusted
	result.Recommendation = GetRecommendation(rawKelly)

	log.Info().
		Int("total_trades", stats.TotalTrades).
		Float64("win_rate", stats.WinRate*100).
		Float64("kelly_percent", rawKelly*100).
		Str("variant", string(variant)).
		Float64("adjusted_percent", adjusted*100).
		Float64("position_size", result.PositionSize).
		Msg("Kelly position size calculated")

	return result
}

// GetRecommendation interprets a raw (pre-fraction) Kelly percentage.
func GetRecommendation(kellyPercent float64) string {
	percent := kellyPercent * 100

	switch {
	case percent <= 0:
		return "No position recommended - negative edge (expected value < 0)"
	case percent <= 2:
		return "Very small position - minimal edge"
	case percent <= 5:
		return "Conservative position - moderate edge"
	case percent <= 10:
		return "Standard position - good edge"
	case percent <= 20:
		return "Large position - strong edge (monitor risk carefully)"
	case percent <= 30:
		return "Very large position - exceptional edge (high risk/reward)"
	default:
		return "Warning: extremely large position suggested - verify calculations and strongly consider reducing Kelly fraction"
	}
}
