package risk

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// ValidatorDecision is the outcome of a pre-trade validation pass.
type ValidatorDecision string

const (
	DecisionApprove    ValidatorDecision = "APPROVE"
	DecisionReduceSize ValidatorDecision = "REDUCE_SIZE"
	DecisionReject     ValidatorDecision = "REJECT"
)

// PortfolioLimits configures the pre-trade validator's thresholds.
type PortfolioLimits struct {
	MaxPositionValue     float64 // absolute dollar cap on a single position
	MaxPositionPctEquity float64 // e.g. 0.10 for 10% of equity
	MaxTotalExposurePct  float64 // e.g. 1.0 for no leverage
	MaxOpenPositions     int
	MaxSectorConcentration float64 // e.g. 0.30 of equity in one sector
	MaxCorrelationCluster int     // max number of highly-correlated (|rho|>0.7) positions allowed together
	MinAvgDailyVolume    float64 // liquidity floor: position size vs this multiple
	MaxLiquidityMultiple float64 // e.g. position <= 0.05 * avg daily volume * price
	MaxRiskPerTradePct   float64 // e.g. 0.02 of equity at risk (entry to stop-loss) per trade
}

// DefaultPortfolioLimits returns conservative defaults suitable for a
// research/backtesting context where no live risk desk has configured
// account-specific limits.
func DefaultPortfolioLimits() PortfolioLimits {
	return PortfolioLimits{
		MaxPositionValue:       1_000_000,
		MaxPositionPctEquity:   0.10,
		MaxTotalExposurePct:    1.0,
		MaxOpenPositions:       20,
		MaxSectorConcentration: 0.30,
		MaxCorrelationCluster:  5,
		MaxLiquidityMultiple:   0.05,
		MaxRiskPerTradePct:     0.02,
	}
}

// ProposedTrade is the order under review.
type ProposedTrade struct {
	Symbol          string
	Sector          string
	Quantity        float64
	Price           float64
	StopLossPrice   float64 // 0 disables per-trade risk check
	AvgDailyVolume  float64 // 0 disables liquidity check
	CorrelatedCount int     // number of currently open positions with |rho|>0.7 to this symbol
}

// Value returns the dollar size of the proposed trade.
func (t ProposedTrade) Value() float64 {
	return t.Quantity * t.Price
}

// PortfolioState is the current book the trade is being checked against.
type PortfolioState struct {
	Equity             float64
	TotalExposure       float64
	OpenPositionCount   int
	SectorExposure      map[string]float64 // sector -> current dollar exposure
}

// ValidationResult is the pre-trade validator's verdict.
type ValidationResult struct {
	Decision        ValidatorDecision `json:"decision"`
	RecommendedSize float64           `json:"recommended_size"` // quantity, adjusted when Decision==ReduceSize
	Blockers        []string          `json:"blockers,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
}

var (
	validatorDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_pretrade_validator_decisions_total",
		Help: "Pre-trade validator decisions by outcome",
	}, []string{"decision"})

	validatorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtester_pretrade_validator_duration_seconds",
		Help:    "Pre-trade validation latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us .. ~200ms, spans the <50ms target
	})
)

// Validate runs the ordered pre-trade checks against trade and state: first
// position size, then position-as-percent-of-equity, total portfolio
// exposure, open position count, sector concentration, correlation cluster
// size, liquidity vs average daily volume, and per-trade risk budget. Every
// check runs so the caller sees the full list of blockers and warnings; any
// blocker downgrades the decision to Reject regardless of order.
func Validate(trade ProposedTrade, state PortfolioState, limits PortfolioLimits) *ValidationResult {
	timer := prometheus.NewTimer(validatorLatency)
	defer timer.ObserveDuration()

	result := &ValidationResult{Decision: DecisionApprove, RecommendedSize: trade.Quantity}
	value := trade.Value()

	if value > limits.MaxPositionValue {
		result.Blockers = append(result.Blockers, fmt.Sprintf(
			"position value %.2f exceeds absolute cap %.2f", value, limits.MaxPositionValue))
	}

	if limits.MaxPositionPctEquity > 0 && state.Equity > 0 {
		pct := value / state.Equity
		if pct > limits.MaxPositionPctEquity {
			capped := limits.MaxPositionPctEquity * state.Equity
			if len(result.Blockers) == 0 && trade.Price > 0 {
				result.Decision = DecisionReduceSize
				result.RecommendedSize = capped / trade.Price
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"position is %.1f%% of equity, above the %.1f%% target", pct*100, limits.MaxPositionPctEquity*100))
		}
	}

	if limits.MaxTotalExposurePct > 0 && state.Equity > 0 {
		projectedExposure := state.TotalExposure + value
		maxExposure := limits.MaxTotalExposurePct * state.Equity
		if projectedExposure > maxExposure {
			result.Blockers = append(result.Blockers, fmt.Sprintf(
				"projected total exposure %.2f exceeds limit %.2f", projectedExposure, maxExposure))
		}
	}

	if limits.MaxOpenPositions > 0 && state.OpenPositionCount >= limits.MaxOpenPositions {
		result.Blockers = append(result.Blockers, fmt.Sprintf(
			"already at maximum %d open positions", limits.MaxOpenPositions))
	}

	if limits.MaxSectorConcentration > 0 && state.Equity > 0 && trade.Sector != "" {
		sectorExposure := state.SectorExposure[trade.Sector] + value
		maxSector := limits.MaxSectorConcentration * state.Equity
		if sectorExposure > maxSector {
			result.Blockers = append(result.Blockers, fmt.Sprintf(
				"sector %q exposure %.2f would exceed %.1f%% concentration limit",
				trade.Sector, sectorExposure, limits.MaxSectorConcentration*100))
		}
	}

	if limits.MaxCorrelationCluster > 0 && trade.CorrelatedCount >= limits.MaxCorrelationCluster {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%d existing positions are highly correlated (|rho|>%.1f) with %s",
			trade.CorrelatedCount, HighCorrelationThreshold, trade.Symbol))
	}

	if limits.MaxLiquidityMultiple > 0 && trade.AvgDailyVolume > 0 {
		maxShares := limits.MaxLiquidityMultiple * trade.AvgDailyVolume
		if trade.Quantity > maxShares {
			if len(result.Blockers) == 0 && result.Decision != DecisionReject {
				result.Decision = DecisionReduceSize
				if maxShares < result.RecommendedSize {
					result.RecommendedSize = maxShares
				}
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"order size %.2f exceeds %.1f%% of average daily volume (%.2f shares)",
				trade.Quantity, limits.MaxLiquidityMultiple*100, maxShares))
		}
	}

	if limits.MaxRiskPerTradePct > 0 && trade.StopLossPrice > 0 && state.Equity > 0 {
		riskPerShare := trade.Price - trade.StopLossPrice
		if riskPerShare < 0 {
			riskPerShare = -riskPerShare
		}
		riskAmount := riskPerShare * trade.Quantity
		maxRisk := limits.MaxRiskPerTradePct * state.Equity
		if riskAmount > maxRisk {
			result.Blockers = append(result.Blockers, fmt.Sprintf(
				"risk to stop-loss %.2f exceeds %.1f%% of equity risk budget (%.2f)",
				riskAmount, limits.MaxRiskPerTradePct*100, maxRisk))
		}
	}

	if len(result.Blockers) > 0 {
		result.Decision = DecisionReject
	}

	validatorDecisions.WithLabelValues(string(result.Decision)).Inc()
	log.Debug().
		Str("symbol", trade.Symbol).
		Str("decision", string(result.Decision)).
		Int("blockers", len(result.Blockers)).
		Int("warnings", len(result.Warnings)).
		Msg("pre-trade validation completed")

	return result
}
