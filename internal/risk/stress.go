package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/backtester/internal/metrics"
)

// StressScenario is a named historical or hypothetical market shock applied
// to a portfolio's current holdings. MarketShock is the blanket fractional
// price move; SectorShock overrides it per sector; VolatilityMultiplier
// scales the portfolio's return dispersion for the stressed VaR/CVaR/Sharpe
// figures; CorrelationFloor is the minimum pairwise correlation assumed
// under the scenario (crises push correlations toward 1).
type StressScenario struct {
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	MarketShock          float64            `json:"market_shock"` // e.g. -0.35
	VolatilityMultiplier float64            `json:"volatility_multiplier"`
	CorrelationFloor     float64            `json:"correlation_floor"`
	SectorShock          map[string]float64 `json:"sector_shock,omitempty"`
}

// Standard named stress scenarios, grounded on historical drawdowns that a
// risk desk would actually carry as fixtures rather than invent per run.
var StandardScenarios = []StressScenario{
	{
		Name:                 "2008 Financial Crisis",
		Description:          "Global equity drawdown triggered by the subprime mortgage and banking collapse",
		MarketShock:          -0.50,
		VolatilityMultiplier: 3.0,
		CorrelationFloor:     0.8,
		SectorShock:          map[string]float64{"financials": -0.70, "real_estate": -0.65},
	},
	{
		Name:                 "2020 COVID Crash",
		Description:          "Pandemic-driven liquidity shock and rapid equity selloff",
		MarketShock:          -0.34,
		VolatilityMultiplier: 2.5,
		CorrelationFloor:     0.7,
		SectorShock:          map[string]float64{"energy": -0.55, "travel": -0.60},
	},
	{
		Name:                 "2022 Rate Hike Shock",
		Description:          "Aggressive central bank tightening compressing valuations, growth names hit hardest",
		MarketShock:          -0.25,
		VolatilityMultiplier: 1.8,
		CorrelationFloor:     0.6,
		SectorShock:          map[string]float64{"technology": -0.40, "growth": -0.45},
	},
	{
		Name:                 "Flash Crash",
		Description:          "Intraday liquidity evaporation causing a sharp, short-lived price dislocation",
		MarketShock:          -0.09,
		VolatilityMultiplier: 2.0,
		CorrelationFloor:     0.5,
	},
	{
		Name:                 "Sector Rotation",
		Description:          "Capital rotating out of high-multiple growth sectors into value/defensives",
		MarketShock:          -0.05,
		VolatilityMultiplier: 1.2,
		SectorShock:          map[string]float64{"technology": -0.18, "growth": -0.20, "utilities": 0.04},
	},
	{
		Name:                 "Moderate Correction",
		Description:          "A routine 10%-class equity correction without an identifiable crisis trigger",
		MarketShock:          -0.10,
		VolatilityMultiplier: 1.5,
		CorrelationFloor:     0.4,
	},
}

// PositionExposure is one holding's value and sector classification for
// stress testing.
type PositionExposure struct {
	Symbol      string
	Sector      string
	MarketValue float64
}

// PositionImpact is the per-position outcome of applying a scenario.
type PositionImpact struct {
	Symbol         string  `json:"symbol"`
	Sector         string  `json:"sector,omitempty"`
	ShockApplied   float64 `json:"shock_applied"`
	PreShockValue  float64 `json:"pre_shock_value"`
	PostShockValue float64 `json:"post_shock_value"`
	Loss           float64 `json:"loss"`
}

// StressTestResult is the portfolio impact of applying one scenario.
type StressTestResult struct {
	Scenario        string           `json:"scenario"`
	PreShockValue   float64          `json:"pre_shock_value"`
	PostShockValue  float64          `json:"post_shock_value"`
	LossAmount      float64          `json:"loss_amount"`
	LossPercent     float64          `json:"loss_percent"`
	Survivable      bool             `json:"survivable"`
	PositionImpacts []PositionImpact `json:"position_impacts"`

	// Stressed risk figures, computed when the caller supplies the
	// portfolio's daily return series: dispersion is scaled by the
	// scenario's volatility multiplier before re-estimating VaR/CVaR and the
	// annualized Sharpe ratio. Zero when no return series is available.
	StressedVaR    float64 `json:"stressed_var,omitempty"`
	StressedCVaR   float64 `json:"stressed_cvar,omitempty"`
	StressedSharpe float64 `json:"stressed_sharpe,omitempty"`
}

// SurvivabilityThreshold is the maximum fractional portfolio loss a stress
// scenario may inflict before it is flagged as not survivable.
const SurvivabilityThreshold = 0.50

// RunStressTest applies a scenario's market/sector shocks to each position
// and reports the resulting portfolio loss along with per-position impacts.
// A position's sector shock overrides the scenario's blanket market shock
// when present; positions with an unrecognized sector fall back to
// MarketShock. dailyReturns is the portfolio's historical daily return
// series; when non-empty it also yields stressed VaR/CVaR/Sharpe under the
// scenario's volatility multiplier, and may be nil to skip those figures.
func RunStressTest(scenario StressScenario, positions []PositionExposure, dailyReturns []float64) (*StressTestResult, error) {
	defer func(start time.Time) {
		metrics.RecordRiskCalculation("stress_test", time.Since(start).Seconds())
	}(time.Now())

	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions supplied")
	}

	var preShock, postShock float64
	impacts := make([]PositionImpact, 0, len(positions))
	for _, p := range positions {
		shock := scenario.MarketShock
		if sectorShock, ok := scenario.SectorShock[p.Sector]; ok {
			shock = sectorShock
		}
		post := p.MarketValue * (1 + shock)
		preShock += p.MarketValue
		postShock += post
		impacts = append(impacts, PositionImpact{
			Symbol:         p.Symbol,
			Sector:         p.Sector,
			ShockApplied:   shock,
			PreShockValue:  p.MarketValue,
			PostShockValue: post,
			Loss:           p.MarketValue - post,
		})
	}

	loss := preShock - postShock
	lossPct := 0.0
	if preShock > 0 {
		lossPct = loss / preShock
	}

	result := &StressTestResult{
		Scenario:        scenario.Name,
		PreShockValue:   preShock,
		PostShockValue:  postShock,
		LossAmount:      loss,
		LossPercent:     lossPct,
		Survivable:      lossPct < SurvivabilityThreshold,
		PositionImpacts: impacts,
	}

	if len(dailyReturns) > 1 {
		applyStressedRiskFigures(result, scenario, dailyReturns)
	}

	log.Info().
		Str("scenario", scenario.Name).
		Float64("loss_percent", lossPct*100).
		Bool("survivable", result.Survivable).
		Msg("stress test completed")

	return result, nil
}

// applyStressedRiskFigures re-estimates VaR, CVaR and the annualized Sharpe
// ratio on a return series whose dispersion around the mean has been scaled
// by the scenario's volatility multiplier.
func applyStressedRiskFigures(result *StressTestResult, scenario StressScenario, dailyReturns []float64) {
	multiplier := scenario.VolatilityMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	mean := meanOf(dailyReturns)
	stressed := make([]float64, len(dailyReturns))
	for i, r := range dailyReturns {
		stressed[i] = mean + multiplier*(r-mean)
	}

	if cvar, err := CalculateCVaR(stressed, 0.95); err == nil {
		result.StressedVaR = cvar.VaR
		result.StressedCVaR = cvar.CVaR
	}

	stddev := stdDevOf(stressed, mean)
	if stddev > 0 {
		result.StressedSharpe = mean / stddev * math.Sqrt(252)
	}
}

// RunAllStandardScenarios runs every scenario in StandardScenarios against
// the given positions, returning one result per scenario in the declared
// order. dailyReturns may be nil.
func RunAllStandardScenarios(positions []PositionExposure, dailyReturns []float64) ([]*StressTestResult, error) {
	results := make([]*StressTestResult, 0, len(StandardScenarios))
	for _, scenario := range StandardScenarios {
		result, err := RunStressTest(scenario, positions, dailyReturns)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
		results = append(results, result)
	}
	return results, nil
}
