package risk

import (
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/backtester/internal/metrics"
)

// CVaRResult is the outcome of an Expected Shortfall calculation.
type CVaRResult struct {
	VaR             float64 `json:"var"`
	CVaR            float64 `json:"cvar"` // Expected Shortfall: average loss beyond VaR
	ConfidenceLevel float64 `json:"confidence_level"`
	TailRiskRatio   float64 `json:"tail_risk_ratio"` // CVaR / VaR; >1 means the tail is fatter than VaR alone suggests
	Interpretation  string  `json:"interpretation"`
}

// CalculateCVaR computes Value-at-Risk and Conditional VaR (Expected
// Shortfall) together via historical simulation: CVaR is the mean of all
// returns at or below the VaR percentile, mirroring the reference
// implementation's combined VaR/CVaR pass over the sorted sample.
func CalculateCVaR(returns []float64, confidenceLevel float64) (*CVaRResult, error) {
	defer func(start time.Time) {
		metrics.RecordRiskCalculation("cvar", time.Since(start).Seconds())
	}(time.Now())

	if len(returns) == 0 {
		return nil, fmt.Errorf("returns array is empty")
	}
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		return nil, fmt.Errorf("confidence level must be between 0 and 1")
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	slices.Sort(sorted)

	percentile := 1 - confidenceLevel
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	varValue := -sorted[index]

	var tailSum float64
	tailCount := 0
	for i := 0; i <= index; i++ {
		tailSum += sorted[i]
		tailCount++
	}
	cvarValue := 0.0
	if tailCount > 0 {
		cvarValue = -tailSum / float64(tailCount)
	}

	ratio := 0.0
	if varValue != 0 {
		ratio = cvarValue / varValue
	}

	result := &CVaRResult{
		VaR:             varValue,
		CVaR:            cvarValue,
		ConfidenceLevel: confidenceLevel,
		TailRiskRatio:   ratio,
		Interpretation:  interpretTailRisk(ratio),
	}

	log.Debug().
		Float64("var", varValue).
		Float64("cvar", cvarValue).
		Float64("tail_risk_ratio", ratio).
		Msg("CVaR calculated")
	return result, nil
}

// interpretTailRisk turns the CVaR/VaR ratio into a human-readable label,
// following the interpretation-ladder convention used throughout this
// package (see kelly.go's GetRecommendation and validator.go's decisions).
// A ratio above 1.5 means tail losses far exceed what VaR alone suggests;
// 1.2 to 1.5 is a moderately fat tail; anything below is normal.
func interpretTailRisk(ratio float64) string {
	switch {
	case ratio <= 0:
		return "insufficient data to assess tail risk"
	case ratio > 1.5:
		return "high tail risk: tail losses far exceed VaR, VaR alone understates risk"
	case ratio >= 1.2:
		return "moderate tail risk: expect losses somewhat worse than VaR in the tail scenario"
	default:
		return "normal tail risk: losses beyond VaR are close to VaR itself"
	}
}
