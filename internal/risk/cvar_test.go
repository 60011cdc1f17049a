package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCVaR_GreaterOrEqualToVaR(t *testing.T) {
	returns := stepReturns()

	result, err := CalculateCVaR(returns, 0.95)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.CVaR, result.VaR, "CVaR(alpha) must be >= VaR(alpha)")
}

func TestCalculateCVaR_SingleTailObservation(t *testing.T) {
	returns := stepReturns()

	result, err := CalculateCVaR(returns, 0.95)
	require.NoError(t, err)

	// Only the worst observation (-3.0%) falls in the tail at this sample
	// size and confidence level, so CVaR collapses to VaR exactly.
	assert.InDelta(t, result.VaR, result.CVaR, 1e-9)
	assert.InDelta(t, 1.0, result.TailRiskRatio, 1e-9)
}

func TestCalculateCVaR_EmptyReturns(t *testing.T) {
	_, err := CalculateCVaR(nil, 0.95)
	assert.Error(t, err)
}

func TestInterpretTailRisk(t *testing.T) {
	assert.Contains(t, interpretTailRisk(0), "insufficient")
	assert.Contains(t, interpretTailRisk(1.05), "normal")
	assert.Contains(t, interpretTailRisk(1.2), "moderate")
	assert.Contains(t, interpretTailRisk(1.5), "moderate")
	assert.Contains(t, interpretTailRisk(1.6), "high")
	assert.Contains(t, interpretTailRisk(2.0), "high")
}
