package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPortfolioProjection_Deterministic(t *testing.T) {
	cfg := MonteCarloConfig{
		InitialValue:    100_000,
		HorizonDays:     21,
		NumSimulations:  2000,
		Seed:            11,
		Symbols:         []string{"AAA", "BBB"},
		Weights:         []float64{0.6, 0.4},
		ExpectedReturns: []float64{0.0004, 0.0003},
		Volatilities:    []float64{0.015, 0.02},
	}

	a, err := RunPortfolioProjection(cfg)
	require.NoError(t, err)
	b, err := RunPortfolioProjection(cfg)
	require.NoError(t, err)

	assert.Equal(t, a.ExpectedValue, b.ExpectedValue)
	assert.Equal(t, a.WorstCase, b.WorstCase)
}

func TestRunPortfolioProjection_OrderedPercentiles(t *testing.T) {
	cfg := MonteCarloConfig{
		InitialValue:    50_000,
		HorizonDays:     10,
		NumSimulations:  3000,
		Seed:            3,
		Symbols:         []string{"AAA"},
		Weights:         []float64{1.0},
		ExpectedReturns: []float64{0.0},
		Volatilities:    []float64{0.02},
	}

	result, err := RunPortfolioProjection(cfg)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.WorstCase, result.Percentile5)
	assert.LessOrEqual(t, result.Percentile5, result.MedianValue)
	assert.LessOrEqual(t, result.MedianValue, result.Percentile95)
	assert.LessOrEqual(t, result.Percentile95, result.BestCase)
}

func TestRunPortfolioProjection_ProbabilitiesAreConsistent(t *testing.T) {
	cfg := MonteCarloConfig{
		InitialValue:    50_000,
		HorizonDays:     21,
		NumSimulations:  3000,
		Seed:            17,
		Symbols:         []string{"AAA"},
		Weights:         []float64{1.0},
		ExpectedReturns: []float64{0.0},
		Volatilities:    []float64{0.03},
	}

	result, err := RunPortfolioProjection(cfg)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.ProbabilityProfit+result.ProbabilityLoss, 1e-9)
	assert.LessOrEqual(t, result.ProbabilityLoss20, result.ProbabilityLoss10)
	assert.LessOrEqual(t, result.ProbabilityLoss10, result.ProbabilityLoss)
	assert.Greater(t, result.MaxDrawdown, 0.0)
	assert.LessOrEqual(t, result.MaxDrawdown, 1.0)
}

func TestRunPortfolioProjection_WithCorrelationExercisesCholesky(t *testing.T) {
	matrix := &CorrelationMatrix{
		Symbols: []string{"AAA", "BBB"},
		Values: [][]float64{
			{1.0, 0.9},
			{0.9, 1.0},
		},
	}

	cfg := MonteCarloConfig{
		InitialValue:    100_000,
		HorizonDays:     5,
		NumSimulations:  1000,
		Seed:            5,
		Symbols:         []string{"AAA", "BBB"},
		Weights:         []float64{0.5, 0.5},
		ExpectedReturns: []float64{0.0, 0.0},
		Volatilities:    []float64{0.02, 0.02},
		Correlation:     matrix,
	}

	result, err := RunPortfolioProjection(cfg)
	require.NoError(t, err)
	assert.Greater(t, result.ExpectedValue, 0.0)
}

func TestRunPortfolioProjection_MismatchedDimensions(t *testing.T) {
	cfg := MonteCarloConfig{
		InitialValue:    1000,
		Symbols:         []string{"AAA", "BBB"},
		Weights:         []float64{1.0},
		ExpectedReturns: []float64{0.0, 0.0},
		Volatilities:    []float64{0.01, 0.01},
	}
	_, err := RunPortfolioProjection(cfg)
	assert.Error(t, err)
}

func TestCholeskyDecompose_IdentityMatrix(t *testing.T) {
	identity := [][]float64{
		{1, 0},
		{0, 1},
	}
	l, err := choleskyDecompose(identity)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, l[0][0], 1e-9)
	assert.InDelta(t, 0.0, l[0][1], 1e-9)
	assert.InDelta(t, 1.0, l[1][1], 1e-9)
}

func TestCholeskyDecompose_ReconstructsOriginal(t *testing.T) {
	m := [][]float64{
		{1.0, 0.5},
		{0.5, 1.0},
	}
	l, err := choleskyDecompose(m)
	require.NoError(t, err)

	// L * L^T should reconstruct m.
	reconstructed := [][]float64{{0, 0}, {0, 0}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			var sum float64
			for k := 0; k < 2; k++ {
				sum += l[i][k] * l[j][k]
			}
			reconstructed[i][j] = sum
		}
	}
	assert.InDelta(t, m[0][0], reconstructed[0][0], 1e-9)
	assert.InDelta(t, m[0][1], reconstructed[0][1], 1e-9)
	assert.InDelta(t, m[1][1], reconstructed[1][1], 1e-9)
}
