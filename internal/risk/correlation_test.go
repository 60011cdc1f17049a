package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCorrelationMatrix_PerfectPositiveCorrelation(t *testing.T) {
	returns := map[string][]float64{
		"AAA": {0.01, 0.02, -0.01, 0.03, -0.02},
		"BBB": {0.02, 0.04, -0.02, 0.06, -0.04}, // exactly 2x AAA
	}

	matrix, flagged, err := BuildCorrelationMatrix(returns)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAA", "BBB"}, matrix.Symbols)
	assert.InDelta(t, 1.0, matrix.At(0, 1), 1e-9)
	assert.InDelta(t, 1.0, matrix.At(0, 0), 1e-9)
	assert.Len(t, flagged, 1)
	assert.Equal(t, "AAA", flagged[0].SymbolA)
	assert.Equal(t, "BBB", flagged[0].SymbolB)
}

func TestBuildCorrelationMatrix_Uncorrelated(t *testing.T) {
	returns := map[string][]float64{
		"AAA": {0.01, -0.01, 0.01, -0.01, 0.01, -0.01},
		"BBB": {0.01, 0.01, -0.01, -0.01, 0.01, 0.01},
	}

	matrix, _, err := BuildCorrelationMatrix(returns)
	require.NoError(t, err)
	assert.LessOrEqual(t, matrix.At(0, 1), 1.0)
	assert.GreaterOrEqual(t, matrix.At(0, 1), -1.0)
}

func TestBuildCorrelationMatrix_DiagonalIsOne(t *testing.T) {
	returns := map[string][]float64{
		"AAA": {0.01, 0.02, 0.03},
		"BBB": {0.03, 0.01, 0.02},
		"CCC": {-0.01, 0.04, 0.00},
	}

	matrix, _, err := BuildCorrelationMatrix(returns)
	require.NoError(t, err)
	for i := range matrix.Symbols {
		assert.Equal(t, 1.0, matrix.At(i, i))
	}
}

func TestBuildCorrelationMatrix_Symmetric(t *testing.T) {
	returns := map[string][]float64{
		"AAA": {0.01, 0.02, 0.03, -0.01},
		"BBB": {0.03, 0.01, 0.02, 0.00},
	}

	matrix, _, err := BuildCorrelationMatrix(returns)
	require.NoError(t, err)
	assert.Equal(t, matrix.At(0, 1), matrix.At(1, 0))
}

func TestBuildCorrelationMatrix_NoInput(t *testing.T) {
	_, _, err := BuildCorrelationMatrix(nil)
	assert.Error(t, err)
}

func TestDiversificationRatio_PerfectlyCorrelatedHasRatioOne(t *testing.T) {
	returns := map[string][]float64{
		"AAA": {0.01, 0.02, -0.01, 0.03, -0.02},
		"BBB": {0.01, 0.02, -0.01, 0.03, -0.02},
	}
	matrix, _, err := BuildCorrelationMatrix(returns)
	require.NoError(t, err)

	weights := map[string]float64{"AAA": 0.5, "BBB": 0.5}
	vols := map[string]float64{"AAA": 0.02, "BBB": 0.02}

	ratio, err := DiversificationRatio(weights, vols, matrix)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ratio, 1e-6)
}
