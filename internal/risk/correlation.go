package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/backtester/internal/metrics"
)

// CorrelationMatrix is a symmetric matrix of pairwise Pearson correlations
// between the return series of Symbols, diagonal = 1, every entry in
// [-1, 1].
type CorrelationMatrix struct {
	Symbols []string    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// At returns the correlation between symbols i and j.
func (m *CorrelationMatrix) At(i, j int) float64 {
	return m.Values[i][j]
}

// HighCorrelationPair is a pair of symbols whose correlation exceeds the
// flagging threshold used by BuildCorrelationMatrix.
type HighCorrelationPair struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
}

// HighCorrelationThreshold is the |rho| above which a pair is flagged as
// concentration risk.
const HighCorrelationThreshold = 0.7

// BuildCorrelationMatrix computes the pairwise Pearson correlation matrix for
// a set of aligned return series (same length, same period indices) and
// flags every pair whose absolute correlation exceeds HighCorrelationThreshold.
func BuildCorrelationMatrix(returnsBySymbol map[string][]float64) (*CorrelationMatrix, []HighCorrelationPair, error) {
	defer func(start time.Time) {
		metrics.RecordRiskCalculation("correlation", time.Since(start).Seconds())
	}(time.Now())

	if len(returnsBySymbol) == 0 {
		return nil, nil, fmt.Errorf("no return series supplied")
	}

	symbols := make([]string, 0, len(returnsBySymbol))
	for sym := range returnsBySymbol {
		symbols = append(symbols, sym)
	}
	// Deterministic ordering so repeated runs over the same input produce a
	// bit-identical matrix regardless of map iteration order.
	sort.Strings(symbols)

	n := len(symbols)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
	}

	var flagged []HighCorrelationPair
	for i := 0; i < n; i++ {
		values[i][i] = 1
		for j := i + 1; j < n; j++ {
			rho, err := pearson(returnsBySymbol[symbols[i]], returnsBySymbol[symbols[j]])
			if err != nil {
				return nil, nil, fmt.Errorf("correlation(%s,%s): %w", symbols[i], symbols[j], err)
			}
			values[i][j] = rho
			values[j][i] = rho
			if math.Abs(rho) > HighCorrelationThreshold {
				flagged = append(flagged, HighCorrelationPair{SymbolA: symbols[i], SymbolB: symbols[j], Correlation: rho})
			}
		}
	}

	log.Debug().
		Int("symbols", n).
		Int("flagged_pairs", len(flagged)).
		Msg("correlation matrix built")

	return &CorrelationMatrix{Symbols: symbols, Values: values}, flagged, nil
}

// pearson computes the Pearson product-moment correlation coefficient of two
// equal-length series.
func pearson(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("series length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("need at least 2 observations, got %d", len(a))
	}

	meanA, meanB := meanOf(a), meanOf(b)

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	denom := math.Sqrt(varA * varB)
	if denom == 0 {
		return 0, nil
	}
	rho := cov / denom
	// Clamp floating-point drift so every entry is strictly within [-1, 1].
	if rho > 1 {
		rho = 1
	} else if rho < -1 {
		rho = -1
	}
	return rho, nil
}

// DiversificationRatio is the ratio of the weighted average of individual
// asset volatilities to the portfolio's own volatility under the supplied
// correlation structure. A ratio well above 1 indicates the portfolio
// benefits materially from diversification; a ratio near 1 indicates the
// holdings move together and diversification is providing little benefit.
func DiversificationRatio(weights map[string]float64, volatilities map[string]float64, matrix *CorrelationMatrix) (float64, error) {
	if matrix == nil {
		return 0, fmt.Errorf("correlation matrix is nil")
	}

	index := make(map[string]int, len(matrix.Symbols))
	for i, sym := range matrix.Symbols {
		index[sym] = i
	}

	var weightedVol float64
	for sym, w := range weights {
		vol, ok := volatilities[sym]
		if !ok {
			return 0, fmt.Errorf("missing volatility for symbol %s", sym)
		}
		weightedVol += w * vol
	}

	var portfolioVariance float64
	for symA, wA := range weights {
		iA, ok := index[symA]
		if !ok {
			return 0, fmt.Errorf("symbol %s not present in correlation matrix", symA)
		}
		volA := volatilities[symA]
		for symB, wB := range weights {
			iB, ok := index[symB]
			if !ok {
				return 0, fmt.Errorf("symbol %s not present in correlation matrix", symB)
			}
			volB := volatilities[symB]
			portfolioVariance += wA * wB * volA * volB * matrix.At(iA, iB)
		}
	}

	portfolioVol := math.Sqrt(math.Max(portfolioVariance, 0))
	if portfolioVol == 0 {
		return 0, fmt.Errorf("portfolio volatility is zero")
	}

	return weightedVol / portfolioVol, nil
}
