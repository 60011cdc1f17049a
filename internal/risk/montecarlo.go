package risk

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/backtester/internal/metrics"
)

// MonteCarloConfig parameterizes a portfolio projection simulation.
type MonteCarloConfig struct {
	InitialValue   float64
	HorizonDays    int
	NumSimulations int
	Seed           int64
	// Symbols, ExpectedReturns and Volatilities are per-asset daily figures;
	// Weights must sum to ~1. Correlation is optional: when nil, assets are
	// simulated as independent draws.
	Symbols         []string
	Weights         []float64
	ExpectedReturns []float64
	Volatilities    []float64
	Correlation     *CorrelationMatrix
}

// MonteCarloResult summarizes a projection run.
type MonteCarloResult struct {
	ExpectedValue     float64   `json:"expected_value"`
	MedianValue       float64   `json:"median_value"`
	Percentile5       float64   `json:"percentile_5"`
	Percentile95      float64   `json:"percentile_95"`
	WorstCase         float64   `json:"worst_case"`
	BestCase          float64   `json:"best_case"`
	ProbabilityProfit float64   `json:"probability_of_profit"`
	ProbabilityLoss   float64   `json:"probability_of_loss"`
	ProbabilityLoss10 float64   `json:"probability_of_loss_over_10pct"`
	ProbabilityLoss20 float64   `json:"probability_of_loss_over_20pct"`
	MaxDrawdown       float64   `json:"max_drawdown"` // worst peak-to-trough fraction across all simulated paths
	FinalValues       []float64 `json:"-"`            // kept out of JSON to avoid dumping tens of thousands of samples
}

// RunPortfolioProjection simulates cfg.NumSimulations portfolio paths over
// cfg.HorizonDays and summarizes the distribution of terminal portfolio
// value. When cfg.Correlation is supplied, per-asset daily shocks are drawn
// jointly via Cholesky factorization of the correlation matrix so that
// diversification effects are actually reflected in the simulated paths;
// without it, assets are simulated as independent draws.
func RunPortfolioProjection(cfg MonteCarloConfig) (*MonteCarloResult, error) {
	defer func(start time.Time) {
		metrics.RecordRiskCalculation("monte_carlo", time.Since(start).Seconds())
	}(time.Now())

	n := len(cfg.Symbols)
	if n == 0 {
		return nil, fmt.Errorf("no assets supplied")
	}
	if len(cfg.Weights) != n || len(cfg.ExpectedReturns) != n || len(cfg.Volatilities) != n {
		return nil, fmt.Errorf("weights/returns/volatilities must each have length %d", n)
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 252
	}
	if cfg.NumSimulations <= 0 {
		cfg.NumSimulations = 10000
	}
	if cfg.InitialValue <= 0 {
		return nil, fmt.Errorf("initial value must be positive")
	}

	var chol [][]float64
	if cfg.Correlation != nil {
		var err error
		chol, err = choleskyDecompose(cfg.Correlation.Values)
		if err != nil {
			return nil, fmt.Errorf("cholesky decomposition of correlation matrix: %w", err)
		}
		if len(chol) != n {
			return nil, fmt.Errorf("correlation matrix dimension %d does not match %d assets", len(chol), n)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	finals := make([]float64, cfg.NumSimulations)
	var lossCount, loss10Count, loss20Count, profitCount int
	var maxDrawdown float64

	for sim := 0; sim < cfg.NumSimulations; sim++ {
		value := cfg.InitialValue
		peak := value
		for day := 0; day < cfg.HorizonDays; day++ {
			shocks := independentNormals(rng, n)
			if chol != nil {
				shocks = correlate(chol, shocks)
			}

			var portfolioReturn float64
			for i := 0; i < n; i++ {
				assetReturn := cfg.ExpectedReturns[i] + cfg.Volatilities[i]*shocks[i]
				portfolioReturn += cfg.Weights[i] * assetReturn
			}
			value *= 1 + portfolioReturn
			if value < 0 {
				value = 0
			}
			if value > peak {
				peak = value
			} else if peak > 0 {
				if dd := (peak - value) / peak; dd > maxDrawdown {
					maxDrawdown = dd
				}
			}
		}
		finals[sim] = value
		switch {
		case value < 0.8*cfg.InitialValue:
			loss20Count++
			loss10Count++
			lossCount++
		case value < 0.9*cfg.InitialValue:
			loss10Count++
			lossCount++
		case value < cfg.InitialValue:
			lossCount++
		default:
			profitCount++
		}
	}

	result := summarizeFinalValues(finals, cfg.InitialValue)
	sims := float64(cfg.NumSimulations)
	result.ProbabilityProfit = float64(profitCount) / sims
	result.ProbabilityLoss = float64(lossCount) / sims
	result.ProbabilityLoss10 = float64(loss10Count) / sims
	result.ProbabilityLoss20 = float64(loss20Count) / sims
	result.MaxDrawdown = maxDrawdown

	log.Debug().
		Int("simulations", cfg.NumSimulations).
		Int("horizon_days", cfg.HorizonDays).
		Float64("expected_value", result.ExpectedValue).
		Float64("probability_loss", result.ProbabilityLoss).
		Msg("Monte Carlo portfolio projection completed")

	return result, nil
}

func independentNormals(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

// correlate applies the lower-triangular Cholesky factor L to a vector of
// independent standard normal draws z, producing correlated draws L*z whose
// covariance structure matches the original correlation matrix.
func correlate(chol [][]float64, z []float64) []float64 {
	n := len(z)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j <= i; j++ {
			sum += chol[i][j] * z[j]
		}
		out[i] = sum
	}
	return out
}

// choleskyDecompose computes the lower-triangular Cholesky factor L of a
// symmetric positive semi-definite matrix such that L*L^T = m. Diagonal
// terms that would require the square root of a negative number (which can
// happen for a near-singular correlation matrix built from collinear return
// series) are clamped to zero rather than erroring, since the portfolios
// this feeds are never numerically perfectly well-conditioned.
func choleskyDecompose(m [][]float64) ([][]float64, error) {
	n := len(m)
	for _, row := range m {
		if len(row) != n {
			return nil, fmt.Errorf("matrix is not square")
		}
	}

	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var sum float64
			for k := 0; k < j; k++ {
				sum += l[i][k] * l[j][k]
			}
			if i == j {
				diag := m[i][i] - sum
				if diag < 0 {
					diag = 0
				}
				l[i][j] = math.Sqrt(diag)
			} else {
				if l[j][j] == 0 {
					l[i][j] = 0
					continue
				}
				l[i][j] = (m[i][j] - sum) / l[j][j]
			}
		}
	}
	return l, nil
}

func summarizeFinalValues(values []float64, initial float64) *MonteCarloResult {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)

	n := len(sorted)
	pct := func(p float64) float64 {
		idx := int(p * float64(n-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}

	return &MonteCarloResult{
		ExpectedValue: meanOf(values),
		MedianValue:   pct(0.5),
		Percentile5:   pct(0.05),
		Percentile95:  pct(0.95),
		WorstCase:     sorted[0],
		BestCase:      sorted[n-1],
		FinalValues:   values,
	}
}
