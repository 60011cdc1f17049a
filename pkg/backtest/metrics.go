package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MetricsInput bundles everything CalculateMetrics needs from a finished run.
type MetricsInput struct {
	EquityCurve      []EquityCurvePoint
	ClosedTrades     []*Trade
	InitialCapital   float64
	Start            time.Time
	End              time.Time
	TotalCommissions float64
	TotalSlippage    float64
	// RiskFreeRate is an annualized fraction (0.02 = 2%) used by Sharpe and
	// Sortino. Defaults to 0 when unset.
	RiskFreeRate float64
}

// PerformanceMetrics is the full scorecard produced at the end of a run.
type PerformanceMetrics struct {
	// Returns
	TotalReturn      float64 `json:"total_return"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	AnnualizedReturn float64 `json:"annualized_return"`
	CAGR             float64 `json:"cagr"`

	// Risk
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`
	Volatility          float64 `json:"volatility"`
	DownsideDeviation   float64 `json:"downside_deviation"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`

	// Trade statistics
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	LosingTrades         int     `json:"losing_trades"`
	WinRate              float64 `json:"win_rate"`
	AverageWin           float64 `json:"average_win"`
	AverageLoss          float64 `json:"average_loss"`
	LargestWin           float64 `json:"largest_win"`
	LargestLoss          float64 `json:"largest_loss"`
	ProfitFactor         float64 `json:"profit_factor"`
	Expectancy           float64 `json:"expectancy"`
	PayoffRatio          float64 `json:"payoff_ratio"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	AvgMAE               float64 `json:"avg_mae"`
	AvgMFE               float64 `json:"avg_mfe"`

	// Time statistics
	AverageHoldingTime time.Duration `json:"average_holding_time"`
	MedianHoldingTime  time.Duration `json:"median_holding_time"`
	MaxHoldingTime     time.Duration `json:"max_holding_time"`
	MinHoldingTime     time.Duration `json:"min_holding_time"`

	// Costs
	TotalCommissions float64 `json:"total_commissions"`
	TotalSlippage    float64 `json:"total_slippage"`

	// Portfolio
	InitialCapital float64       `json:"initial_capital"`
	FinalEquity    float64       `json:"final_equity"`
	PeakEquity     float64       `json:"peak_equity"`
	EquityLow      float64       `json:"equity_low"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	Duration       time.Duration `json:"duration"`
}

// CalculateMetrics derives a PerformanceMetrics scorecard from a run's raw
// equity curve and closed trades. It never returns an error: degenerate
// inputs (no trades, no equity history, zero volatility) collapse to zero
// rather than NaN or +/-Inf, so every field is safe to serialize and compare.
func CalculateMetrics(in MetricsInput) *PerformanceMetrics {
	m := &PerformanceMetrics{
		InitialCapital:   in.InitialCapital,
		TotalTrades:      len(in.ClosedTrades),
		TotalCommissions: in.TotalCommissions,
		TotalSlippage:    in.TotalSlippage,
		StartDate:        in.Start,
		EndDate:          in.End,
	}
	m.Duration = m.EndDate.Sub(m.StartDate)

	if len(in.EquityCurve) == 0 {
		m.FinalEquity = in.InitialCapital
		m.PeakEquity = in.InitialCapital
		m.EquityLow = in.InitialCapital
		calculateTradeStatistics(m, in.ClosedTrades)
		finiteify(m)
		return m
	}

	m.FinalEquity = in.EquityCurve[len(in.EquityCurve)-1].Equity
	m.PeakEquity = in.InitialCapital
	m.EquityLow = in.InitialCapital
	for _, p := range in.EquityCurve {
		if p.Equity > m.PeakEquity {
			m.PeakEquity = p.Equity
		}
		if p.Equity < m.EquityLow {
			m.EquityLow = p.Equity
		}
	}

	if in.InitialCapital > 0 {
		m.TotalReturn = m.FinalEquity - in.InitialCapital
		m.TotalReturnPct = m.TotalReturn / in.InitialCapital * 100.0
	}

	if m.Duration > 0 && in.InitialCapital > 0 && m.FinalEquity > 0 {
		years := m.Duration.Hours() / 24.0 / 365.25
		if years > 0 {
			m.CAGR = (math.Pow(m.FinalEquity/in.InitialCapital, 1.0/years) - 1.0) * 100.0
			// Overwritten with the arithmetic mean-of-daily-returns figure
			// once the equity curve is long enough to have daily returns.
			m.AnnualizedReturn = m.CAGR
		}
	}

	calculateDrawdown(m, in.EquityCurve)
	calculateRiskMetrics(m, in.EquityCurve, in.RiskFreeRate)
	calculateTradeStatistics(m, in.ClosedTrades)

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdownPct
	}

	finiteify(m)
	return m
}

func calculateDrawdown(m *PerformanceMetrics, curve []EquityCurvePoint) {
	peak := m.InitialCapital
	var ddStart time.Time
	var inDD bool
	var maxDur time.Duration

	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
			if inDD {
				if d := p.Timestamp.Sub(ddStart); d > maxDur {
					maxDur = d
				}
				inDD = false
			}
			continue
		}
		if !inDD {
			inDD = true
			ddStart = p.Timestamp
		}
		dd := peak - p.Equity
		ddPct := 0.0
		if peak > 0 {
			ddPct = dd / peak * 100.0
		}
		if dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
		if ddPct > m.MaxDrawdownPct {
			m.MaxDrawdownPct = ddPct
		}
	}
	if inDD && len(curve) > 0 {
		if d := curve[len(curve)-1].Timestamp.Sub(ddStart); d > maxDur {
			maxDur = d
		}
	}
	m.MaxDrawdownDuration = maxDur
}

func calculateRiskMetrics(m *PerformanceMetrics, curve []EquityCurvePoint, riskFreeRate float64) {
	if len(curve) < 2 {
		return
	}

	returns := make([]float64, 0, len(curve))
	for _, p := range curve {
		returns = append(returns, p.DailyReturn)
	}

	mean := meanOf(returns)
	m.AnnualizedReturn = mean * 252 * 100.0

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	m.Volatility = stdDev * math.Sqrt(252) * 100.0

	var negReturns []float64
	for _, r := range returns {
		if r < 0 {
			negReturns = append(negReturns, r)
		}
	}
	if len(negReturns) > 0 {
		var sumSq float64
		for _, r := range negReturns {
			sumSq += r * r
		}
		downsideVar := sumSq / float64(len(negReturns))
		m.DownsideDeviation = math.Sqrt(downsideVar) * math.Sqrt(252) * 100.0
	}

	excessReturn := m.AnnualizedReturn - riskFreeRate*100.0
	if m.Volatility > 0 {
		m.SharpeRatio = excessReturn / m.Volatility
	}
	if m.DownsideDeviation > 0 {
		m.SortinoRatio = excessReturn / m.DownsideDeviation
	}
}

func calculateTradeStatistics(m *PerformanceMetrics, trades []*Trade) {
	if len(trades) == 0 {
		return
	}

	var totalWin, totalLoss float64
	var sumMAE, sumMFE float64
	holdingTimes := make([]time.Duration, 0, len(trades))
	curWinStreak, curLossStreak := 0, 0

	for _, t := range trades {
		holdingTimes = append(holdingTimes, t.HoldDuration)
		sumMAE += t.MAE
		sumMFE += t.MFE

		if t.NetPnL > 0 {
			m.WinningTrades++
			totalWin += t.NetPnL
			if t.NetPnL > m.LargestWin {
				m.LargestWin = t.NetPnL
			}
			curWinStreak++
			curLossStreak = 0
		} else if t.NetPnL < 0 {
			m.LosingTrades++
			totalLoss += t.NetPnL
			if t.NetPnL < m.LargestLoss {
				m.LargestLoss = t.NetPnL
			}
			curLossStreak++
			curWinStreak = 0
		} else {
			curWinStreak = 0
			curLossStreak = 0
		}
		if curWinStreak > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = curWinStreak
		}
		if curLossStreak > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = curLossStreak
		}
	}

	m.AvgMAE = sumMAE / float64(len(trades))
	m.AvgMFE = sumMFE / float64(len(trades))

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100.0
	}
	if m.WinningTrades > 0 {
		m.AverageWin = totalWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = totalLoss / float64(m.LosingTrades)
	}
	if totalLoss != 0 {
		m.ProfitFactor = totalWin / math.Abs(totalLoss)
	} else if totalWin > 0 {
		// No losses at all: profit factor is infinite, coerced to the large
		// finite sentinel by finiteify so an all-winning run still ranks
		// above every run with losses.
		m.ProfitFactor = math.Inf(1)
	}
	if m.AverageLoss != 0 {
		m.PayoffRatio = m.AverageWin / math.Abs(m.AverageLoss)
	}

	winProb := float64(m.WinningTrades) / float64(m.TotalTrades)
	lossProb := float64(m.LosingTrades) / float64(m.TotalTrades)
	m.Expectancy = winProb*m.AverageWin + lossProb*m.AverageLoss

	m.AverageHoldingTime = averageDuration(holdingTimes)
	m.MedianHoldingTime = medianDuration(holdingTimes)
	m.MinHoldingTime, m.MaxHoldingTime = minMaxDuration(holdingTimes)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func averageDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

// medianDuration returns the true median, not an average-as-placeholder: for
// an even count it is the mean of the two middle values.
func medianDuration(ds []time.Duration) time.Duration {
	n := len(ds)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func minMaxDuration(ds []time.Duration) (min, max time.Duration) {
	if len(ds) == 0 {
		return 0, 0
	}
	min, max = ds[0], ds[0]
	for _, d := range ds[1:] {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// finiteify replaces any NaN/+-Inf that slipped through (e.g. a degenerate
// profit factor when there are wins but zero losses) with a large finite
// sentinel or zero, so no metric ever leaks a non-finite value to a caller.
func finiteify(m *PerformanceMetrics) {
	fix := func(f float64) float64 {
		if math.IsNaN(f) {
			return 0
		}
		if math.IsInf(f, 1) {
			return math.MaxFloat64 / 2
		}
		if math.IsInf(f, -1) {
			return -math.MaxFloat64 / 2
		}
		return f
	}
	m.TotalReturn = fix(m.TotalReturn)
	m.TotalReturnPct = fix(m.TotalReturnPct)
	m.AnnualizedReturn = fix(m.AnnualizedReturn)
	m.CAGR = fix(m.CAGR)
	m.MaxDrawdown = fix(m.MaxDrawdown)
	m.MaxDrawdownPct = fix(m.MaxDrawdownPct)
	m.Volatility = fix(m.Volatility)
	m.DownsideDeviation = fix(m.DownsideDeviation)
	m.SharpeRatio = fix(m.SharpeRatio)
	m.SortinoRatio = fix(m.SortinoRatio)
	m.CalmarRatio = fix(m.CalmarRatio)
	m.WinRate = fix(m.WinRate)
	m.AverageWin = fix(m.AverageWin)
	m.AverageLoss = fix(m.AverageLoss)
	m.ProfitFactor = fix(m.ProfitFactor)
	m.Expectancy = fix(m.Expectancy)
	m.PayoffRatio = fix(m.PayoffRatio)
	m.AvgMAE = fix(m.AvgMAE)
	m.AvgMFE = fix(m.AvgMFE)
}

// GenerateReport renders a plain-text performance summary.
func GenerateReport(m *PerformanceMetrics) string {
	return fmt.Sprintf(`
================================================================================
BACKTEST PERFORMANCE REPORT
================================================================================

OVERVIEW
--------
Period:           %s to %s (%.0f days)
Initial Capital:  $%.2f
Final Equity:     $%.2f
Peak Equity:      $%.2f
Equity Low:       $%.2f

RETURNS
-------
Total Return:     $%.2f (%.2f%%)
Annualized Return: %.2f%%
CAGR:             %.2f%%

RISK METRICS
------------
Max Drawdown:     $%.2f (%.2f%%) over %s
Volatility:       %.2f%%
Downside Dev:     %.2f%%
Sharpe Ratio:     %.2f
Sortino Ratio:    %.2f
Calmar Ratio:     %.2f

TRADE STATISTICS
----------------
Total Trades:     %d
Winning Trades:   %d
Losing Trades:    %d
Win Rate:         %.2f%%

Average Win:      $%.2f
Average Loss:     $%.2f
Largest Win:      $%.2f
Largest Loss:     $%.2f
Max Win Streak:   %d
Max Loss Streak:  %d

Profit Factor:    %.2f
Payoff Ratio:     %.2f
Expectancy:       $%.2f per trade
Avg MAE / MFE:    $%.2f / $%.2f

HOLDING TIMES
-------------
Average:          %s
Median:           %s
Min:              %s
Max:              %s

COSTS
-----
Commissions:      $%.2f
Slippage:         $%.2f

================================================================================
`,
		m.StartDate.Format("2006-01-02"),
		m.EndDate.Format("2006-01-02"),
		m.Duration.Hours()/24,
		m.InitialCapital,
		m.FinalEquity,
		m.PeakEquity,
		m.EquityLow,
		m.TotalReturn,
		m.TotalReturnPct,
		m.AnnualizedReturn,
		m.CAGR,
		m.MaxDrawdown,
		m.MaxDrawdownPct,
		formatDuration(m.MaxDrawdownDuration),
		m.Volatility,
		m.DownsideDeviation,
		m.SharpeRatio,
		m.SortinoRatio,
		m.CalmarRatio,
		m.TotalTrades,
		m.WinningTrades,
		m.LosingTrades,
		m.WinRate,
		m.AverageWin,
		m.AverageLoss,
		m.LargestWin,
		m.LargestLoss,
		m.MaxConsecutiveWins,
		m.MaxConsecutiveLosses,
		m.ProfitFactor,
		m.PayoffRatio,
		m.Expectancy,
		m.AvgMAE,
		m.AvgMFE,
		formatDuration(m.AverageHoldingTime),
		formatDuration(m.MedianHoldingTime),
		formatDuration(m.MinHoldingTime),
		formatDuration(m.MaxHoldingTime),
		m.TotalCommissions,
		m.TotalSlippage,
	)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
