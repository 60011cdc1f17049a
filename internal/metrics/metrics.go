// Package metrics exposes Prometheus instrumentation for the backtesting
// platform: run outcomes, optimizer trial throughput, risk-calculation
// latency, and persistence-layer query timing. All label values are drawn
// from bounded sets so the exposition surface stays fixed regardless of how
// many symbols, strategies, or parameter sets a research session touches.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Backtest run failure categories (bounded set)
	RunErrorValidation       = "validation"
	RunErrorDataUnavailable  = "data_unavailable"
	RunErrorInsufficientCash = "insufficient_cash"
	RunErrorOversold         = "oversold_quantity"
	RunErrorStrategyFailure  = "strategy_failure"
	RunErrorCritical         = "critical"
	RunErrorOther            = "other"

	// Optimizer methods (bounded set)
	MethodGridSearch   = "grid_search"
	MethodRandomSearch = "random_search"
	MethodWalkForward  = "walk_forward"
	MethodOther        = "other"

	// Risk calculation kinds (bounded set)
	RiskCalcVaR         = "var"
	RiskCalcCVaR        = "cvar"
	RiskCalcCorrelation = "correlation"
	RiskCalcKelly       = "kelly"
	RiskCalcMonteCarlo  = "monte_carlo"
	RiskCalcStressTest  = "stress_test"
	RiskCalcOther       = "other"
)

// NormalizeRunError maps arbitrary run-failure messages to the bounded set.
func NormalizeRunError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "validation") || strings.Contains(msg, "must be"):
		return RunErrorValidation
	case strings.Contains(msg, "no bars") || strings.Contains(msg, "no symbol") || strings.Contains(msg, "data unavailable"):
		return RunErrorDataUnavailable
	case strings.Contains(msg, "insufficient cash"):
		return RunErrorInsufficientCash
	case strings.Contains(msg, "exceeds held"):
		return RunErrorOversold
	case strings.Contains(msg, "strategy"):
		return RunErrorStrategyFailure
	case strings.Contains(msg, "accounting") || strings.Contains(msg, "invariant"):
		return RunErrorCritical
	default:
		return RunErrorOther
	}
}

// NormalizeOptimizerMethod maps arbitrary method names to the bounded set.
func NormalizeOptimizerMethod(method string) string {
	lower := strings.ToLower(method)
	switch {
	case strings.Contains(lower, "grid"):
		return MethodGridSearch
	case strings.Contains(lower, "random"):
		return MethodRandomSearch
	case strings.Contains(lower, "walk"):
		return MethodWalkForward
	default:
		return MethodOther
	}
}

// NormalizeRiskCalc maps arbitrary risk-calculation names to the bounded set.
func NormalizeRiskCalc(kind string) string {
	lower := strings.ToLower(kind)
	switch {
	case strings.Contains(lower, "cvar") || strings.Contains(lower, "shortfall"):
		return RiskCalcCVaR
	case strings.Contains(lower, "var"):
		return RiskCalcVaR
	case strings.Contains(lower, "correl"):
		return RiskCalcCorrelation
	case strings.Contains(lower, "kelly"):
		return RiskCalcKelly
	case strings.Contains(lower, "monte") || strings.Contains(lower, "projection"):
		return RiskCalcMonteCarlo
	case strings.Contains(lower, "stress"):
		return RiskCalcStressTest
	default:
		return RiskCalcOther
	}
}

// Backtest Engine Metrics
var (
	// Completed backtest runs by outcome
	BacktestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_runs_total",
		Help: "Total number of backtest runs by outcome",
	}, []string{"status"})

	// Backtest run duration
	BacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtester_run_duration_seconds",
		Help:    "Wall-clock duration of a full backtest run",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
	})

	// Bars processed across all runs
	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_bars_processed_total",
		Help: "Total number of market-data bars processed by the event loop",
	})

	// Closed trades produced across all runs
	TradesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_trades_closed_total",
		Help: "Total number of closed trades recorded",
	})

	// Run-level errors by category
	RunErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_run_errors_total",
		Help: "Total backtest run errors by normalized category",
	}, []string{"category"})
)

// Optimizer Metrics
var (
	// Optimizer trials evaluated by method
	OptimizerTrials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_optimizer_trials_total",
		Help: "Total optimizer trials evaluated by search method",
	}, []string{"method"})

	// Per-trial duration by method
	OptimizerTrialDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtester_optimizer_trial_duration_seconds",
		Help:    "Duration of a single optimizer trial (one full backtest)",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"method"})

	// Best objective score observed so far, by method
	OptimizerBestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backtester_optimizer_best_score",
		Help: "Best objective score observed in the current optimization run",
	}, []string{"method"})

	// Walk-forward windows evaluated
	WalkForwardWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_walkforward_windows_total",
		Help: "Total walk-forward train/test windows evaluated",
	})
)

// Risk Analytics Metrics
var (
	// Risk calculations by kind
	RiskCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_risk_calculations_total",
		Help: "Total risk calculations by kind",
	}, []string{"kind"})

	// Risk calculation latency by kind
	RiskCalculationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtester_risk_calculation_duration_seconds",
		Help:    "Risk calculation latency by kind",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us .. ~0.8s, spans the Monte Carlo budget
	}, []string{"kind"})
)

// Persistence Metrics
var (
	// Database connections
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_database_connections_idle",
		Help: "Number of idle database connections",
	})

	// Database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtester_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	// Errors by component
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_errors_total",
		Help: "Total number of errors by type and component",
	}, []string{"type", "component"})
)

// Helper functions to update metrics

// RecordBacktestRun records one completed run: its outcome, wall-clock
// duration, and the bar/trade volume it processed.
func RecordBacktestRun(succeeded bool, durationSeconds float64, bars, trades int) {
	status := "success"
	if !succeeded {
		status = "failure"
	}
	BacktestRuns.WithLabelValues(status).Inc()
	BacktestDuration.Observe(durationSeconds)
	BarsProcessed.Add(float64(bars))
	TradesClosed.Add(float64(trades))
}

// RecordRunError records a run-level error with a normalized category.
func RecordRunError(err error) {
	if err == nil {
		return
	}
	RunErrors.WithLabelValues(NormalizeRunError(err)).Inc()
}

// RecordOptimizerTrial records one evaluated trial for a search method.
func RecordOptimizerTrial(method string, durationSeconds float64) {
	m := NormalizeOptimizerMethod(method)
	OptimizerTrials.WithLabelValues(m).Inc()
	OptimizerTrialDuration.WithLabelValues(m).Observe(durationSeconds)
}

// SetOptimizerBestScore updates the incumbent best objective score.
func SetOptimizerBestScore(method string, score float64) {
	OptimizerBestScore.WithLabelValues(NormalizeOptimizerMethod(method)).Set(score)
}

// RecordWalkForwardWindow records one completed walk-forward window.
func RecordWalkForwardWindow() {
	WalkForwardWindows.Inc()
}

// RecordRiskCalculation records a risk calculation with normalized kind.
func RecordRiskCalculation(kind string, durationSeconds float64) {
	k := NormalizeRiskCalc(kind)
	RiskCalculations.WithLabelValues(k).Inc()
	RiskCalculationDuration.WithLabelValues(k).Observe(durationSeconds)
}

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}
