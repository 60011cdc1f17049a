package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRunError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"validation", errors.New("initial_capital: must be positive"), RunErrorValidation},
		{"no data", errors.New("no symbol produced data"), RunErrorDataUnavailable},
		{"insufficient cash", errors.New("insufficient cash"), RunErrorInsufficientCash},
		{"oversold", errors.New("sell quantity exceeds held quantity"), RunErrorOversold},
		{"strategy", errors.New("strategy initialize: boom"), RunErrorStrategyFailure},
		{"accounting", errors.New("accounting identity violated: equity=1 expected=2"), RunErrorCritical},
		{"unknown", errors.New("something else entirely"), RunErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRunError(tt.err))
		})
	}
}

func TestNormalizeOptimizerMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"grid_search", MethodGridSearch},
		{"Grid", MethodGridSearch},
		{"random_search", MethodRandomSearch},
		{"walk_forward", MethodWalkForward},
		{"WalkForward", MethodWalkForward},
		{"genetic", MethodOther},
		{"", MethodOther},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOptimizerMethod(tt.method))
		})
	}
}

func TestNormalizeRiskCalc(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"var", RiskCalcVaR},
		{"historical_var", RiskCalcVaR},
		{"cvar", RiskCalcCVaR},
		{"expected_shortfall", RiskCalcCVaR},
		{"correlation_matrix", RiskCalcCorrelation},
		{"kelly", RiskCalcKelly},
		{"monte_carlo", RiskCalcMonteCarlo},
		{"portfolio_projection", RiskCalcMonteCarlo},
		{"stress_test", RiskCalcStressTest},
		{"unknown", RiskCalcOther},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRiskCalc(tt.kind))
		})
	}
}

func TestRecordBacktestRun(t *testing.T) {
	// Metric values are process-global so we only assert the helpers accept
	// the full range of inputs without panicking.
	assert.NotPanics(t, func() {
		RecordBacktestRun(true, 1.25, 5000, 42)
		RecordBacktestRun(false, 0, 0, 0)
		RecordBacktestRun(true, 600, 1_000_000, 10_000)
	})
}

func TestRecordRunError(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRunError(nil)
		RecordRunError(errors.New("insufficient cash"))
		RecordRunError(errors.New("mystery failure"))
	})
}

func TestRecordOptimizerTrial(t *testing.T) {
	tests := []struct {
		name            string
		method          string
		durationSeconds float64
	}{
		{"grid trial", "grid_search", 0.5},
		{"random trial", "random_search", 0.05},
		{"walk-forward trial", "walk_forward", 2.0},
		{"zero duration", "grid_search", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordOptimizerTrial(tt.method, tt.durationSeconds)
			})
		})
	}
}

func TestSetOptimizerBestScore(t *testing.T) {
	assert.NotPanics(t, func() {
		SetOptimizerBestScore("grid_search", 1.85)
		SetOptimizerBestScore("random_search", -0.4)
	})
}

func TestRecordWalkForwardWindow(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordWalkForwardWindow()
		RecordWalkForwardWindow()
	})
}

func TestRecordRiskCalculation(t *testing.T) {
	tests := []struct {
		kind            string
		durationSeconds float64
	}{
		{"var", 0.0002},
		{"cvar", 0.0003},
		{"monte_carlo", 0.35},
		{"stress_test", 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordRiskCalculation(tt.kind, tt.durationSeconds)
			})
		})
	}
}

func TestUpdateDatabaseConnections(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateDatabaseConnections(10, 3)
		UpdateDatabaseConnections(0, 0)
		UpdateDatabaseConnections(100, 50)
	})
}

func TestRecordDatabaseQuery(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDatabaseQuery("load_historical_prices", 12.5)
		RecordDatabaseQuery("save_run", 3.2)
		RecordDatabaseQuery("load_trade_stats", 0)
	})
}

func TestRecordError(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError("data_unavailable", "engine")
		RecordError("query_failed", "store")
		RecordError("", "")
	})
}
