package backtest

import (
	"context"
	"testing"
	"time"
)

// thresholdStrategy buys once price first reaches BuyAt and sells once it
// later reaches SellAt; it is the parameterized strategy S5's grid search
// sweeps over.
type thresholdStrategy struct {
	BuyAt, SellAt float64
	bought        bool
}

func (s *thresholdStrategy) Initialize() error    { return nil }
func (s *thresholdStrategy) Cleanup() error       { return nil }
func (s *thresholdStrategy) OnFill(f *Fill) error { return nil }
func (s *thresholdStrategy) OnBar(symbol string, bar *Bar, history []*Bar) (*Signal, error) {
	if !s.bought {
		if bar.Close >= s.BuyAt {
			s.bought = true
			return &Signal{Symbol: symbol, Action: ActionBuy, Timestamp: bar.Timestamp}, nil
		}
		return nil, nil
	}
	if bar.Close >= s.SellAt {
		return &Signal{Symbol: symbol, Action: ActionSell, Timestamp: bar.Timestamp}, nil
	}
	return nil, nil
}

func thresholdFactory(params ParameterSet) (Strategy, error) {
	buy := params["buy"].(float64)
	sell := params["sell"].(float64)
	return &thresholdStrategy{BuyAt: buy, SellAt: sell}, nil
}

func thresholdParams() []*Parameter {
	return []*Parameter{
		{Name: "buy", Type: ParamTypeFloat, Min: 95, Max: 100, Step: 5},
		{Name: "sell", Type: ParamTypeFloat, Min: 105, Max: 115, Step: 5},
	}
}

func TestGridSearchS5SixTrialsBestBuysEarliestSellsLatest(t *testing.T) {
	bars := uptrendBars("T", 90, 41) // closes 90..130
	cfg := baseConfig([]string{"T"}, 10_000)
	cfg.PositionSizer = func(equity, price float64) float64 { return 10 }

	opt := NewGridSearchOptimizer(thresholdFactory, OptimizationConfig{
		Objective:  ObjectiveMaximizeTotalReturn,
		Parameters: thresholdParams(),
	}, cfg)
	summary, err := opt.Optimize(context.Background(), map[string][]*Bar{"T": bars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalRuns != 6 {
		t.Fatalf("got %d trials, want 6", summary.TotalRuns)
	}
	if summary.ValidRuns != 6 {
		t.Fatalf("got %d valid trials, want 6", summary.ValidRuns)
	}
	if len(summary.TopResults) == 0 {
		t.Fatalf("expected at least one ranked result")
	}
	if summary.TopResults[0] != summary.BestResult {
		t.Errorf("results[0] must be the best result")
	}
	best := summary.BestResult
	if best.Parameters["buy"].(float64) != 95 || best.Parameters["sell"].(float64) != 115 {
		t.Errorf("got best params %+v, want buy=95 sell=115 (earliest buy, latest sell)", best.Parameters)
	}

	// Sorting law: no later element is strictly better than any earlier one.
	for i := 1; i < len(summary.TopResults); i++ {
		if summary.TopResults[i].Score > summary.TopResults[i-1].Score {
			t.Errorf("results not sorted descending at index %d: %v > %v", i, summary.TopResults[i].Score, summary.TopResults[i-1].Score)
		}
	}
}

func TestGridSearchRejectsIllegalRangeBeforeRunning(t *testing.T) {
	cfg := baseConfig([]string{"T"}, 10_000)
	opt := NewGridSearchOptimizer(thresholdFactory, OptimizationConfig{
		Objective: ObjectiveMaximizeTotalReturn,
		Parameters: []*Parameter{
			{Name: "buy", Type: ParamTypeFloat, Min: 100, Max: 95, Step: 5}, // min > max
			{Name: "sell", Type: ParamTypeFloat, Min: 105, Max: 115, Step: 5},
		},
	}, cfg)
	_, err := opt.Optimize(context.Background(), map[string][]*Bar{})
	if err == nil {
		t.Fatalf("expected a validation error for min > max, got nil")
	}
}

func TestOptimizationConfigValidate(t *testing.T) {
	valid := OptimizationConfig{Objective: ObjectiveMaximizeSharpe, Parameters: thresholdParams()}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	missing := OptimizationConfig{Parameters: thresholdParams()}
	if err := missing.Validate(); err == nil {
		t.Errorf("expected an error for a missing objective")
	}

	badDir := OptimizationConfig{Objective: ObjectiveMaximizeSharpe, Parameters: thresholdParams(), Direction: "sideways"}
	if err := badDir.Validate(); err == nil {
		t.Errorf("expected an error for an unknown direction")
	}

	badRange := OptimizationConfig{Objective: ObjectiveMaximizeSharpe, Parameters: []*Parameter{
		{Name: "p", Type: ParamTypeFloat, Min: 10, Max: 5},
	}}
	if err := badRange.Validate(); err == nil {
		t.Errorf("expected an error for min > max")
	}

	emptyDiscrete := OptimizationConfig{Objective: ObjectiveMaximizeSharpe, Parameters: []*Parameter{
		{Name: "mode", Type: ParamTypeString},
	}}
	if err := emptyDiscrete.Validate(); err == nil {
		t.Errorf("expected an error for an empty discrete value set")
	}
}

func TestGridSearchConstraintViolationsRankInvalidLast(t *testing.T) {
	bars := uptrendBars("T", 90, 41)
	cfg := baseConfig([]string{"T"}, 10_000)
	cfg.PositionSizer = func(equity, price float64) float64 { return 10 }

	opt := NewGridSearchOptimizer(thresholdFactory, OptimizationConfig{
		Objective:  ObjectiveMaximizeTotalReturn,
		Parameters: thresholdParams(),
		Constraints: []Constraint{{
			Name: "spread_at_least_15",
			Satisfied: func(ps ParameterSet) bool {
				return ps["sell"].(float64)-ps["buy"].(float64) >= 15
			},
		}},
	}, cfg)

	summary, err := opt.Optimize(context.Background(), map[string][]*Bar{"T": bars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (95,105) (100,105) (100,110) violate the spread constraint.
	if summary.TotalRuns != 6 {
		t.Fatalf("got %d trials, want 6 (violating combos still count as trials)", summary.TotalRuns)
	}
	if summary.ValidRuns != 3 {
		t.Fatalf("got %d valid trials, want 3", summary.ValidRuns)
	}
	if !summary.BestResult.Valid {
		t.Fatalf("best result must be a valid trial")
	}

	// Validity sorts first: every valid trial precedes every invalid one.
	seenInvalid := false
	for _, r := range summary.TopResults {
		if !r.Valid {
			seenInvalid = true
			if r.InvalidReason == "" {
				t.Errorf("invalid result must carry a reason")
			}
		} else if seenInvalid {
			t.Errorf("valid trial ranked after an invalid one")
		}
	}
	if !seenInvalid {
		t.Errorf("expected the constraint-violating trials to appear in the ranked results")
	}
}

func TestGridSearchDirectionMinimizePrefersLowestScore(t *testing.T) {
	bars := uptrendBars("T", 90, 41)
	cfg := baseConfig([]string{"T"}, 10_000)
	cfg.PositionSizer = func(equity, price float64) float64 { return 10 }

	// Minimizing total return inverts the ranking: latest buy, earliest sell.
	opt := NewGridSearchOptimizer(thresholdFactory, OptimizationConfig{
		Objective:  ObjectiveMaximizeTotalReturn,
		Direction:  DirectionMinimize,
		Parameters: thresholdParams(),
	}, cfg)
	summary, err := opt.Optimize(context.Background(), map[string][]*Bar{"T": bars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	best := summary.BestResult
	if best.Parameters["buy"].(float64) != 100 || best.Parameters["sell"].(float64) != 105 {
		t.Errorf("got best params %+v, want buy=100 sell=105 under minimize", best.Parameters)
	}
	for i := 1; i < len(summary.TopResults); i++ {
		if summary.TopResults[i].Score < summary.TopResults[i-1].Score {
			t.Errorf("results not sorted ascending under minimize at index %d", i)
		}
	}
}

func TestRandomSearchDeterministicWithSameSeed(t *testing.T) {
	bars := uptrendBars("T", 90, 41)
	cfg := baseConfig([]string{"T"}, 10_000)
	cfg.PositionSizer = func(equity, price float64) float64 { return 10 }
	params := []*Parameter{
		{Name: "buy", Type: ParamTypeFloat, Min: 91, Max: 120},
		{Name: "sell", Type: ParamTypeFloat, Min: 91, Max: 130},
	}

	run := func() *OptimizationSummary {
		opt := NewRandomSearchOptimizer(thresholdFactory, OptimizationConfig{
			Objective:  ObjectiveMaximizeTotalReturn,
			Parameters: params,
		}, cfg)
		opt.SetSeed(42)
		opt.SetBudget(20, 10)
		summary, err := opt.Optimize(context.Background(), map[string][]*Bar{"T": bars})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return summary
	}

	a, b := run(), run()
	if a.BestResult.Score != b.BestResult.Score {
		t.Errorf("same seed must reproduce the same best score: %v != %v", a.BestResult.Score, b.BestResult.Score)
	}
	if a.TotalRuns != b.TotalRuns {
		t.Errorf("same seed must reproduce the same effective run count: %v != %v", a.TotalRuns, b.TotalRuns)
	}
}

func TestRandomSearchDedupesByCanonicalKey(t *testing.T) {
	ps1 := ParameterSet{"buy": 95.0, "sell": 110.0}
	ps2 := ParameterSet{"sell": 110.0, "buy": 95.0}
	if ps1.canonicalKey() != ps2.canonicalKey() {
		t.Errorf("canonical key must be independent of map iteration order")
	}
}

func TestWalkForwardGeneratesWindowsAndOverfittingBands(t *testing.T) {
	bars := uptrendBars("T", 90, 400)
	cfg := baseConfig([]string{"T"}, 10_000)
	cfg.PositionSizer = func(equity, price float64) float64 { return 10 }

	opt := NewWalkForwardOptimizer(thresholdFactory, OptimizationConfig{
		Objective:  ObjectiveMaximizeTotalReturn,
		Parameters: thresholdParams(),
	}, cfg)
	opt.SetPeriods(60*24*time.Hour, 20*24*time.Hour)
	opt.SetWindowType(WindowRolling)

	summary, err := opt.Optimize(context.Background(), map[string][]*Bar{"T": bars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalWindows == 0 {
		t.Fatalf("expected at least one walk-forward window")
	}
	if summary.ConsistencyScore < 0 || summary.ConsistencyScore > 100 {
		t.Errorf("consistency score out of [0,100]: %v", summary.ConsistencyScore)
	}
	validSeverities := map[OverfittingSeverity]bool{
		OverfittingNone: true, OverfittingLow: true, OverfittingModerate: true,
		OverfittingHigh: true, OverfittingSevere: true,
	}
	if !validSeverities[summary.OverfittingSeverity] {
		t.Errorf("unexpected overfitting severity: %v", summary.OverfittingSeverity)
	}
}

func TestAnalyzeSensitivityNumericCorrelation(t *testing.T) {
	results := []*OptimizationResult{
		{Parameters: ParameterSet{"buy": 95.0}, Score: 10, Valid: true},
		{Parameters: ParameterSet{"buy": 100.0}, Score: 20, Valid: true},
		{Parameters: ParameterSet{"buy": 105.0}, Score: 30, Valid: true},
		{Parameters: ParameterSet{"buy": 50.0}, Score: 0, InvalidReason: "constraint violated"},
	}
	params := []*Parameter{{Name: "buy", Type: ParamTypeFloat}}
	sens := AnalyzeSensitivity(results, params)
	if len(sens) != 1 {
		t.Fatalf("expected one sensitivity entry")
	}
	if sens[0].Correlation < 0.99 {
		t.Errorf("expected near-perfect positive correlation over valid trials, got %v", sens[0].Correlation)
	}
}
