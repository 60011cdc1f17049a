package backtest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantlab/backtester/internal/metrics"
	"github.com/quantlab/backtester/internal/validation"
)

// ParamType identifies the kind of value a Parameter holds.
type ParamType string

const (
	ParamTypeInt    ParamType = "int"
	ParamTypeFloat  ParamType = "float"
	ParamTypeBool   ParamType = "bool"
	ParamTypeString ParamType = "string"
)

// Parameter describes one tunable dimension of a strategy's search space.
type Parameter struct {
	Name   string
	Type   ParamType
	Min    float64  // numeric types
	Max    float64  // numeric types
	Step   float64  // grid search step size
	Values []string // string/categorical types
}

// ParameterSet is one point in the search space.
type ParameterSet map[string]interface{}

// Clone returns a shallow copy safe to mutate independently.
func (ps ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(ps))
	for k, v := range ps {
		clone[k] = v
	}
	return clone
}

// canonicalKey renders a ParameterSet into a stable string for dedup and
// tie-breaking, sorted by field name so two equal sets always produce the
// same key regardless of map iteration order.
func (ps ParameterSet) canonicalKey() string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, ps[k])
	}
	return b.String()
}

// Direction says whether the objective is maximized or minimized.
type Direction string

const (
	DirectionMaximize Direction = "maximize"
	DirectionMinimize Direction = "minimize"
)

// better reports whether score a beats score b under the direction.
func (d Direction) better(a, b float64) bool {
	if d == DirectionMinimize {
		return a < b
	}
	return a > b
}

// Constraint restricts the searchable parameter space. A trial whose
// parameters violate a constraint is not backtested; it is still reported in
// the results as an invalid trial, ranked after every valid one.
type Constraint struct {
	Name      string
	Satisfied func(ParameterSet) bool
}

func violatedConstraint(constraints []Constraint, ps ParameterSet) (string, bool) {
	for _, c := range constraints {
		if c.Satisfied != nil && !c.Satisfied(ps) {
			return c.Name, true
		}
	}
	return "", false
}

// OptimizationMethod names a search algorithm.
type OptimizationMethod string

const (
	MethodGrid        OptimizationMethod = "grid"
	MethodRandom      OptimizationMethod = "random"
	MethodWalkForward OptimizationMethod = "walk_forward"
)

// OptimizationConfig bundles everything a search needs besides the strategy
// factory and the per-trial BacktestConfig: the method, the objective and
// its direction, the parameter ranges, any cross-parameter constraints, and
// the method options.
type OptimizationConfig struct {
	Method          OptimizationMethod
	Objective       ObjectiveFunction
	ObjectiveMetric string // display name recorded on the summary
	Direction       Direction
	Parameters      []*Parameter
	Constraints     []Constraint

	// Method options. Iterations, Seed and EarlyStoppingRounds apply to
	// random search; InSamplePeriod/OutSamplePeriod/WindowType to
	// walk-forward. Zero values fall back to each optimizer's defaults.
	Iterations          int
	Seed                int64
	EarlyStoppingRounds int
	InSamplePeriod      time.Duration
	OutSamplePeriod     time.Duration
	WindowType          WindowType
	Parallelism         int
}

// Validate checks the static preconditions shared by every method: an
// illegal objective, direction, or parameter range surfaces immediately and
// no search begins. Grid search additionally requires usable step sizes,
// checked in its own Optimize.
func (c OptimizationConfig) Validate() error {
	v := validation.NewValidator()
	if c.Objective == nil {
		v.AddError("objective", "is required")
	}
	switch c.Direction {
	case "", DirectionMaximize, DirectionMinimize:
	default:
		v.AddError("direction", fmt.Sprintf("unknown direction %q, must be maximize or minimize", c.Direction))
	}
	switch c.Method {
	case "", MethodGrid, MethodRandom, MethodWalkForward:
	default:
		v.AddError("method", fmt.Sprintf("unknown method %q", c.Method))
	}
	if len(c.Parameters) == 0 {
		v.AddError("parameters", "must not be empty")
	}
	if c.Iterations < 0 {
		v.AddError("iterations", "must not be negative")
	}
	if v.HasErrors() {
		return v.Errors()
	}
	return validateParameters(c.Parameters, false)
}

// validateParameters applies the parameter-range validator to every
// dimension. requireStep additionally enforces a usable grid step on
// non-pinned numeric ranges (grid search enumerates; random search samples
// and needs no step).
func validateParameters(params []*Parameter, requireStep bool) error {
	v := validation.NewParameterRangeValidator()
	for _, p := range params {
		switch p.Type {
		case ParamTypeInt, ParamTypeFloat:
			if p.Min == p.Max {
				continue // pinned value, nothing to step over
			}
			if requireStep {
				step := p.Step
				if step <= 0 {
					step = 1
				}
				v.ValidateContinuous(p.Name, p.Min, p.Max, step)
			} else if p.Min > p.Max {
				v.AddError(p.Name, fmt.Sprintf("min %v must not exceed max %v", p.Min, p.Max))
			}
		case ParamTypeString:
			v.ValidateDiscrete(p.Name, p.Values)
		}
	}
	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// OptimizationResult is one evaluated point of a search. Invalid trials
// (constraint violations, factory or run failures) carry Valid=false and an
// InvalidReason instead of metrics.
type OptimizationResult struct {
	Parameters    ParameterSet
	Metrics       *PerformanceMetrics
	Score         float64
	Rank          int
	Valid         bool
	InvalidReason string
	IsOutOfSample bool
}

// OptimizationSummary is the outcome of a full search.
type OptimizationSummary struct {
	Method          string
	TotalRuns       int
	ValidRuns       int
	Duration        time.Duration
	BestResult      *OptimizationResult
	TopResults      []*OptimizationResult
	ParameterRanges []*Parameter
	ObjectiveMetric string
	StartDate       time.Time
	EndDate         time.Time
}

// ObjectiveFunction reduces a scorecard to a single fitness value ranked in
// the configured direction.
type ObjectiveFunction func(*PerformanceMetrics) float64

// Predefined objectives covering the common single- and multi-metric cases.
var (
	ObjectiveMaximizeSharpe       ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.SharpeRatio }
	ObjectiveMaximizeSortino      ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.SortinoRatio }
	ObjectiveMaximizeCalmar       ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.CalmarRatio }
	ObjectiveMaximizeTotalReturn  ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.TotalReturnPct }
	ObjectiveMaximizeCAGR         ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.CAGR }
	ObjectiveMaximizeProfitFactor ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.ProfitFactor }
	ObjectiveMaximizeWinRate      ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.WinRate }
	ObjectiveMaximizeExpectancy   ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.Expectancy }
	// ObjectiveDrawdown pairs with DirectionMinimize.
	ObjectiveDrawdown ObjectiveFunction = func(m *PerformanceMetrics) float64 { return m.MaxDrawdownPct }

	// ObjectiveBalanced blends Sharpe, win rate and Calmar so a run can't win
	// purely by taking on concentrated drawdown risk.
	ObjectiveBalanced ObjectiveFunction = func(m *PerformanceMetrics) float64 {
		sharpe := math.Max(0, m.SharpeRatio)
		winRate := m.WinRate / 100.0
		calmar := math.Max(0, m.CalmarRatio)
		return 0.4*sharpe + 0.3*winRate + 0.3*calmar
	}
)

// StrategyFactory builds a fresh Strategy instance for one parameter set.
// Optimizers call this once per trial so strategies may hold mutable state.
type StrategyFactory func(params ParameterSet) (Strategy, error)

// sliceDataProvider serves bars already resident in memory, letting
// optimizers re-window the same dataset many times without re-hitting
// whatever DataProvider originally loaded it.
type sliceDataProvider struct {
	bars map[string][]*Bar
}

func newSliceDataProvider(bars map[string][]*Bar) *sliceDataProvider {
	return &sliceDataProvider{bars: bars}
}

func (p *sliceDataProvider) Load(ctx context.Context, symbol string, start, end int64) ([]*Bar, error) {
	var out []*Bar
	for _, b := range p.bars[symbol] {
		ts := b.Timestamp.Unix()
		if ts >= start && ts <= end {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *sliceDataProvider) HasData(ctx context.Context, symbol string, start, end int64) (bool, error) {
	bars, err := p.Load(ctx, symbol, start, end)
	return len(bars) > 0, err
}

func sliceWindow(bars map[string][]*Bar, start, end time.Time) map[string][]*Bar {
	filtered := make(map[string][]*Bar, len(bars))
	for symbol, candles := range bars {
		var sub []*Bar
		for _, c := range candles {
			if !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
				sub = append(sub, c)
			}
		}
		if len(sub) > 0 {
			filtered[symbol] = sub
		}
	}
	return filtered
}

func dataTimeRange(bars map[string][]*Bar) (start, end time.Time) {
	for _, candles := range bars {
		if len(candles) == 0 {
			continue
		}
		if start.IsZero() || candles[0].Timestamp.Before(start) {
			start = candles[0].Timestamp
		}
		last := candles[len(candles)-1].Timestamp
		if end.IsZero() || last.After(end) {
			end = last
		}
	}
	return start, end
}

// searchCore holds the state shared by every optimizer: the strategy
// factory, the OptimizationConfig, the per-trial BacktestConfig, and the
// worker-pool width.
type searchCore struct {
	factory  StrategyFactory
	cfg      OptimizationConfig
	backtest BacktestConfig
	parallel int
}

func newSearchCore(factory StrategyFactory, cfg OptimizationConfig, backtest BacktestConfig) searchCore {
	if cfg.Direction == "" {
		cfg.Direction = DirectionMaximize
	}
	parallel := cfg.Parallelism
	if parallel <= 0 {
		parallel = 4
	}
	return searchCore{factory: factory, cfg: cfg, backtest: backtest, parallel: parallel}
}

// SetParallelism bounds the number of concurrently evaluated trials.
func (sc *searchCore) SetParallelism(n int) {
	if n > 0 {
		sc.parallel = n
	}
}

// SetDirection overrides the objective's ranking direction.
func (sc *searchCore) SetDirection(d Direction) {
	if d == DirectionMaximize || d == DirectionMinimize {
		sc.cfg.Direction = d
	}
}

// SetConstraints replaces the cross-parameter constraints.
func (sc *searchCore) SetConstraints(constraints ...Constraint) {
	sc.cfg.Constraints = constraints
}

// runTrial evaluates one parameter set. Constraint violations and failed
// runs return an invalid result rather than nil, so the ranked output shows
// every trial the search touched.
func (sc *searchCore) runTrial(ctx context.Context, bars map[string][]*Bar, params ParameterSet, method string) *OptimizationResult {
	if name, violated := violatedConstraint(sc.cfg.Constraints, params); violated {
		return &OptimizationResult{Parameters: params, InvalidReason: fmt.Sprintf("constraint %q violated", name)}
	}

	trialStart := time.Now()
	strategy, err := sc.factory(params)
	if err != nil {
		log.Warn().Err(err).Msg("optimizer: strategy factory failed")
		return &OptimizationResult{Parameters: params, InvalidReason: fmt.Sprintf("strategy factory: %v", err)}
	}

	runCfg := sc.backtest
	if start, end := dataTimeRange(bars); !start.IsZero() {
		runCfg.StartDate, runCfg.EndDate = start, end
	}

	engine := NewEngine(runCfg)
	result, err := engine.Run(ctx, newSliceDataProvider(bars), strategy)
	metrics.RecordOptimizerTrial(method, time.Since(trialStart).Seconds())
	if err != nil {
		log.Warn().Err(err).Msg("optimizer: trial run failed")
		return &OptimizationResult{Parameters: params, InvalidReason: fmt.Sprintf("run failed: %v", err)}
	}

	return &OptimizationResult{
		Parameters: params,
		Metrics:    result.Metrics,
		Score:      sc.cfg.Objective(result.Metrics),
		Valid:      true,
	}
}

// rankAndTrim sorts results by (validity desc, objective in the configured
// direction, canonical parameter key) and assigns ranks. The tie-break keeps
// the final ordering deterministic regardless of completion order.
func rankAndTrim(results []*OptimizationResult, topN int, direction Direction) ([]*OptimizationResult, []*OptimizationResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Score != b.Score {
			return direction.better(a.Score, b.Score)
		}
		return a.Parameters.canonicalKey() < b.Parameters.canonicalKey()
	})
	for i, r := range results {
		r.Rank = i + 1
	}
	if topN > len(results) {
		topN = len(results)
	}
	return results, results[:topN]
}

func countValid(results []*OptimizationResult) int {
	n := 0
	for _, r := range results {
		if r.Valid {
			n++
		}
	}
	return n
}

// GridSearchOptimizer evaluates every combination of the configured
// Parameter ranges. Trials run concurrently behind a fixed-size semaphore.
type GridSearchOptimizer struct {
	searchCore
}

func NewGridSearchOptimizer(factory StrategyFactory, cfg OptimizationConfig, backtest BacktestConfig) *GridSearchOptimizer {
	return &GridSearchOptimizer{newSearchCore(factory, cfg, backtest)}
}

// Optimize runs the full Cartesian product of the parameter grid against
// bars and returns results ranked by (validity, objective score), best first.
func (opt *GridSearchOptimizer) Optimize(ctx context.Context, bars map[string][]*Bar) (*OptimizationSummary, error) {
	if err := opt.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grid search: %w", err)
	}
	if err := validateParameters(opt.cfg.Parameters, true); err != nil {
		return nil, fmt.Errorf("grid search: %w", err)
	}

	start := time.Now()
	combos := opt.generateCombinations()
	total := len(combos)
	if total == 0 {
		return nil, fmt.Errorf("grid search: parameter space is empty")
	}

	resultsCh := make(chan *OptimizationResult, total)
	sem := make(chan struct{}, opt.parallel)
	var wg sync.WaitGroup

	for _, ps := range combos {
		wg.Add(1)
		go func(ps ParameterSet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resultsCh <- opt.runTrial(ctx, bars, ps, "grid_search")
		}(ps)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var results []*OptimizationResult
	for r := range resultsCh {
		results = append(results, r)
	}
	if countValid(results) == 0 {
		return nil, fmt.Errorf("grid search: every trial failed")
	}

	all, top := rankAndTrim(results, 10, opt.cfg.Direction)
	metrics.SetOptimizerBestScore("grid_search", all[0].Score)
	return &OptimizationSummary{
		Method:          "grid_search",
		TotalRuns:       total,
		ValidRuns:       countValid(results),
		Duration:        time.Since(start),
		ParameterRanges: opt.cfg.Parameters,
		ObjectiveMetric: opt.cfg.ObjectiveMetric,
		BestResult:      all[0],
		TopResults:      top,
	}, nil
}

func (opt *GridSearchOptimizer) generateCombinations() []ParameterSet {
	if len(opt.cfg.Parameters) == 0 {
		return nil
	}
	return opt.expand(0, ParameterSet{})
}

func (opt *GridSearchOptimizer) expand(idx int, current ParameterSet) []ParameterSet {
	if idx >= len(opt.cfg.Parameters) {
		return []ParameterSet{current.Clone()}
	}
	p := opt.cfg.Parameters[idx]
	var out []ParameterSet
	switch p.Type {
	case ParamTypeInt:
		step := p.Step
		if step <= 0 {
			step = 1
		}
		for v := p.Min; v <= p.Max; v += step {
			next := current.Clone()
			next[p.Name] = int(v)
			out = append(out, opt.expand(idx+1, next)...)
		}
	case ParamTypeFloat:
		step := p.Step
		if step <= 0 {
			step = 1
		}
		for v := p.Min; v <= p.Max+1e-9; v += step {
			next := current.Clone()
			next[p.Name] = v
			out = append(out, opt.expand(idx+1, next)...)
		}
	case ParamTypeBool:
		for _, v := range []bool{false, true} {
			next := current.Clone()
			next[p.Name] = v
			out = append(out, opt.expand(idx+1, next)...)
		}
	case ParamTypeString:
		for _, v := range p.Values {
			next := current.Clone()
			next[p.Name] = v
			out = append(out, opt.expand(idx+1, next)...)
		}
	}
	return out
}

// RandomSearchOptimizer draws a bounded number of uniformly random points
// from the parameter space instead of enumerating it. Each trial's parameter
// set is deduplicated by canonical key. Every sampled trial is evaluated;
// early stopping is then applied in sampling order, and trials after the
// first run of earlyStopAfter consecutive non-improving trials are dropped
// from the results.
type RandomSearchOptimizer struct {
	searchCore
	maxTrials      int
	earlyStopAfter int // consecutive non-improving trials before stopping
	seed           int64
}

func NewRandomSearchOptimizer(factory StrategyFactory, cfg OptimizationConfig, backtest BacktestConfig) *RandomSearchOptimizer {
	opt := &RandomSearchOptimizer{
		searchCore:     newSearchCore(factory, cfg, backtest),
		maxTrials:      100,
		earlyStopAfter: 25,
		seed:           time.Now().UnixNano(),
	}
	if cfg.Iterations > 0 {
		opt.maxTrials = cfg.Iterations
	}
	if cfg.EarlyStoppingRounds > 0 {
		opt.earlyStopAfter = cfg.EarlyStoppingRounds
	}
	if cfg.Seed != 0 {
		opt.seed = cfg.Seed
	}
	return opt
}

// SetSeed fixes the PRNG seed for reproducible trial sequences.
func (opt *RandomSearchOptimizer) SetSeed(seed int64) { opt.seed = seed }

// SetBudget bounds the number of trials and the early-stop patience.
func (opt *RandomSearchOptimizer) SetBudget(maxTrials, earlyStopAfter int) {
	if maxTrials > 0 {
		opt.maxTrials = maxTrials
	}
	if earlyStopAfter > 0 {
		opt.earlyStopAfter = earlyStopAfter
	}
}

func (opt *RandomSearchOptimizer) sample(rng *rand.Rand) ParameterSet {
	ps := make(ParameterSet, len(opt.cfg.Parameters))
	for _, p := range opt.cfg.Parameters {
		switch p.Type {
		case ParamTypeInt:
			lo, hi := int(p.Min), int(p.Max)
			if hi < lo {
				hi = lo
			}
			ps[p.Name] = lo + rng.Intn(hi-lo+1)
		case ParamTypeFloat:
			ps[p.Name] = p.Min + rng.Float64()*(p.Max-p.Min)
		case ParamTypeBool:
			ps[p.Name] = rng.Float64() < 0.5
		case ParamTypeString:
			if len(p.Values) > 0 {
				ps[p.Name] = p.Values[rng.Intn(len(p.Values))]
			}
		}
	}
	return ps
}

// Optimize draws random parameter sets, evaluates them with bounded
// concurrency via errgroup, and keeps only the trials up to the point where
// improvement stalled.
func (opt *RandomSearchOptimizer) Optimize(ctx context.Context, bars map[string][]*Bar) (*OptimizationSummary, error) {
	if err := opt.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("random search: %w", err)
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(opt.seed)) // #nosec G404 -- reproducible search sampling, not cryptographic

	seen := make(map[string]bool)
	var pending []ParameterSet
	for len(pending) < opt.maxTrials {
		ps := opt.sample(rng)
		key := ps.canonicalKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		pending = append(pending, ps)
	}

	results := make([]*OptimizationResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.parallel)

	for i, ps := range pending {
		i, ps := i, ps
		g.Go(func() error {
			results[i] = opt.runTrial(gctx, bars, ps, "random_search")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if countValid(results) == 0 {
		return nil, fmt.Errorf("random search: every trial failed")
	}

	// Emulate early stopping over the sampling order: once earlyStopAfter
	// consecutive trials fail to beat the running best in the configured
	// direction, the later trials are dropped, so the ranking, TotalRuns and
	// ValidRuns all reflect the truncated budget rather than the full sample.
	effectiveRuns := len(results)
	haveBest := false
	var best float64
	stale := 0
	for i, r := range results {
		if r.Valid && (!haveBest || opt.cfg.Direction.better(r.Score, best)) {
			best = r.Score
			haveBest = true
			stale = 0
		} else {
			stale++
		}
		if haveBest && stale >= opt.earlyStopAfter {
			effectiveRuns = i + 1
			break
		}
	}
	results = results[:effectiveRuns]

	all, top := rankAndTrim(results, 10, opt.cfg.Direction)
	metrics.SetOptimizerBestScore("random_search", all[0].Score)
	return &OptimizationSummary{
		Method:          "random_search",
		TotalRuns:       effectiveRuns,
		ValidRuns:       countValid(results),
		Duration:        time.Since(start),
		ParameterRanges: opt.cfg.Parameters,
		ObjectiveMetric: opt.cfg.ObjectiveMetric,
		BestResult:      all[0],
		TopResults:      top,
	}, nil
}

// WindowType selects how successive walk-forward in-sample windows relate to
// each other: Rolling windows slide forward keeping a fixed length, Anchored
// windows keep the same start and grow.
type WindowType string

const (
	WindowRolling  WindowType = "rolling"
	WindowAnchored WindowType = "anchored"
)

// OverfittingSeverity buckets the in-sample/out-of-sample score degradation
// a walk-forward run exhibits.
type OverfittingSeverity string

const (
	OverfittingNone     OverfittingSeverity = "none"
	OverfittingLow      OverfittingSeverity = "low"
	OverfittingModerate OverfittingSeverity = "moderate"
	OverfittingHigh     OverfittingSeverity = "high"
	OverfittingSevere   OverfittingSeverity = "severe"
)

// classifyOverfitting maps a fractional degradation (0.10 = in-sample scored
// 10% better than out-of-sample) to a severity band.
func classifyOverfitting(degradation float64) OverfittingSeverity {
	switch {
	case degradation < 0.05:
		return OverfittingNone
	case degradation < 0.15:
		return OverfittingLow
	case degradation < 0.30:
		return OverfittingModerate
	case degradation < 0.50:
		return OverfittingHigh
	default:
		return OverfittingSevere
	}
}

// WalkForwardWindow is one train/test split.
type WalkForwardWindow struct {
	InSampleStart  time.Time
	InSampleEnd    time.Time
	OutSampleStart time.Time
	OutSampleEnd   time.Time
}

// WalkForwardStep pairs a window with its in-sample optimization result and
// the resulting out-of-sample evaluation.
type WalkForwardStep struct {
	Window      WalkForwardWindow
	InSample    *OptimizationResult
	OutSample   *OptimizationResult
	Degradation float64
}

// WalkForwardSummary is the outcome of a full walk-forward analysis.
type WalkForwardSummary struct {
	Steps                []WalkForwardStep
	TotalWindows         int
	OutperformingWindows int // windows where out-of-sample met or beat in-sample in the configured direction
	ConsistencyScore     float64
	OverfittingSeverity  OverfittingSeverity
	Duration             time.Duration
	StartDate            time.Time
	EndDate              time.Time
}

// WalkForwardOptimizer re-optimizes on a rolling or anchored in-sample
// window and validates the winner on the adjacent out-of-sample window,
// repeating across the full dataset.
type WalkForwardOptimizer struct {
	searchCore
	inSamplePeriod  time.Duration
	outSamplePeriod time.Duration
	windowType      WindowType
	useRandomSearch bool
}

func NewWalkForwardOptimizer(factory StrategyFactory, cfg OptimizationConfig, backtest BacktestConfig) *WalkForwardOptimizer {
	opt := &WalkForwardOptimizer{
		searchCore:      newSearchCore(factory, cfg, backtest),
		inSamplePeriod:  180 * 24 * time.Hour,
		outSamplePeriod: 30 * 24 * time.Hour,
		windowType:      WindowRolling,
	}
	if cfg.InSamplePeriod > 0 {
		opt.inSamplePeriod = cfg.InSamplePeriod
	}
	if cfg.OutSamplePeriod > 0 {
		opt.outSamplePeriod = cfg.OutSamplePeriod
	}
	if cfg.WindowType != "" {
		opt.windowType = cfg.WindowType
	}
	return opt
}

func (opt *WalkForwardOptimizer) SetPeriods(inSample, outSample time.Duration) {
	opt.inSamplePeriod, opt.outSamplePeriod = inSample, outSample
}

func (opt *WalkForwardOptimizer) SetWindowType(t WindowType) { opt.windowType = t }

// UseRandomSearch switches the per-window in-sample search from grid to
// random search, useful when the parameter grid is too large to enumerate.
func (opt *WalkForwardOptimizer) UseRandomSearch(use bool) { opt.useRandomSearch = use }

func (opt *WalkForwardOptimizer) generateWindows(start, end time.Time) []WalkForwardWindow {
	var windows []WalkForwardWindow
	anchorStart := start
	cursor := start
	for {
		inStart := anchorStart
		if opt.windowType == WindowRolling {
			inStart = cursor
		}
		inEnd := cursor.Add(opt.inSamplePeriod)
		outStart := inEnd
		outEnd := outStart.Add(opt.outSamplePeriod)
		if outEnd.After(end) {
			break
		}
		windows = append(windows, WalkForwardWindow{
			InSampleStart: inStart, InSampleEnd: inEnd,
			OutSampleStart: outStart, OutSampleEnd: outEnd,
		})
		cursor = cursor.Add(opt.outSamplePeriod)
	}
	return windows
}

// Optimize walks the dataset window by window, reporting the consistency of
// out-of-sample performance across windows and an overfitting severity
// classification derived from in-sample/out-of-sample score decay.
func (opt *WalkForwardOptimizer) Optimize(ctx context.Context, bars map[string][]*Bar) (*WalkForwardSummary, error) {
	if err := opt.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("walk-forward: %w", err)
	}
	if !opt.useRandomSearch {
		if err := validateParameters(opt.cfg.Parameters, true); err != nil {
			return nil, fmt.Errorf("walk-forward: %w", err)
		}
	}

	start := time.Now()
	dataStart, dataEnd := dataTimeRange(bars)
	windows := opt.generateWindows(dataStart, dataEnd)
	if len(windows) == 0 {
		return nil, fmt.Errorf("walk-forward: dataset too short for the configured window sizes")
	}

	var steps []WalkForwardStep
	for i, w := range windows {
		inData := sliceWindow(bars, w.InSampleStart, w.InSampleEnd)
		outData := sliceWindow(bars, w.OutSampleStart, w.OutSampleEnd)

		var inSampleBest *OptimizationResult
		if opt.useRandomSearch {
			rs := NewRandomSearchOptimizer(opt.factory, opt.cfg, opt.backtest)
			rs.SetParallelism(opt.parallel)
			summary, err := rs.Optimize(ctx, inData)
			if err != nil {
				log.Warn().Err(err).Int("window", i+1).Msg("walk-forward: in-sample search failed")
				continue
			}
			inSampleBest = summary.BestResult
		} else {
			gs := NewGridSearchOptimizer(opt.factory, opt.cfg, opt.backtest)
			gs.SetParallelism(opt.parallel)
			summary, err := gs.Optimize(ctx, inData)
			if err != nil {
				log.Warn().Err(err).Int("window", i+1).Msg("walk-forward: in-sample search failed")
				continue
			}
			inSampleBest = summary.BestResult
		}

		outResult := opt.runTrial(ctx, outData, inSampleBest.Parameters, "walk_forward")
		if !outResult.Valid {
			log.Warn().Str("reason", outResult.InvalidReason).Int("window", i+1).Msg("walk-forward: out-of-sample run failed")
			continue
		}
		outResult.IsOutOfSample = true
		metrics.RecordWalkForwardWindow()

		// Positive degradation means out-of-sample was worse than in-sample
		// in the configured direction.
		degradation := 0.0
		if inSampleBest.Score != 0 {
			if opt.cfg.Direction == DirectionMinimize {
				degradation = (outResult.Score - inSampleBest.Score) / math.Abs(inSampleBest.Score)
			} else {
				degradation = (inSampleBest.Score - outResult.Score) / math.Abs(inSampleBest.Score)
			}
		}
		steps = append(steps, WalkForwardStep{
			Window: w, InSample: inSampleBest, OutSample: outResult, Degradation: degradation,
		})
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("walk-forward: every window failed")
	}

	oosScores := make([]float64, len(steps))
	outperforming := 0
	var degradations []float64
	for i, s := range steps {
		oosScores[i] = s.OutSample.Score
		degradations = append(degradations, s.Degradation)
		if s.Degradation <= 0 {
			outperforming++
		}
	}

	consistency := consistencyScore(oosScores)
	avgDegradation := meanOf(degradations)

	return &WalkForwardSummary{
		Steps:                steps,
		TotalWindows:         len(steps),
		OutperformingWindows: outperforming,
		ConsistencyScore:     consistency,
		OverfittingSeverity:  classifyOverfitting(avgDegradation),
		Duration:             time.Since(start),
		StartDate:            dataStart,
		EndDate:              dataEnd,
	}, nil
}

// consistencyScore condenses the spread of out-of-sample scores across
// windows into a single 0-100 figure: 100 means every window scored
// identically, 0 means the coefficient of variation is 1 or worse.
func consistencyScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	mean := meanOf(scores)
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(scores))
	stdev := math.Sqrt(variance)
	cv := math.Abs(stdev / mean)
	score := 100 - 100*cv
	return math.Max(0, math.Min(100, score))
}

// ParameterSensitivity reports how strongly one numeric parameter's value
// correlates with the objective score across a completed search's results.
type ParameterSensitivity struct {
	Parameter   string
	Correlation float64            // Pearson correlation, numeric parameters only
	MeanByValue map[string]float64 // categorical/bool parameters
}

// AnalyzeSensitivity computes a ParameterSensitivity for each parameter in
// params using the scored results of a prior search. Invalid trials carry no
// meaningful score and are excluded.
func AnalyzeSensitivity(results []*OptimizationResult, params []*Parameter) []ParameterSensitivity {
	out := make([]ParameterSensitivity, 0, len(params))
	for _, p := range params {
		switch p.Type {
		case ParamTypeInt, ParamTypeFloat:
			xs := make([]float64, 0, len(results))
			ys := make([]float64, 0, len(results))
			for _, r := range results {
				if !r.Valid {
					continue
				}
				v, ok := numericValue(r.Parameters[p.Name])
				if !ok {
					continue
				}
				xs = append(xs, v)
				ys = append(ys, r.Score)
			}
			out = append(out, ParameterSensitivity{Parameter: p.Name, Correlation: pearson(xs, ys)})
		default:
			buckets := make(map[string][]float64)
			for _, r := range results {
				if !r.Valid {
					continue
				}
				key := fmt.Sprintf("%v", r.Parameters[p.Name])
				buckets[key] = append(buckets[key], r.Score)
			}
			means := make(map[string]float64, len(buckets))
			for k, vs := range buckets {
				means[k] = meanOf(vs)
			}
			out = append(out, ParameterSensitivity{Parameter: p.Name, MeanByValue: means})
		}
	}
	return out
}

func numericValue(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// pearson computes the Pearson correlation coefficient between xs and ys,
// returning 0 when either series has no variance.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	meanX, meanY := meanOf(xs), meanOf(ys)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
