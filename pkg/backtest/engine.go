package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantlab/backtester/internal/metrics"
	"github.com/quantlab/backtester/internal/validation"
)

// SizingMethod selects how a Signal's notional quantity is computed when the
// signal itself does not specify PositionSize.
type SizingMethod string

const (
	SizingFixedDollar SizingMethod = "fixed_dollar"
	SizingPercent     SizingMethod = "percent_equity"
	SizingCustom      SizingMethod = "custom"
)

// BacktestConfig describes one backtest run.
type BacktestConfig struct {
	ID               string
	Symbols          []string
	StartDate        time.Time
	EndDate          time.Time
	InitialCapital   float64
	CommissionModel  CommissionModel
	SlippageModel    SlippageModel
	FillOnClose      bool
	SizingMethod     SizingMethod
	SizingParam      float64
	MaxPositions     int
	StrategyName     string
	RiskFreeRate     float64
	// PositionSizer, if set, overrides SizingMethod/SizingParam entirely.
	PositionSizer func(equity, price float64) float64
}

// Validate checks the config's static preconditions: an illegal config
// surfaces immediately and no run begins.
func (c BacktestConfig) Validate() error {
	v := validation.NewValidator()
	if c.InitialCapital <= 0 {
		v.AddError("initial_capital", "must be positive")
	}
	if len(c.Symbols) == 0 {
		v.AddError("symbols", "must not be empty")
	}
	if !c.StartDate.Before(c.EndDate) {
		v.AddError("start_date", "must be before end_date")
	}
	if c.MaxPositions < 0 {
		v.AddError("max_positions", "must not be negative")
	}
	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// BacktestResult is the owned value a run produces.
type BacktestResult struct {
	Config      BacktestConfig
	Trades      []*Trade
	EquityCurve []EquityCurvePoint
	Metrics     *PerformanceMetrics
	Events      []BacktestEvent
	FinalEquity float64
}

// Engine orchestrates Clock -> Strategy -> Order -> Fill -> Portfolio for one
// run. It exclusively owns its PortfolioTracker, FillSimulator, and
// EventQueue for the run's duration.
type Engine struct {
	cfg       BacktestConfig
	queue     *EventQueue
	clock     MarketClock
	portfolio *PortfolioTracker
	fillSim   *FillSimulator
	strategy  Strategy

	history    map[string][]*Bar
	currentBar map[string]*Bar
	lastClose  map[string]float64
	pending    []*Order // resting limit/stop orders awaiting a fill, FIFO
	events     []BacktestEvent

	exitReasons map[string]ExitReason // stop-loss/take-profit reason by exit-order ID

	stopped bool
}

// NewEngine constructs an Engine for cfg. cfg must already be valid.
func NewEngine(cfg BacktestConfig) *Engine {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = len(cfg.Symbols)
	}
	return &Engine{
		cfg: cfg,
		queue: NewEventQueue(),
		portfolio: NewPortfolioTracker(cfg.InitialCapital, cfg.StrategyName),
		fillSim: NewFillSimulator(FillSimulatorConfig{
			FillOnClose: cfg.FillOnClose,
			Slippage:    cfg.SlippageModel,
			Commission:  cfg.CommissionModel,
		}),
		history:    make(map[string][]*Bar),
		currentBar: make(map[string]*Bar),
		lastClose:  make(map[string]float64),
		events:     make([]BacktestEvent, 0),
	}
}

// Stop requests cooperative cancellation: checked at the top of each loop
// iteration. Remaining positions are still closed and a partial result is returned.
func (e *Engine) Stop() { e.stopped = true }

func (e *Engine) record(severity Severity, msg string, payload any) {
	e.events = append(e.events, BacktestEvent{
		Timestamp: e.clock.Now(),
		Severity:  severity,
		Message:   msg,
		Payload:   payload,
	})
}

// Run executes the full event-driven simulation and returns an owned
// BacktestResult. It returns an error for an invalid config or a failed
// strategy Initialize (before any bar is processed) and for a Critical
// failure; everything else (DataUnavailable, InsufficientCash,
// StrategyFailure) is recorded in the result's Events log and the run
// continues.
func (e *Engine) Run(ctx context.Context, provider DataProvider, strategy Strategy) (*BacktestResult, error) {
	runStart := time.Now()
	if err := e.cfg.Validate(); err != nil {
		metrics.RecordRunError(err)
		return nil, err
	}
	e.strategy = strategy

	if err := strategy.Initialize(); err != nil {
		err = fmt.Errorf("strategy initialize: %w", err)
		metrics.RecordRunError(err)
		return nil, err
	}

	anyData := false
	barsLoaded := 0
	for _, symbol := range e.cfg.Symbols {
		bars, err := provider.Load(ctx, symbol, e.cfg.StartDate.Unix(), e.cfg.EndDate.Unix())
		if err != nil {
			e.record(SeverityWarning, fmt.Sprintf("data unavailable for %s: %v", symbol, err), symbol)
			continue
		}
		if len(bars) == 0 {
			e.record(SeverityWarning, fmt.Sprintf("no bars for %s", symbol), symbol)
			continue
		}
		anyData = true
		barsLoaded += len(bars)
		for _, bar := range bars {
			e.queue.Push(&Event{Timestamp: bar.Timestamp, Priority: EventMarketData, Bar: bar})
		}
	}
	if !anyData {
		e.record(SeverityCritical, "no symbol produced data", nil)
		err := fmt.Errorf("no symbol produced data")
		metrics.RecordRunError(err)
		metrics.RecordBacktestRun(false, time.Since(runStart).Seconds(), 0, 0)
		return e.finish(), err
	}

	steps := 0
	for !e.queue.IsEmpty() && !e.stopped {
		select {
		case <-ctx.Done():
			e.stopped = true
			continue
		default:
		}

		ev := e.queue.Pop()
		e.clock.Advance(ev.Timestamp)

		switch ev.Priority {
		case EventMarketData:
			e.handleMarketData(ev.Bar)
		case EventSignal:
			e.handleSignal(ev.Signal)
		case EventOrder:
			e.handleOrder(ev.Order)
		case EventFill:
			e.handleFill(ev.Fill, ev.Order)
		}

		steps++
		if steps%1000 == 0 {
			log.Debug().Int("steps", steps).Int("queue_len", e.queue.Len()).Msg("backtest progress")
		}

		if err := e.portfolio.ValidateAccountingIdentity(); err != nil {
			e.record(SeverityCritical, err.Error(), nil)
			metrics.RecordRunError(err)
			metrics.RecordBacktestRun(false, time.Since(runStart).Seconds(), barsLoaded, len(e.portfolio.ClosedTrades))
			return e.finish(), err
		}
	}

	e.closeRemaining()

	if err := strategy.Cleanup(); err != nil {
		e.record(SeverityWarning, fmt.Sprintf("strategy cleanup: %v", err), nil)
	}

	result := e.finish()
	metrics.RecordBacktestRun(true, time.Since(runStart).Seconds(), barsLoaded, len(result.Trades))
	return result, nil
}

func (e *Engine) handleMarketData(bar *Bar) {
	e.currentBar[bar.Symbol] = bar
	e.lastClose[bar.Symbol] = bar.Close
	e.history[bar.Symbol] = append(e.history[bar.Symbol], bar)

	e.portfolio.UpdatePrices(map[string]float64{bar.Symbol: bar.Close}, bar.Timestamp)

	for _, trigger := range e.portfolio.CheckExitTriggers(bar) {
		pos := e.portfolio.Positions[trigger.Symbol]
		if pos == nil {
			continue
		}
		side := SideSell
		if pos.Side == PositionShort {
			side = SideBuy
		}
		stopPrice := trigger.Price
		order := &Order{
			ID:          uuid.NewString(),
			Symbol:      trigger.Symbol,
			Type:        OrderStop,
			Side:        side,
			Quantity:    pos.Quantity,
			StopPrice:   &stopPrice,
			TimeInForce: TIFIOC,
			CreatedAt:   bar.Timestamp,
			Status:      OrderPending,
		}
		if e.exitReasons == nil {
			e.exitReasons = make(map[string]ExitReason)
		}
		e.exitReasons[order.ID] = trigger.Reason
		e.queue.Push(&Event{Timestamp: bar.Timestamp, Priority: EventOrder, Order: order})
	}

	e.retryPendingOrders(bar)

	sig, err := e.strategy.OnBar(bar.Symbol, bar, e.history[bar.Symbol])
	if err != nil {
		e.record(SeverityError, fmt.Sprintf("strategy failure on %s: %v", bar.Symbol, err), bar)
		return
	}
	if sig == nil || sig.Action == ActionHold {
		return
	}
	sig.Timestamp = bar.Timestamp
	e.queue.Push(&Event{Timestamp: bar.Timestamp, Priority: EventSignal, Signal: sig})
}

// retryPendingOrders re-simulates every resting order for the bar's symbol:
// trailing stops ratchet their stop price against the new bar first, Day
// orders that outlived their creation bar expire, and everything else gets
// another Order event to attempt a fill against this bar.
func (e *Engine) retryPendingOrders(bar *Bar) {
	kept := e.pending[:0]
	for _, order := range e.pending {
		if order.Terminal() {
			continue
		}
		if order.Symbol != bar.Symbol {
			kept = append(kept, order)
			continue
		}
		if order.TimeInForce == TIFDay && bar.Timestamp.After(order.CreatedAt) {
			order.Status = OrderExpired
			continue
		}
		UpdateTrailingStop(order, bar)
		kept = append(kept, order)
		e.queue.Push(&Event{Timestamp: bar.Timestamp, Priority: EventOrder, Order: order})
	}
	e.pending = kept
}

func (e *Engine) isPending(id string) bool {
	for _, o := range e.pending {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) removePending(id string) {
	for i, o := range e.pending {
		if o.ID == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// validateOrder applies the order validator to a strategy-originated order
// before it may enter the event queue: an illegal order (missing limit price
// on a Limit, missing stop on a Stop) surfaces immediately as an ERROR event
// and is never simulated.
func validateOrder(order *Order) error {
	v := validation.NewOrderValidator()
	v.ValidateSide(string(order.Side))
	v.ValidateType(string(order.Type))
	v.ValidateQuantity(order.Quantity)
	v.ValidateLimitPrice(string(order.Type), order.LimitPrice)
	v.ValidateStopPrice(string(order.Type), order.StopPrice)
	v.ValidateTimeInForce(string(order.TimeInForce))
	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

func (e *Engine) handleSignal(sig *Signal) {
	order := e.signalToOrder(sig)
	if order == nil {
		return
	}
	if err := validateOrder(order); err != nil {
		e.record(SeverityError, fmt.Sprintf("illegal order from signal for %s: %v", sig.Symbol, err), sig)
		return
	}
	e.queue.Push(&Event{Timestamp: sig.Timestamp, Priority: EventOrder, Order: order})
}

func (e *Engine) signalToOrder(sig *Signal) *Order {
	bar := e.currentBar[sig.Symbol]
	if bar == nil {
		return nil
	}

	if sig.Action == ActionBuy {
		_, alreadyHeld := e.portfolio.Positions[sig.Symbol]
		if !alreadyHeld && len(e.portfolio.Positions) >= e.cfg.MaxPositions {
			e.record(SeverityWarning, fmt.Sprintf("max positions reached, skipping signal for %s", sig.Symbol), sig)
			return nil
		}
	}
	if sig.Action == ActionSell {
		if _, held := e.portfolio.Positions[sig.Symbol]; !held {
			return nil
		}
	}

	orderType := sig.OrderType
	if orderType == "" {
		orderType = OrderMarket
	}

	// EntryPrice is the requested execution level: the limit for a Limit
	// order, the trigger for Stop/StopLimit/TakeProfit. A StopLimit with no
	// separate limit leg uses the stop level for both.
	var limitPrice, stopPrice *float64
	switch orderType {
	case OrderLimit:
		limitPrice = sig.EntryPrice
	case OrderStop, OrderTakeProfit:
		stopPrice = sig.EntryPrice
	case OrderStopLimit:
		stopPrice = sig.EntryPrice
		limitPrice = sig.EntryPrice
	}

	price := bar.Close
	if !e.cfg.FillOnClose {
		price = bar.Open
	}
	if sig.EntryPrice != nil && *sig.EntryPrice > 0 {
		price = *sig.EntryPrice // size against the requested level, not the current bar
	}

	qty := e.quantityForSignal(sig, price)
	if qty <= 0 {
		return nil
	}

	side := SideBuy
	if sig.Action == ActionSell {
		side = SideSell
		if pos, held := e.portfolio.Positions[sig.Symbol]; held {
			qty = pos.Quantity // signals close the full position
		}
	}

	// Market orders execute against the current bar and expire with it;
	// resting order types stay working until filled or cancelled.
	tif := TIFDay
	if orderType != OrderMarket {
		tif = TIFGTC
	}

	order := &Order{
		ID:              uuid.NewString(),
		Symbol:          sig.Symbol,
		Type:            orderType,
		Side:            side,
		Quantity:        qty,
		LimitPrice:      limitPrice,
		StopPrice:       stopPrice,
		TrailingAmount:  sig.TrailingAmount,
		TrailingPercent: sig.TrailingPercent,
		TimeInForce:     tif,
		CreatedAt:       sig.Timestamp,
		Status:          OrderPending,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.TakeProfit,
		Signal:          sig,
	}
	return order
}

func (e *Engine) quantityForSignal(sig *Signal, price float64) float64 {
	if sig.PositionSize != nil && *sig.PositionSize > 0 {
		return *sig.PositionSize
	}
	if price <= 0 {
		return 0
	}
	if e.cfg.PositionSizer != nil {
		return e.cfg.PositionSizer(e.portfolio.Equity(), price)
	}
	switch e.cfg.SizingMethod {
	case SizingPercent:
		return (e.portfolio.Equity() * e.cfg.SizingParam) / price
	case SizingFixedDollar:
		return e.cfg.SizingParam / price
	default:
		return e.cfg.SizingParam / price
	}
}

func (e *Engine) handleOrder(order *Order) {
	if order.Terminal() {
		return
	}
	bar := e.currentBar[order.Symbol]
	if bar == nil {
		order.Status = OrderExpired
		return
	}
	fill := e.fillSim.Simulate(order, bar)
	if fill == nil {
		if order.TimeInForce == TIFIOC || order.TimeInForce == TIFFOK {
			order.Status = OrderCancelled
			e.removePending(order.ID)
			return
		}
		// Unfilled Day/GTC orders rest in the book; retryPendingOrders gives
		// them another attempt (and a trailing-stop update) on each new bar.
		if !e.isPending(order.ID) {
			e.pending = append(e.pending, order)
		}
		return
	}
	order.FilledQuantity += fill.Quantity
	order.Status = OrderFilled
	e.removePending(order.ID)
	e.queue.Push(&Event{Timestamp: fill.Timestamp, Priority: EventFill, Fill: fill, Order: order})
}

func (e *Engine) handleFill(fill *Fill, order *Order) {
	trade, err := e.portfolio.ApplyFill(fill)
	if err != nil {
		e.record(SeverityError, fmt.Sprintf("%v for %s", err, fill.Symbol), fill)
		return
	}

	// A fill of a stop-loss/take-profit exit order closes the trade with the
	// trigger's reason instead of the default Signal reason.
	if reason, ok := e.exitReasons[fill.OrderID]; ok {
		delete(e.exitReasons, fill.OrderID)
		if trade != nil {
			trade.ExitReason = reason
		}
	}

	// An entry fill (order carries stop_loss/take_profit from the
	// originating signal) attaches those levels to the freshly opened or
	// added-to position so CheckExitTriggers can act on them next bar.
	if order != nil && (order.StopLoss != nil || order.TakeProfit != nil) {
		if pos, ok := e.portfolio.Positions[fill.Symbol]; ok {
			if order.StopLoss != nil {
				pos.StopLoss = order.StopLoss
			}
			if order.TakeProfit != nil {
				pos.TakeProfit = order.TakeProfit
			}
		}
	}

	if err := e.strategy.OnFill(fill); err != nil {
		e.record(SeverityError, fmt.Sprintf("strategy OnFill failure: %v", err), fill)
	}
}

func (e *Engine) closeRemaining() {
	if len(e.portfolio.Positions) == 0 {
		return
	}
	finalTime := e.clock.Now()
	e.portfolio.CloseAllPositions(finalTime, e.lastClose, ExitEndOfBacktest)
}

func (e *Engine) finish() *BacktestResult {
	metrics := CalculateMetrics(MetricsInput{
		EquityCurve:      e.portfolio.EquityCurve,
		ClosedTrades:     e.portfolio.ClosedTrades,
		InitialCapital:   e.cfg.InitialCapital,
		Start:            e.cfg.StartDate,
		End:              e.cfg.EndDate,
		TotalCommissions: e.portfolio.TotalCommissions,
		TotalSlippage:    e.portfolio.TotalSlippage,
		RiskFreeRate:     e.cfg.RiskFreeRate,
	})
	return &BacktestResult{
		Config:      e.cfg,
		Trades:      e.portfolio.ClosedTrades,
		EquityCurve: e.portfolio.EquityCurve,
		Metrics:     metrics,
		Events:      e.events,
		FinalEquity: e.portfolio.Equity(),
	}
}
