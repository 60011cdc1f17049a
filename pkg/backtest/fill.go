package backtest

import "math"

// FillSimulatorConfig controls the behavior shared across order types.
type FillSimulatorConfig struct {
	FillOnClose         bool // reference price for Market orders: close if true, else open
	Slippage            SlippageModel
	Commission          CommissionModel
	RejectPartialFills  bool
	MaxOrderSizePctVol  float64 // reject if order quantity exceeds this fraction of bar volume
	AvgVolume           func(symbol string) float64
}

// FillSimulator maps an Order and a Bar to an optional Fill. It is a pure
// function of its inputs: no I/O, no randomness, never panics.
type FillSimulator struct {
	cfg FillSimulatorConfig
}

// NewFillSimulator constructs a simulator from the given configuration,
// applying sane defaults for unset fields.
func NewFillSimulator(cfg FillSimulatorConfig) *FillSimulator {
	if cfg.Slippage == nil {
		cfg.Slippage = PercentageSlippage{Percent: 0}
	}
	if cfg.Commission == nil {
		cfg.Commission = FixedCommission{Amount: 0}
	}
	if cfg.MaxOrderSizePctVol <= 0 {
		cfg.MaxOrderSizePctVol = 1.0
	}
	return &FillSimulator{cfg: cfg}
}

func (s *FillSimulator) avgVolume(symbol string, bar *Bar) float64 {
	if s.cfg.AvgVolume != nil {
		if v := s.cfg.AvgVolume(symbol); v > 0 {
			return v
		}
	}
	return bar.Volume
}

// Simulate attempts to fill order against bar. It returns nil if the order
// does not fill on this bar (e.g. a limit/stop condition is not met, or the
// order is rejected for exceeding the configured liquidity cap).
func (s *FillSimulator) Simulate(order *Order, bar *Bar) *Fill {
	if order == nil || bar == nil || order.Remaining() <= 0 {
		return nil
	}

	if s.cfg.RejectPartialFills {
		avgVol := s.avgVolume(order.Symbol, bar)
		if avgVol > 0 && order.Quantity > s.cfg.MaxOrderSizePctVol*avgVol {
			return nil
		}
	}

	switch order.Type {
	case OrderMarket:
		return s.simulateMarket(order, bar)
	case OrderLimit:
		return s.simulateLimit(order, bar)
	case OrderStop, OrderTakeProfit:
		return s.simulateStop(order, bar)
	case OrderStopLimit:
		return s.simulateStopLimit(order, bar)
	case OrderTrailingStop:
		return s.simulateTrailingStop(order, bar)
	default:
		return nil
	}
}

func (s *FillSimulator) referencePrice(bar *Bar) float64 {
	if s.cfg.FillOnClose {
		return bar.Close
	}
	return bar.Open
}

func (s *FillSimulator) simulateMarket(order *Order, bar *Bar) *Fill {
	ref := s.referencePrice(bar)
	amount := s.cfg.Slippage.Calculate(order, bar, s.avgVolume(order.Symbol, bar))
	price, slip := applySlippage(ref, order.Side, amount, s.cfg.Slippage.IsAbsolute())
	return s.makeFill(order, bar, price, slip)
}

func (s *FillSimulator) simulateLimit(order *Order, bar *Bar) *Fill {
	if order.LimitPrice == nil {
		return nil
	}
	limit := *order.LimitPrice
	var price float64
	switch order.Side {
	case SideBuy:
		if bar.Low > limit {
			return nil
		}
		price = math.Min(limit, bar.Open)
	case SideSell:
		if bar.High < limit {
			return nil
		}
		price = math.Max(limit, bar.Open)
	}
	return s.makeFill(order, bar, price, 0)
}

func (s *FillSimulator) simulateStop(order *Order, bar *Bar) *Fill {
	if order.StopPrice == nil {
		return nil
	}
	stop := *order.StopPrice
	triggered := false
	switch order.Side {
	case SideBuy:
		triggered = bar.High >= stop
	case SideSell:
		triggered = bar.Low <= stop
	}
	if !triggered {
		return nil
	}
	amount := s.cfg.Slippage.Calculate(order, bar, s.avgVolume(order.Symbol, bar))
	price, slip := applySlippage(stop, order.Side, amount, s.cfg.Slippage.IsAbsolute())
	return s.makeFill(order, bar, price, slip)
}

func (s *FillSimulator) simulateStopLimit(order *Order, bar *Bar) *Fill {
	if order.StopPrice == nil || order.LimitPrice == nil {
		return nil
	}
	stop := *order.StopPrice
	limit := *order.LimitPrice
	var triggered bool
	switch order.Side {
	case SideBuy:
		triggered = bar.High >= stop
	case SideSell:
		triggered = bar.Low <= stop
	}
	if !triggered {
		return nil
	}
	// Best-effort: once triggered, it fills subject to the limit condition
	// within the same bar; if the limit can't be satisfied this bar, no fill.
	var price float64
	switch order.Side {
	case SideBuy:
		if bar.Low > limit {
			return nil
		}
		price = math.Min(limit, math.Max(stop, bar.Open))
	case SideSell:
		if bar.High < limit {
			return nil
		}
		price = math.Max(limit, math.Min(stop, bar.Open))
	}
	return s.makeFill(order, bar, price, 0)
}

func (s *FillSimulator) simulateTrailingStop(order *Order, bar *Bar) *Fill {
	// TrailingStop's stop_price is expected to have already been updated for
	// this bar by the caller (the engine calls UpdateTrailingStop); here we
	// only evaluate the trigger, identically to a plain Stop order.
	return s.simulateStop(order, bar)
}

func (s *FillSimulator) makeFill(order *Order, bar *Bar, price float64, slippage float64) *Fill {
	if price <= 0 {
		return nil
	}
	qty := order.Remaining()
	commission := s.cfg.Commission.Calculate(qty, price)
	if commission < 0 {
		commission = 0
	}
	return &Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		Timestamp:  bar.Timestamp,
		Commission: commission,
		Slippage:   slippage * qty,
	}
}

// UpdateTrailingStop recomputes the trailing stop price for an order given
// the latest bar, tracking the high-water (sell side) or low-water (buy
// side) extreme by a fixed amount or percentage.
func UpdateTrailingStop(order *Order, bar *Bar) {
	if order.Type != OrderTrailingStop {
		return
	}
	trail := 0.0
	if order.TrailingAmount != nil {
		trail = *order.TrailingAmount
	} else if order.TrailingPercent != nil {
		ref := bar.Close
		trail = ref * (*order.TrailingPercent)
	} else {
		return
	}

	switch order.Side {
	case SideSell:
		candidate := bar.High - trail
		if order.StopPrice == nil || candidate > *order.StopPrice {
			order.StopPrice = &candidate
		}
	case SideBuy:
		candidate := bar.Low + trail
		if order.StopPrice == nil || candidate < *order.StopPrice {
			order.StopPrice = &candidate
		}
	}
}
