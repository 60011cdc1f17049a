package backtest

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientCash is returned when applying a buy fill would drive cash negative.
var ErrInsufficientCash = errors.New("insufficient cash")

// ErrOversoldQuantity is returned when a fill would close more quantity than is held.
var ErrOversoldQuantity = errors.New("sell quantity exceeds held quantity")

// PortfolioTracker owns cash, open positions, closed trades, and the equity
// curve for one backtest run. It is the sole mutator of portfolio state;
// the BacktestEngine owns one exclusively for the run's duration.
type PortfolioTracker struct {
	Cash              float64
	Positions         map[string]*Position
	ClosedTrades      []*Trade
	EquityCurve       []EquityCurvePoint
	TotalCommissions  float64
	TotalSlippage     float64
	PeakEquity        float64
	CurrentDrawdown   float64
	initialCapital    float64
	strategyName      string
}

// NewPortfolioTracker creates a tracker seeded with initialCapital cash.
func NewPortfolioTracker(initialCapital float64, strategyName string) *PortfolioTracker {
	return &PortfolioTracker{
		Cash:           initialCapital,
		Positions:      make(map[string]*Position),
		ClosedTrades:   make([]*Trade, 0),
		EquityCurve:    make([]EquityCurvePoint, 0),
		PeakEquity:     initialCapital,
		initialCapital: initialCapital,
		strategyName:   strategyName,
	}
}

// Equity returns cash plus the market value of all open positions, using
// each position's last-updated CurrentPrice/MarketValue (no bar lookup).
func (p *PortfolioTracker) Equity() float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		total += pos.MarketValue
	}
	return total
}

// ApplyFill applies a single fill to cash and positions, following the
// weighted-average-cost and realized-P&L rules of the data model. It never
// mutates state on a rejected fill: InsufficientCash and OversoldQuantity
// errors leave the portfolio untouched.
func (p *PortfolioTracker) ApplyFill(fill *Fill) (*Trade, error) {
	existing := p.Positions[fill.Symbol]

	if existing == nil {
		return nil, p.openPosition(fill)
	}

	sameDirection := (existing.Side == PositionLong && fill.Side == SideBuy) ||
		(existing.Side == PositionShort && fill.Side == SideSell)

	if sameDirection {
		return nil, p.addToPosition(existing, fill)
	}
	return p.reducePosition(existing, fill)
}

func (p *PortfolioTracker) openPosition(fill *Fill) error {
	cost := fill.Quantity*fill.Price + fill.Commission + fill.Slippage
	side := PositionLong
	var cashDelta float64
	if fill.Side == SideBuy {
		cashDelta = -cost
		if p.Cash+cashDelta < -1e-9 {
			return ErrInsufficientCash
		}
	} else {
		side = PositionShort
		proceeds := fill.Quantity*fill.Price - fill.Commission - fill.Slippage
		cashDelta = proceeds
	}

	p.Cash += cashDelta
	p.TotalCommissions += fill.Commission
	p.TotalSlippage += fill.Slippage

	p.Positions[fill.Symbol] = &Position{
		Symbol:          fill.Symbol,
		Side:            side,
		Quantity:        fill.Quantity,
		AvgEntryPrice:   fill.Price,
		EntryTime:       fill.Timestamp,
		CurrentPrice:    fill.Price,
		MarketValue:     fill.Quantity * fill.Price,
		HighestPrice:    fill.Price,
		LowestPrice:     fill.Price,
		EntryCommission: fill.Commission,
		EntrySlippage:   fill.Slippage,
	}
	return nil
}

func (p *PortfolioTracker) addToPosition(pos *Position, fill *Fill) error {
	cost := fill.Quantity*fill.Price + fill.Commission + fill.Slippage

	if fill.Side == SideBuy {
		if p.Cash-cost < -1e-9 {
			return ErrInsufficientCash
		}
		p.Cash -= cost
	} else {
		proceeds := fill.Quantity*fill.Price - fill.Commission - fill.Slippage
		p.Cash += proceeds
	}

	newQty := pos.Quantity + fill.Quantity
	pos.AvgEntryPrice = (pos.Quantity*pos.AvgEntryPrice + fill.Quantity*fill.Price) / newQty
	pos.Quantity = newQty
	pos.EntryCommission += fill.Commission
	pos.EntrySlippage += fill.Slippage
	p.TotalCommissions += fill.Commission
	p.TotalSlippage += fill.Slippage
	return nil
}

// reducePosition handles a fill on the opposite side of an existing
// position: a Sell against a Long, or a Buy against a Short.
func (p *PortfolioTracker) reducePosition(pos *Position, fill *Fill) (*Trade, error) {
	if fill.Quantity > pos.Quantity+1e-9 {
		return nil, ErrOversoldQuantity
	}

	fraction := fill.Quantity / pos.Quantity
	allocatedEntryCost := fraction * (pos.EntryCommission + pos.EntrySlippage)

	var gross float64
	if pos.Side == PositionLong {
		gross = fill.Quantity * (fill.Price - pos.AvgEntryPrice)
		p.Cash += fill.Quantity*fill.Price - fill.Commission - fill.Slippage
	} else {
		gross = fill.Quantity * (pos.AvgEntryPrice - fill.Price)
		p.Cash -= fill.Quantity*fill.Price + fill.Commission + fill.Slippage
	}
	net := gross - allocatedEntryCost - fill.Commission - fill.Slippage

	p.TotalCommissions += fill.Commission
	p.TotalSlippage += fill.Slippage

	fullyClosed := fill.Quantity >= pos.Quantity-1e-9
	if !fullyClosed {
		pos.Quantity -= fill.Quantity
		pos.RealizedPnL += net
		pos.EntryCommission -= fraction * pos.EntryCommission
		pos.EntrySlippage -= fraction * pos.EntrySlippage
		return nil, nil
	}

	trade := p.closeTrade(pos, fill.Quantity, fill.Price, fill.Timestamp, ExitSignal, gross, fill.Commission, fill.Slippage, net)
	delete(p.Positions, fill.Symbol)
	return trade, nil
}

func (p *PortfolioTracker) closeTrade(pos *Position, qty, exitPrice float64, exitTime time.Time, reason ExitReason, gross, commission, slippage, net float64) *Trade {
	returnPct := 0.0
	if pos.AvgEntryPrice != 0 {
		if pos.Side == PositionLong {
			returnPct = (exitPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice
		} else {
			returnPct = (pos.AvgEntryPrice - exitPrice) / pos.AvgEntryPrice
		}
	}
	rValue := 0.0
	if pos.StopLoss != nil {
		risk := qty * absFloat(pos.AvgEntryPrice-*pos.StopLoss)
		if risk > 0 {
			rValue = net / risk
		}
	}
	trade := &Trade{
		ID:           uuid.NewString(),
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		EntryTime:    pos.EntryTime,
		EntryPrice:   pos.AvgEntryPrice,
		ExitTime:     exitTime,
		ExitPrice:    exitPrice,
		Quantity:     qty,
		ExitReason:   reason,
		GrossPnL:     gross + pos.RealizedPnL,
		Commission:   commission,
		Slippage:     slippage,
		NetPnL:       net + pos.RealizedPnL,
		ReturnPct:    returnPct,
		MAE:          pos.MAE,
		MFE:          pos.MFE,
		RValue:       rValue,
		HoldDuration: exitTime.Sub(pos.EntryTime),
		StrategyName: p.strategyName,
	}
	p.ClosedTrades = append(p.ClosedTrades, trade)
	return trade
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// UpdatePrices refreshes every open position's mark-to-market fields from
// the given per-symbol close price, appends one EquityCurvePoint, and
// updates peak-equity/drawdown tracking. It is called once per MarketData
// event processed.
func (p *PortfolioTracker) UpdatePrices(prices map[string]float64, timestamp time.Time) {
	for symbol, pos := range p.Positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		if price > pos.HighestPrice {
			pos.HighestPrice = price
		}
		if pos.LowestPrice == 0 || price < pos.LowestPrice {
			pos.LowestPrice = price
		}

		if pos.Side == PositionLong {
			pos.MarketValue = pos.Quantity * price
			pos.UnrealizedPnL = pos.Quantity * (price - pos.AvgEntryPrice)
		} else {
			pos.MarketValue = pos.Quantity * price
			pos.UnrealizedPnL = pos.Quantity * (pos.AvgEntryPrice - price)
		}
		if pos.AvgEntryPrice != 0 {
			pos.UnrealizedPnLPct = pos.UnrealizedPnL / (pos.Quantity * pos.AvgEntryPrice)
		}

		if pos.UnrealizedPnL > pos.MFE {
			pos.MFE = pos.UnrealizedPnL
		}
		if pos.UnrealizedPnL < pos.MAE {
			pos.MAE = pos.UnrealizedPnL
		}
	}

	equity := p.Equity()
	if equity > p.PeakEquity {
		p.PeakEquity = equity
	}
	drawdown := 0.0
	if p.PeakEquity > 0 {
		drawdown = (p.PeakEquity - equity) / p.PeakEquity
	}
	p.CurrentDrawdown = drawdown

	positionsValue := equity - p.Cash
	point := EquityCurvePoint{
		Timestamp:      timestamp,
		Cash:           p.Cash,
		PositionsValue: positionsValue,
		Equity:         equity,
		Drawdown:       drawdown,
	}
	if p.initialCapital != 0 {
		point.CumulativeReturn = (equity - p.initialCapital) / p.initialCapital
	}
	if n := len(p.EquityCurve); n > 0 {
		prevEquity := p.EquityCurve[n-1].Equity
		if prevEquity != 0 {
			point.DailyReturn = equity/prevEquity - 1
		}
	}
	p.EquityCurve = append(p.EquityCurve, point)
}

// ExitTrigger describes a stop-loss/take-profit level crossed on a bar.
type ExitTrigger struct {
	Symbol string
	Reason ExitReason
	Price  float64
}

// CheckExitTriggers inspects every open position against the current bar's
// high/low range and returns the exit triggers that fired. If both a
// stop-loss and a take-profit would trigger on the same bar, the tie-break
// is pessimistic: stop-loss wins.
func (p *PortfolioTracker) CheckExitTriggers(bar *Bar) []ExitTrigger {
	pos, ok := p.Positions[bar.Symbol]
	if !ok {
		return nil
	}
	var stopHit, targetHit bool
	var stopPrice, targetPrice float64

	if pos.StopLoss != nil {
		sl := *pos.StopLoss
		if pos.Side == PositionLong && bar.Low <= sl {
			stopHit, stopPrice = true, sl
		} else if pos.Side == PositionShort && bar.High >= sl {
			stopHit, stopPrice = true, sl
		}
	}
	if pos.TakeProfit != nil {
		tp := *pos.TakeProfit
		if pos.Side == PositionLong && bar.High >= tp {
			targetHit, targetPrice = true, tp
		} else if pos.Side == PositionShort && bar.Low <= tp {
			targetHit, targetPrice = true, tp
		}
	}

	switch {
	case stopHit:
		return []ExitTrigger{{Symbol: bar.Symbol, Reason: ExitStopLoss, Price: stopPrice}}
	case targetHit:
		return []ExitTrigger{{Symbol: bar.Symbol, Reason: ExitTakeProfit, Price: targetPrice}}
	default:
		return nil
	}
}

// CloseAllPositions closes every remaining open position at the given price
// (the final bar's close, per the end-of-backtest contract) with
// exit_reason=EndOfBacktest, or the supplied reason if overridden.
func (p *PortfolioTracker) CloseAllPositions(timestamp time.Time, priceBySymbol map[string]float64, reason ExitReason) []*Trade {
	symbols := make([]string, 0, len(p.Positions))
	for sym := range p.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	closed := make([]*Trade, 0, len(symbols))
	for _, symbol := range symbols {
		pos := p.Positions[symbol]
		price, ok := priceBySymbol[symbol]
		if !ok {
			price = pos.CurrentPrice
		}
		var gross float64
		if pos.Side == PositionLong {
			gross = pos.Quantity * (price - pos.AvgEntryPrice)
			p.Cash += pos.Quantity * price
		} else {
			gross = pos.Quantity * (pos.AvgEntryPrice - price)
			p.Cash -= pos.Quantity * price
		}
		net := gross
		trade := p.closeTrade(pos, pos.Quantity, price, timestamp, reason, gross, 0, 0, net)
		closed = append(closed, trade)
		delete(p.Positions, symbol)
	}
	return closed
}

// ValidateAccountingIdentity checks invariant 1 of the testable properties:
// equity == cash + sum(positions.market_value), within a relative tolerance
// of 1e-6 * equity.
func (p *PortfolioTracker) ValidateAccountingIdentity() error {
	equity := p.Equity()
	expected := p.Cash
	for _, pos := range p.Positions {
		expected += pos.MarketValue
	}
	tolerance := absFloat(equity) * 1e-6
	if tolerance < 1e-9 {
		tolerance = 1e-9
	}
	if absFloat(equity-expected) > tolerance {
		return fmt.Errorf("accounting identity violated: equity=%f expected=%f", equity, expected)
	}
	return nil
}
