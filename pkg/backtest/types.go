// Package backtest implements a deterministic, event-driven historical
// backtesting engine: market data and order/fill events are drained from a
// priority queue in strict causal order, a PortfolioTracker applies fills to
// cash and positions, and PerformanceMetrics summarizes the resulting equity
// curve and trade list.
package backtest

import "time"

// Side is the direction of an order, fill, or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is whether a position is long or short.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderMarket       OrderType = "MARKET"
	OrderLimit        OrderType = "LIMIT"
	OrderStop         OrderType = "STOP"
	OrderStopLimit    OrderType = "STOP_LIMIT"
	OrderTakeProfit   OrderType = "TAKE_PROFIT"
	OrderTrailingStop OrderType = "TRAILING_STOP"
)

// TimeInForce enumerates order lifetime policies.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal        ExitReason = "SIGNAL"
	ExitStopLoss      ExitReason = "STOP_LOSS"
	ExitTakeProfit    ExitReason = "TAKE_PROFIT"
	ExitTimeLimit     ExitReason = "TIME_LIMIT"
	ExitEndOfBacktest ExitReason = "END_OF_BACKTEST"
	ExitStrategyExit  ExitReason = "STRATEGY_EXIT"
)

// SignalAction is the directive a Strategy attaches to a Signal.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Bar is a single OHLCV candle for one symbol over one period.
type Bar struct {
	Symbol         string
	Timestamp      time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	AdjustedClose  float64
	SplitCoeff     float64
	DividendAmount float64
}

// Valid reports whether the bar satisfies the OHLC ordering and volume invariants.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	minOC := b.Open
	if b.Close < minOC {
		minOC = b.Close
	}
	maxOC := b.Open
	if b.Close > maxOC {
		maxOC = b.Close
	}
	return b.Low <= minOC && maxOC <= b.High
}

// Signal is what a Strategy emits in response to a bar.
//
// OrderType, when set, requests a non-market order: EntryPrice supplies the
// limit level for a Limit order and the trigger level for Stop/StopLimit/
// TakeProfit orders, and TrailingAmount/TrailingPercent parameterize a
// TrailingStop. Left empty, the signal becomes a plain market order.
type Signal struct {
	Symbol          string
	Action          SignalAction
	Strength        float64 // 0..100
	Confidence      float64 // 0..100
	StrategyName    string
	Indicators      map[string]float64
	Reasons         []string
	OrderType       OrderType
	EntryPrice      *float64
	StopLoss        *float64
	TakeProfit      *float64
	PositionSize    *float64
	RiskAmount      *float64
	TrailingAmount  *float64
	TrailingPercent *float64
	Timestamp       time.Time
}

// Order is a request to buy or sell, awaiting simulation by a FillSimulator.
type Order struct {
	ID              string
	Symbol          string
	Type            OrderType
	Side            Side
	Quantity        float64
	LimitPrice      *float64
	StopPrice       *float64
	TrailingAmount  *float64
	TrailingPercent *float64
	TimeInForce     TimeInForce
	CreatedAt       time.Time
	StopLoss        *float64
	TakeProfit      *float64
	Status          OrderStatus
	FilledQuantity  float64
	Signal          *Signal
}

// Remaining returns the unfilled quantity of the order.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// Terminal reports whether the order has reached a terminal status.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderExpired:
		return true
	default:
		return false
	}
}

// Fill is an immutable execution record produced by the FillSimulator.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	Timestamp  time.Time
	Commission float64
	Slippage   float64
}

// Position is an open holding in one symbol. At most one Position exists per
// symbol in a Portfolio at any time.
type Position struct {
	Symbol             string
	Side               PositionSide
	Quantity           float64
	AvgEntryPrice      float64
	EntryTime          time.Time
	CurrentPrice       float64
	MarketValue        float64
	UnrealizedPnL      float64
	UnrealizedPnLPct   float64
	RealizedPnL        float64
	StopLoss           *float64
	TakeProfit         *float64
	HighestPrice       float64
	LowestPrice        float64
	MAE                float64 // maximum adverse excursion, a negative or zero number
	MFE                float64 // maximum favorable excursion, a non-negative number
	EntryCommission    float64
	EntrySlippage      float64
	OriginatingSignal  *Signal
}

// Trade is an immutable record of a closed position.
type Trade struct {
	ID           string
	Symbol       string
	Side         PositionSide
	EntryTime    time.Time
	EntryPrice   float64
	ExitTime     time.Time
	ExitPrice    float64
	Quantity     float64
	ExitReason   ExitReason
	GrossPnL     float64
	Commission   float64
	Slippage     float64
	NetPnL       float64
	ReturnPct    float64
	MAE          float64
	MFE          float64
	RValue       float64
	HoldDuration time.Duration
	StrategyName string
}

// EquityCurvePoint is one sample of portfolio equity, recorded once per bar processed.
type EquityCurvePoint struct {
	Timestamp        time.Time
	Cash             float64
	PositionsValue   float64
	Equity           float64
	CumulativeReturn float64
	DailyReturn      float64
	Drawdown         float64
}

// Severity classifies a BacktestEvent.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// BacktestEvent is one entry in the ordered diagnostic log a run always returns.
type BacktestEvent struct {
	Timestamp time.Time
	Severity  Severity
	Message   string
	Payload   any
}
