package backtest

import (
	"github.com/cinar/indicator/v2/trend"
)

// SMACrossoverStrategy is a reference Strategy implementation: it goes long
// when a fast simple moving average crosses above a slow one, and exits when
// it crosses back below. It exists to exercise the Engine end to end and as
// a template for real strategies, not as a production trading system.
type SMACrossoverStrategy struct {
	FastPeriod int
	SlowPeriod int
	StopLossPct float64 // 0 disables

	prevFast, prevSlow float64
	havePrev           bool
}

// NewSMACrossoverStrategy constructs the strategy with sane defaults when a
// period is left at zero.
func NewSMACrossoverStrategy(fastPeriod, slowPeriod int) *SMACrossoverStrategy {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= 0 {
		slowPeriod = 30
	}
	return &SMACrossoverStrategy{FastPeriod: fastPeriod, SlowPeriod: slowPeriod}
}

func (s *SMACrossoverStrategy) Initialize() error {
	s.havePrev = false
	return nil
}

func (s *SMACrossoverStrategy) Cleanup() error { return nil }

func (s *SMACrossoverStrategy) OnFill(fill *Fill) error { return nil }

func (s *SMACrossoverStrategy) OnBar(symbol string, bar *Bar, history []*Bar) (*Signal, error) {
	if len(history) < s.SlowPeriod+1 {
		return nil, nil
	}

	fast := closingSMA(history, s.FastPeriod)
	slow := closingSMA(history, s.SlowPeriod)

	defer func() {
		s.prevFast, s.prevSlow = fast, slow
		s.havePrev = true
	}()

	if !s.havePrev {
		return nil, nil
	}

	crossedUp := s.prevFast <= s.prevSlow && fast > slow
	crossedDown := s.prevFast >= s.prevSlow && fast < slow

	switch {
	case crossedUp:
		sig := &Signal{
			Symbol:       symbol,
			Action:       ActionBuy,
			Strength:     1.0,
			Confidence:   0.6,
			StrategyName: "sma_crossover",
			Timestamp:    bar.Timestamp,
			Indicators:   map[string]float64{"sma_fast": fast, "sma_slow": slow},
			Reasons:      []string{"fast SMA crossed above slow SMA"},
		}
		if s.StopLossPct > 0 {
			sl := bar.Close * (1 - s.StopLossPct)
			sig.StopLoss = &sl
		}
		return sig, nil
	case crossedDown:
		return &Signal{
			Symbol:       symbol,
			Action:       ActionSell,
			Strength:     1.0,
			Confidence:   0.6,
			StrategyName: "sma_crossover",
			Timestamp:    bar.Timestamp,
			Indicators:   map[string]float64{"sma_fast": fast, "sma_slow": slow},
			Reasons:      []string{"fast SMA crossed below slow SMA"},
		}, nil
	default:
		return nil, nil
	}
}

// closingSMA computes the simple moving average of the last period closes
// using cinar/indicator's streaming SMA so the example exercises the same
// indicator library the rest of the platform uses, rather than hand-rolling
// the average.
func closingSMA(history []*Bar, period int) float64 {
	if len(history) < period {
		return 0
	}
	window := history[len(history)-period:]

	closes := make(chan float64, len(window))
	for _, b := range window {
		closes <- b.Close
	}
	close(closes)

	sma := trend.NewSmaWithPeriod[float64](period)
	out := sma.Compute(closes)

	var last float64
	for v := range out {
		last = v
	}
	return last
}
