package backtest

import "testing"

func TestApplySlippageBuyPaysMoreSellReceivesLess(t *testing.T) {
	price, cost := applySlippage(100, SideBuy, 0.01, false)
	if price != 101 || cost != 1 {
		t.Errorf("buy: got price=%v cost=%v, want price=101 cost=1", price, cost)
	}
	price, cost = applySlippage(100, SideSell, 0.01, false)
	if price != 99 || cost != 1 {
		t.Errorf("sell: got price=%v cost=%v, want price=99 cost=1", price, cost)
	}
}

func TestApplySlippageAbsolute(t *testing.T) {
	price, cost := applySlippage(50, SideBuy, 0.25, true)
	if price != 50.25 || cost != 0.25 {
		t.Errorf("got price=%v cost=%v, want price=50.25 cost=0.25", price, cost)
	}
}

func TestFixedBPSSlippage(t *testing.T) {
	m := FixedBPSSlippage{BPS: 10}
	got := m.Calculate(nil, nil, 0)
	if got != 0.001 {
		t.Errorf("got %v, want 0.001", got)
	}
	if m.IsAbsolute() {
		t.Errorf("FixedBPSSlippage must be fractional, not absolute")
	}
}

func TestVolumeBasedSlippageScalesWithParticipation(t *testing.T) {
	m := VolumeBasedSlippage{BaseBPS: 5, ImpactBPSPerX: 100}
	order := &Order{Quantity: 1000}
	bar := &Bar{Volume: 10000}
	got := m.Calculate(order, bar, 0)
	want := 5.0/10000.0 + (0.1)*(100.0/10000.0)
	if absFloat(got-want) > 1e-12 {
		t.Errorf("got %v, want %v", got, want)
	}

	// Larger order relative to volume slips more.
	bigger := &Order{Quantity: 5000}
	got2 := m.Calculate(bigger, bar, 0)
	if got2 <= got {
		t.Errorf("larger participation should slip more: got2=%v, got=%v", got2, got)
	}
}

func TestPercentageSlippageNonNegative(t *testing.T) {
	m := PercentageSlippage{Percent: -1}
	if got := m.Calculate(nil, nil, 0); got != 0 {
		t.Errorf("negative percent must clamp to 0, got %v", got)
	}
}
