package backtest

import "testing"

func TestFixedCommission(t *testing.T) {
	m := FixedCommission{Amount: 5}
	if got := m.Calculate(1000, 10); got != 5 {
		t.Errorf("got %v, want 5", got)
	}
	if got := (FixedCommission{Amount: -1}).Calculate(1, 1); got != 0 {
		t.Errorf("negative amount must clamp to 0, got %v", got)
	}
}

func TestPerShareCommission(t *testing.T) {
	m := PerShareCommission{AmountPerShare: 0.01, Minimum: 1.0}
	if got := m.Calculate(50, 10); got != 1.0 {
		t.Errorf("below minimum: got %v, want 1.0", got)
	}
	if got := m.Calculate(500, 10); got != 5.0 {
		t.Errorf("above minimum: got %v, want 5.0", got)
	}
}

func TestPercentageCommission(t *testing.T) {
	m := PercentageCommission{Rate: 0.001, Minimum: 1}
	notional := 100.0 * 50.0
	want := notional * 0.001
	if got := m.Calculate(100, 50); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTieredCommission(t *testing.T) {
	m := TieredCommission{Tiers: []CommissionTier{
		{Threshold: 0, Rate: 0.002},
		{Threshold: 10_000, Rate: 0.001},
		{Threshold: 100_000, Rate: 0.0005},
	}}
	// notional 5,000 -> first tier
	if got := m.Calculate(50, 100); got != 5000*0.002 {
		t.Errorf("low tier: got %v, want %v", got, 5000*0.002)
	}
	// notional 50,000 -> second tier
	if got := m.Calculate(500, 100); got != 50000*0.001 {
		t.Errorf("mid tier: got %v, want %v", got, 50000*0.001)
	}
	// notional 200,000 -> third tier
	if got := m.Calculate(2000, 100); got != 200000*0.0005 {
		t.Errorf("high tier: got %v, want %v", got, 200000*0.0005)
	}
}
