package backtest

// CommissionModel computes the commission charged on a fill. Implementations
// are pure and never return a negative value.
type CommissionModel interface {
	Calculate(quantity float64, fillPrice float64) float64
}

// FixedCommission charges a flat amount per fill regardless of size.
type FixedCommission struct {
	Amount float64
}

func (m FixedCommission) Calculate(quantity, fillPrice float64) float64 {
	if m.Amount < 0 {
		return 0
	}
	return m.Amount
}

// PerShareCommission charges a fixed amount per unit traded.
type PerShareCommission struct {
	AmountPerShare float64
	Minimum        float64
}

func (m PerShareCommission) Calculate(quantity, fillPrice float64) float64 {
	c := quantity * m.AmountPerShare
	if c < m.Minimum {
		c = m.Minimum
	}
	if c < 0 {
		return 0
	}
	return c
}

// PercentageCommission charges a fraction of notional value.
type PercentageCommission struct {
	Rate    float64 // e.g. 0.001 = 0.1%
	Minimum float64
}

func (m PercentageCommission) Calculate(quantity, fillPrice float64) float64 {
	c := quantity * fillPrice * m.Rate
	if c < m.Minimum {
		c = m.Minimum
	}
	if c < 0 {
		return 0
	}
	return c
}

// TieredCommission charges a rate that depends on notional value, e.g. large
// orders get a volume discount. Tiers must be sorted ascending by Threshold;
// the rate of the highest tier whose Threshold <= notional applies.
type TieredCommission struct {
	Tiers []CommissionTier
}

// CommissionTier is one breakpoint of a TieredCommission schedule.
type CommissionTier struct {
	Threshold float64 // minimum notional value for this tier to apply
	Rate      float64
}

func (m TieredCommission) Calculate(quantity, fillPrice float64) float64 {
	notional := quantity * fillPrice
	rate := 0.0
	for _, tier := range m.Tiers {
		if notional >= tier.Threshold {
			rate = tier.Rate
		}
	}
	c := notional * rate
	if c < 0 {
		return 0
	}
	return c
}
