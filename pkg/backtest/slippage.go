package backtest

// SlippageModel computes the execution-price adjustment applied to a filled
// order. Implementations are pure and never fail; the returned value is
// always non-negative and its unit (absolute dollars vs. a fraction of
// price) depends on the model.
type SlippageModel interface {
	// Calculate returns the slippage to apply to order against bar, given an
	// optional average-volume estimate (used by VolumeBased models; callers
	// that don't track it may pass 0).
	Calculate(order *Order, bar *Bar, avgVolume float64) float64
	// IsAbsolute reports whether Calculate's return value is an absolute
	// dollar amount per share (true) or a fraction of the reference price (false).
	IsAbsolute() bool
}

// FixedDollarSlippage applies a constant absolute-dollar slippage per share.
type FixedDollarSlippage struct {
	AmountPerShare float64
}

func (m FixedDollarSlippage) Calculate(order *Order, bar *Bar, avgVolume float64) float64 {
	if m.AmountPerShare < 0 {
		return 0
	}
	return m.AmountPerShare
}

func (m FixedDollarSlippage) IsAbsolute() bool { return true }

// FixedBPSSlippage applies a constant number of basis points of the reference price.
type FixedBPSSlippage struct {
	BPS float64
}

func (m FixedBPSSlippage) Calculate(order *Order, bar *Bar, avgVolume float64) float64 {
	if m.BPS <= 0 {
		return 0
	}
	return m.BPS / 10000.0
}

func (m FixedBPSSlippage) IsAbsolute() bool { return false }

// PercentageSlippage applies a constant fraction of the reference price.
type PercentageSlippage struct {
	Percent float64 // e.g. 0.0005 = 5 bps
}

func (m PercentageSlippage) Calculate(order *Order, bar *Bar, avgVolume float64) float64 {
	if m.Percent <= 0 {
		return 0
	}
	return m.Percent
}

func (m PercentageSlippage) IsAbsolute() bool { return false }

// VolumeBasedSlippage scales slippage with order size relative to bar or
// average volume: larger orders relative to liquidity slip more.
type VolumeBasedSlippage struct {
	BaseBPS       float64
	ImpactBPSPerX float64 // additional bps per 1x of (order qty / reference volume)
}

func (m VolumeBasedSlippage) Calculate(order *Order, bar *Bar, avgVolume float64) float64 {
	refVolume := avgVolume
	if refVolume <= 0 {
		refVolume = bar.Volume
	}
	base := m.BaseBPS / 10000.0
	if refVolume <= 0 || order == nil {
		return base
	}
	participation := order.Quantity / refVolume
	impact := participation * (m.ImpactBPSPerX / 10000.0)
	total := base + impact
	if total < 0 {
		return 0
	}
	return total
}

func (m VolumeBasedSlippage) IsAbsolute() bool { return false }

// applySlippage returns the fill price after applying a fractional-or-dollar
// slippage amount to a reference price, in the direction unfavorable to the
// trader (buys pay more, sells receive less).
func applySlippage(referencePrice float64, side Side, slippageAmount float64, isAbsolute bool) (price float64, slippageCost float64) {
	var adj float64
	if isAbsolute {
		adj = slippageAmount
	} else {
		adj = referencePrice * slippageAmount
	}
	if adj < 0 {
		adj = 0
	}
	switch side {
	case SideBuy:
		return referencePrice + adj, adj
	default:
		return referencePrice - adj, adj
	}
}
