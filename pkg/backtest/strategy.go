package backtest

import "context"

// Strategy is the user-supplied black box that turns bars into signals. The
// engine invokes it synchronously from within the single-threaded event
// loop; implementations must not block or spawn goroutines that touch
// engine state.
type Strategy interface {
	// Initialize is called once before the first bar is processed.
	Initialize() error
	// OnBar is invoked for every MarketData event. history contains the
	// bars seen so far for symbol, oldest first, including the current bar.
	OnBar(symbol string, bar *Bar, history []*Bar) (*Signal, error)
	// OnFill is invoked after a Fill has been applied to the portfolio.
	OnFill(fill *Fill) error
	// Cleanup is called once after the event queue drains.
	Cleanup() error
}

// DataProvider is the sole data boundary of the core: it supplies OHLCV bars
// for a symbol over a date range, sorted ascending by timestamp.
type DataProvider interface {
	Load(ctx context.Context, symbol string, start, end int64) ([]*Bar, error)
	HasData(ctx context.Context, symbol string, start, end int64) (bool, error)
}
