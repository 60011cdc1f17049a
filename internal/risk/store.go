package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PoolInterface is the subset of pgxpool.Pool this package depends on,
// letting tests substitute pgxmock without pulling in a live database.
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// HistoricalLoader reads bar closes and win-rate statistics from the
// candlesticks and strategy_trades tables (see
// migrations/001_initial_schema.sql) to seed
// risk calculations with real history instead of caller-supplied arrays.
// It is a batch read invoked outside any request hot path.
type HistoricalLoader struct {
	pool PoolInterface
}

// NewHistoricalLoader wraps an existing pool.
func NewHistoricalLoader(pool PoolInterface) *HistoricalLoader {
	return &HistoricalLoader{pool: pool}
}

// NewHistoricalLoaderFromPgxPool is a convenience constructor for the
// concrete pgxpool.Pool type used outside of tests.
func NewHistoricalLoaderFromPgxPool(pool *pgxpool.Pool) *HistoricalLoader {
	return &HistoricalLoader{pool: pool}
}

// HistoricalPrices is a symbol's close series over a lookback window.
type HistoricalPrices struct {
	Symbol  string
	Prices  []float64
	Returns []float64
	Times   []time.Time
}

// LoadHistoricalPrices reads closing prices for symbol over the trailing
// `days` window from the candlesticks table, computing simple returns
// alongside the raw price series.
func (l *HistoricalLoader) LoadHistoricalPrices(ctx context.Context, symbol string, interval string, days int) (*HistoricalPrices, error) {
	if l.pool == nil {
		return nil, fmt.Errorf("no database pool configured")
	}

	query := `
		SELECT close, open_time
		FROM candlesticks
		WHERE symbol = $1
		  AND interval = $2
		  AND open_time >= NOW() - INTERVAL '1 day' * $3
		ORDER BY open_time ASC
	`

	rows, err := l.pool.Query(ctx, query, symbol, interval, days)
	if err != nil {
		return nil, fmt.Errorf("query historical prices: %w", err)
	}
	defer rows.Close()

	var prices []float64
	var times []time.Time
	for rows.Next() {
		var price float64
		var openTime time.Time
		if err := rows.Scan(&price, &openTime); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		prices = append(prices, price)
		times = append(times, openTime)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no historical prices found for %s", symbol)
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}

	log.Debug().Str("symbol", symbol).Int("points", len(prices)).Msg("historical prices loaded")
	return &HistoricalPrices{Symbol: symbol, Prices: prices, Returns: returns, Times: times}, nil
}

// WinRateStats is the aggregate win/loss record for a symbol (or, when
// symbol is empty, across all symbols) computed from the persisted trade
// rows in the strategy_trades table.
type WinRateStats struct {
	Symbol        string
	TotalTrades   int64
	WinningTrades int64
	LosingTrades  int64
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
}

// defaultWinRateStats is returned when no pool is configured or no
// persisted trades exist yet: a cold-start system that hasn't accumulated
// history gets a reasonable default rather than an error.
func defaultWinRateStats(symbol string) *WinRateStats {
	return &WinRateStats{Symbol: symbol, WinRate: 0.55, AvgWin: 200.0, AvgLoss: 100.0}
}

// LoadWinRateStats computes win-rate statistics for symbol (all symbols when
// empty) from the persisted strategy_trades table.
func (l *HistoricalLoader) LoadWinRateStats(ctx context.Context, symbol string) (*WinRateStats, error) {
	if l.pool == nil {
		log.Warn().Str("symbol", symbol).Msg("no database pool configured, using default win rate")
		return defaultWinRateStats(symbol), nil
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE net_pnl > 0) AS winning_trades,
			COUNT(*) FILTER (WHERE net_pnl < 0) AS losing_trades,
			COUNT(*) AS total_trades,
			COALESCE(AVG(net_pnl) FILTER (WHERE net_pnl > 0), 0) AS avg_win,
			COALESCE(ABS(AVG(net_pnl) FILTER (WHERE net_pnl < 0)), 0) AS avg_loss
		FROM strategy_trades
	`
	args := []interface{}{}
	if symbol != "" {
		query += " WHERE symbol = $1"
		args = append(args, symbol)
	}

	var winning, losing, total int64
	var avgWin, avgLoss float64
	err := l.pool.QueryRow(ctx, query, args...).Scan(&winning, &losing, &total, &avgWin, &avgLoss)
	if err != nil {
		return nil, fmt.Errorf("calculate win rate: %w", err)
	}

	if total == 0 {
		log.Warn().Str("symbol", symbol).Msg("no persisted trades found, using default win rate")
		return defaultWinRateStats(symbol), nil
	}

	return &WinRateStats{
		Symbol:        symbol,
		TotalTrades:   total,
		WinningTrades: winning,
		LosingTrades:  losing,
		WinRate:       float64(winning) / float64(total),
		AvgWin:        avgWin,
		AvgLoss:       avgLoss,
	}, nil
}
