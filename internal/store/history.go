package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// poolIface is the subset of pgxpool.Pool PgxStore depends on, letting
// tests substitute pgxmock without a live database (mirrors
// internal/risk.PoolInterface).
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// BacktestRunRecord is a persisted summary of one completed backtest run,
// including the full JSON-serialized result for later inspection.
type BacktestRunRecord struct {
	ID             uuid.UUID
	ConfigID       string
	StrategyName   string
	Symbols        []string
	StartDate      string
	EndDate        string
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64
	SharpeRatio    float64
	MaxDrawdown    float64
	TotalTrades    int
	ResultJSON     json.RawMessage
}

// StrategyTradeStat is one closed-trade row persisted for later Kelly-input
// aggregation, independent of the richer in-memory backtest.Trade type.
type StrategyTradeStat struct {
	RunID     uuid.UUID
	Symbol    string
	Side      string
	NetPnL    float64
	ReturnPct float64
}

// Store is the persistence boundary for backtest history: saving and
// replaying full run records, and loading trade statistics for Kelly-input
// computation. A pgx-backed implementation and an in-memory fake both
// satisfy it.
type Store interface {
	SaveRun(ctx context.Context, run *BacktestRunRecord) error
	LoadRun(ctx context.Context, id uuid.UUID) (*BacktestRunRecord, error)
	LoadTradeStats(ctx context.Context, symbol string) ([]StrategyTradeStat, error)
}

// PgxStore is the pgx-backed Store implementation reading/writing the
// backtest_runs and strategy_trades tables created by migrations.
type PgxStore struct {
	pool poolIface
}

// NewPgxStore wraps a pool (or a pgxmock substitute in tests).
func NewPgxStore(pool poolIface) *PgxStore {
	return &PgxStore{pool: pool}
}

// NewPgxStoreFromPgxPool is a convenience constructor for the concrete
// pgxpool.Pool type used outside of tests.
func NewPgxStoreFromPgxPool(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

// SaveRun upserts run and its JSON snapshot in a single statement.
func (s *PgxStore) SaveRun(ctx context.Context, run *BacktestRunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backtest_runs (
			id, config_id, strategy_name, symbols, start_date, end_date,
			initial_capital, final_equity, total_return, sharpe_ratio,
			max_drawdown, total_trades, result_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			final_equity = EXCLUDED.final_equity,
			total_return = EXCLUDED.total_return,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			max_drawdown = EXCLUDED.max_drawdown,
			total_trades = EXCLUDED.total_trades,
			result_json = EXCLUDED.result_json
	`,
		run.ID, run.ConfigID, run.StrategyName, run.Symbols, run.StartDate, run.EndDate,
		run.InitialCapital, run.FinalEquity, run.TotalReturn, run.SharpeRatio,
		run.MaxDrawdown, run.TotalTrades, run.ResultJSON,
	)
	if err != nil {
		return fmt.Errorf("save backtest run %s: %w", run.ID, err)
	}
	return nil
}

// LoadRun fetches a persisted run by ID.
func (s *PgxStore) LoadRun(ctx context.Context, id uuid.UUID) (*BacktestRunRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, config_id, strategy_name, symbols, start_date, end_date,
		       initial_capital, final_equity, total_return, sharpe_ratio,
		       max_drawdown, total_trades, result_json
		FROM backtest_runs WHERE id = $1
	`, id)

	run := &BacktestRunRecord{}
	var start, end timestampString
	err := row.Scan(
		&run.ID, &run.ConfigID, &run.StrategyName, &run.Symbols, &start, &end,
		&run.InitialCapital, &run.FinalEquity, &run.TotalReturn, &run.SharpeRatio,
		&run.MaxDrawdown, &run.TotalTrades, &run.ResultJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("backtest run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load backtest run %s: %w", id, err)
	}
	run.StartDate = string(start)
	run.EndDate = string(end)
	return run, nil
}

// LoadTradeStats returns every persisted trade for symbol (all symbols when
// empty). The query has no ORDER BY, so rows come back in whatever order
// the database returns them.
func (s *PgxStore) LoadTradeStats(ctx context.Context, symbol string) ([]StrategyTradeStat, error) {
	query := `SELECT run_id, symbol, side, net_pnl, return_pct FROM strategy_trades`
	args := []interface{}{}
	if symbol != "" {
		query += " WHERE symbol = $1"
		args = append(args, symbol)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trade stats: %w", err)
	}
	defer rows.Close()

	var stats []StrategyTradeStat
	for rows.Next() {
		var st StrategyTradeStat
		if err := rows.Scan(&st.RunID, &st.Symbol, &st.Side, &st.NetPnL, &st.ReturnPct); err != nil {
			return nil, fmt.Errorf("scan trade stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade stats: %w", err)
	}
	return stats, nil
}

// timestampString scans a TIMESTAMPTZ column into its RFC3339 string form,
// since BacktestRunRecord keeps dates as strings for straightforward JSON
// round-tripping alongside the embedded result_json blob.
type timestampString string

func (t *timestampString) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = ""
	case []byte:
		*t = timestampString(v)
	case string:
		*t = timestampString(v)
	default:
		*t = timestampString(fmt.Sprintf("%v", v))
	}
	return nil
}

// InMemoryStore is a fake Store for tests and for running without Postgres
// configured.
type InMemoryStore struct {
	runs   map[uuid.UUID]*BacktestRunRecord
	trades []StrategyTradeStat
}

// NewInMemoryStore returns an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[uuid.UUID]*BacktestRunRecord)}
}

func (s *InMemoryStore) SaveRun(ctx context.Context, run *BacktestRunRecord) error {
	s.runs[run.ID] = run
	return nil
}

func (s *InMemoryStore) LoadRun(ctx context.Context, id uuid.UUID) (*BacktestRunRecord, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("backtest run %s not found", id)
	}
	return run, nil
}

func (s *InMemoryStore) LoadTradeStats(ctx context.Context, symbol string) ([]StrategyTradeStat, error) {
	if symbol == "" {
		return s.trades, nil
	}
	var out []StrategyTradeStat
	for _, t := range s.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

// AddTrade appends a trade stat, used by tests to seed InMemoryStore.
func (s *InMemoryStore) AddTrade(t StrategyTradeStat) {
	s.trades = append(s.trades, t)
}
