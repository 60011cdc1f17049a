package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgxStore_SaveRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgxStore(mock)
	run := &BacktestRunRecord{
		ID:             uuid.New(),
		ConfigID:       "cfg-1",
		StrategyName:   "sma_crossover",
		Symbols:        []string{"AAPL"},
		StartDate:      "2024-01-01",
		EndDate:        "2024-06-01",
		InitialCapital: 100_000,
		FinalEquity:    112_000,
		TotalReturn:    0.12,
		SharpeRatio:    1.4,
		MaxDrawdown:    0.08,
		TotalTrades:    20,
		ResultJSON:     json.RawMessage(`{}`),
	}

	mock.ExpectExec("INSERT INTO backtest_runs").
		WithArgs(
			run.ID, run.ConfigID, run.StrategyName, run.Symbols, run.StartDate, run.EndDate,
			run.InitialCapital, run.FinalEquity, run.TotalReturn, run.SharpeRatio,
			run.MaxDrawdown, run.TotalTrades, run.ResultJSON,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", int64(1)))

	err = store.SaveRun(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgxStore_LoadRun_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgxStore(mock)
	id := uuid.New()
	mock.ExpectQuery("FROM backtest_runs").WithArgs(id).WillReturnError(errNoRowsStub{})

	_, err = store.LoadRun(context.Background(), id)
	assert.Error(t, err)
}

func TestPgxStore_LoadTradeStats_FiltersBySymbol(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgxStore(mock)
	runID := uuid.New()
	rows := pgxmock.NewRows([]string{"run_id", "symbol", "side", "net_pnl", "return_pct"}).
		AddRow(runID, "AAPL", "long", 150.0, 0.015)

	mock.ExpectQuery("FROM strategy_trades").WithArgs("AAPL").WillReturnRows(rows)

	stats, err := store.LoadTradeStats(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "AAPL", stats[0].Symbol)
	assert.InDelta(t, 150.0, stats[0].NetPnL, 1e-9)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInMemoryStore_SaveAndLoadRun(t *testing.T) {
	store := NewInMemoryStore()
	run := &BacktestRunRecord{ID: uuid.New(), StrategyName: "sma_crossover"}

	require.NoError(t, store.SaveRun(context.Background(), run))

	loaded, err := store.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StrategyName, loaded.StrategyName)
}

func TestInMemoryStore_LoadRun_NotFound(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.LoadRun(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestInMemoryStore_LoadTradeStats_FiltersBySymbol(t *testing.T) {
	store := NewInMemoryStore()
	store.AddTrade(StrategyTradeStat{Symbol: "AAPL", NetPnL: 100})
	store.AddTrade(StrategyTradeStat{Symbol: "MSFT", NetPnL: -50})

	stats, err := store.LoadTradeStats(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "AAPL", stats[0].Symbol)

	all, err := store.LoadTradeStats(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// errNoRowsStub is a stand-in query error carrying pgx.ErrNoRows' message.
// It is not pgx.ErrNoRows itself, so LoadRun reports it through its generic
// load-error path; TestPgxStore_LoadRun_NotFound checks only that an error
// comes back.
type errNoRowsStub struct{}

func (errNoRowsStub) Error() string { return "no rows in result set" }
