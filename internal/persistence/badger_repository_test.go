package persistence

import (
	"signal-trading-bot-go/internal/config"
	"signal-trading-bot-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestStateRoundTrip(t *testing.T) {
	repo := newRepo(t)

	state, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, state, "missing state is not an error")

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &models.EngineState{
		Symbol:  "BTCUSDT",
		Version: 3,
		Capital: 480.5,
		Position: &models.Position{
			Symbol: "BTCUSDT", EntryPrice: 100, EntryTime: now, Quantity: 5, InitialQuantity: 10,
			InvestedCapital: 500, SoldRatio: 0.5, PeakProfitPct: 0.018, EntryRegime: "correction",
		},
		Risk:           models.DailyRiskState{Date: "2024-03-01", CumulativePnLPct: -0.01, ConsecutiveLosses: 1},
		LastUpdateTime: now,
	}
	require.NoError(t, repo.SaveState(in))

	out, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Capital, out.Capital)
	assert.Equal(t, *in.Position, *out.Position)
	assert.Equal(t, in.Risk, out.Risk)
	assert.True(t, in.LastUpdateTime.Equal(out.LastUpdateTime))

	other, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, other)

	assert.Error(t, repo.SaveState(&models.EngineState{}))
}

func TestTradeJournalNewestFirst(t *testing.T) {
	repo := newRepo(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.SaveTrade(&models.TradeRecord{
			ID: id, Symbol: "BTCUSDT", Type: models.Sell, Time: base.Add(time.Duration(i) * time.Hour), Profit: float64(i),
		}))
	}
	require.NoError(t, repo.SaveTrade(&models.TradeRecord{ID: "x", Symbol: "BTCUSDTX", Time: base.Add(5 * time.Hour)}))

	trades, err := repo.LoadTrades("BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "c", trades[0].ID)
	assert.Equal(t, "a", trades[2].ID)

	trades, err = repo.LoadTrades("BTCUSDT", 2)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	trades, err = repo.LoadTrades("ETHUSDT", 0)
	require.NoError(t, err)
	assert.Empty(t, trades)

	assert.Error(t, repo.SaveTrade(&models.TradeRecord{Symbol: "BTCUSDT"}))
}

func TestParameterSets(t *testing.T) {
	repo := newRepo(t)

	ps, err := repo.LoadActiveParameters("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, ps)

	strategy := config.Default().Strategy
	strategy.Trend.AllowEntryInBearRegime = false
	require.NoError(t, repo.SaveParameters(&models.ParameterSet{Symbol: "BTCUSDT", Strategy: &strategy}))

	exits := config.Default().Exits
	exits.QuickProfitPct = 0.01
	require.NoError(t, repo.SaveParameters(&models.ParameterSet{Symbol: "BTCUSDT", Strategy: &strategy, Exits: &exits}))

	ps, err = repo.LoadActiveParameters("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.Equal(t, 2, ps.Version)
	assert.False(t, ps.Strategy.Trend.AllowEntryInBearRegime)
	assert.Equal(t, strategy.RegimeCacheTTL, ps.Strategy.RegimeCacheTTL)
	assert.Equal(t, 0.01, ps.Exits.QuickProfitPct)
	assert.Nil(t, ps.Risk)

	assert.Error(t, repo.SaveParameters(&models.ParameterSet{}))
}
