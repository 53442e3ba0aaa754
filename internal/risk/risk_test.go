package risk

import (
	"signal-trading-bot-go/internal/config"
	"signal-trading-bot-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day1 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newGovernor(t *testing.T, mutate func(*models.RiskConfig)) *Governor {
	t.Helper()
	cfg := config.Default().Risk
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := NewGovernor(cfg, 1000, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestDailyLossHaltAndRollover(t *testing.T) {
	g := newGovernor(t, nil)

	ok, _ := g.CanTrade(day1)
	require.True(t, ok)

	g.RecordClose(-10, day1.Add(time.Minute))
	g.RecordClose(-10, day1.Add(2*time.Minute))
	ok, _ = g.CanTrade(day1.Add(3 * time.Minute))
	assert.True(t, ok, "-2% is above the -3% limit")

	// 累计正好 -3%
	g.RecordClose(-10, day1.Add(4*time.Minute))
	state := g.State()
	assert.True(t, state.TradingPaused)
	assert.Equal(t, PauseDailyLoss, state.PauseReason)
	assert.InDelta(t, -0.03, state.CumulativePnLPct, 1e-12)
	assert.Equal(t, -30.0, state.RealizedPnL)
	assert.Equal(t, 3, state.ConsecutiveLosses)

	ok, reason := g.CanTrade(day1.Add(5 * time.Minute))
	assert.False(t, ok)
	assert.Equal(t, PauseDailyLoss, reason)

	// 盈利不会在当日解除暂停
	g.RecordClose(50, day1.Add(6*time.Minute))
	assert.True(t, g.State().TradingPaused)

	next := day1.Add(14 * time.Hour)
	ok, _ = g.CanTrade(next)
	assert.True(t, ok)
	state = g.State()
	assert.Equal(t, "2024-03-02", state.Date)
	assert.False(t, state.TradingPaused)
	assert.Zero(t, state.CumulativePnLPct)
	assert.Zero(t, state.ConsecutiveLosses)
}

func TestConsecutiveLossPause(t *testing.T) {
	g := newGovernor(t, func(c *models.RiskConfig) { c.MaxConsecutiveLosses = 2 })

	g.RecordClose(-1, day1)
	g.RecordClose(1, day1)
	g.RecordClose(-1, day1)
	assert.False(t, g.State().TradingPaused)
	g.RecordClose(-1, day1)

	ok, reason := g.CanTrade(day1)
	assert.False(t, ok)
	assert.Equal(t, PauseConsecutiveLosses, reason)
}

func TestRecordTradeAndRestore(t *testing.T) {
	g := newGovernor(t, nil)
	g.RecordTrade(&models.TradeRecord{Type: models.Buy, Time: day1, Value: 500})
	assert.Zero(t, g.State().CumulativePnLPct)
	g.RecordTrade(&models.TradeRecord{Type: models.Sell, Time: day1, Profit: 5, ProfitPct: 0.01})
	assert.InDelta(t, 0.005, g.State().CumulativePnLPct, 1e-12)
	assert.Equal(t, 2, g.History().Len())
	g.RecordTrade(nil)

	g = newGovernor(t, nil)
	g.Restore(models.DailyRiskState{Date: "2024-02-28", TradingPaused: true, PauseReason: PauseDailyLoss})
	ok, _ := g.CanTrade(day1)
	assert.True(t, ok, "stale pause is reset on a new date")

	g.Restore(models.DailyRiskState{Date: "2024-03-01", TradingPaused: true, PauseReason: PauseDailyLoss})
	ok, _ = g.CanTrade(day1)
	assert.False(t, ok)
}

// roundTrip 一笔分批卖出的交易：每个盈亏对应一次卖出，最后一笔平仓
func roundTrip(g *Governor, entry string, at time.Time, profits ...float64) {
	g.RecordTrade(&models.TradeRecord{ID: entry, EntryID: entry, Type: models.Buy, Time: at, Value: 300})
	for i, p := range profits {
		g.RecordTrade(&models.TradeRecord{
			ID:        entry + "-sell-" + string(rune('a'+i)),
			EntryID:   entry,
			Type:      models.Sell,
			Time:      at.Add(time.Duration(i+1) * time.Minute),
			Value:     100 + p,
			Profit:    p,
			ProfitPct: p / 100,
			Partial:   i < len(profits)-1,
		})
	}
}

func TestPartialSellsCountAsOneRoundTrip(t *testing.T) {
	g := newGovernor(t, func(c *models.RiskConfig) { c.MaxConsecutiveLosses = 2 })

	// 三档止盈合计为一笔盈利
	roundTrip(g, "e1", day1, 2, 3, 4)
	stats := g.History().Stats(0)
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, 1, stats.Wins)
	assert.InDelta(t, 9.0/300, stats.AvgWin, 1e-12)

	// 分批止盈后止损，整笔亏损
	roundTrip(g, "e2", day1.Add(time.Hour), 1, -4)
	assert.Equal(t, 1, g.State().ConsecutiveLosses)
	assert.False(t, g.State().TradingPaused)

	// 仍在持仓中的交易不计入统计，也不计入连续亏损
	g.RecordTrade(&models.TradeRecord{ID: "e3", EntryID: "e3", Type: models.Buy, Time: day1.Add(2 * time.Hour), Value: 200})
	g.RecordTrade(&models.TradeRecord{ID: "e3-a", EntryID: "e3", Type: models.Sell, Time: day1.Add(2 * time.Hour), Value: 99, Profit: -1, ProfitPct: -0.01, Partial: true})
	assert.Equal(t, 1, g.State().ConsecutiveLosses)

	stats = g.History().Stats(0)
	assert.Equal(t, 2, stats.Trades)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 3.0/200, stats.AvgLoss, 1e-12)

	trips := g.History().RoundTrips(1)
	require.Len(t, trips, 1)
	assert.Equal(t, "e2", trips[0].EntryID)
	assert.Equal(t, 2, trips[0].Sells)

	roundTrip(g, "e4", day1.Add(3*time.Hour), -2)
	assert.True(t, g.State().TradingPaused)
	assert.Equal(t, PauseConsecutiveLosses, g.State().PauseReason)
}

func TestNewGovernorErrors(t *testing.T) {
	cfg := config.Default().Risk
	_, err := NewGovernor(cfg, 0, zap.NewNop())
	assert.Error(t, err)

	cfg.Timezone = "Mars/Olympus"
	_, err = NewGovernor(cfg, 1000, zap.NewNop())
	assert.Error(t, err)
}

func TestCheckVaR(t *testing.T) {
	closes := []float64{95, 100, 95, 100, 95, 100, 95, 100, 95, 100, 95}

	g := newGovernor(t, nil)
	ok, _ := g.CheckVaR(closes)
	assert.True(t, ok, "no limit configured")

	g = newGovernor(t, func(c *models.RiskConfig) {
		c.MaxVaRPct = 0.01
		c.VaRConfidence = 0.9
	})
	v, ok := g.EstimateVaR(closes)
	require.True(t, ok)
	assert.InDelta(t, 0.05, v, 1e-12)
	ok, reason := g.CheckVaR(closes)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	ok, _ = g.CheckVaR([]float64{100})
	assert.True(t, ok, "not enough data to estimate")
}

func sells(h *TradeHistory, n int, profitPct float64) {
	for i := 0; i < n; i++ {
		h.Add(models.TradeRecord{Type: models.Sell, Profit: profitPct * 100, ProfitPct: profitPct})
	}
}

func TestSizers(t *testing.T) {
	sizing := config.Default().Risk.Sizing

	fixed := NewSizer(sizing)
	assert.Equal(t, "fixed", fixed.Name())
	assert.InDelta(t, 500, fixed.Size(SizingInput{Available: 1000}), 1e-9)

	sizing.Method = "atr"
	atr := NewSizer(sizing)
	assert.Equal(t, "atr", atr.Name())
	// 1000 * 1% / (2 * 2) 个单位, 每单位 100
	assert.InDelta(t, 250, atr.Size(SizingInput{Available: 1000, Price: 100, ATR: 2}), 1e-9)
	assert.InDelta(t, 500, atr.Size(SizingInput{Available: 1000, Price: 100}), 1e-9)
	assert.InDelta(t, 1000, atr.Size(SizingInput{Available: 1000, Price: 100, ATR: 0.1}), 1e-9)

	sizing.Method = "kelly"
	kelly := NewSizer(sizing)
	h := NewTradeHistory(100)
	sells(h, 5, 0.02)
	assert.InDelta(t, 500, kelly.Size(SizingInput{Available: 1000, History: h}), 1e-9, "too few trades")

	sells(h, 1, 0.02)
	sells(h, 4, -0.01)
	// p=0.6 b=2 -> kelly 0.4, half kelly 0.2
	assert.InDelta(t, 200, kelly.Size(SizingInput{Available: 1000, History: h}), 1e-9)

	wins := NewTradeHistory(100)
	sells(wins, 12, 0.01)
	assert.InDelta(t, 1000, kelly.Size(SizingInput{Available: 1000, History: wins}), 1e-9)
}

func TestTradeHistory(t *testing.T) {
	h := NewTradeHistory(3)
	for i := 0; i < 5; i++ {
		side := models.Sell
		if i%2 == 0 {
			side = models.Buy
		}
		h.Add(models.TradeRecord{ID: string(rune('a' + i)), Type: side, Profit: float64(i)})
	}
	require.Equal(t, 3, h.Len())
	assert.Equal(t, "c", h.All()[0].ID)

	recent := h.RecentSells(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "d", recent[0].ID)

	stats := h.Stats(10)
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, 1.0, stats.WinRate())
	_, ok := stats.Kelly()
	assert.False(t, ok)
}
