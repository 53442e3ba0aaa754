package engine

import (
	"context"
	"signal-trading-bot-go/internal/exchange"
	"signal-trading-bot-go/internal/models"
	"signal-trading-bot-go/internal/position"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var backtestStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// ascending 生成正序的1分钟K线
func ascending(closes []float64) []models.Candle {
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{Timestamp: backtestStart.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	return candles
}

func TestRunBacktest(t *testing.T) {
	cfg := testConfig()
	cfg.Backtest = models.BacktestConfig{}
	cfg.Strategy.Timeframes = []string{"1m"}
	cfg.Strategy.RequiredSignals = 1
	cfg.Strategy.ATRTimeframe = "1m"

	var closes []float64
	for i := 0; i < 40; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 99, 98, 97, 96, 95)
	for i := 0; i < 5; i++ {
		closes = append(closes, 95)
	}
	be, err := exchange.NewBacktestExchange(cfg, ascending(closes))
	require.NoError(t, err)

	e, err := New(cfg, be, zap.NewNop(), WithClock(be.CurrentTime))
	require.NoError(t, err)

	sum, err := RunBacktest(context.Background(), e, be, 30)
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Ticks)
	assert.Equal(t, 0, sum.Errors)

	trades := e.Trades()
	require.GreaterOrEqual(t, len(trades), 2)
	assert.Equal(t, models.Buy, trades[0].Type)
	assert.Equal(t, 99.0, trades[0].Price)
	assert.Equal(t, backtestStart.Add(41*time.Minute), trades[0].Time, "trades are stamped with the candle close time")
	assert.Equal(t, models.Sell, trades[1].Type)
	assert.Equal(t, 98.0, trades[1].Price)
	assert.Equal(t, position.ReasonStopLoss, trades[1].Reason)

	// 引擎的资金与回测交易所的现金逐笔一致
	assert.Len(t, be.Fills, len(trades))
	assert.InDelta(t, be.Cash, e.State().Capital, 1e-9)
}

func TestRunBacktestStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Backtest = models.BacktestConfig{}
	be, err := exchange.NewBacktestExchange(cfg, ascending([]float64{100, 100.5, 100, 100.5}))
	require.NoError(t, err)
	e, err := New(cfg, be, zap.NewNop(), WithClock(be.CurrentTime))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := RunBacktest(ctx, e, be, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Ticks)
}
