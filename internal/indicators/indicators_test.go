package indicators

import (
	"math/rand"
	"signal-trading-bot-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWalk(r *rand.Rand, n int) []float64 {
	prices := make([]float64, n)
	p := 100.0
	for i := range prices {
		p *= 1 + (r.Float64()-0.5)*0.04
		prices[i] = p
	}
	return prices
}

func TestRSIKnownValue(t *testing.T) {
	rsi, ok := RSI([]float64{3, 2, 1, 2}, 3)
	require.True(t, ok)
	assert.InDelta(t, 66.6667, rsi, 1e-3)
}

func TestRSIEdgeCases(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 3)
	assert.False(t, ok, "needs period+1 points")

	rsi, ok := RSI([]float64{5, 4, 3, 2, 1}, 4)
	require.True(t, ok)
	assert.Equal(t, 100.0, rsi, "no losses")

	rsi, ok = RSI([]float64{7, 7, 7, 7}, 3)
	require.True(t, ok)
	assert.Equal(t, 100.0, rsi, "flat series has zero average loss")

	rsi, ok = RSI([]float64{1, 2, 3, 4}, 3)
	require.True(t, ok)
	assert.Equal(t, 0.0, rsi, "no gains")
}

func TestRSIBounds(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		period := 2 + r.Intn(20)
		prices := randomWalk(r, period+1+r.Intn(30))
		rsi, ok := RSI(prices, period)
		require.True(t, ok)
		assert.GreaterOrEqual(t, rsi, 0.0)
		assert.LessOrEqual(t, rsi, 100.0)
	}
}

func TestBollingerOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		period := 2 + r.Intn(30)
		prices := randomWalk(r, period+r.Intn(10))
		mult := r.Float64() * 3
		if i%2 == 0 {
			mult = -mult
		}
		b, ok := Bollinger(prices, period, mult)
		require.True(t, ok)
		assert.LessOrEqual(t, b.Lower, b.Middle)
		assert.LessOrEqual(t, b.Middle, b.Upper)
	}

	_, ok := Bollinger([]float64{1, 2}, 3, 2)
	assert.False(t, ok)
}

func TestBollingerKnownValue(t *testing.T) {
	b, ok := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, b.Middle, 1e-9)
	assert.InDelta(t, 9.0, b.Upper, 1e-9)
	assert.InDelta(t, 1.0, b.Lower, 1e-9)
	assert.InDelta(t, 50.0, b.PositionPct(5), 1e-9)
	assert.Equal(t, 50.0, Bands{Upper: 3, Middle: 3, Lower: 3}.PositionPct(3))
}

func TestATR(t *testing.T) {
	now := time.Now()
	candles := []models.Candle{
		{Timestamp: now, High: 12, Low: 10, Close: 11},
		{Timestamp: now.Add(-time.Minute), High: 9, Low: 8, Close: 8.5},
		{Timestamp: now.Add(-2 * time.Minute), High: 10, Low: 9, Close: 9.5},
	}
	// TR0 = max(2, |12-8.5|, |10-8.5|) = 3.5; TR1 = max(1, |9-9.5|, |8-9.5|) = 1.5
	atr, ok := ATR(candles, 2)
	require.True(t, ok)
	assert.InDelta(t, 2.5, atr, 1e-9)

	pct, ok := ATRPct(candles, 2)
	require.True(t, ok)
	assert.InDelta(t, 2.5/11*100, pct, 1e-9)

	_, ok = ATR(candles, 3)
	assert.False(t, ok)
}

func TestMovingAverages(t *testing.T) {
	sma, ok := SMA([]float64{4, 2, 6, 100}, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, sma, 1e-9)

	ema, ok := EMA([]float64{5, 5, 5, 5}, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, ema, 1e-9)

	ema, ok = EMA([]float64{10, 1, 1}, 2)
	require.True(t, ok)
	assert.InDelta(t, 10*2.0/3+1.0/3, ema, 1e-9)

	vma, ok := VolumeMA([]float64{30, 10, 20}, 3)
	require.True(t, ok)
	assert.InDelta(t, 20.0, vma, 1e-9)

	ratio, ok := VolumeRatio([]float64{30, 10, 20}, 3)
	require.True(t, ok)
	assert.InDelta(t, 1.5, ratio, 1e-9)

	_, ok = VolumeMA([]float64{1}, 2)
	assert.False(t, ok)
}

func TestSlopeAndHighLow(t *testing.T) {
	values := []float64{110, 108, 106, 104, 102, 100}
	slope, ok := SlopePct(values, 2, 2)
	require.True(t, ok)
	assert.InDelta(t, (109.0-105.0)/105.0*100, slope, 1e-9)

	_, ok = SlopePct(values, 5, 2)
	assert.False(t, ok)

	candles := []models.Candle{{High: 5, Low: 3}, {High: 7, Low: 4}, {High: 6, Low: 1}}
	high, low, ok := HighLow(candles, 2)
	require.True(t, ok)
	assert.Equal(t, 7.0, high)
	assert.Equal(t, 3.0, low)
}

func TestReturnsAndVaR(t *testing.T) {
	rets := Returns([]float64{110, 100, 125})
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-9)
	assert.InDelta(t, -0.20, rets[1], 1e-9)

	sample := []float64{-0.05, -0.02, -0.01, 0, 0.01, 0.01, 0.02, 0.02, 0.03, 0.04}
	v, ok := HistoricalVaR(sample, 0.9)
	require.True(t, ok)
	assert.InDelta(t, 0.02, v, 1e-9)

	v, ok = HistoricalVaR([]float64{0.01, 0.02}, 0.95)
	require.True(t, ok)
	assert.Equal(t, 0.0, v, "all gains means no loss at risk")

	_, ok = HistoricalVaR(nil, 0.95)
	assert.False(t, ok)
}
