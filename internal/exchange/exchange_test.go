package exchange

import (
	"context"
	"errors"
	"signal-trading-bot-go/internal/config"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// minuteCandles 生成正序1m K线，收盘价从100开始每根加1
func minuteCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}
	}
	return out
}

type fakeMarket struct {
	candles []models.Candle
	err     error
}

func (f *fakeMarket) GetCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return f.candles, f.err
}

func (f *fakeMarket) GetTicker(context.Context, string) (*models.Ticker, error) {
	return nil, f.err
}

func TestFetchCandles(t *testing.T) {
	md := &fakeMarket{candles: minuteCandles(5)}
	res := FetchCandles(context.Background(), md, "BTCUSDT", "1m", 5)
	require.True(t, res.OK())
	assert.Equal(t, "1m", res.Timeframe)
	assert.Equal(t, 104.0, res.Candles[0].Close, "newest first")
	assert.Equal(t, 100.0, res.Candles[4].Close)

	res = FetchCandles(context.Background(), &fakeMarket{}, "BTCUSDT", "5m", 5)
	assert.ErrorIs(t, res.Err, ErrNoData)
	assert.ErrorIs(t, res.Err, indicators.ErrInsufficientData)

	boom := errors.New("rate limited")
	res = FetchCandles(context.Background(), &fakeMarket{err: boom}, "BTCUSDT", "15m", 5)
	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, res.OK())
}

func TestTimeframeDuration(t *testing.T) {
	for tf, want := range map[string]time.Duration{
		"1m": time.Minute, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1d": 24 * time.Hour, "1w": 7 * 24 * time.Hour,
	} {
		got, err := TimeframeDuration(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got, tf)
	}
	for _, bad := range []string{"", "m", "0m", "5x", "-1h"} {
		_, err := TimeframeDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewClientOrderID(t *testing.T) {
	a, b := NewClientOrderID("sb-"), NewClientOrderID("sb-")
	assert.True(t, strings.HasPrefix(a, "sb-"))
	assert.LessOrEqual(t, len(a), 36)
	assert.NotEqual(t, a, b)
}

func TestAdjustValueToStep(t *testing.T) {
	assert.Equal(t, 1.234, adjustValueToStep(1.23456, "0.00100000"))
	assert.Equal(t, 5.0, adjustValueToStep(5.7, "1.00000000"))
	assert.Equal(t, 0.3, adjustValueToStep(0.3, "0.10000000"))
	assert.Equal(t, 12.0, adjustValueToStep(12.9, "1"))
	assert.InDelta(t, 4.672, floorToStep(500.0/107, 0.001), 1e-12)
	assert.Equal(t, 1.5, floorToStep(1.5, 0))
}

func TestReadCandlesCSV(t *testing.T) {
	data := "open_time,open,high,low,close,volume,close_time\n" +
		"1709251260000,101,102,100,101.5,3,1709251319999\n" +
		"1709251200000,100,101,99,100.5,2,1709251259999\n"
	candles, err := ReadCandlesCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, start, candles[0].Timestamp, "sorted oldest first")
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 3.0, candles[1].Volume)

	_, err = ReadCandlesCSV(strings.NewReader("1709251200000,100,101,99,abc,2\n"))
	assert.Error(t, err)
	_, err = ReadCandlesCSV(strings.NewReader("1709251200000,100\n"))
	assert.Error(t, err)
}

func TestConvertKlines(t *testing.T) {
	klines := []*binance.Kline{
		{OpenTime: start.UnixMilli(), Open: "100", High: "101", Low: "99", Close: "100.5", Volume: "10"},
		{OpenTime: start.Add(time.Minute).UnixMilli(), Open: "100.5", High: "102", Low: "100", Close: "101.5", Volume: "12"},
	}
	candles, err := convertKlines(klines)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.5, candles[0].Close)
	assert.Equal(t, start.Add(time.Minute), candles[0].Timestamp)

	klines[0].Close = ""
	_, err = convertKlines(klines)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestParseOrderResponse(t *testing.T) {
	rules := symbolRules{baseAsset: "BTC", quoteAsset: "USDT", stepSize: "0.00001"}
	resp := &binance.CreateOrderResponse{
		OrderID:                  42,
		Status:                   binance.OrderStatusTypeFilled,
		ExecutedQuantity:         "0.5",
		CummulativeQuoteQuantity: "50",
		Fills: []*binance.Fill{
			{Price: "100", Quantity: "0.3", Commission: "0.0003", CommissionAsset: "BTC"},
			{Price: "100", Quantity: "0.2", Commission: "0.0002", CommissionAsset: "BTC"},
		},
	}
	res, err := parseOrderResponse(resp, rules)
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.InDelta(t, 100, res.ExecutedPrice, 1e-12)
	assert.InDelta(t, 0.4995, res.ExecutedQuantity, 1e-12)
	assert.InDelta(t, 0.05, res.Fee, 1e-12)

	resp.Fills = []*binance.Fill{{Commission: "0.05", CommissionAsset: "USDT"}, {Commission: "0.01", CommissionAsset: "BNB"}}
	res, err = parseOrderResponse(resp, rules)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.ExecutedQuantity, 1e-12)
	assert.InDelta(t, 0.05, res.Fee, 1e-12)

	resp.Status = binance.OrderStatusTypeExpired
	_, err = parseOrderResponse(resp, rules)
	assert.ErrorIs(t, err, ErrOrderRejected)
	_, err = parseOrderResponse(nil, rules)
	assert.ErrorIs(t, err, ErrOrderRejected)
}

func TestWrapOrderError(t *testing.T) {
	err := wrapOrderError("市价买入", &common.APIError{Code: -2010, Message: "insufficient balance"})
	assert.ErrorIs(t, err, ErrOrderRejected)

	boom := errors.New("connection reset")
	err = wrapOrderError("市价卖出", boom)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrOrderRejected)
}

func newBacktest(t *testing.T, n int) *BacktestExchange {
	t.Helper()
	cfg := config.Default()
	cfg.Symbol = "BTCUSDT"
	cfg.Capital = 1000
	cfg.Backtest.TakerFeeRate = 0.001
	cfg.Backtest.SlippageRate = 0
	cfg.Backtest.StepSize = 0.001
	e, err := NewBacktestExchange(cfg, minuteCandles(n))
	require.NoError(t, err)
	return e
}

func TestBacktestResampleWithoutLookahead(t *testing.T) {
	e := newBacktest(t, 10)
	ctx := context.Background()

	candles, err := e.GetCandles(ctx, "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 1)

	e.Seek(7)
	candles, err = e.GetCandles(ctx, "BTCUSDT", "5m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	partial := candles[0]
	assert.Equal(t, start.Add(5*time.Minute), partial.Timestamp)
	assert.Equal(t, 104.5, partial.Open)
	assert.Equal(t, 107.0, partial.Close, "partial bucket stops at the current candle")
	assert.Equal(t, 108.0, partial.High)
	assert.Equal(t, 3.0, partial.Volume)
	assert.Equal(t, 104.0, candles[1].Close)
	assert.Equal(t, 5.0, candles[1].Volume)

	candles, err = e.GetCandles(ctx, "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{107, 106, 105}, models.Closes(candles))

	_, err = e.GetCandles(ctx, "BTCUSDT", "7x", 3)
	assert.Error(t, err)
	_, err = e.GetCandles(ctx, "ETHUSDT", "1m", 3)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = NewBacktestExchange(config.Default(), minuteCandles(1))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBacktestMarketOrders(t *testing.T) {
	e := newBacktest(t, 10)
	ctx := context.Background()
	e.Seek(7)

	buy, err := e.SubmitMarketBuy(ctx, "BTCUSDT", 500)
	require.NoError(t, err)
	assert.InDelta(t, 4.672, buy.ExecutedQuantity, 1e-12)
	assert.Equal(t, 107.0, buy.ExecutedPrice)
	assert.InDelta(t, 0.499904, buy.Fee, 1e-9)
	assert.InDelta(t, 499.596096, e.Cash, 1e-9)

	_, err = e.SubmitMarketBuy(ctx, "BTCUSDT", 5000)
	assert.ErrorIs(t, err, ErrOrderRejected)

	require.True(t, e.Advance())
	ticker, err := e.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 108.0, ticker.Price)
	assert.InDelta(t, 8.0, ticker.Change24hPct, 1e-9)

	sell, err := e.SubmitMarketSell(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.InDelta(t, 4.672, sell.ExecutedQuantity, 1e-12)
	assert.InDelta(t, 1003.66752, e.Cash, 1e-9)
	assert.Zero(t, e.Position)
	assert.InDelta(t, 0.499904+0.504576, e.TotalFees, 1e-9)
	assert.Len(t, e.Fills, 2)
	assert.Greater(t, e.GetMaxWalletExposure(), 0.0)

	_, err = e.SubmitMarketSell(ctx, "BTCUSDT", 1)
	assert.ErrorIs(t, err, ErrOrderRejected)

	assert.True(t, e.Advance())
	assert.False(t, e.Advance())
	assert.InDelta(t, 1003.66752, e.Equity(), 1e-9)
	assert.Len(t, e.GetDailyEquity(), 1)
}
