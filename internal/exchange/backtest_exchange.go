package exchange

import (
	"context"
	"fmt"
	"math"
	"signal-trading-bot-go/internal/models"
	"sync"
	"time"
)

// bucket 一根聚合K线对应的基础K线下标区间 [first, last]
type bucket struct {
	first, last int
	candle      models.Candle
}

type resampled struct {
	buckets []bucket
	index   []int // 基础K线下标 -> bucket 下标
}

// BacktestExchange 用历史K线模拟现货市价成交，实现 Exchange 接口。
// 基础K线 (通常为1m) 按正序逐根推进，更大周期在当前时刻按已发生的数据聚合，不会看到未来
type BacktestExchange struct {
	Symbol         string
	InitialBalance float64
	Cash           float64
	Position       float64 // 持有的基础货币数量
	AvgEntryPrice  float64
	TotalFees      float64
	EquityCurve    []float64
	Fills          []models.TradeRecord

	TakerFeeRate float64
	SlippageRate float64
	StepSize     float64

	base        []models.Candle // 正序
	baseDur     time.Duration
	cursor      int
	series      map[string]*resampled
	dailyEquity map[string]float64
	maxExposure float64
	nextOrderID int64
	mu          sync.Mutex
}

// NewBacktestExchange 创建回测交易所。candles 为正序的基础周期K线，至少两根
func NewBacktestExchange(cfg *models.Config, candles []models.Candle) (*BacktestExchange, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("回测至少需要2根K线: %w", ErrNoData)
	}
	base := make([]models.Candle, len(candles))
	copy(base, candles)
	dur := base[1].Timestamp.Sub(base[0].Timestamp)
	if dur <= 0 {
		return nil, fmt.Errorf("K线必须按时间正序排列")
	}
	e := &BacktestExchange{
		Symbol:         cfg.Symbol,
		InitialBalance: cfg.Capital,
		Cash:           cfg.Capital,
		EquityCurve:    make([]float64, 0, len(base)),
		TakerFeeRate:   cfg.Backtest.TakerFeeRate,
		SlippageRate:   cfg.Backtest.SlippageRate,
		StepSize:       cfg.Backtest.StepSize,
		base:           base,
		baseDur:        dur,
		series:         make(map[string]*resampled),
		dailyEquity:    make(map[string]float64),
		nextOrderID:    1,
	}
	e.updateEquity()
	return e, nil
}

// Advance 推进到下一根基础K线，数据用尽时返回 false
func (e *BacktestExchange) Advance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor+1 >= len(e.base) {
		return false
	}
	e.cursor++
	e.updateEquity()
	return true
}

// Seek 跳到第 i 根基础K线 (用于预热指标)
func (e *BacktestExchange) Seek(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = max(0, min(i, len(e.base)-1))
}

// Len 基础K线数量
func (e *BacktestExchange) Len() int { return len(e.base) }

// CurrentTime 当前K线的收盘时刻
func (e *BacktestExchange) CurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeTime()
}

func (e *BacktestExchange) closeTime() time.Time {
	return e.base[e.cursor].Timestamp.Add(e.baseDur)
}

func (e *BacktestExchange) currentPrice() float64 { return e.base[e.cursor].Close }

// CurrentPrice 当前收盘价
func (e *BacktestExchange) CurrentPrice() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPrice()
}

// GetCandles 返回截至当前时刻的倒序K线，最新一根可能是未走完的聚合K线
func (e *BacktestExchange) GetCandles(_ context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if symbol != e.Symbol {
		return nil, fmt.Errorf("回测只支持 %s: %w", e.Symbol, ErrNoData)
	}
	s, err := e.resample(timeframe)
	if err != nil {
		return nil, err
	}
	cur := s.index[e.cursor]
	out := make([]models.Candle, 0, count)
	partial := e.aggregate(s.buckets[cur].first, e.cursor)
	partial.Timestamp = s.buckets[cur].candle.Timestamp
	out = append(out, partial)
	for b := cur - 1; b >= 0 && len(out) < count; b-- {
		out = append(out, s.buckets[b].candle)
	}
	return out, nil
}

// resample 按周期把基础K线分桶，结果缓存
func (e *BacktestExchange) resample(timeframe string) (*resampled, error) {
	if s, ok := e.series[timeframe]; ok {
		return s, nil
	}
	dur, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if dur < e.baseDur || dur%e.baseDur != 0 {
		return nil, fmt.Errorf("周期 %s 无法由 %s 基础K线聚合", timeframe, e.baseDur)
	}
	s := &resampled{index: make([]int, len(e.base))}
	var starts []time.Time
	for i, c := range e.base {
		start := c.Timestamp.Truncate(dur)
		n := len(s.buckets)
		if n == 0 || !starts[n-1].Equal(start) {
			s.buckets = append(s.buckets, bucket{first: i, last: i})
			starts = append(starts, start)
			n++
		}
		s.buckets[n-1].last = i
		s.index[i] = n - 1
	}
	for i := range s.buckets {
		b := &s.buckets[i]
		b.candle = e.aggregate(b.first, b.last)
		b.candle.Timestamp = starts[i]
	}
	e.series[timeframe] = s
	return s, nil
}

func (e *BacktestExchange) aggregate(first, last int) models.Candle {
	c := models.Candle{
		Timestamp: e.base[first].Timestamp,
		Open:      e.base[first].Open,
		High:      e.base[first].High,
		Low:       e.base[first].Low,
		Close:     e.base[last].Close,
	}
	for i := first; i <= last; i++ {
		c.High = math.Max(c.High, e.base[i].High)
		c.Low = math.Min(c.Low, e.base[i].Low)
		c.Volume += e.base[i].Volume
	}
	return c
}

// GetTicker 当前价格与24小时涨跌幅 (百分数)
func (e *BacktestExchange) GetTicker(_ context.Context, symbol string) (*models.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price := e.currentPrice()
	back := int(24 * time.Hour / e.baseDur)
	ref := e.base[max(0, e.cursor-back)].Close
	change := 0.0
	if ref > 0 {
		change = (price - ref) / ref * 100
	}
	return &models.Ticker{Symbol: symbol, Price: price, Change24hPct: change, Time: e.closeTime()}, nil
}

// SubmitMarketBuy 以当前收盘价加滑点买入，数量按步长向下取整，手续费以计价货币支付
func (e *BacktestExchange) SubmitMarketBuy(_ context.Context, symbol string, notional float64) (*models.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price := e.currentPrice() * (1 + e.SlippageRate)
	qty := floorToStep(notional/price, e.StepSize)
	if qty <= 0 {
		return nil, fmt.Errorf("买入金额 %.2f 不足一个步长: %w", notional, ErrOrderRejected)
	}
	cost := qty * price
	fee := cost * e.TakerFeeRate
	if cost+fee > e.Cash+1e-9 {
		return nil, fmt.Errorf("余额不足: 需要 %.4f, 可用 %.4f: %w", cost+fee, e.Cash, ErrOrderRejected)
	}

	e.AvgEntryPrice = (e.AvgEntryPrice*e.Position + cost) / (e.Position + qty)
	e.Position += qty
	e.Cash -= cost + fee
	e.TotalFees += fee
	return e.recordFill(symbol, models.Buy, price, qty, fee), nil
}

// SubmitMarketSell 以当前收盘价减滑点卖出，不能超过持仓
func (e *BacktestExchange) SubmitMarketSell(_ context.Context, symbol string, quantity float64) (*models.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	qty := math.Min(quantity, e.Position)
	if e.Position-qty > 1e-12 {
		qty = floorToStep(qty, e.StepSize)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("卖出数量 %.8f 无效 (持仓 %.8f): %w", quantity, e.Position, ErrOrderRejected)
	}
	price := e.currentPrice() * (1 - e.SlippageRate)
	proceeds := qty * price
	fee := proceeds * e.TakerFeeRate

	e.Position -= qty
	if e.Position <= 1e-12 {
		e.Position = 0
		e.AvgEntryPrice = 0
	}
	e.Cash += proceeds - fee
	e.TotalFees += fee
	return e.recordFill(symbol, models.Sell, price, qty, fee), nil
}

// recordFill 必须在持有锁的情况下调用
func (e *BacktestExchange) recordFill(symbol string, side models.Side, price, qty, fee float64) *models.OrderResult {
	id := fmt.Sprintf("bt-%d", e.nextOrderID)
	e.nextOrderID++
	e.Fills = append(e.Fills, models.TradeRecord{
		ID:       id,
		Symbol:   symbol,
		Type:     side,
		Time:     e.closeTime(),
		Price:    price,
		Quantity: qty,
		Value:    price * qty,
		Fee:      fee,
		OrderID:  id,
	})
	e.trackExposure()
	return &models.OrderResult{OrderID: id, ExecutedPrice: price, ExecutedQuantity: qty, Fee: fee}
}

func (e *BacktestExchange) equity() float64 {
	return e.Cash + e.Position*e.currentPrice()
}

func (e *BacktestExchange) trackExposure() {
	if eq := e.equity(); eq > 0 {
		e.maxExposure = math.Max(e.maxExposure, e.Position*e.currentPrice()/eq)
	}
}

// updateEquity 记录当前权益。必须在持有锁的情况下调用
func (e *BacktestExchange) updateEquity() {
	eq := e.equity()
	e.EquityCurve = append(e.EquityCurve, eq)
	e.dailyEquity[e.base[e.cursor].Timestamp.Format("2006-01-02")] = eq
}

// Equity 当前账户权益
func (e *BacktestExchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity()
}

// GetDailyEquity 返回每日权益的只读副本
func (e *BacktestExchange) GetDailyEquity() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make(map[string]float64, len(e.dailyEquity))
	for k, v := range e.dailyEquity {
		cpy[k] = v
	}
	return cpy
}

// GetMaxWalletExposure 回测期间最大的持仓市值/权益
func (e *BacktestExchange) GetMaxWalletExposure() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxExposure
}

// Period 回测覆盖的时间区间
func (e *BacktestExchange) Period() (time.Time, time.Time) {
	return e.base[0].Timestamp, e.base[len(e.base)-1].Timestamp.Add(e.baseDur)
}
