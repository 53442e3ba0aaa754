package models

import (
	"sort"
	"time"
)

// Candle 一根K线，创建后不可变
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// CandleResult 一次K线获取的结果：成功时 Candles 按时间倒序，失败时 Err 非空
type CandleResult struct {
	Timeframe string
	Candles   []Candle
	Err       error
}

// OK 是否获取成功
func (r CandleResult) OK() bool { return r.Err == nil && len(r.Candles) > 0 }

// Ticker 最新行情
type Ticker struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Change24hPct float64   `json:"change_24h_pct"`
	Time         time.Time `json:"time"`
}

// OrderResult 市价单成交结果
type OrderResult struct {
	OrderID          string  `json:"order_id"`
	ExecutedPrice    float64 `json:"executed_price"`
	ExecutedQuantity float64 `json:"executed_quantity"`
	Fee              float64 `json:"fee"` // 以计价货币计的手续费
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// SortNewestFirst 将K线按时间倒序排列 (最新的在下标0)，返回新切片
func SortNewestFirst(candles []Candle) []Candle {
	out := make([]Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Closes 提取收盘价序列，顺序与输入一致
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes 提取成交量序列，顺序与输入一致
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
