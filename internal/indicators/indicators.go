// Package indicators holds pure technical-indicator functions.
//
// Every series is ordered newest-first: index 0 is the most recent value.
// Functions return ok=false when the series is too short.
package indicators

import (
	"errors"
	"math"
	"signal-trading-bot-go/internal/models"
	"sort"
)

// ErrInsufficientData is returned by callers that need an indicator value the
// series cannot provide.
var ErrInsufficientData = errors.New("insufficient data")

// Bands holds Bollinger Band values.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Width returns Upper-Lower.
func (b Bands) Width() float64 { return b.Upper - b.Lower }

// PositionPct places price inside the band: 0 at lower, 100 at upper.
// A zero-width band reports 50.
func (b Bands) PositionPct(price float64) float64 {
	w := b.Width()
	if w <= 0 {
		return 50
	}
	return (price - b.Lower) / w * 100
}

// SMA is the plain mean of the first period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA is seeded with the SMA of the oldest period values and rolled forward
// to index 0.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	oldest := len(values) - period
	ema, _ := SMA(values[oldest:], period)
	k := 2.0 / float64(period+1)
	for i := oldest - 1; i >= 0; i-- {
		ema = values[i]*k + ema*(1-k)
	}
	return ema, true
}

// RSI averages gains and losses over the first period deltas. It needs
// period+1 points. When the average loss is exactly zero the result is 100,
// which also covers a completely flat series.
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	var gains, losses float64
	for i := 0; i < period; i++ {
		change := prices[i] - prices[i+1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// StdDev is the population standard deviation of the first period values.
func StdDev(values []float64, period int) (float64, bool) {
	mean, ok := SMA(values, period)
	if !ok {
		return 0, false
	}
	variance := 0.0
	for _, v := range values[:period] {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period)), true
}

// Bollinger returns SMA ± mult·σ over the first period prices.
func Bollinger(prices []float64, period int, mult float64) (Bands, bool) {
	middle, ok := SMA(prices, period)
	if !ok {
		return Bands{}, false
	}
	sd, _ := StdDev(prices, period)
	offset := math.Abs(mult) * sd
	return Bands{Upper: middle + offset, Middle: middle, Lower: middle - offset}, true
}

// TrueRange of c given the previous candle's close.
func TrueRange(c models.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR averages the true range of the first period candles. Each candle needs
// its predecessor, so period+1 candles are required.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += TrueRange(candles[i], candles[i+1].Close)
	}
	return sum / float64(period), true
}

// ATRPct is ATR as a percentage of the latest close.
func ATRPct(candles []models.Candle, period int) (float64, bool) {
	atr, ok := ATR(candles, period)
	if !ok || candles[0].Close <= 0 {
		return 0, false
	}
	return atr / candles[0].Close * 100, true
}

// VolumeMA is the plain mean of the first period volumes.
func VolumeMA(volumes []float64, period int) (float64, bool) {
	return SMA(volumes, period)
}

// VolumeRatio divides the latest volume by its moving average.
func VolumeRatio(volumes []float64, period int) (float64, bool) {
	ma, ok := VolumeMA(volumes, period)
	if !ok || ma <= 0 {
		return 0, false
	}
	return volumes[0] / ma, true
}

// SlopePct compares the period-SMA now against the same SMA lookback bars ago,
// in percent.
func SlopePct(values []float64, period, lookback int) (float64, bool) {
	if lookback <= 0 || len(values) < period+lookback {
		return 0, false
	}
	now, _ := SMA(values, period)
	then, _ := SMA(values[lookback:], period)
	if then == 0 {
		return 0, false
	}
	return (now - then) / then * 100, true
}

// HighLow returns the highest high and lowest low of the first lookback candles.
func HighLow(candles []models.Candle, lookback int) (high, low float64, ok bool) {
	if lookback <= 0 || len(candles) < lookback {
		return 0, 0, false
	}
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:lookback] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low, true
}

// Returns converts prices into simple period returns, newest-first.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 0; i < len(prices)-1; i++ {
		if prices[i+1] == 0 {
			continue
		}
		out = append(out, prices[i]/prices[i+1]-1)
	}
	return out
}

// HistoricalVaR is the loss not exceeded with the given confidence, taken from
// the empirical return distribution. The result is a non-negative fraction.
func HistoricalVaR(returns []float64, confidence float64) (float64, bool) {
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return 0, false
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)
	// epsilon keeps 0.1*10 from flooring to 0
	idx := int(math.Floor((1-confidence)*float64(len(sorted)) + 1e-9))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return math.Max(0, -sorted[idx]), true
}
