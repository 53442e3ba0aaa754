package signal

import (
	"fmt"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
	"signal-trading-bot-go/internal/regime"
	"time"
)

// FetchFunc 按周期和数量拉取K线 (倒序)
type FetchFunc func(timeframe string, count int) models.CandleResult

// Evaluator 信号评估器。一个交易对一个实例，只在引擎的单轮循环内调用
type Evaluator struct {
	cfg    models.StrategyConfig
	trend  *regime.TrendClassifier
	ranges *regime.RangeClassifier
	cached *models.Regime
}

// NewEvaluator 按配置创建评估器
func NewEvaluator(cfg models.StrategyConfig) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		trend:  regime.NewTrendClassifier(cfg.Trend),
		ranges: regime.NewRangeClassifier(cfg.Range, cfg.ATRPeriod, cfg.VolumeMAPeriod),
	}
}

// MinCandles 单个周期评估所需的最少K线数量
func (e *Evaluator) MinCandles() int {
	return max(e.cfg.RSIPeriod+1, e.cfg.BollingerPeriod, e.cfg.VolumeMAPeriod)
}

// RegimeCandles 行情状态分类在各周期上需要的K线数，scheme 为 none 时返回 nil
func (e *Evaluator) RegimeCandles() map[string]int {
	switch e.cfg.RegimeScheme {
	case models.SchemeTrend:
		n := e.trend.MinCandles()
		need := map[string]int{e.cfg.Trend.FastTimeframe: n}
		need[e.cfg.Trend.SlowTimeframe] = n
		return need
	case models.SchemeRange:
		return map[string]int{e.cfg.Range.Timeframe: e.ranges.MinCandles()}
	default:
		return nil
	}
}

// RangeMode 区间分类器当前模式
func (e *Evaluator) RangeMode() models.RangeMode { return e.ranges.Mode() }

// RestoreRangeMode 恢复区间分类器模式
func (e *Evaluator) RestoreRangeMode(mode models.RangeMode) { e.ranges.SetMode(mode) }

// ResolveRegime 计算当前行情状态，在 regime_cache_ttl 内复用上次结果。
// scheme 为 none 时返回 (nil, nil)
func (e *Evaluator) ResolveRegime(now time.Time, fetch FetchFunc) (*models.Regime, error) {
	if e.cached != nil && e.cfg.RegimeCacheTTL > 0 && now.Sub(e.cached.ComputedAt) < e.cfg.RegimeCacheTTL {
		return e.cached, nil
	}

	var (
		rg  *models.Regime
		err error
	)
	switch e.cfg.RegimeScheme {
	case models.SchemeTrend:
		count := e.trend.MinCandles()
		fast := fetch(e.cfg.Trend.FastTimeframe, count)
		if fast.Err != nil {
			return nil, fast.Err
		}
		slow := fetch(e.cfg.Trend.SlowTimeframe, count)
		if slow.Err != nil {
			return nil, slow.Err
		}
		rg, err = e.trend.Classify(fast.Candles, slow.Candles, now)
	case models.SchemeRange:
		res := fetch(e.cfg.Range.Timeframe, e.ranges.MinCandles())
		if res.Err != nil {
			return nil, res.Err
		}
		rg, _, err = e.ranges.Classify(res.Candles, now)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.cached = rg
	return rg, nil
}

// VolumeThreshold 周期对应的成交量比阈值，强势上涨时减半
func (e *Evaluator) VolumeThreshold(timeframe string, rg *models.Regime) float64 {
	threshold := e.cfg.VolumeThreshold
	if th, ok := e.cfg.VolumeThresholds[timeframe]; ok {
		threshold = th
	}
	if rg != nil && rg.Scheme == models.SchemeTrend && rg.Trend == models.StrongBull {
		threshold /= 2
	}
	return threshold
}

// Evaluate 对单个周期给出买卖判断。数据不足时返回 ErrInsufficientData
func (e *Evaluator) Evaluate(timeframe string, candles []models.Candle, rg *models.Regime) (*models.Signal, error) {
	if len(candles) < e.MinCandles() {
		return nil, fmt.Errorf("%s 需要 %d 根K线，实际 %d: %w", timeframe, e.MinCandles(), len(candles), indicators.ErrInsufficientData)
	}
	closes := models.Closes(candles)
	rsi, ok := indicators.RSI(closes, e.cfg.RSIPeriod)
	if !ok {
		return nil, fmt.Errorf("%s RSI: %w", timeframe, indicators.ErrInsufficientData)
	}
	bands, ok := indicators.Bollinger(closes, e.cfg.BollingerPeriod, e.cfg.BollingerStdDev)
	if !ok {
		return nil, fmt.Errorf("%s 布林带: %w", timeframe, indicators.ErrInsufficientData)
	}
	// 均量为0时比值记为0
	volumeRatio, _ := indicators.VolumeRatio(models.Volumes(candles), e.cfg.VolumeMAPeriod)

	price := closes[0]
	sig := &models.Signal{
		Timeframe:       timeframe,
		Time:            candles[0].Timestamp,
		Price:           price,
		RSI:             rsi,
		BollingerUpper:  bands.Upper,
		BollingerMiddle: bands.Middle,
		BollingerLower:  bands.Lower,
		BandPositionPct: bands.PositionPct(price),
		VolumeRatio:     volumeRatio,
		VolumeThreshold: e.VolumeThreshold(timeframe, rg),
		Regime:          rg,
	}

	rule, name := e.entryRule(rg)
	sig.Rule = name
	ruleBuy := rule.BuyAllowed && rsi < rule.RSIThreshold &&
		(rule.BandTolerance == 0 || price <= bands.Lower*rule.BandTolerance)
	volumeOK := !e.cfg.VolumeGateEnabled || volumeRatio >= sig.VolumeThreshold
	sig.Buy = ruleBuy && volumeOK

	sig.Sell = rsi > e.cfg.RSISellThreshold && price >= bands.Upper*e.cfg.UpperBandTolerance
	return sig, nil
}

func (e *Evaluator) entryRule(rg *models.Regime) (models.EntryRule, string) {
	if rg == nil {
		return e.cfg.Fallback, "fallback"
	}
	return models.EntryRule{
		RSIThreshold:  rg.RSIBuyThreshold,
		BandTolerance: rg.BandTolerance,
		BuyAllowed:    rg.BuyAllowed,
	}, rg.Name()
}
