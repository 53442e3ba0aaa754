package regime

import (
	"fmt"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
	"time"
)

// PolicyTable 行情状态 -> 入场规则
type PolicyTable map[models.TrendState]models.EntryRule

// NewPolicyTable 由配置构建策略表。strong_bear 是否允许入场由 allow_entry_in_bear_regime 决定
func NewPolicyTable(cfg models.TrendConfig) PolicyTable {
	bear := cfg.StrongBear
	bear.BuyAllowed = bear.BuyAllowed && cfg.AllowEntryInBearRegime
	return PolicyTable{
		models.StrongBull: cfg.StrongBull,
		models.Correction: cfg.Correction,
		models.WeakBounce: cfg.WeakBounce,
		models.StrongBear: bear,
	}
}

// Lookup 查询状态对应的规则，未知状态不允许入场
func (p PolicyTable) Lookup(state models.TrendState) models.EntryRule {
	if rule, ok := p[state]; ok {
		return rule
	}
	return models.EntryRule{}
}

// Combine 将两个周期的涨跌合成为四种状态
func Combine(fastUp, slowUp bool) models.TrendState {
	switch {
	case fastUp && slowUp:
		return models.StrongBull
	case !fastUp && slowUp:
		return models.Correction
	case fastUp && !slowUp:
		return models.WeakBounce
	default:
		return models.StrongBear
	}
}

// TrendClassifier 基于双周期均线的趋势分类器，无状态
type TrendClassifier struct {
	shortMA  int
	longMA   int
	policies PolicyTable
}

// NewTrendClassifier 创建趋势分类器
func NewTrendClassifier(cfg models.TrendConfig) *TrendClassifier {
	return &TrendClassifier{
		shortMA:  cfg.ShortMA,
		longMA:   cfg.LongMA,
		policies: NewPolicyTable(cfg),
	}
}

// MinCandles 每个周期至少需要的K线数量
func (c *TrendClassifier) MinCandles() int {
	if c.longMA > c.shortMA {
		return c.longMA
	}
	return c.shortMA
}

// IsUptrend 判断单个周期是否上涨: MA短 > MA长 且 价格 > MA短
func (c *TrendClassifier) IsUptrend(candles []models.Candle) (bool, error) {
	closes := models.Closes(candles)
	short, ok1 := indicators.SMA(closes, c.shortMA)
	long, ok2 := indicators.SMA(closes, c.longMA)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("趋势判断需要 %d 根K线，实际 %d: %w", c.MinCandles(), len(candles), indicators.ErrInsufficientData)
	}
	return short > long && closes[0] > short, nil
}

// Classify 根据快慢两个周期的K线给出行情状态
func (c *TrendClassifier) Classify(fast, slow []models.Candle, now time.Time) (*models.Regime, error) {
	fastUp, err := c.IsUptrend(fast)
	if err != nil {
		return nil, fmt.Errorf("快周期: %w", err)
	}
	slowUp, err := c.IsUptrend(slow)
	if err != nil {
		return nil, fmt.Errorf("慢周期: %w", err)
	}

	state := Combine(fastUp, slowUp)
	rule := c.policies.Lookup(state)
	return &models.Regime{
		Scheme:          models.SchemeTrend,
		Trend:           state,
		RSIBuyThreshold: rule.RSIThreshold,
		BandTolerance:   rule.BandTolerance,
		BuyAllowed:      rule.BuyAllowed,
		ComputedAt:      now,
	}, nil
}
