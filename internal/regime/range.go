package regime

import (
	"fmt"
	"math"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
	"time"
)

// BOX -> TREND 需要至少2票，TREND -> BOX 需要至少3票。
// 进出门槛不对称是模式不来回切换的关键，不可配置。
const (
	enterTrendVotes = 2
	enterBoxVotes   = 3
)

// RangeConditions 一次测量得到的原始指标与投票结果
type RangeConditions struct {
	ShortSlopePct float64
	LongSlopePct  float64
	BoxRangePct   float64
	ATRPct        float64
	ATRChangePct  float64
	VolumeRatio   float64

	// 进入趋势的投票
	StrongAlignedSlope bool
	ATRExpanding       bool
	VolumeSpike        bool

	// 回到箱体的投票
	FlatShortMA     bool
	LongMANotRising bool
	BoxInRange      bool
	LowATR          bool
}

// TrendVotes 支持 BOX -> TREND 的票数
func (c RangeConditions) TrendVotes() int {
	return countTrue(c.StrongAlignedSlope, c.ATRExpanding, c.VolumeSpike)
}

// BoxVotes 支持 TREND -> BOX 的票数
func (c RangeConditions) BoxVotes() int {
	return countTrue(c.FlatShortMA, c.LongMANotRising, c.BoxInRange, c.LowATR)
}

func countTrue(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// RangeClassifier 箱体/趋势分类器。带状态 (当前模式)，由单个引擎独占
type RangeClassifier struct {
	cfg          models.RangeConfig
	atrPeriod    int
	volumePeriod int
	mode         models.RangeMode
}

// NewRangeClassifier 创建分类器，初始模式为 BOX
func NewRangeClassifier(cfg models.RangeConfig, atrPeriod, volumePeriod int) *RangeClassifier {
	return &RangeClassifier{
		cfg:          cfg,
		atrPeriod:    atrPeriod,
		volumePeriod: volumePeriod,
		mode:         models.ModeBox,
	}
}

// Mode 当前模式
func (c *RangeClassifier) Mode() models.RangeMode { return c.mode }

// SetMode 恢复持久化的模式
func (c *RangeClassifier) SetMode(mode models.RangeMode) { c.mode = mode }

// MinCandles 测量所需的最少K线数量
func (c *RangeClassifier) MinCandles() int {
	n := c.cfg.LongMA + c.cfg.SlopeLookback
	n = max(n, c.cfg.ShortMA+c.cfg.SlopeLookback)
	n = max(n, c.atrPeriod+1+c.cfg.SlopeLookback)
	n = max(n, c.cfg.BoxLookback)
	return max(n, c.volumePeriod)
}

// Measure 计算各项条件，不改变模式
func (c *RangeClassifier) Measure(candles []models.Candle) (RangeConditions, error) {
	var cond RangeConditions
	if len(candles) < c.MinCandles() {
		return cond, fmt.Errorf("区间分类需要 %d 根K线，实际 %d: %w", c.MinCandles(), len(candles), indicators.ErrInsufficientData)
	}

	closes := models.Closes(candles)
	lookback := c.cfg.SlopeLookback
	cond.ShortSlopePct, _ = indicators.SlopePct(closes, c.cfg.ShortMA, lookback)
	cond.LongSlopePct, _ = indicators.SlopePct(closes, c.cfg.LongMA, lookback)

	if high, low, ok := indicators.HighLow(candles, c.cfg.BoxLookback); ok && low > 0 {
		cond.BoxRangePct = (high - low) / low * 100
	}
	cond.ATRPct, _ = indicators.ATRPct(candles, c.atrPeriod)
	atrNow, _ := indicators.ATR(candles, c.atrPeriod)
	if atrThen, ok := indicators.ATR(candles[lookback:], c.atrPeriod); ok && atrThen > 0 {
		cond.ATRChangePct = (atrNow - atrThen) / atrThen * 100
	}
	cond.VolumeRatio, _ = indicators.VolumeRatio(models.Volumes(candles), c.volumePeriod)

	aligned := cond.LongSlopePct != 0 && math.Signbit(cond.LongSlopePct) == math.Signbit(cond.ShortSlopePct)
	cond.StrongAlignedSlope = math.Abs(cond.ShortSlopePct) >= c.cfg.StrongSlopePct && aligned
	cond.ATRExpanding = cond.ATRChangePct > c.cfg.ATRExpansionPct
	cond.VolumeSpike = cond.VolumeRatio > c.cfg.VolumeSpikeRatio

	cond.FlatShortMA = math.Abs(cond.ShortSlopePct) <= c.cfg.FlatSlopePct
	cond.LongMANotRising = cond.LongSlopePct <= 0
	cond.BoxInRange = cond.BoxRangePct >= c.cfg.BoxMinPct && cond.BoxRangePct <= c.cfg.BoxMaxPct
	cond.LowATR = cond.ATRPct < c.cfg.ATRPctMax
	return cond, nil
}

// Observe 按迟滞规则推进模式并返回新模式
func (c *RangeClassifier) Observe(cond RangeConditions) models.RangeMode {
	switch c.mode {
	case models.ModeBox:
		if cond.TrendVotes() >= enterTrendVotes {
			c.mode = models.ModeTrend
		}
	case models.ModeTrend:
		if cond.BoxVotes() >= enterBoxVotes {
			c.mode = models.ModeBox
		}
	}
	return c.mode
}

// Classify 测量、推进模式并给出行情状态
func (c *RangeClassifier) Classify(candles []models.Candle, now time.Time) (*models.Regime, RangeConditions, error) {
	cond, err := c.Measure(candles)
	if err != nil {
		return nil, cond, err
	}
	mode := c.Observe(cond)
	rule := c.cfg.Box
	if mode == models.ModeTrend {
		rule = c.cfg.Trend
	}
	return &models.Regime{
		Scheme:          models.SchemeRange,
		Mode:            mode,
		RSIBuyThreshold: rule.RSIThreshold,
		BandTolerance:   rule.BandTolerance,
		BuyAllowed:      rule.BuyAllowed,
		ComputedAt:      now,
	}, cond, nil
}
