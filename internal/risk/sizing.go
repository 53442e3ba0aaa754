package risk

import (
	"math"
	"signal-trading-bot-go/internal/models"
)

// SizingInput 开仓规模计算的输入
type SizingInput struct {
	Available float64 // 可用资金
	Price     float64
	ATR       float64 // 绝对值，0 表示不可用
	History   *TradeHistory
}

// Sizer 仓位规模策略，返回计价货币金额
type Sizer interface {
	Name() string
	Size(in SizingInput) float64
}

// NewSizer 按 method 选择策略，未知的 method 按固定比例处理
func NewSizer(cfg models.SizingConfig) Sizer {
	switch cfg.Method {
	case "atr":
		return ATRSizer{cfg: cfg}
	case "kelly":
		return KellySizer{cfg: cfg}
	default:
		return FixedFractionSizer{Fraction: cfg.Fraction}
	}
}

// FixedFractionSizer 固定比例
type FixedFractionSizer struct {
	Fraction float64
}

func (s FixedFractionSizer) Name() string { return "fixed" }

func (s FixedFractionSizer) Size(in SizingInput) float64 {
	return math.Max(in.Available, 0) * math.Min(math.Max(s.Fraction, 0), 1)
}

// ATRSizer 每笔风险固定：止损距离为 ATR 的若干倍
type ATRSizer struct {
	cfg models.SizingConfig
}

func (s ATRSizer) Name() string { return "atr" }

func (s ATRSizer) Size(in SizingInput) float64 {
	stop := in.ATR * s.cfg.ATRStopMultiple
	if stop <= 0 || in.Price <= 0 {
		return FixedFractionSizer{Fraction: s.cfg.Fraction}.Size(in)
	}
	notional := in.Available * s.cfg.RiskPerTradePct / stop * in.Price
	return clampNotional(notional, in.Available, s.cfg)
}

// KellySizer 按最近成交的凯利比例乘以系数 (默认半凯利)，样本不足时退回固定比例
type KellySizer struct {
	cfg models.SizingConfig
}

func (s KellySizer) Name() string { return "kelly" }

func (s KellySizer) Size(in SizingInput) float64 {
	fallback := FixedFractionSizer{Fraction: s.cfg.Fraction}.Size(in)
	if in.History == nil {
		return fallback
	}
	stats := in.History.Stats(s.cfg.KellyLookback)
	if stats.Trades < s.cfg.KellyMinTrades {
		return fallback
	}
	kelly, ok := stats.Kelly()
	if !ok {
		if stats.Losses == 0 && stats.Wins > 0 {
			return in.Available * s.cfg.MaxFraction
		}
		return fallback
	}
	return clampNotional(in.Available*kelly*s.cfg.KellyMultiplier, in.Available, s.cfg)
}

func clampNotional(notional, available float64, cfg models.SizingConfig) float64 {
	lo, hi := available*cfg.MinFraction, available*cfg.MaxFraction
	if hi <= 0 || hi > available {
		hi = available
	}
	return math.Min(math.Max(notional, lo), hi)
}
