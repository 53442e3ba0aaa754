package risk

import (
	"fmt"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
	"time"

	"go.uber.org/zap"
)

const pnlEpsilon = 1e-9

// 暂停原因
const (
	PauseDailyLoss         = "daily-loss-limit"
	PauseConsecutiveLosses = "consecutive-losses"
)

// Governor 维护当日风控状态。与持仓管理器一样由引擎串行调用
type Governor struct {
	cfg        models.RiskConfig
	refCapital float64
	loc        *time.Location
	state      models.DailyRiskState
	history    *TradeHistory
	sizer      Sizer
	logger     *zap.Logger
}

// NewGovernor 创建风控器。refCapital 为计算当日收益率的基准资金
func NewGovernor(cfg models.RiskConfig, refCapital float64, logger *zap.Logger) (*Governor, error) {
	if refCapital <= 0 {
		return nil, fmt.Errorf("基准资金必须大于0: %f", refCapital)
	}
	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("无法加载时区 %s: %w", cfg.Timezone, err)
		}
		loc = l
	}
	return &Governor{
		cfg:        cfg,
		refCapital: refCapital,
		loc:        loc,
		history:    NewTradeHistory(cfg.HistorySize),
		sizer:      NewSizer(cfg.Sizing),
		logger:     logger,
	}, nil
}

// DateKey 按风控时区给出日期
func (g *Governor) DateKey(now time.Time) string {
	return now.In(g.loc).Format("2006-01-02")
}

// Observe 检查日切，首次看到新日期时重置当日状态。返回是否发生了重置
func (g *Governor) Observe(now time.Time) bool {
	date := g.DateKey(now)
	if g.state.Date == date {
		return false
	}
	prev := g.state
	g.state = models.DailyRiskState{Date: date}
	if prev.Date != "" {
		g.logger.Info("日切，重置当日风控状态",
			zap.String("from", prev.Date),
			zap.String("to", date),
			zap.Float64("prevPnLPct", prev.CumulativePnLPct),
			zap.Bool("wasPaused", prev.TradingPaused))
	}
	return true
}

// CanTrade 是否允许新开仓，不允许时给出原因
func (g *Governor) CanTrade(now time.Time) (bool, string) {
	g.Observe(now)
	if g.state.TradingPaused {
		return false, g.state.PauseReason
	}
	return true, ""
}

// RecordClose 记录一笔完整交易的已实现盈亏
func (g *Governor) RecordClose(profit float64, now time.Time) {
	g.realize(profit, now)
	g.countOutcome(profit)
	g.checkLimits()
}

func (g *Governor) realize(profit float64, now time.Time) {
	g.Observe(now)
	g.state.RealizedPnL += profit
	g.state.CumulativePnLPct += profit / g.refCapital
}

// countOutcome 连续亏损按整笔交易计
func (g *Governor) countOutcome(profit float64) {
	if profit < 0 {
		g.state.ConsecutiveLosses++
	} else {
		g.state.ConsecutiveLosses = 0
	}
}

func (g *Governor) checkLimits() {
	if g.state.TradingPaused {
		return
	}
	switch {
	case g.state.CumulativePnLPct <= g.cfg.MaxDailyLossPct+pnlEpsilon:
		g.pause(PauseDailyLoss)
	case g.cfg.MaxConsecutiveLosses > 0 && g.state.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses:
		g.pause(PauseConsecutiveLosses)
	}
}

func (g *Governor) pause(reason string) {
	g.state.TradingPaused = true
	g.state.PauseReason = reason
	g.logger.Warn("触发风控，暂停开仓",
		zap.String("reason", reason),
		zap.String("date", g.state.Date),
		zap.Float64("cumulativePnLPct", g.state.CumulativePnLPct),
		zap.Int("consecutiveLosses", g.state.ConsecutiveLosses))
}

// RecordTrade 记入成交历史，卖出成交同时计入当日盈亏和连续亏损
func (g *Governor) RecordTrade(rec *models.TradeRecord) {
	if rec == nil {
		return
	}
	g.history.Add(*rec)
	if rec.Type != models.Sell {
		return
	}
	// 每笔卖出都计入当日盈亏，分批卖出在最后一笔时合并为一次盈亏结果
	g.realize(rec.Profit, rec.Time)
	if !rec.Partial {
		g.countOutcome(g.history.TripProfit(*rec))
	}
	g.checkLimits()
}

// State 当日风控状态副本
func (g *Governor) State() models.DailyRiskState { return g.state }

// Restore 恢复持久化的风控状态，日期不同的旧状态会在下次 Observe 时被重置
func (g *Governor) Restore(state models.DailyRiskState) { g.state = state }

// History 成交历史
func (g *Governor) History() *TradeHistory { return g.history }

// Size 按配置的仓位策略给出本次开仓金额
func (g *Governor) Size(in SizingInput) float64 {
	if in.History == nil {
		in.History = g.history
	}
	return g.sizer.Size(in)
}

// EstimateVaR 用最近的收盘价 (倒序) 计算历史模拟 VaR
func (g *Governor) EstimateVaR(closes []float64) (float64, bool) {
	if g.cfg.VaRLookback > 0 && len(closes) > g.cfg.VaRLookback+1 {
		closes = closes[:g.cfg.VaRLookback+1]
	}
	return indicators.HistoricalVaR(indicators.Returns(closes), g.cfg.VaRConfidence)
}

// CheckVaR 未配置上限或数据不足时放行
func (g *Governor) CheckVaR(closes []float64) (bool, string) {
	if g.cfg.MaxVaRPct <= 0 {
		return true, ""
	}
	v, ok := g.EstimateVaR(closes)
	if !ok || v <= g.cfg.MaxVaRPct {
		return true, ""
	}
	return false, fmt.Sprintf("var %.4f 超过上限 %.4f", v, g.cfg.MaxVaRPct)
}
