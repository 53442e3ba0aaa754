package position

import (
	"errors"
	"fmt"
	"math"
	"signal-trading-bot-go/internal/models"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ratioEpsilon = 1e-9

var (
	// ErrPositionOpen 已有持仓时再次开仓
	ErrPositionOpen = errors.New("position already open")
	// ErrNoPosition 空仓时执行退出
	ErrNoPosition = errors.New("no open position")
	// ErrEmptyFill 成交数量或价格为0
	ErrEmptyFill = errors.New("empty fill")
)

// State 持仓生命周期状态
type State string

const (
	Flat            State = "FLAT"
	Open            State = "OPEN"
	PartiallyClosed State = "PARTIALLY_CLOSED"
)

// 退出原因
const (
	ReasonQuickProfit = "quick-profit"
	ReasonStopLoss    = "adaptive-stop-loss"
	ReasonTimeout     = "timeout"
	ReasonOverbought  = "rsi-overbought"
	ReasonShutdown    = "shutdown"
)

// ExitInput 每轮评估退出规则所需的行情输入
type ExitInput struct {
	Price float64
	Now   time.Time
	// ATRPct 为百分数，ATROK=false 时止损使用 tight 档
	ATRPct float64
	ATROK  bool
	// Sell 信号评估器给出的超买卖出标记
	Sell bool
}

// ExitDecision 一次退出决策
type ExitDecision struct {
	Reason string
	// Fraction 为卖出剩余仓位的比例，1 表示全部平仓
	Fraction  float64
	Quantity  float64
	ProfitPct float64
	// Tier 分批止盈档位，从1开始，0 表示不是分批退出
	Tier int
	// Retry 表示这是上一轮失败退出的重试
	Retry bool
}

// Full 是否全部平仓
func (d *ExitDecision) Full() bool { return d.Fraction >= 1-ratioEpsilon }

// Manager 管理单个交易对的持仓状态机。非并发安全，由引擎串行调用
type Manager struct {
	cfg     models.ExitConfig
	levels  []float64 // 各分批档位完成后的累计卖出比例
	pos     *models.Position
	pending *ExitDecision
}

// NewManager 创建持仓管理器
func NewManager(cfg models.ExitConfig) *Manager {
	return &Manager{cfg: cfg, levels: cumulativeLevels(cfg.PartialTiers)}
}

// cumulativeLevels 将 "剩余仓位比例" 换算为累计卖出比例
func cumulativeLevels(tiers []models.PartialTier) []float64 {
	levels := make([]float64, len(tiers))
	sold := 0.0
	for i, t := range tiers {
		ratio := math.Min(math.Max(t.Ratio, 0), 1)
		sold += ratio * (1 - sold)
		levels[i] = sold
	}
	return levels
}

// State 当前状态
func (m *Manager) State() State {
	switch {
	case m.pos == nil:
		return Flat
	case m.pos.SoldRatio > ratioEpsilon:
		return PartiallyClosed
	default:
		return Open
	}
}

// Position 返回持仓副本，空仓时为 nil
func (m *Manager) Position() *models.Position { return m.pos.Clone() }

// Pending 上一轮失败、等待重试的退出
func (m *Manager) Pending() *ExitDecision { return m.pending }

// Restore 用持久化的持仓恢复状态
func (m *Manager) Restore(pos *models.Position) {
	m.pos = pos.Clone()
	m.pending = nil
}

// Open 按买单成交结果建仓，返回买入成交记录
func (m *Manager) Open(symbol string, fill models.OrderResult, now time.Time, regime string) (*models.TradeRecord, error) {
	if m.pos != nil {
		return nil, ErrPositionOpen
	}
	if fill.ExecutedQuantity <= 0 || fill.ExecutedPrice <= 0 {
		return nil, ErrEmptyFill
	}
	value := fill.ExecutedPrice * fill.ExecutedQuantity
	id := uuid.NewString()
	m.pos = &models.Position{
		Symbol:          symbol,
		EntryPrice:      fill.ExecutedPrice,
		EntryTime:       now,
		Quantity:        fill.ExecutedQuantity,
		InitialQuantity: fill.ExecutedQuantity,
		InvestedCapital: value + fill.Fee,
		EntryRegime:     regime,
		EntryOrderID:    fill.OrderID,
		EntryTradeID:    id,
	}
	m.pending = nil
	return &models.TradeRecord{
		ID:       id,
		Symbol:   symbol,
		Type:     models.Buy,
		Time:     now,
		Price:    fill.ExecutedPrice,
		Quantity: fill.ExecutedQuantity,
		Value:    value,
		Fee:      fill.Fee,
		Reason:   regime,
		OrderID:  fill.OrderID,
		EntryID:  id,
	}, nil
}

// Evaluate 更新峰值并按优先级检查退出规则，命中第一条即返回。无需退出时返回 nil
func (m *Manager) Evaluate(in ExitInput) *ExitDecision {
	p := m.pos
	if p == nil || in.Price <= 0 {
		return nil
	}
	profit := p.ProfitPct(in.Price)
	p.PeakProfitPct = math.Max(p.PeakProfitPct, profit)
	p.LowestProfitPct = math.Min(p.LowestProfitPct, profit)

	hold := in.Now.Sub(p.EntryTime)
	next := m.nextExit(hold, profit, in)

	if pending := m.pending; pending != nil {
		// 风险类退出 (止损、追踪止损、超时) 失败后原样优先重试
		if !lockProfit(pending.Reason) {
			d := *pending
			d.Quantity = p.Quantity * d.Fraction
			d.ProfitPct = profit
			d.Retry = true
			return &d
		}
		// 止盈类退出按当前行情重新评估，条件不再成立即放弃，止损等更高优先级的结果直接取代
		m.pending = nil
		if next != nil && next.Reason == pending.Reason {
			next.Retry = true
		}
	}
	return next
}

// nextExit 按优先级检查退出规则，命中第一条即返回
func (m *Manager) nextExit(hold time.Duration, profit float64, in ExitInput) *ExitDecision {
	tier := 0
	for _, rule := range []func() (string, float64){
		func() (string, float64) { return m.quickProfit(hold, profit) },
		func() (string, float64) {
			reason, fraction, t := m.partialTakeProfit(hold, profit)
			tier = t
			return reason, fraction
		},
		func() (string, float64) { return m.takeProfit(profit) },
		func() (string, float64) { return m.stopLoss(profit, in) },
		func() (string, float64) { return m.trailingStop(profit) },
		func() (string, float64) { return m.timeout(hold, profit) },
		func() (string, float64) { return m.overbought(profit, in.Sell) },
	} {
		if reason, fraction := rule(); reason != "" {
			return &ExitDecision{
				Reason:    reason,
				Fraction:  fraction,
				Quantity:  m.pos.Quantity * fraction,
				ProfitPct: profit,
				Tier:      tier,
			}
		}
	}
	return nil
}

// lockProfit 只在盈利时才会触发的退出
func lockProfit(reason string) bool {
	return reason == ReasonQuickProfit || reason == ReasonOverbought || strings.HasPrefix(reason, "take-profit-")
}

func (m *Manager) quickProfit(hold time.Duration, profit float64) (string, float64) {
	if m.cfg.QuickProfitPct > 0 && hold <= m.cfg.QuickProfitWindow && profit >= m.cfg.QuickProfitPct {
		return ReasonQuickProfit, 1
	}
	return "", 0
}

// partialTakeProfit 从最高档往下检查，已卖出比例达到该档累计比例的档位不再触发
func (m *Manager) partialTakeProfit(hold time.Duration, profit float64) (string, float64, int) {
	if !m.cfg.PartialEnabled {
		return "", 0, 0
	}
	relax := 0.0
	if m.cfg.PartialRelaxAfter > 0 && hold > m.cfg.PartialRelaxAfter {
		relax = m.cfg.PartialRelaxPct
	}
	sold := m.pos.SoldRatio
	for i := len(m.cfg.PartialTiers) - 1; i >= 0; i-- {
		threshold := math.Max(m.cfg.PartialTiers[i].ProfitPct-relax, 0)
		if profit < threshold || sold >= m.levels[i]-ratioEpsilon {
			continue
		}
		fraction := (m.levels[i] - sold) / (1 - sold)
		if fraction > 1-ratioEpsilon {
			fraction = 1
		}
		return fmt.Sprintf("take-profit-tier-%d", i+1), fraction, i + 1
	}
	return "", 0, 0
}

func (m *Manager) takeProfit(profit float64) (string, float64) {
	if m.cfg.PartialEnabled {
		return "", 0
	}
	best := math.Inf(-1)
	for _, level := range m.cfg.TakeProfitLevels {
		if level > 0 && profit >= level && level > best {
			best = level
		}
	}
	if math.IsInf(best, -1) {
		return "", 0
	}
	return fmt.Sprintf("take-profit-%.2f%%", best*100), 1
}

// AdaptiveStop 按 ATR% 在 tight 与 wide 之间线性插值止损位
func (m *Manager) AdaptiveStop(atrPct float64, ok bool) float64 {
	tight, wide := m.cfg.StopLossTightPct, m.cfg.StopLossWidePct
	if !ok || m.cfg.ATRPctHigh <= m.cfg.ATRPctLow {
		return tight
	}
	t := (atrPct - m.cfg.ATRPctLow) / (m.cfg.ATRPctHigh - m.cfg.ATRPctLow)
	t = math.Min(math.Max(t, 0), 1)
	return tight + t*(wide-tight)
}

func (m *Manager) stopLoss(profit float64, in ExitInput) (string, float64) {
	stop := m.AdaptiveStop(in.ATRPct, in.ATROK)
	if stop < 0 && profit <= stop {
		return ReasonStopLoss, 1
	}
	return "", 0
}

// ActiveTrailingTier 峰值收益已达到的最高档位
func (m *Manager) ActiveTrailingTier(peak float64) (models.TrailingTier, bool) {
	var (
		active models.TrailingTier
		found  bool
	)
	for _, tier := range m.cfg.TrailingTiers {
		if peak >= tier.Activation && (!found || tier.Activation > active.Activation) {
			active, found = tier, true
		}
	}
	return active, found
}

func (m *Manager) trailingStop(profit float64) (string, float64) {
	tier, ok := m.ActiveTrailingTier(m.pos.PeakProfitPct)
	if !ok {
		return "", 0
	}
	if m.pos.PeakProfitPct-profit >= tier.Distance-ratioEpsilon {
		return "trailing-stop-" + tier.Name, 1
	}
	return "", 0
}

func (m *Manager) timeout(hold time.Duration, profit float64) (string, float64) {
	if m.cfg.TimeoutHours <= 0 || hold.Hours() < m.cfg.TimeoutHours {
		return "", 0
	}
	if profit < 0 || profit < m.cfg.TimeoutMinProfitPct {
		return ReasonTimeout, 1
	}
	return "", 0
}

func (m *Manager) overbought(profit float64, sell bool) (string, float64) {
	if m.cfg.SellOnOverbought && sell && profit > 0 {
		return ReasonOverbought, 1
	}
	return "", 0
}

// ForceExit 构造一个全部平仓决策 (如退出时强制清仓)
func (m *Manager) ForceExit(reason string, price float64) *ExitDecision {
	if m.pos == nil {
		return nil
	}
	return &ExitDecision{Reason: reason, Fraction: 1, Quantity: m.pos.Quantity, ProfitPct: m.pos.ProfitPct(price)}
}

// MarkFailed 记录卖单失败的决策，下一轮优先重试。持仓不变
func (m *Manager) MarkFailed(d *ExitDecision) {
	if d == nil || m.pos == nil {
		return
	}
	pending := *d
	pending.Retry = false
	m.pending = &pending
}

// MarkRejected 交易所拒绝了卖单 (通常是数量不足一个步长)。
// 分批档位视为已完成，不再重试；全部平仓仍按失败处理
func (m *Manager) MarkRejected(d *ExitDecision) {
	if d == nil || m.pos == nil {
		return
	}
	if d.Full() {
		m.MarkFailed(d)
		return
	}
	m.pos.SoldRatio = m.tierLevel(d, m.pos.SoldRatio)
	m.pending = nil
}

// tierLevel 分批档位成交后的已卖出比例至少为该档的累计比例，
// 步长取整造成的少卖不会让同一档位再次触发
func (m *Manager) tierLevel(d *ExitDecision, sold float64) float64 {
	if d.Tier <= 0 || d.Tier > len(m.levels) {
		return sold
	}
	return math.Max(sold, m.levels[d.Tier-1])
}

// ApplyExit 在卖单成功后更新持仓，返回卖出成交记录
func (m *Manager) ApplyExit(d *ExitDecision, fill models.OrderResult, now time.Time) (*models.TradeRecord, error) {
	p := m.pos
	if p == nil {
		return nil, ErrNoPosition
	}
	if fill.ExecutedQuantity <= 0 || fill.ExecutedPrice <= 0 {
		return nil, ErrEmptyFill
	}
	qty := math.Min(fill.ExecutedQuantity, p.Quantity)
	portion := qty / p.Quantity
	invested := p.InvestedCapital * portion
	value := qty * fill.ExecutedPrice
	profit := value - fill.Fee - invested

	rec := &models.TradeRecord{
		ID:            uuid.NewString(),
		Symbol:        p.Symbol,
		Type:          models.Sell,
		Time:          now,
		Price:         fill.ExecutedPrice,
		Quantity:      qty,
		Value:         value,
		Fee:           fill.Fee,
		Profit:        profit,
		Reason:        d.Reason,
		HoldMinutes:   p.HoldMinutes(now),
		PeakProfitPct: p.PeakProfitPct,
		OrderID:       fill.OrderID,
		EntryID:       p.EntryTradeID,
	}
	if invested > 0 {
		rec.ProfitPct = profit / invested
	}

	sold := m.tierLevel(d, p.SoldRatio+portion*(1-p.SoldRatio))
	if d.Full() || portion >= 1-ratioEpsilon || sold >= 1-ratioEpsilon {
		m.pos = nil
	} else {
		p.Quantity -= qty
		p.InvestedCapital -= invested
		p.SoldRatio = sold
		rec.Partial = true
	}
	m.pending = nil
	return rec, nil
}
