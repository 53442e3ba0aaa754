package models

import (
	"fmt"
	"time"
)

// RegimeScheme 行情分类方案
type RegimeScheme string

const (
	SchemeTrend RegimeScheme = "trend" // 1h/4h 双周期均线
	SchemeRange RegimeScheme = "range" // 箱体/趋势
	SchemeNone  RegimeScheme = "none"  // 不分类，使用兜底规则
)

// TrendState 趋势方案下的四种行情状态
type TrendState int

const (
	TrendUnknown TrendState = iota
	StrongBull
	Correction
	WeakBounce
	StrongBear
)

var trendStateNames = map[TrendState]string{
	TrendUnknown: "unknown",
	StrongBull:   "strong_bull",
	Correction:   "correction",
	WeakBounce:   "weak_bounce",
	StrongBear:   "strong_bear",
}

func (t TrendState) String() string {
	if name, ok := trendStateNames[t]; ok {
		return name
	}
	return fmt.Sprintf("trend(%d)", int(t))
}

func (t TrendState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TrendState) UnmarshalText(text []byte) error {
	for state, name := range trendStateNames {
		if name == string(text) {
			*t = state
			return nil
		}
	}
	return fmt.Errorf("未知的趋势状态: %q", string(text))
}

// RangeMode 区间方案下的两种模式
type RangeMode int

const (
	ModeBox RangeMode = iota
	ModeTrend
)

func (m RangeMode) String() string {
	if m == ModeTrend {
		return "TREND"
	}
	return "BOX"
}

func (m RangeMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *RangeMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BOX":
		*m = ModeBox
	case "TREND":
		*m = ModeTrend
	default:
		return fmt.Errorf("未知的区间模式: %q", string(text))
	}
	return nil
}

// Regime 当前周期计算出的行情状态及其入场策略
type Regime struct {
	Scheme          RegimeScheme `json:"scheme"`
	Trend           TrendState   `json:"trend,omitempty"`
	Mode            RangeMode    `json:"mode,omitempty"`
	RSIBuyThreshold float64      `json:"rsi_buy_threshold"`
	BandTolerance   float64      `json:"band_tolerance"`
	BuyAllowed      bool         `json:"buy_allowed"`
	ComputedAt      time.Time    `json:"computed_at"`
}

// Name 返回行情状态的名称，如 strong_bull 或 BOX
func (r *Regime) Name() string {
	if r == nil {
		return "none"
	}
	if r.Scheme == SchemeRange {
		return r.Mode.String()
	}
	return r.Trend.String()
}

// Signal 单个周期的评估结果，每轮新建，不持久化
type Signal struct {
	Timeframe       string    `json:"timeframe"`
	Time            time.Time `json:"time"`
	Price           float64   `json:"price"`
	RSI             float64   `json:"rsi"`
	BollingerUpper  float64   `json:"bollinger_upper"`
	BollingerMiddle float64   `json:"bollinger_middle"`
	BollingerLower  float64   `json:"bollinger_lower"`
	BandPositionPct float64   `json:"band_position_pct"`
	VolumeRatio     float64   `json:"volume_ratio"`
	VolumeThreshold float64   `json:"volume_threshold"`
	Regime          *Regime   `json:"regime,omitempty"`
	Rule            string    `json:"rule"` // 命中的入场规则名称
	Buy             bool      `json:"buy"`
	Sell            bool      `json:"sell"`
}

// Position 当前持仓。同一交易对同时最多一个
type Position struct {
	Symbol          string    `json:"symbol"`
	EntryPrice      float64   `json:"entry_price"`
	EntryTime       time.Time `json:"entry_time"`
	Quantity        float64   `json:"quantity"`         // 剩余数量
	InitialQuantity float64   `json:"initial_quantity"` // 开仓数量
	InvestedCapital float64   `json:"invested_capital"` // 剩余数量对应的成本 (含买入手续费)
	SoldRatio       float64   `json:"sold_ratio"`
	PeakProfitPct   float64   `json:"peak_profit_pct"`
	LowestProfitPct float64   `json:"lowest_profit_pct"`
	EntryRegime     string    `json:"entry_regime"`
	EntryOrderID    string    `json:"entry_order_id"`
	EntryTradeID    string    `json:"entry_trade_id,omitempty"` // 开仓成交记录的ID
}

// ProfitPct 以入场价计算的收益率
func (p *Position) ProfitPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// HoldMinutes 持仓时长 (分钟)
func (p *Position) HoldMinutes(now time.Time) float64 {
	return now.Sub(p.EntryTime).Minutes()
}

// Clone 返回持仓的副本
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// DailyRiskState 当日风控状态，日切时重置
type DailyRiskState struct {
	Date              string  `json:"date"`
	CumulativePnLPct  float64 `json:"cumulative_pnl_pct"`
	RealizedPnL       float64 `json:"realized_pnl"`
	TradingPaused     bool    `json:"trading_paused"`
	PauseReason       string  `json:"pause_reason,omitempty"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// TradeRecord 成交记录，只追加
type TradeRecord struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Type          Side      `json:"type"`
	Time          time.Time `json:"time"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Value         float64   `json:"value"`
	Fee           float64   `json:"fee"`
	Profit        float64   `json:"profit"`
	ProfitPct     float64   `json:"profit_pct"`
	Reason        string    `json:"reason"`
	HoldMinutes   float64   `json:"hold_minutes"`
	PeakProfitPct float64   `json:"peak_profit_pct"`
	OrderID       string    `json:"order_id"`
	EntryID       string    `json:"entry_id,omitempty"` // 所属整笔交易的开仓成交ID，分批卖出据此合并
	Partial       bool      `json:"partial,omitempty"`  // 卖出后仍有剩余持仓
}

// Action 单轮决策动作
type Action string

const (
	ActionNone        Action = "none"
	ActionBuy         Action = "buy"
	ActionSell        Action = "sell"
	ActionPartialSell Action = "partial_sell"
)

// TickResult 一次 OnTick 的结果
type TickResult struct {
	Symbol         string       `json:"symbol"`
	Time           time.Time    `json:"time"`
	Action         Action       `json:"action"`
	Reason         string       `json:"reason,omitempty"`
	Price          float64      `json:"price"`
	Signal         *Signal      `json:"signal,omitempty"`
	BuySignalCount int          `json:"buy_signal_count"`
	Position       *Position    `json:"position,omitempty"`
	Trade          *TradeRecord `json:"trade,omitempty"`
}

// EngineState 引擎需要持久化的全部状态
type EngineState struct {
	Symbol         string         `json:"symbol"`
	Version        int            `json:"version"`
	Position       *Position      `json:"position,omitempty"`
	Risk           DailyRiskState `json:"risk"`
	Capital        float64        `json:"capital"` // 可用资金
	RangeMode      RangeMode      `json:"range_mode"`
	LastUpdateTime time.Time      `json:"last_update_time"`
}

// EngineStatus 供状态查询使用的只读快照
type EngineStatus struct {
	Symbol            string         `json:"symbol"`
	LastTick          time.Time      `json:"last_tick"`
	LastPrice         float64        `json:"last_price"`
	Capital           float64        `json:"capital"`
	Position          *Position      `json:"position,omitempty"`
	Risk              DailyRiskState `json:"risk"`
	LastSignal        *Signal        `json:"last_signal,omitempty"`
	BuySignalCount    int            `json:"buy_signal_count"`
	Regime            string         `json:"regime"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
}

// ParameterSet 持久化的参数覆盖，启动时加载
type ParameterSet struct {
	Symbol    string          `json:"symbol"`
	Version   int             `json:"version"`
	Strategy  *StrategyConfig `json:"strategy,omitempty"`
	Exits     *ExitConfig     `json:"exits,omitempty"`
	Risk      *RiskConfig     `json:"risk,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
