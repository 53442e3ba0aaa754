package models

import "time"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Symbol        string  `mapstructure:"symbol" json:"symbol"`                   // 交易对，如 "BTCUSDT"
	IsTestnet     bool    `mapstructure:"is_testnet" json:"is_testnet"`           // 是否使用测试网
	DBPath        string  `mapstructure:"db_path" json:"db_path"`                 // 数据库目录
	Capital       float64 `mapstructure:"capital" json:"capital"`                 // 参考资金 (USDT)，日内盈亏百分比以此为分母
	MinOrderValue float64 `mapstructure:"min_order_value" json:"min_order_value"` // 交易所最小订单名义价值

	Strategy StrategyConfig `mapstructure:"strategy" json:"strategy"`
	Exits    ExitConfig     `mapstructure:"exits" json:"exits"`
	Risk     RiskConfig     `mapstructure:"risk" json:"risk"`
	Engine   EngineConfig   `mapstructure:"engine" json:"engine"`
	Binance  BinanceConfig  `mapstructure:"binance" json:"binance"`
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics" json:"metrics"`
	Backtest BacktestConfig `mapstructure:"backtest" json:"backtest"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// StrategyConfig 信号评估相关参数
type StrategyConfig struct {
	Timeframes         []string           `mapstructure:"timeframes" json:"timeframes"`                   // 多周期确认，如 1m/5m/15m
	CandleCount        int                `mapstructure:"candle_count" json:"candle_count"`               // 每个周期拉取的K线数量
	RequiredSignals    int                `mapstructure:"required_signals" json:"required_signals"`       // 入场所需的买入信号数量
	RSIPeriod          int                `mapstructure:"rsi_period" json:"rsi_period"`
	RSISellThreshold   float64            `mapstructure:"rsi_sell_threshold" json:"rsi_sell_threshold"`   // 超买卖出阈值
	BollingerPeriod    int                `mapstructure:"bollinger_period" json:"bollinger_period"`
	BollingerStdDev    float64            `mapstructure:"bollinger_std_dev" json:"bollinger_std_dev"`
	UpperBandTolerance float64            `mapstructure:"upper_band_tolerance" json:"upper_band_tolerance"` // 价格 >= 上轨 * 该系数 视为触及上轨
	VolumeMAPeriod     int                `mapstructure:"volume_ma_period" json:"volume_ma_period"`
	VolumeGateEnabled  bool               `mapstructure:"volume_gate_enabled" json:"volume_gate_enabled"` // 是否启用成交量确认
	VolumeThreshold    float64            `mapstructure:"volume_threshold" json:"volume_threshold"`       // 默认成交量比阈值
	VolumeThresholds   map[string]float64 `mapstructure:"volume_thresholds" json:"volume_thresholds"`     // 按周期覆盖的阈值
	ATRPeriod          int                `mapstructure:"atr_period" json:"atr_period"`
	ATRTimeframe       string             `mapstructure:"atr_timeframe" json:"atr_timeframe"`             // 自适应止损使用的周期
	RegimeScheme       RegimeScheme       `mapstructure:"regime_scheme" json:"regime_scheme"`             // trend | range | none
	RegimeCacheTTL     time.Duration      `mapstructure:"regime_cache_ttl" json:"regime_cache_ttl"`       // 行情状态缓存时间，0表示每次重算
	Trend              TrendConfig        `mapstructure:"trend" json:"trend"`
	Range              RangeConfig        `mapstructure:"range" json:"range"`
	Fallback           EntryRule          `mapstructure:"fallback" json:"fallback"` // 无行情状态时使用的入场规则
}

// EntryRule 描述一个行情状态下的入场条件
type EntryRule struct {
	RSIThreshold  float64 `mapstructure:"rsi_threshold" json:"rsi_threshold"`
	BandTolerance float64 `mapstructure:"band_tolerance" json:"band_tolerance"` // 价格 <= 下轨 * 该系数；0 表示不检查布林下轨
	BuyAllowed    bool    `mapstructure:"buy_allowed" json:"buy_allowed"`
}

// TrendConfig 双周期均线趋势分类参数
type TrendConfig struct {
	FastTimeframe          string    `mapstructure:"fast_timeframe" json:"fast_timeframe"`
	SlowTimeframe          string    `mapstructure:"slow_timeframe" json:"slow_timeframe"`
	ShortMA                int       `mapstructure:"short_ma" json:"short_ma"`
	LongMA                 int       `mapstructure:"long_ma" json:"long_ma"`
	AllowEntryInBearRegime bool      `mapstructure:"allow_entry_in_bear_regime" json:"allow_entry_in_bear_regime"`
	StrongBull             EntryRule `mapstructure:"strong_bull" json:"strong_bull"`
	Correction             EntryRule `mapstructure:"correction" json:"correction"`
	WeakBounce             EntryRule `mapstructure:"weak_bounce" json:"weak_bounce"`
	StrongBear             EntryRule `mapstructure:"strong_bear" json:"strong_bear"`
}

// RangeConfig 箱体/趋势模式分类参数
type RangeConfig struct {
	Timeframe        string    `mapstructure:"timeframe" json:"timeframe"`
	ShortMA          int       `mapstructure:"short_ma" json:"short_ma"`
	LongMA           int       `mapstructure:"long_ma" json:"long_ma"`
	SlopeLookback    int       `mapstructure:"slope_lookback" json:"slope_lookback"`         // 斜率回看的K线数
	StrongSlopePct   float64   `mapstructure:"strong_slope_pct" json:"strong_slope_pct"`     // 短均线斜率(%)达到该值视为强趋势
	FlatSlopePct     float64   `mapstructure:"flat_slope_pct" json:"flat_slope_pct"`         // 短均线斜率(%)低于该值视为走平
	BoxLookback      int       `mapstructure:"box_lookback" json:"box_lookback"`             // 箱体高低点回看的K线数
	BoxMinPct        float64   `mapstructure:"box_min_pct" json:"box_min_pct"`
	BoxMaxPct        float64   `mapstructure:"box_max_pct" json:"box_max_pct"`
	ATRExpansionPct  float64   `mapstructure:"atr_expansion_pct" json:"atr_expansion_pct"`   // ATR 相对回看前的扩张幅度(%)
	ATRPctMax        float64   `mapstructure:"atr_pct_max" json:"atr_pct_max"`               // 箱体模式要求 ATR% 低于该值
	VolumeSpikeRatio float64   `mapstructure:"volume_spike_ratio" json:"volume_spike_ratio"`
	Box              EntryRule `mapstructure:"box" json:"box"`
	Trend            EntryRule `mapstructure:"trend" json:"trend"`
}

// ExitConfig 持仓退出规则参数，收益率均为小数 (0.008 = 0.8%)
type ExitConfig struct {
	QuickProfitPct      float64        `mapstructure:"quick_profit_pct" json:"quick_profit_pct"`
	QuickProfitWindow   time.Duration  `mapstructure:"quick_profit_window" json:"quick_profit_window"`
	PartialEnabled      bool           `mapstructure:"partial_enabled" json:"partial_enabled"`
	PartialTiers        []PartialTier  `mapstructure:"partial_tiers" json:"partial_tiers"`
	PartialRelaxAfter   time.Duration  `mapstructure:"partial_relax_after" json:"partial_relax_after"` // 持仓超过该时长后降低分批止盈阈值
	PartialRelaxPct     float64        `mapstructure:"partial_relax_pct" json:"partial_relax_pct"`
	TakeProfitLevels    []float64      `mapstructure:"take_profit_levels" json:"take_profit_levels"` // 关闭分批止盈时使用
	StopLossTightPct    float64        `mapstructure:"stop_loss_tight_pct" json:"stop_loss_tight_pct"` // 低波动时的止损位 (负数)
	StopLossWidePct     float64        `mapstructure:"stop_loss_wide_pct" json:"stop_loss_wide_pct"`   // 高波动时的止损位 (负数)
	ATRPctLow           float64        `mapstructure:"atr_pct_low" json:"atr_pct_low"`
	ATRPctHigh          float64        `mapstructure:"atr_pct_high" json:"atr_pct_high"`
	TrailingTiers       []TrailingTier `mapstructure:"trailing_tiers" json:"trailing_tiers"`
	TimeoutHours        float64        `mapstructure:"timeout_hours" json:"timeout_hours"`
	TimeoutMinProfitPct float64        `mapstructure:"timeout_min_profit_pct" json:"timeout_min_profit_pct"`
	SellOnOverbought    bool           `mapstructure:"sell_on_overbought" json:"sell_on_overbought"`
}

// PartialTier 分批止盈档位。Ratio 为本档卖出剩余仓位的比例
type PartialTier struct {
	ProfitPct float64 `mapstructure:"profit_pct" json:"profit_pct"`
	Ratio     float64 `mapstructure:"ratio" json:"ratio"`
}

// TrailingTier 移动止损档位
type TrailingTier struct {
	Name       string  `mapstructure:"name" json:"name"`
	Activation float64 `mapstructure:"activation" json:"activation"` // 峰值收益达到该值后启用
	Distance   float64 `mapstructure:"distance" json:"distance"`     // 自峰值回撤的距离
}

// RiskConfig 风控参数
type RiskConfig struct {
	MaxDailyLossPct      float64      `mapstructure:"max_daily_loss_pct" json:"max_daily_loss_pct"` // 如 -0.03
	MaxConsecutiveLosses int          `mapstructure:"max_consecutive_losses" json:"max_consecutive_losses"`
	Timezone             string       `mapstructure:"timezone" json:"timezone"` // 日切使用的时区
	MaxVaRPct            float64      `mapstructure:"max_var_pct" json:"max_var_pct"`
	VaRConfidence        float64      `mapstructure:"var_confidence" json:"var_confidence"`
	VaRLookback          int          `mapstructure:"var_lookback" json:"var_lookback"`
	HistorySize          int          `mapstructure:"history_size" json:"history_size"` // 内存中保留的成交记录数
	Sizing               SizingConfig `mapstructure:"sizing" json:"sizing"`
}

// SizingConfig 仓位规模策略参数
type SizingConfig struct {
	Method          string  `mapstructure:"method" json:"method"` // fixed | atr | kelly
	Fraction        float64 `mapstructure:"fraction" json:"fraction"`
	RiskPerTradePct float64 `mapstructure:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	ATRStopMultiple float64 `mapstructure:"atr_stop_multiple" json:"atr_stop_multiple"`
	KellyLookback   int     `mapstructure:"kelly_lookback" json:"kelly_lookback"`
	KellyMinTrades  int     `mapstructure:"kelly_min_trades" json:"kelly_min_trades"`
	KellyMultiplier float64 `mapstructure:"kelly_multiplier" json:"kelly_multiplier"`
	MinFraction     float64 `mapstructure:"min_fraction" json:"min_fraction"`
	MaxFraction     float64 `mapstructure:"max_fraction" json:"max_fraction"`
}

// EngineConfig 主循环参数
type EngineConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" json:"max_consecutive_errors"`
	LiquidateOnShutdown  bool          `mapstructure:"liquidate_on_shutdown" json:"liquidate_on_shutdown"`
}

// BinanceConfig 实盘交易所参数。密钥只从环境变量读取
type BinanceConfig struct {
	APIKey           string        `mapstructure:"api_key" json:"-"`
	SecretKey        string        `mapstructure:"secret_key" json:"-"`
	StreamEnabled    bool          `mapstructure:"stream_enabled" json:"stream_enabled"`
	StreamURL        string        `mapstructure:"stream_url" json:"stream_url"`
	TestnetStreamURL string        `mapstructure:"testnet_stream_url" json:"testnet_stream_url"` // is_testnet 时使用的推送地址
	StaleAfter       time.Duration `mapstructure:"stale_after" json:"stale_after"`               // 推送价格超过该时长未更新则回退到REST
}

// TelegramConfig 通知参数
type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled" json:"enabled"`
	Token       string        `mapstructure:"token" json:"-"`
	ChatID      int64         `mapstructure:"chat_id" json:"chat_id"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" json:"poll_timeout"`
	QueueSize   int           `mapstructure:"queue_size" json:"queue_size"`
}

// MetricsConfig Prometheus 指标
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" json:"listen"`
}

// BacktestConfig 回测引擎特定配置
type BacktestConfig struct {
	TakerFeeRate float64 `mapstructure:"taker_fee_rate" json:"taker_fee_rate"` // 吃单手续费率
	SlippageRate float64 `mapstructure:"slippage_rate" json:"slippage_rate"`   // 滑点率
	StepSize     float64 `mapstructure:"step_size" json:"step_size"`           // 数量精度
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `mapstructure:"output" json:"output"`           // 输出模式: "console", "file", "both"
	File       string `mapstructure:"file" json:"file"`               // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `mapstructure:"compress" json:"compress"`       // 是否压缩旧日志文件
}
