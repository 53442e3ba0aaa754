package config

import (
	"errors"
	"fmt"
	"signal-trading-bot-go/internal/models"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig 配置缺失或取值非法
var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig 从指定路径加载配置文件 (json/yaml)，叠加默认值与环境变量
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	SetDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*models.Config, error) {
	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	applyListDefaults(cfg)
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 密钥沿用通用的环境变量名
	_ = v.BindEnv("binance.api_key", "BINANCE_API_KEY")
	_ = v.BindEnv("binance.secret_key", "BINANCE_SECRET_KEY")
	_ = v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
}

// SetDefaults 设置所有标量参数的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("is_testnet", false)
	v.SetDefault("db_path", "data/state")
	v.SetDefault("capital", 1000.0)
	v.SetDefault("min_order_value", 5.0)

	v.SetDefault("strategy.timeframes", []string{"1m", "5m", "15m"})
	v.SetDefault("strategy.candle_count", 200)
	v.SetDefault("strategy.required_signals", 2)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.rsi_sell_threshold", 70.0)
	v.SetDefault("strategy.bollinger_period", 20)
	v.SetDefault("strategy.bollinger_std_dev", 2.0)
	v.SetDefault("strategy.upper_band_tolerance", 0.99)
	v.SetDefault("strategy.volume_ma_period", 20)
	v.SetDefault("strategy.volume_gate_enabled", true)
	v.SetDefault("strategy.volume_threshold", 0.3)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.atr_timeframe", "5m")
	v.SetDefault("strategy.regime_scheme", string(models.SchemeTrend))
	v.SetDefault("strategy.regime_cache_ttl", 5*time.Minute)

	v.SetDefault("strategy.trend.fast_timeframe", "1h")
	v.SetDefault("strategy.trend.slow_timeframe", "4h")
	v.SetDefault("strategy.trend.short_ma", 20)
	v.SetDefault("strategy.trend.long_ma", 50)
	v.SetDefault("strategy.trend.allow_entry_in_bear_regime", true)
	setRuleDefaults(v, "strategy.trend.strong_bull", 50, 0)
	setRuleDefaults(v, "strategy.trend.correction", 45, 1.20)
	setRuleDefaults(v, "strategy.trend.weak_bounce", 40, 1.10)
	setRuleDefaults(v, "strategy.trend.strong_bear", 30, 1.02)

	v.SetDefault("strategy.range.timeframe", "1h")
	v.SetDefault("strategy.range.short_ma", 20)
	v.SetDefault("strategy.range.long_ma", 200)
	v.SetDefault("strategy.range.slope_lookback", 5)
	v.SetDefault("strategy.range.strong_slope_pct", 0.5)
	v.SetDefault("strategy.range.flat_slope_pct", 0.15)
	v.SetDefault("strategy.range.box_lookback", 48)
	v.SetDefault("strategy.range.box_min_pct", 4.0)
	v.SetDefault("strategy.range.box_max_pct", 10.0)
	v.SetDefault("strategy.range.atr_expansion_pct", 15.0)
	v.SetDefault("strategy.range.atr_pct_max", 4.0)
	v.SetDefault("strategy.range.volume_spike_ratio", 2.0)
	setRuleDefaults(v, "strategy.range.box", 35, 1.02)
	setRuleDefaults(v, "strategy.range.trend", 45, 0)

	setRuleDefaults(v, "strategy.fallback", 30, 1.05)

	v.SetDefault("exits.quick_profit_pct", 0.008)
	v.SetDefault("exits.quick_profit_window", 30*time.Minute)
	v.SetDefault("exits.partial_enabled", true)
	v.SetDefault("exits.partial_relax_after", 2*time.Hour)
	v.SetDefault("exits.partial_relax_pct", 0.003)
	v.SetDefault("exits.take_profit_levels", []float64{0.02, 0.015, 0.01})
	v.SetDefault("exits.stop_loss_tight_pct", -0.007)
	v.SetDefault("exits.stop_loss_wide_pct", -0.015)
	v.SetDefault("exits.atr_pct_low", 0.5)
	v.SetDefault("exits.atr_pct_high", 2.0)
	v.SetDefault("exits.timeout_hours", 3.0)
	v.SetDefault("exits.timeout_min_profit_pct", 0.002)
	v.SetDefault("exits.sell_on_overbought", true)

	v.SetDefault("risk.max_daily_loss_pct", -0.03)
	v.SetDefault("risk.max_consecutive_losses", 0)
	v.SetDefault("risk.timezone", "Local")
	v.SetDefault("risk.max_var_pct", 0.0)
	v.SetDefault("risk.var_confidence", 0.95)
	v.SetDefault("risk.var_lookback", 100)
	v.SetDefault("risk.history_size", 200)
	v.SetDefault("risk.sizing.method", "fixed")
	v.SetDefault("risk.sizing.fraction", 0.5)
	v.SetDefault("risk.sizing.risk_per_trade_pct", 0.01)
	v.SetDefault("risk.sizing.atr_stop_multiple", 2.0)
	v.SetDefault("risk.sizing.kelly_lookback", 20)
	v.SetDefault("risk.sizing.kelly_min_trades", 10)
	v.SetDefault("risk.sizing.kelly_multiplier", 0.5)
	v.SetDefault("risk.sizing.min_fraction", 0.1)
	v.SetDefault("risk.sizing.max_fraction", 1.0)

	v.SetDefault("engine.poll_interval", 10*time.Second)
	v.SetDefault("engine.request_timeout", 15*time.Second)
	v.SetDefault("engine.max_consecutive_errors", 3)
	v.SetDefault("engine.liquidate_on_shutdown", false)

	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.secret_key", "")
	v.SetDefault("binance.stream_enabled", true)
	v.SetDefault("binance.stream_url", "wss://stream.binance.com:9443")
	v.SetDefault("binance.testnet_stream_url", "wss://testnet.binance.vision")
	v.SetDefault("binance.stale_after", 10*time.Second)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.poll_timeout", 10*time.Second)
	v.SetDefault("telegram.queue_size", 64)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("backtest.taker_fee_rate", 0.001)
	v.SetDefault("backtest.slippage_rate", 0.0005)
	v.SetDefault("backtest.step_size", 0.00001)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "logs/bot.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
}

func setRuleDefaults(v *viper.Viper, key string, rsi, tolerance float64) {
	v.SetDefault(key+".rsi_threshold", rsi)
	v.SetDefault(key+".band_tolerance", tolerance)
	v.SetDefault(key+".buy_allowed", true)
}

// applyListDefaults 填充结构体列表的默认值，配置文件中给出时整体替换
func applyListDefaults(cfg *models.Config) {
	if len(cfg.Exits.PartialTiers) == 0 {
		cfg.Exits.PartialTiers = DefaultPartialTiers()
	}
	if len(cfg.Exits.TrailingTiers) == 0 {
		cfg.Exits.TrailingTiers = DefaultTrailingTiers()
	}
}

// DefaultPartialTiers 默认分批止盈: +1.5% 卖一半, +2.5% 再卖剩余的30%, +3.5% 清仓
func DefaultPartialTiers() []models.PartialTier {
	return []models.PartialTier{
		{ProfitPct: 0.015, Ratio: 0.50},
		{ProfitPct: 0.025, Ratio: 0.30},
		{ProfitPct: 0.035, Ratio: 1.0},
	}
}

// DefaultTrailingTiers 默认三档移动止损
func DefaultTrailingTiers() []models.TrailingTier {
	return []models.TrailingTier{
		{Name: "tight", Activation: 0.003, Distance: 0.003},
		{Name: "mid", Activation: 0.008, Distance: 0.005},
		{Name: "wide", Activation: 0.015, Distance: 0.008},
	}
}

// StreamURL 按 is_testnet 选择行情推送地址，推送价格必须与下单的市场一致
func StreamURL(cfg *models.Config) string {
	if cfg.IsTestnet {
		return cfg.Binance.TestnetStreamURL
	}
	return cfg.Binance.StreamURL
}

// Default 返回全部使用默认值的配置
func Default() *models.Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		// 默认值由代码给出，解析失败属于编程错误
		panic(err)
	}
	return cfg
}

// ApplyParameters 用持久化的参数集覆盖对应配置段，返回新的配置
func ApplyParameters(cfg *models.Config, ps *models.ParameterSet) *models.Config {
	out := *cfg
	if ps == nil {
		return &out
	}
	if ps.Strategy != nil {
		out.Strategy = *ps.Strategy
	}
	if ps.Exits != nil {
		out.Exits = *ps.Exits
	}
	if ps.Risk != nil {
		out.Risk = *ps.Risk
	}
	applyListDefaults(&out)
	return &out
}

// Validate 检查启动所需的配置项。live 为 true 时要求交易所密钥
func Validate(cfg *models.Config, live bool) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Symbol == "" {
		add("symbol 不能为空")
	}
	if cfg.Capital <= 0 {
		add("capital 必须大于0")
	}
	if cfg.Engine.PollInterval <= 0 {
		add("engine.poll_interval 必须大于0")
	}
	if cfg.Engine.MaxConsecutiveErrors <= 0 {
		add("engine.max_consecutive_errors 必须大于0")
	}

	s := cfg.Strategy
	if len(s.Timeframes) == 0 {
		add("strategy.timeframes 至少需要一个周期")
	}
	if s.RequiredSignals < 1 || s.RequiredSignals > len(s.Timeframes) {
		add("strategy.required_signals 必须在 [1, %d] 之间", len(s.Timeframes))
	}
	if s.RSIPeriod <= 0 || s.BollingerPeriod <= 0 || s.VolumeMAPeriod <= 0 || s.ATRPeriod <= 0 {
		add("strategy 指标周期必须大于0")
	}
	switch s.RegimeScheme {
	case models.SchemeTrend, models.SchemeRange, models.SchemeNone:
	default:
		add("strategy.regime_scheme 未知: %q", s.RegimeScheme)
	}

	e := cfg.Exits
	if e.StopLossTightPct >= 0 || e.StopLossWidePct > e.StopLossTightPct {
		add("exits 止损位需满足 stop_loss_wide_pct <= stop_loss_tight_pct < 0")
	}
	if e.ATRPctHigh <= e.ATRPctLow {
		add("exits.atr_pct_high 必须大于 atr_pct_low")
	}
	last := 0.0
	for i, tier := range e.PartialTiers {
		if tier.Ratio <= 0 || tier.Ratio > 1 {
			add("exits.partial_tiers[%d].ratio 必须在 (0, 1] 之间", i)
		}
		if tier.ProfitPct <= last {
			add("exits.partial_tiers 的阈值必须递增")
		}
		last = tier.ProfitPct
	}
	last = 0
	for i, tier := range e.TrailingTiers {
		if tier.Distance <= 0 {
			add("exits.trailing_tiers[%d].distance 必须大于0", i)
		}
		if tier.Activation <= last {
			add("exits.trailing_tiers 的启用阈值必须递增")
		}
		last = tier.Activation
	}

	if cfg.Risk.MaxDailyLossPct >= 0 {
		add("risk.max_daily_loss_pct 必须为负数")
	}
	switch cfg.Risk.Sizing.Method {
	case "fixed", "atr", "kelly":
	default:
		add("risk.sizing.method 未知: %q", cfg.Risk.Sizing.Method)
	}
	if _, err := time.LoadLocation(cfg.Risk.Timezone); err != nil {
		add("risk.timezone 无效: %v", err)
	}

	if live {
		if cfg.Binance.APIKey == "" || cfg.Binance.SecretKey == "" {
			add("BINANCE_API_KEY 和 BINANCE_SECRET_KEY 必须被设置")
		}
		if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0) {
			add("启用 telegram 时需要 TELEGRAM_BOT_TOKEN 和 TELEGRAM_CHAT_ID")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
