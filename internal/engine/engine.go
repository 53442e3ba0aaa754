package engine

import (
	"context"
	"errors"
	"fmt"
	"signal-trading-bot-go/internal/exchange"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/metrics"
	"signal-trading-bot-go/internal/models"
	"signal-trading-bot-go/internal/notifier"
	"signal-trading-bot-go/internal/position"
	"signal-trading-bot-go/internal/risk"
	"signal-trading-bot-go/internal/signal"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StateSink 接收需要持久化的状态快照和成交记录，由 statemanager 实现
type StateSink interface {
	PublishState(state *models.EngineState)
	RecordTrade(rec *models.TradeRecord)
}

// Option 可选依赖
type Option func(*Engine)

// WithClock 替换时钟 (回测或测试使用)
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithNotifier 设置通知网关
func WithNotifier(n notifier.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithStateSink 设置持久化
func WithStateSink(s StateSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics 设置指标记录器
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine 单个交易对的决策引擎。持仓与风控状态只在 OnTick/Shutdown/Restore 中串行修改，
// 状态查询只读取快照
type Engine struct {
	cfg       *models.Config
	symbol    string
	ex        exchange.Exchange
	evaluator *signal.Evaluator
	positions *position.Manager
	governor  *risk.Governor
	capital   float64

	notifier notifier.Notifier
	sink     StateSink
	metrics  *metrics.Recorder
	clock    func() time.Time
	logger   *zap.Logger

	mu                sync.Mutex
	consecutiveErrors int
	trades            []models.TradeRecord
	status            atomic.Pointer[models.EngineStatus]
}

// New 创建引擎
func New(cfg *models.Config, ex exchange.Exchange, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil || ex == nil {
		return nil, errors.New("引擎需要配置和交易所")
	}
	governor, err := risk.NewGovernor(cfg.Risk, cfg.Capital, logger)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		symbol:    cfg.Symbol,
		ex:        ex,
		evaluator: signal.NewEvaluator(cfg.Strategy),
		positions: position.NewManager(cfg.Exits),
		governor:  governor,
		capital:   cfg.Capital,
		clock:     time.Now,
		logger:    logger.With(zap.String("symbol", cfg.Symbol)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status.Store(&models.EngineStatus{Symbol: e.symbol, Capital: e.capital, Regime: "none"})
	return e, nil
}

// Restore 从持久化状态恢复持仓、当日风控、可用资金和区间模式
func (e *Engine) Restore(state *models.EngineState) {
	if state == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions.Restore(state.Position)
	e.governor.Restore(state.Risk)
	e.capital = state.Capital
	e.evaluator.RestoreRangeMode(state.RangeMode)
	e.logger.Info("已恢复引擎状态",
		zap.Bool("hasPosition", state.Position != nil),
		zap.Float64("capital", state.Capital),
		zap.String("riskDate", state.Risk.Date))
	e.updateStatus(nil)
}

// RestoreHistory 用成交日志 (倒序) 重建仓位规模计算所需的历史，不影响当日风控
func (e *Engine) RestoreHistory(newestFirst []models.TradeRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.governor.History()
	for i := len(newestFirst) - 1; i >= 0; i-- {
		h.Add(newestFirst[i])
	}
}

// State 当前需要持久化的状态
func (e *Engine) State() *models.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) snapshot() *models.EngineState {
	return &models.EngineState{
		Symbol:         e.symbol,
		Position:       e.positions.Position(),
		Risk:           e.governor.State(),
		Capital:        e.capital,
		RangeMode:      e.evaluator.RangeMode(),
		LastUpdateTime: e.clock(),
	}
}

// Status 只读快照，可在任意协程调用
func (e *Engine) Status() models.EngineStatus {
	st := *e.status.Load()
	st.Position = st.Position.Clone()
	return st
}

// Trades 本次运行产生的成交记录
func (e *Engine) Trades() []models.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.TradeRecord(nil), e.trades...)
}

// OnTick 执行一轮完整的决策。返回的 error 表示本轮出现了需要计数的周期错误，
// 此时 TickResult 可能仍然非空 (例如部分周期数据获取失败但退出规则照常执行)
func (e *Engine) OnTick(ctx context.Context) (*models.TickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Engine.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Engine.RequestTimeout)
		defer cancel()
	}

	started := time.Now()
	res, err := e.tick(ctx, e.clock())
	e.afterTick(res, err, time.Since(started))
	return res, err
}

func (e *Engine) tick(ctx context.Context, now time.Time) (*models.TickResult, error) {
	e.governor.Observe(now)

	strategy := e.cfg.Strategy
	results := make([]models.CandleResult, len(strategy.Timeframes))
	for i, tf := range strategy.Timeframes {
		results[i] = exchange.FetchCandles(ctx, e.ex, e.symbol, tf, strategy.CandleCount)
	}

	ticker, err := e.ex.GetTicker(ctx, e.symbol)
	if err != nil {
		return nil, fmt.Errorf("获取行情失败: %w", err)
	}
	price := ticker.Price

	var dataErrs []error
	rg, err := e.evaluator.ResolveRegime(now, func(tf string, count int) models.CandleResult {
		return e.candles(ctx, results, tf, count)
	})
	if err != nil {
		// 行情状态不可用时使用兜底规则
		if !errors.Is(err, indicators.ErrInsufficientData) {
			dataErrs = append(dataErrs, fmt.Errorf("行情状态: %w", err))
		}
		e.logger.Debug("行情状态不可用，使用兜底规则", zap.Error(err))
		rg = nil
	}

	multi, err := e.evaluator.EvaluateAll(results, rg)
	if err != nil {
		dataErrs = append(dataErrs, err)
	}
	if len(multi.Missing) > 0 {
		e.logger.Debug("部分周期无信号", zap.Strings("timeframes", multi.Missing))
	}

	res := &models.TickResult{
		Symbol:         e.symbol,
		Time:           now,
		Action:         models.ActionNone,
		Price:          price,
		Signal:         multi.Primary(),
		BuySignalCount: multi.BuyCount,
	}

	atrCandles := e.candles(ctx, results, strategy.ATRTimeframe, strategy.CandleCount)
	var actErr error
	if e.positions.State() != position.Flat {
		actErr = e.manageExit(ctx, res, now, price, atrCandles, multi.Sell())
	} else if len(dataErrs) == 0 {
		actErr = e.tryEnter(ctx, res, now, price, rg, multi, atrCandles)
	}
	res.Position = e.positions.Position()

	if actErr != nil {
		return res, actErr
	}
	if len(dataErrs) > 0 {
		return res, fmt.Errorf("%w: %w", exchange.ErrNoData, errors.Join(dataErrs...))
	}
	return res, nil
}

// candles 优先复用本轮已获取的周期
func (e *Engine) candles(ctx context.Context, results []models.CandleResult, tf string, count int) models.CandleResult {
	for _, r := range results {
		if r.Timeframe == tf && count <= e.cfg.Strategy.CandleCount {
			return r
		}
	}
	return exchange.FetchCandles(ctx, e.ex, e.symbol, tf, count)
}

func (e *Engine) manageExit(ctx context.Context, res *models.TickResult, now time.Time, price float64, atrCandles models.CandleResult, sell bool) error {
	in := position.ExitInput{Price: price, Now: now, Sell: sell}
	if atrCandles.OK() {
		in.ATRPct, in.ATROK = indicators.ATRPct(atrCandles.Candles, e.cfg.Strategy.ATRPeriod)
	}
	d := e.positions.Evaluate(in)
	if d == nil {
		return nil
	}
	return e.executeExit(ctx, res, d, now)
}

func (e *Engine) executeExit(ctx context.Context, res *models.TickResult, d *position.ExitDecision, now time.Time) error {
	e.logger.Info("触发退出",
		zap.String("reason", d.Reason),
		zap.Float64("fraction", d.Fraction),
		zap.Float64("quantity", d.Quantity),
		zap.Float64("profitPct", d.ProfitPct),
		zap.Bool("retry", d.Retry))

	fill, err := e.ex.SubmitMarketSell(ctx, e.symbol, d.Quantity)
	if err != nil {
		e.metrics.RecordOrder(e.symbol, string(models.Sell), "failed")
		if errors.Is(err, exchange.ErrOrderRejected) && !d.Full() {
			// 分批数量不足一个步长时跳过该档位
			e.positions.MarkRejected(d)
			e.logger.Warn("分批卖单被拒绝，跳过该档位", zap.String("reason", d.Reason), zap.Error(err))
		} else {
			e.positions.MarkFailed(d)
			e.logger.Error("卖出失败，下一轮优先重试", zap.String("reason", d.Reason), zap.Error(err))
		}
		return fmt.Errorf("卖出失败 (%s): %w", d.Reason, err)
	}
	e.metrics.RecordOrder(e.symbol, string(models.Sell), "filled")

	wasPaused := e.governor.State().TradingPaused
	rec, err := e.positions.ApplyExit(d, *fill, now)
	if err != nil {
		return fmt.Errorf("更新持仓失败: %w", err)
	}
	e.capital += rec.Value - rec.Fee
	e.governor.RecordTrade(rec)
	e.recordTrade(rec)

	partial := e.positions.State() != position.Flat
	res.Action = models.ActionSell
	if partial {
		res.Action = models.ActionPartialSell
	}
	res.Reason = d.Reason
	res.Trade = rec

	e.logger.Info("卖出成交",
		zap.String("reason", rec.Reason),
		zap.Float64("price", rec.Price),
		zap.Float64("quantity", rec.Quantity),
		zap.Float64("profit", rec.Profit),
		zap.Float64("profitPct", rec.ProfitPct),
		zap.Bool("partial", partial))
	e.metrics.RecordExit(e.symbol, rec.Reason)
	e.notify(notifier.TradeClosed(rec, partial))

	if st := e.governor.State(); st.TradingPaused && !wasPaused {
		e.notify(notifier.Alert(e.symbol, "暂停开仓",
			fmt.Sprintf("原因: %s\n当日盈亏: %.2f%%\n连续亏损: %d", st.PauseReason, st.CumulativePnLPct*100, st.ConsecutiveLosses)))
	}
	return nil
}

func (e *Engine) tryEnter(ctx context.Context, res *models.TickResult, now time.Time, price float64, rg *models.Regime, multi signal.MultiSignal, atrCandles models.CandleResult) error {
	if multi.BuyCount < e.cfg.Strategy.RequiredSignals {
		return nil
	}
	if ok, reason := e.governor.CanTrade(now); !ok {
		e.logger.Info("买入信号被风控拦截", zap.String("reason", reason), zap.Int("buySignals", multi.BuyCount))
		res.Reason = reason
		return nil
	}

	var atr float64
	if atrCandles.OK() {
		if ok, reason := e.governor.CheckVaR(models.Closes(atrCandles.Candles)); !ok {
			e.logger.Info("买入信号被 VaR 拦截", zap.String("reason", reason))
			res.Reason = reason
			return nil
		}
		atr, _ = indicators.ATR(atrCandles.Candles, e.cfg.Strategy.ATRPeriod)
	}

	notional := e.governor.Size(risk.SizingInput{Available: e.capital, Price: price, ATR: atr})
	notional = min(notional, e.capital)
	if notional < e.cfg.MinOrderValue {
		e.logger.Info("可用资金不足最小订单金额",
			zap.Float64("notional", notional),
			zap.Float64("capital", e.capital),
			zap.Float64("minOrderValue", e.cfg.MinOrderValue))
		res.Reason = "insufficient-capital"
		return nil
	}

	e.logger.Info("触发买入",
		zap.String("regime", rg.Name()),
		zap.String("strength", string(multi.Strength())),
		zap.Int("buySignals", multi.BuyCount),
		zap.Float64("price", price),
		zap.Float64("notional", notional))

	fill, err := e.ex.SubmitMarketBuy(ctx, e.symbol, notional)
	if err != nil {
		e.metrics.RecordOrder(e.symbol, string(models.Buy), "failed")
		return fmt.Errorf("买入失败: %w", err)
	}
	e.metrics.RecordOrder(e.symbol, string(models.Buy), "filled")

	rec, err := e.positions.Open(e.symbol, *fill, now, rg.Name())
	if err != nil {
		return fmt.Errorf("建仓失败: %w", err)
	}
	e.capital -= rec.Value + rec.Fee
	e.governor.RecordTrade(rec)
	e.recordTrade(rec)

	res.Action = models.ActionBuy
	res.Reason = fmt.Sprintf("%s %d/%d", rg.Name(), multi.BuyCount, len(multi.Timeframes))
	res.Trade = rec
	e.logger.Info("买入成交",
		zap.Float64("price", rec.Price),
		zap.Float64("quantity", rec.Quantity),
		zap.Float64("value", rec.Value),
		zap.Float64("capital", e.capital))
	e.notify(notifier.TradeOpened(rec, rg.Name()))
	return nil
}

func (e *Engine) recordTrade(rec *models.TradeRecord) {
	e.trades = append(e.trades, *rec)
	if e.sink != nil {
		e.sink.RecordTrade(rec)
	}
}

func (e *Engine) notify(n *notifier.Notification) {
	if e.notifier != nil {
		e.notifier.Notify(n)
	}
}

// afterTick 统计连续错误、更新快照并持久化状态
func (e *Engine) afterTick(res *models.TickResult, err error, elapsed time.Duration) {
	if err != nil {
		e.consecutiveErrors++
		e.metrics.RecordError(e.symbol, errorKind(err))
		e.logger.Warn("本轮出错，下一轮重试", zap.Int("consecutiveErrors", e.consecutiveErrors), zap.Error(err))
		if limit := e.cfg.Engine.MaxConsecutiveErrors; limit > 0 && e.consecutiveErrors%limit == 0 {
			e.notify(notifier.Alert(e.symbol, "连续周期错误",
				fmt.Sprintf("已连续 %d 轮出错，最近一次: %v", e.consecutiveErrors, err)))
		}
	} else {
		e.consecutiveErrors = 0
	}
	if res != nil {
		e.metrics.RecordTick(e.symbol, res.Price, res.BuySignalCount, elapsed.Seconds())
	}
	e.metrics.SetDailyPnL(e.symbol, e.governor.State().CumulativePnLPct)
	e.metrics.SetPositionOpen(e.symbol, e.positions.State() != position.Flat)

	e.updateStatus(res)
	if e.sink != nil {
		e.sink.PublishState(e.snapshot())
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, exchange.ErrOrderRejected):
		return "order_rejected"
	case errors.Is(err, exchange.ErrNoData):
		return "market_data"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

func (e *Engine) updateStatus(res *models.TickResult) {
	prev := e.status.Load()
	st := &models.EngineStatus{
		Symbol:            e.symbol,
		LastTick:          prev.LastTick,
		LastPrice:         prev.LastPrice,
		Capital:           e.capital,
		Position:          e.positions.Position(),
		Risk:              e.governor.State(),
		LastSignal:        prev.LastSignal,
		BuySignalCount:    prev.BuySignalCount,
		Regime:            prev.Regime,
		ConsecutiveErrors: e.consecutiveErrors,
	}
	if res != nil {
		st.LastTick = res.Time
		st.LastPrice = res.Price
		st.LastSignal = res.Signal
		st.BuySignalCount = res.BuySignalCount
		st.Regime = "none"
		if res.Signal != nil {
			st.Regime = res.Signal.Regime.Name()
		}
	}
	e.status.Store(st)
}

// Run 按 poll_interval 循环执行 OnTick，直到 ctx 被取消。单轮出错只记录，不退出
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Engine.PollInterval
	if interval <= 0 {
		return fmt.Errorf("poll_interval 必须大于0")
	}
	e.logger.Info("引擎启动", zap.Duration("interval", interval), zap.Strings("timeframes", e.cfg.Strategy.Timeframes))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		// 错误已在 afterTick 中记录
		_, _ = e.OnTick(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info("收到停止信号，引擎停止轮询")
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown 停止后的收尾。仅在配置了 liquidate_on_shutdown 时平掉持仓
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		e.updateStatus(nil)
		if e.sink != nil {
			e.sink.PublishState(e.snapshot())
		}
	}()

	if e.positions.State() == position.Flat {
		return nil
	}
	if !e.cfg.Engine.LiquidateOnShutdown {
		e.logger.Info("保留持仓，下次启动时恢复", zap.Any("position", e.positions.Position()))
		return nil
	}

	ticker, err := e.ex.GetTicker(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("清仓前获取行情失败: %w", err)
	}
	res := &models.TickResult{Symbol: e.symbol, Time: e.clock(), Price: ticker.Price}
	d := e.positions.ForceExit(position.ReasonShutdown, ticker.Price)
	return e.executeExit(ctx, res, d, res.Time)
}
