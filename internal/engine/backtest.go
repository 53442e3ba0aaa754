package engine

import (
	"context"
	"errors"
	"signal-trading-bot-go/internal/exchange"

	"go.uber.org/zap"
)

// BacktestSummary 回放结束时的统计
type BacktestSummary struct {
	Ticks  int
	Errors int
}

// RunBacktest 从第 warmup 根基础K线开始逐根推进并调用 OnTick，直到数据用尽或 ctx 取消。
// 引擎必须以 WithClock(be.CurrentTime) 创建，才能让日切和持仓时长使用回放时间
func RunBacktest(ctx context.Context, e *Engine, be *exchange.BacktestExchange, warmup int) (BacktestSummary, error) {
	var sum BacktestSummary
	be.Seek(warmup)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Ticks++
		if _, err := e.OnTick(ctx); err != nil {
			sum.Errors++
			if !errors.Is(err, exchange.ErrOrderRejected) && !errors.Is(err, exchange.ErrNoData) {
				e.logger.Debug("回测周期出错", zap.Error(err))
			}
		}
		if !be.Advance() {
			break
		}
	}
	e.logger.Info("回测结束", zap.Int("ticks", sum.Ticks), zap.Int("errors", sum.Errors))
	return sum, nil
}
