package signal

import (
	"errors"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
)

// Strength 多周期确认强度
type Strength string

const (
	StrengthNone       Strength = "none"
	StrengthWeak       Strength = "weak"
	StrengthStrong     Strength = "strong"      // >= 2 个周期
	StrengthVeryStrong Strength = "very-strong" // 全部 3 个周期
)

// MultiSignal 多周期评估结果，Signals 与配置中的周期顺序一致，缺数据的周期为 nil
type MultiSignal struct {
	Timeframes []string
	Signals    []*models.Signal
	BuyCount   int
	// 数据不足或获取失败的周期
	Missing []string
}

// Primary 第一个周期 (最短周期) 的信号
func (m MultiSignal) Primary() *models.Signal {
	if len(m.Signals) == 0 {
		return nil
	}
	return m.Signals[0]
}

// Sell 任一周期给出超买卖出信号
func (m MultiSignal) Sell() bool {
	for _, s := range m.Signals {
		if s != nil && s.Sell {
			return true
		}
	}
	return false
}

// Strength 按买入信号数量给出强度
func (m MultiSignal) Strength() Strength {
	switch {
	case m.BuyCount >= 3:
		return StrengthVeryStrong
	case m.BuyCount == 2:
		return StrengthStrong
	case m.BuyCount == 1:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// EvaluateAll 对每个周期独立评估。获取失败或数据不足的周期记为无信号，
// 返回的 error 只在存在非数据不足类错误时非空
func (e *Evaluator) EvaluateAll(results []models.CandleResult, rg *models.Regime) (MultiSignal, error) {
	out := MultiSignal{
		Timeframes: make([]string, len(results)),
		Signals:    make([]*models.Signal, len(results)),
	}
	var errs []error
	for i, res := range results {
		out.Timeframes[i] = res.Timeframe
		if res.Err != nil {
			out.Missing = append(out.Missing, res.Timeframe)
			if !errors.Is(res.Err, indicators.ErrInsufficientData) {
				errs = append(errs, res.Err)
			}
			continue
		}
		sig, err := e.Evaluate(res.Timeframe, res.Candles, rg)
		if err != nil {
			out.Missing = append(out.Missing, res.Timeframe)
			continue
		}
		out.Signals[i] = sig
		if sig.Buy {
			out.BuyCount++
		}
	}
	return out, errors.Join(errs...)
}
