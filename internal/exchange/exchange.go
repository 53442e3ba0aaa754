package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"signal-trading-bot-go/internal/indicators"
	"signal-trading-bot-go/internal/models"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

var (
	// ErrOrderRejected 交易所拒绝了订单 (余额不足、数量低于最小值等)
	ErrOrderRejected = errors.New("order rejected")
	// ErrNoData 交易所返回空数据或无法解析的数据
	ErrNoData = errors.New("no market data")
)

// MarketData 行情网关。GetCandles 必须返回按时间倒序的K线
type MarketData interface {
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
}

// OrderGateway 下单网关。只有返回成功时调用方才能修改持仓
type OrderGateway interface {
	SubmitMarketBuy(ctx context.Context, symbol string, notional float64) (*models.OrderResult, error)
	SubmitMarketSell(ctx context.Context, symbol string, quantity float64) (*models.OrderResult, error)
}

// Exchange 实盘与回测共用的完整网关
type Exchange interface {
	MarketData
	OrderGateway
}

// FetchCandles 拉取K线并整理成倒序的 CandleResult。空结果记为数据不足
func FetchCandles(ctx context.Context, md MarketData, symbol, timeframe string, count int) models.CandleResult {
	res := models.CandleResult{Timeframe: timeframe}
	candles, err := md.GetCandles(ctx, symbol, timeframe, count)
	if err != nil {
		res.Err = fmt.Errorf("获取 %s %s K线失败: %w", symbol, timeframe, err)
		return res
	}
	if len(candles) == 0 {
		res.Err = fmt.Errorf("%s %s: %w: %w", symbol, timeframe, ErrNoData, indicators.ErrInsufficientData)
		return res
	}
	res.Candles = models.SortNewestFirst(candles)
	return res
}

// TimeframeDuration 解析 1m/5m/1h/4h/1d 这类周期
func TimeframeDuration(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("无效的周期: %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("无效的周期: %q", tf)
	}
	unit := map[byte]time.Duration{
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[tf[len(tf)-1]]
	if unit == 0 {
		return 0, fmt.Errorf("无效的周期: %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// NewClientOrderID 生成客户端订单ID，币安限制最长36个字符
func NewClientOrderID(prefix string) string {
	id := uuid.New()
	encoded := base62.EncodeToString(id[:])
	out := prefix + encoded
	if len(out) > 36 {
		out = out[:36]
	}
	return out
}

// adjustValueToStep 将数值向下取整到交易所步长 (如 "0.00100000")
func adjustValueToStep(value float64, step string) float64 {
	step = strings.TrimRight(step, "0")
	if !strings.Contains(step, ".") {
		return math.Floor(value)
	}
	if strings.HasSuffix(step, ".") {
		return math.Floor(value)
	}
	decimalPlaces := len(step) - strings.Index(step, ".") - 1
	factor := math.Pow(10, float64(decimalPlaces))
	// 先四舍五入到更高精度，避免 0.3/0.1 这类误差被多减一个步长
	adjusted := math.Floor(math.Round(value*factor*1e6)/1e6) / factor
	finalValue, _ := strconv.ParseFloat(strconv.FormatFloat(adjusted, 'f', decimalPlaces, 64), 64)
	return finalValue
}

// floorToStep 回测使用的数值步长版本
func floorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(math.Round(value/step*1e6)/1e6) * step
}

func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
