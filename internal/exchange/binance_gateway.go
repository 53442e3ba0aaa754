package exchange

import (
	"context"
	"errors"
	"fmt"
	"signal-trading-bot-go/internal/models"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"
)

const clientOrderPrefix = "sb-"

// PriceSource 推送的最新成交价 (如 websocket 行情流)
type PriceSource interface {
	LastPrice() (price float64, at time.Time, ok bool)
}

type symbolRules struct {
	baseAsset  string
	quoteAsset string
	stepSize   string
}

// BinanceGateway 币安现货网关，实现 MarketData 与 OrderGateway
type BinanceGateway struct {
	client     *binance.Client
	stream     PriceSource
	staleAfter time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	rules map[string]symbolRules
}

// NewBinanceGateway 创建网关。testnet 为全局开关，需在创建客户端前设置
func NewBinanceGateway(cfg models.BinanceConfig, testnet bool, logger *zap.Logger) *BinanceGateway {
	binance.UseTestnet = testnet
	return &BinanceGateway{
		client:     binance.NewClient(cfg.APIKey, cfg.SecretKey),
		staleAfter: cfg.StaleAfter,
		logger:     logger,
		rules:      make(map[string]symbolRules),
	}
}

// WithPriceStream 设置实时价格来源，行情未过期时优先使用
func (g *BinanceGateway) WithPriceStream(src PriceSource) *BinanceGateway {
	g.stream = src
	return g
}

// GetCandles 币安返回正序K线，这里转换为倒序
func (g *BinanceGateway) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	klines, err := g.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(count).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}
	return convertKlines(klines)
}

func convertKlines(klines []*binance.Kline) ([]models.Candle, error) {
	out := make([]models.Candle, 0, len(klines))
	for i := len(klines) - 1; i >= 0; i-- {
		k := klines[i]
		vals, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("K线 %d: %w: %v", k.OpenTime, ErrNoData, err)
		}
		out = append(out, models.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}

// GetTicker 24小时行情。价格流未过期时用流上的最新价
func (g *BinanceGateway) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	stats, err := g.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取24小时行情失败: %w", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%s 24小时行情: %w", symbol, ErrNoData)
	}
	vals, err := parseFloats(stats[0].LastPrice, stats[0].PriceChangePercent)
	if err != nil {
		return nil, fmt.Errorf("%s 24小时行情: %w: %v", symbol, ErrNoData, err)
	}
	t := &models.Ticker{
		Symbol:       symbol,
		Price:        vals[0],
		Change24hPct: vals[1],
		Time:         time.UnixMilli(stats[0].CloseTime).UTC(),
	}
	if g.stream != nil {
		if price, at, ok := g.stream.LastPrice(); ok && price > 0 && time.Since(at) <= g.staleAfter {
			t.Price, t.Time = price, at
		}
	}
	return t, nil
}

// SubmitMarketBuy 按计价货币金额市价买入
func (g *BinanceGateway) SubmitMarketBuy(ctx context.Context, symbol string, notional float64) (*models.OrderResult, error) {
	rules, err := g.symbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(strconv.FormatFloat(notional, 'f', 2, 64)).
		NewClientOrderID(NewClientOrderID(clientOrderPrefix)).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, wrapOrderError("市价买入", err)
	}
	res, err := parseOrderResponse(resp, rules)
	if err != nil {
		return nil, err
	}
	g.logger.Info("市价买入成交",
		zap.String("symbol", symbol),
		zap.String("orderId", res.OrderID),
		zap.Float64("price", res.ExecutedPrice),
		zap.Float64("quantity", res.ExecutedQuantity),
		zap.Float64("fee", res.Fee))
	return res, nil
}

// SubmitMarketSell 按数量市价卖出，数量向下取整到交易对步长
func (g *BinanceGateway) SubmitMarketSell(ctx context.Context, symbol string, quantity float64) (*models.OrderResult, error) {
	rules, err := g.symbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	adjusted := adjustValueToStep(quantity, rules.stepSize)
	if adjusted <= 0 {
		return nil, fmt.Errorf("卖出数量 %.8f 低于步长 %s: %w", quantity, rules.stepSize, ErrOrderRejected)
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(formatQuantity(adjusted)).
		NewClientOrderID(NewClientOrderID(clientOrderPrefix)).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, wrapOrderError("市价卖出", err)
	}
	res, err := parseOrderResponse(resp, rules)
	if err != nil {
		return nil, err
	}
	g.logger.Info("市价卖出成交",
		zap.String("symbol", symbol),
		zap.String("orderId", res.OrderID),
		zap.Float64("price", res.ExecutedPrice),
		zap.Float64("quantity", res.ExecutedQuantity),
		zap.Float64("fee", res.Fee))
	return res, nil
}

// symbolRules 获取并缓存交易对规则
func (g *BinanceGateway) symbolRules(ctx context.Context, symbol string) (symbolRules, error) {
	g.mu.Lock()
	r, ok := g.rules[symbol]
	g.mu.Unlock()
	if ok {
		return r, nil
	}

	info, err := g.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return symbolRules{}, fmt.Errorf("无法获取交易对 %s 的规则: %w", symbol, err)
	}
	if len(info.Symbols) == 0 {
		return symbolRules{}, fmt.Errorf("交易对 %s 不存在: %w", symbol, ErrNoData)
	}
	s := info.Symbols[0]
	r = symbolRules{baseAsset: s.BaseAsset, quoteAsset: s.QuoteAsset, stepSize: "1"}
	if lot := s.LotSizeFilter(); lot != nil && lot.StepSize != "" {
		r.stepSize = lot.StepSize
	}

	g.mu.Lock()
	g.rules[symbol] = r
	g.mu.Unlock()
	g.logger.Info("成功获取并缓存了交易规则", zap.String("symbol", symbol), zap.String("stepSize", r.stepSize))
	return r, nil
}

// parseOrderResponse 由成交明细计算均价与手续费。
// 以基础货币扣除的手续费从成交数量中减去并折算为计价货币，其它币种 (如BNB) 的手续费不计入
func parseOrderResponse(resp *binance.CreateOrderResponse, rules symbolRules) (*models.OrderResult, error) {
	if resp == nil {
		return nil, fmt.Errorf("空的下单响应: %w", ErrOrderRejected)
	}
	if resp.Status != binance.OrderStatusTypeFilled && resp.Status != binance.OrderStatusTypePartiallyFilled {
		return nil, fmt.Errorf("订单 %d 状态 %s: %w", resp.OrderID, resp.Status, ErrOrderRejected)
	}
	vals, err := parseFloats(resp.ExecutedQuantity, resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("订单 %d 响应无法解析: %w", resp.OrderID, err)
	}
	qty, quote := vals[0], vals[1]
	if qty <= 0 {
		return nil, fmt.Errorf("订单 %d 成交数量为0: %w", resp.OrderID, ErrOrderRejected)
	}
	price := quote / qty

	var fee float64
	for _, f := range resp.Fills {
		commission, err := strconv.ParseFloat(f.Commission, 64)
		if err != nil {
			continue
		}
		switch f.CommissionAsset {
		case rules.quoteAsset:
			fee += commission
		case rules.baseAsset:
			qty -= commission
			fee += commission * price
		}
	}
	return &models.OrderResult{
		OrderID:          strconv.FormatInt(resp.OrderID, 10),
		ExecutedPrice:    price,
		ExecutedQuantity: qty,
		Fee:              fee,
	}, nil
}

func wrapOrderError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s被拒绝 (code %d: %s): %w", op, apiErr.Code, apiErr.Message, ErrOrderRejected)
	}
	return fmt.Errorf("%s失败: %w", op, err)
}

func parseFloats(values ...string) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
