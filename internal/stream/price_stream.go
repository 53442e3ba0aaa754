package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
)

// PriceStream 订阅 aggTrade 推送并保存最新成交价，断线后自动重连
type PriceStream struct {
	url            string
	logger         *zap.Logger
	ReconnectDelay time.Duration

	mu    sync.RWMutex
	price float64
	at    time.Time
}

// NewPriceStream baseURL 形如 wss://stream.binance.com:9443
func NewPriceStream(baseURL, symbol string, logger *zap.Logger) *PriceStream {
	return &PriceStream{
		url:            fmt.Sprintf("%s/ws/%s@aggTrade", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol)),
		logger:         logger,
		ReconnectDelay: 5 * time.Second,
	}
}

// LastPrice 最新成交价及其时间
func (s *PriceStream) LastPrice() (float64, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, s.at, s.price > 0
}

// Start 维持连接直到 ctx 结束，阻塞调用
func (s *PriceStream) Start(ctx context.Context) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("WebSocket连接失败，稍后重试", zap.String("url", s.url), zap.Error(err), zap.Duration("retryIn", s.ReconnectDelay))
		} else {
			s.logger.Info("WebSocket连接成功", zap.String("url", s.url))
			if err := s.handleMessages(ctx, conn); err != nil {
				s.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			conn.Close()
			if ctx.Err() != nil {
				s.logger.Info("WebSocket循环已停止")
				return
			}
			s.logger.Info("WebSocket连接已断开，准备重连...")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.ReconnectDelay):
		}
	}
}

// handleMessages 处理一个连接上的消息并维持心跳，连接断开或 ctx 结束时返回
func (s *PriceStream) handleMessages(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					s.logger.Warn("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 关闭连接以唤醒阻塞的 ReadMessage
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}
		price, at, err := parseTrade(message)
		if err != nil {
			s.logger.Debug("解析价格信息失败", zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.price, s.at = price, at
		s.mu.Unlock()
	}
}

func parseTrade(message []byte) (float64, time.Time, error) {
	var trade struct {
		Price json.Number `json:"p"`
		Time  int64       `json:"T"`
	}
	if err := json.Unmarshal(message, &trade); err != nil {
		return 0, time.Time{}, err
	}
	price, err := trade.Price.Float64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("转换价格失败: %w", err)
	}
	at := time.Now()
	if trade.Time > 0 {
		at = time.UnixMilli(trade.Time)
	}
	return price, at, nil
}
