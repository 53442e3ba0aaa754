package notifier

import (
	"context"
	"fmt"
	"signal-trading-bot-go/internal/models"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind 通知类型
type Kind string

const (
	KindTradeOpen  Kind = "trade_open"
	KindTradeClose Kind = "trade_close"
	KindAlert      Kind = "alert"
	KindInfo       Kind = "info"
)

// Notification 一条待发送的通知
type Notification struct {
	Kind    Kind
	Title   string
	Message string
	Symbol  string
	Time    time.Time
}

// Text 渲染为纯文本
func (n *Notification) Text() string {
	if n.Message == "" {
		return n.Title
	}
	return n.Title + "\n" + n.Message
}

// Notifier 引擎使用的通知网关，调用不得阻塞交易循环
type Notifier interface {
	Notify(n *Notification)
}

// Sender 具体的通知渠道
type Sender interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager 将通知异步分发到所有渠道。队列满时丢弃新通知
type Manager struct {
	senders []Sender
	queue   chan *Notification
	timeout time.Duration
	logger  *zap.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewManager 创建通知管理器
func NewManager(queueSize int, logger *zap.Logger, senders ...Sender) *Manager {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Manager{
		senders: senders,
		queue:   make(chan *Notification, queueSize),
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Start 启动发送协程，直到 Stop 被调用
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for n := range m.queue {
			m.dispatch(n)
		}
	}()
}

// Stop 发送完队列中剩余的通知后返回
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	m.wg.Wait()
}

// Notify 入队，不阻塞
func (m *Manager) Notify(n *Notification) {
	if n == nil {
		return
	}
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.dropped.Add(1)
		return
	}
	select {
	case m.queue <- n:
	default:
		m.dropped.Add(1)
		m.logger.Warn("通知队列已满，丢弃通知", zap.String("title", n.Title))
	}
}

// Dropped 因队列已满而丢弃的通知数
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *Manager) dispatch(n *Notification) {
	for _, s := range m.senders {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := s.Send(ctx, n); err != nil {
			m.logger.Error("发送通知失败", zap.String("sender", s.Name()), zap.Error(err))
		}
		cancel()
	}
}

// ConsoleSender 将通知写入日志
type ConsoleSender struct {
	logger *zap.Logger
}

func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (c *ConsoleSender) Name() string { return "console" }

func (c *ConsoleSender) Send(_ context.Context, n *Notification) error {
	c.logger.Info("[通知] "+n.Title, zap.String("kind", string(n.Kind)), zap.String("message", n.Message))
	return nil
}

// TradeOpened 开仓通知
func TradeOpened(rec *models.TradeRecord, regime string) *Notification {
	return &Notification{
		Kind:   KindTradeOpen,
		Title:  fmt.Sprintf("🟢 买入 %s", rec.Symbol),
		Symbol: rec.Symbol,
		Time:   rec.Time,
		Message: fmt.Sprintf("价格: %.4f\n数量: %.6f\n金额: %.2f\n行情: %s",
			rec.Price, rec.Quantity, rec.Value, regime),
	}
}

// TradeClosed 平仓或部分平仓通知
func TradeClosed(rec *models.TradeRecord, partial bool) *Notification {
	icon := "✅"
	if rec.Profit < 0 {
		icon = "❌"
	}
	verb := "卖出"
	if partial {
		verb = "部分卖出"
	}
	return &Notification{
		Kind:   KindTradeClose,
		Title:  fmt.Sprintf("%s %s %s", icon, verb, rec.Symbol),
		Symbol: rec.Symbol,
		Time:   rec.Time,
		Message: fmt.Sprintf("价格: %.4f\n数量: %.6f\n盈亏: %.4f (%.2f%%)\n原因: %s\n持仓: %.0f 分钟",
			rec.Price, rec.Quantity, rec.Profit, rec.ProfitPct*100, rec.Reason, rec.HoldMinutes),
	}
}

// Alert 需要人工关注的告警
func Alert(symbol, title, message string) *Notification {
	return &Notification{
		Kind:    KindAlert,
		Title:   "⚠️ " + title,
		Message: message,
		Symbol:  symbol,
		Time:    time.Now(),
	}
}
