package notifier

import (
	"context"
	"errors"
	"fmt"
	"signal-trading-bot-go/internal/models"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// StatusSource 提供引擎的只读快照
type StatusSource interface {
	Status() models.EngineStatus
}

// StatusFunc 函数形式的 StatusSource
type StatusFunc func() models.EngineStatus

func (f StatusFunc) Status() models.EngineStatus { return f() }

// TelegramSender 通过 Telegram 发送通知，并应答只读的状态查询命令
type TelegramSender struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *zap.Logger
}

// NewTelegramSender 创建 Telegram 渠道。status 为 nil 时不注册查询命令
func NewTelegramSender(cfg models.TelegramConfig, status StatusSource, logger *zap.Logger) (*TelegramSender, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram 需要 token 和 chat_id")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 telegram bot 失败: %w", err)
	}
	return newTelegramSender(b, cfg.ChatID, status, logger), nil
}

func newTelegramSender(b *tele.Bot, chatID int64, status StatusSource, logger *zap.Logger) *TelegramSender {
	t := &TelegramSender{bot: b, chat: &tele.Chat{ID: chatID}, logger: logger}
	if status != nil {
		t.registerCommands(status)
	}
	return t
}

func (t *TelegramSender) registerCommands(status StatusSource) {
	only := t.onlyConfiguredChat()
	t.bot.Handle("/status", func(c tele.Context) error {
		return c.Send(FormatStatus(status.Status()))
	}, only)
	t.bot.Handle("/position", func(c tele.Context) error {
		return c.Send(FormatPosition(status.Status()))
	}, only)
	t.bot.Handle("/risk", func(c tele.Context) error {
		return c.Send(FormatRisk(status.Status()))
	}, only)
}

// onlyConfiguredChat 只应答 chat_id 所在的会话。
// middleware.Whitelist 比对的是发送者ID，chat_id 为群组时无法匹配
func (t *TelegramSender) onlyConfiguredChat() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if chat := c.Chat(); chat != nil && chat.ID == t.chat.ID {
				return next(c)
			}
			t.logger.Warn("忽略来自未授权会话的命令", zap.String("text", c.Text()))
			return nil
		}
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, n.Text())
	return err
}

// Start 开始轮询命令，阻塞直到 Stop
func (t *TelegramSender) Start() {
	t.logger.Info("Telegram 命令监听已启动")
	t.bot.Start()
}

func (t *TelegramSender) Stop() {
	t.bot.Stop()
}

// FormatStatus /status 的应答
func FormatStatus(s models.EngineStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s\n", s.Symbol)
	if s.LastTick.IsZero() {
		b.WriteString("尚未完成任何周期\n")
	} else {
		fmt.Fprintf(&b, "最近周期: %s\n", s.LastTick.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "价格: %.4f\n", s.LastPrice)
	fmt.Fprintf(&b, "行情: %s\n", s.Regime)
	fmt.Fprintf(&b, "买入信号: %d\n", s.BuySignalCount)
	fmt.Fprintf(&b, "可用资金: %.2f\n", s.Capital)
	if s.Position != nil {
		fmt.Fprintf(&b, "持仓: %.6f @ %.4f (%+.2f%%)\n",
			s.Position.Quantity, s.Position.EntryPrice, s.Position.ProfitPct(s.LastPrice)*100)
	} else {
		b.WriteString("持仓: 无\n")
	}
	if s.Risk.TradingPaused {
		fmt.Fprintf(&b, "交易已暂停: %s\n", s.Risk.PauseReason)
	}
	if s.ConsecutiveErrors > 0 {
		fmt.Fprintf(&b, "连续错误: %d\n", s.ConsecutiveErrors)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPosition /position 的应答
func FormatPosition(s models.EngineStatus) string {
	p := s.Position
	if p == nil {
		return fmt.Sprintf("%s 当前无持仓", s.Symbol)
	}
	return fmt.Sprintf("%s 持仓\n入场: %.4f @ %s\n数量: %.6f / %.6f (已卖出 %.0f%%)\n成本: %.2f\n当前收益: %+.2f%%\n峰值收益: %+.2f%%\n入场行情: %s",
		p.Symbol, p.EntryPrice, p.EntryTime.Format("01-02 15:04"),
		p.Quantity, p.InitialQuantity, p.SoldRatio*100,
		p.InvestedCapital, p.ProfitPct(s.LastPrice)*100, p.PeakProfitPct*100, p.EntryRegime)
}

// FormatRisk /risk 的应答
func FormatRisk(s models.EngineStatus) string {
	r := s.Risk
	state := "正常"
	if r.TradingPaused {
		state = "暂停 (" + r.PauseReason + ")"
	}
	return fmt.Sprintf("%s 风控 %s\n当日盈亏: %.4f (%+.2f%%)\n连续亏损: %d\n状态: %s",
		s.Symbol, r.Date, r.RealizedPnL, r.CumulativePnLPct*100, r.ConsecutiveLosses, state)
}
