package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"signal-trading-bot-go/internal/config"
	"signal-trading-bot-go/internal/downloader"
	"signal-trading-bot-go/internal/engine"
	"signal-trading-bot-go/internal/exchange"
	"signal-trading-bot-go/internal/logger"
	"signal-trading-bot-go/internal/metrics"
	"signal-trading-bot-go/internal/models"
	"signal-trading-bot-go/internal/notifier"
	"signal-trading-bot-go/internal/persistence"
	"signal-trading-bot-go/internal/reporter"
	"signal-trading-bot-go/internal/signal"
	"signal-trading-bot-go/internal/statemanager"
	"signal-trading-bot-go/internal/stream"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-1m-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".csv")
	return strings.Split(name, "-")[0]
}

func main() {
	configPath := flag.String("config", "config.json", "path to the config file (json or yaml)")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical kline csv for backtesting")
	symbol := flag.String("symbol", "", "symbol to download for backtesting (e.g., BNBUSDT)")
	interval := flag.String("interval", "1m", "kline interval to download for backtesting")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	warmup := flag.Int("warmup", -1, "base candles skipped before the first backtest tick, -1 derives it from the strategy")
	flag.Parse()

	// 加载配置前先用默认配置输出日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	logger.InitLogger(cfg.Log)
	defer logger.Sync()

	switch *mode {
	case "live":
		if err := config.Validate(cfg, true); err != nil {
			logger.S().Fatalf("配置无效: %v", err)
		}
		if err := runLiveMode(cfg); err != nil {
			logger.S().Fatalf("实盘运行失败: %v", err)
		}
	case "backtest":
		path, err := resolveBacktestData(*symbol, *interval, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		if s := extractSymbolFromPath(path); s != "" {
			cfg.Symbol = s
		}
		if err := config.Validate(cfg, false); err != nil {
			logger.S().Fatalf("配置无效: %v", err)
		}
		if err := runBacktestMode(cfg, path, *warmup); err != nil {
			logger.S().Fatalf("回测失败: %v", err)
		}
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'backtest'。", *mode)
	}
}

// resolveBacktestData 给出 --symbol/--start/--end 时先下载数据，否则使用 --data
func resolveBacktestData(symbol, interval, startDate, endDate, dataPath string) (string, error) {
	if symbol == "" || startDate == "" || endDate == "" {
		if dataPath == "" {
			return "", fmt.Errorf("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
		}
		return dataPath, nil
	}

	start, err1 := time.Parse(time.DateOnly, startDate)
	end, err2 := time.Parse(time.DateOnly, endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	path := downloader.FileName("data", symbol, interval, start, end)
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := downloader.NewKlineDownloader(logger.Named("downloader")).Download(ctx, symbol, interval, path, start, end); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return path, nil
}

// runLiveMode 运行实盘引擎直到收到退出信号
func runLiveMode(cfg *models.Config) error {
	log := logger.L()
	log.Info("--- 启动实时交易模式 ---", zap.String("symbol", cfg.Symbol), zap.Bool("testnet", cfg.IsTestnet))

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("无法打开数据库: %w", err)
	}
	defer repo.Close()

	// 持久化的参数集覆盖配置文件中的阈值
	ps, err := repo.LoadActiveParameters(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("加载参数集失败: %w", err)
	}
	if ps != nil {
		log.Info("使用持久化的参数集", zap.Int("version", ps.Version), zap.Time("updatedAt", ps.UpdatedAt))
		cfg = config.ApplyParameters(cfg, ps)
		if err := config.Validate(cfg, true); err != nil {
			return fmt.Errorf("参数集无效: %w", err)
		}
	}

	gateway := exchange.NewBinanceGateway(cfg.Binance, cfg.IsTestnet, logger.Named("gateway"))
	if cfg.Binance.StreamEnabled {
		priceStream := stream.NewPriceStream(config.StreamURL(cfg), cfg.Symbol, logger.Named("stream"))
		gateway.WithPriceStream(priceStream)
		go priceStream.Start(ctx)
	}

	state, err := repo.LoadState(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("加载状态失败: %w", err)
	}
	sm := statemanager.NewStateManager(state, repo, logger.Named("state"))
	sm.Start()
	defer sm.Stop()

	rec := metrics.New()
	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("指标服务已启动", zap.String("listen", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("指标服务退出", zap.Error(err))
			}
		}()
	}

	// telegram 命令在 tg.Start 之后才会到达，此时 e 已创建
	var e *engine.Engine
	senders := []notifier.Sender{notifier.NewConsoleSender(logger.Named("notifier"))}
	var tg *notifier.TelegramSender
	if cfg.Telegram.Enabled {
		status := notifier.StatusFunc(func() models.EngineStatus { return e.Status() })
		tg, err = notifier.NewTelegramSender(cfg.Telegram, status, logger.Named("telegram"))
		if err != nil {
			return err
		}
		senders = append(senders, tg)
	}
	notify := notifier.NewManager(cfg.Telegram.QueueSize, logger.Named("notifier"), senders...)

	e, err = engine.New(cfg, gateway, log,
		engine.WithNotifier(notify),
		engine.WithStateSink(sm),
		engine.WithMetrics(rec))
	if err != nil {
		return err
	}
	if state != nil {
		e.Restore(state)
	}
	history, err := repo.LoadTrades(cfg.Symbol, cfg.Risk.HistorySize)
	if err != nil {
		return fmt.Errorf("加载成交记录失败: %w", err)
	}
	e.RestoreHistory(history)

	notify.Start()
	if tg != nil {
		go tg.Start()
	}
	st := e.Status()
	notify.Notify(notifier.Alert(cfg.Symbol, "机器人已启动", fmt.Sprintf("可用资金: %.2f\n持仓: %v", st.Capital, st.Position != nil)))

	if err := e.Run(ctx); err != nil {
		return err
	}

	// ctx 已取消，收尾使用独立的超时
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("退出清仓失败", zap.Error(err))
	}
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if tg != nil {
		tg.Stop()
	}
	notify.Stop()
	if n := notify.Dropped(); n > 0 {
		log.Warn("通知队列已满时丢弃了部分通知", zap.Int64("dropped", n))
	}
	log.Info("机器人已成功停止，状态已保存。")
	return nil
}

// runBacktestMode 用历史K线回放引擎并输出报告
func runBacktestMode(cfg *models.Config, dataPath string, warmup int) error {
	log := logger.L()
	log.Info("--- 启动回测模式 ---", zap.String("symbol", cfg.Symbol), zap.String("data", dataPath))

	candles, err := exchange.LoadCandlesCSV(dataPath)
	if err != nil {
		return err
	}
	be, err := exchange.NewBacktestExchange(cfg, candles)
	if err != nil {
		return err
	}
	if warmup < 0 {
		warmup, err = autoWarmup(cfg, candles)
		if err != nil {
			return err
		}
	}
	if warmup >= be.Len() {
		return fmt.Errorf("预热K线数 %d 不小于数据长度 %d", warmup, be.Len())
	}

	// 回测时日切使用数据本身的时区
	cfg.Risk.Timezone = "UTC"
	cfg.Engine.RequestTimeout = 0
	e, err := engine.New(cfg, be, logger.Named("backtest"), engine.WithClock(be.CurrentTime))
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := engine.RunBacktest(ctx, e, be, warmup); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	reporter.GenerateReport(os.Stdout, be, e.Trades(), dataPath)
	return nil
}

// autoWarmup 每个周期凑够指标 (含行情状态分类) 所需K线数，取对应基础K线数量的最大值
func autoWarmup(cfg *models.Config, candles []models.Candle) (int, error) {
	base := candles[1].Timestamp.Sub(candles[0].Timestamp)
	ev := signal.NewEvaluator(cfg.Strategy)
	need := make(map[string]int)
	for _, tf := range append([]string{cfg.Strategy.ATRTimeframe}, cfg.Strategy.Timeframes...) {
		need[tf] = max(ev.MinCandles(), cfg.Strategy.ATRPeriod+1)
	}
	for tf, n := range ev.RegimeCandles() {
		need[tf] = max(need[tf], n)
	}

	warmup := 0
	for tf, n := range need {
		d, err := exchange.TimeframeDuration(tf)
		if err != nil {
			return 0, err
		}
		warmup = max(warmup, n*int(max(d, base)/base))
	}
	return warmup, nil
}
