package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// 币安单次请求最多返回1000条
const pageLimit = 1000

// KlineDownloader 从币安公共接口下载K线，写成回测使用的CSV
type KlineDownloader struct {
	client *binance.Client
	pause  time.Duration // 两次请求之间的间隔，避免触发限频
	logger *zap.Logger
}

// NewKlineDownloader 创建下载器，公共接口不需要API Key
func NewKlineDownloader(logger *zap.Logger) *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""),
		pause:  200 * time.Millisecond,
		logger: logger,
	}
}

// FileName 回测数据的默认文件名，如 data/BTCUSDT-1m-2024-03-01-2024-03-31.csv
func FileName(dir, symbol, interval string, start, end time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval, start.Format("2006-01-02"), end.Format("2006-01-02")))
}

// Download 下载 [start, end) 内的K线到 filePath。文件已存在时直接使用缓存
func (d *KlineDownloader) Download(ctx context.Context, symbol, interval, filePath string, start, end time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}
	if !start.Before(end) {
		return fmt.Errorf("开始时间 %s 必须早于结束时间 %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("无法创建目录: %w", err)
	}

	// 先写临时文件，完整下载后再改名，中断时不会留下半个缓存
	tmp := filePath + ".part"
	if err := d.write(ctx, symbol, interval, tmp, start, end); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("保存数据文件失败: %w", err)
	}
	d.logger.Info("K线下载完成", zap.String("file", filePath))
	return nil
}

func (d *KlineDownloader) write(ctx context.Context, symbol, interval, path string, start, end time.Time) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}

	d.logger.Info("开始下载K线",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Time("start", start),
		zap.Time("end", end))

	rows := 0
	for t := start; t.Before(end); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(end.UnixMilli() - 1).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			record := []string{
				fmt.Sprintf("%d", k.OpenTime),
				k.Open, k.High, k.Low, k.Close, k.Volume,
				fmt.Sprintf("%d", k.CloseTime),
				k.QuoteAssetVolume,
				fmt.Sprintf("%d", k.TradeNum),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %w", err)
			}
		}
		rows += len(klines)
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("已下载", zap.Time("until", t), zap.Int("rows", rows))

		if len(klines) < pageLimit {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pause):
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s 在该时间段没有K线", symbol, interval)
	}
	return nil
}
