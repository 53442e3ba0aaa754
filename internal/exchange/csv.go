package exchange

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"signal-trading-bot-go/internal/models"
	"sort"
	"strconv"
	"time"
)

// LoadCandlesCSV 读取币安K线导出格式的CSV:
// open_time(毫秒),open,high,low,close,volume[,...]，首行可以是表头。返回正序K线
func LoadCandlesCSV(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据文件 %s: %w", path, err)
	}
	defer f.Close()
	return ReadCandlesCSV(f)
}

// ReadCandlesCSV 同 LoadCandlesCSV，从 reader 读取
func ReadCandlesCSV(r io.Reader) ([]models.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var out []models.Candle
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("第 %d 行字段不足: %d", line, len(record))
		}
		ms, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue // 表头
			}
			return nil, fmt.Errorf("第 %d 行时间戳无效: %w", line, err)
		}
		vals, err := parseFloats(record[1], record[2], record[3], record[4], record[5])
		if err != nil {
			return nil, fmt.Errorf("第 %d 行数值无效: %w", line, err)
		}
		out = append(out, models.Candle{
			Timestamp: time.UnixMilli(ms).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
