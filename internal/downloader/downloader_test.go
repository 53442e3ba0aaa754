package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"signal-trading-bot-go/internal/exchange"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const klinesJSON = `[
[1709251200000,"100.0","101.0","99.0","100.5","12.5",1709251259999,"1250.0",42,"6.0","600.0","0"],
[1709251260000,"100.5","102.0","100.0","101.5","8.0",1709251319999,"810.0",30,"4.0","400.0","0"]
]`

func newTestDownloader(t *testing.T, body string) (*KlineDownloader, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	d := NewKlineDownloader(zap.NewNop())
	d.client.BaseURL = srv.URL
	d.pause = 0
	return d, &calls
}

func TestDownloadWritesReadableCSV(t *testing.T) {
	d, calls := newTestDownloader(t, klinesJSON)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	path := FileName(t.TempDir(), "BTCUSDT", "1m", start, start.Add(24*time.Hour))

	require.NoError(t, d.Download(context.Background(), "BTCUSDT", "1m", path, start, start.Add(24*time.Hour)))
	assert.Equal(t, int32(1), calls.Load(), "a short page ends the download")

	candles, err := exchange.LoadCandlesCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, start, candles[0].Timestamp)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 8.0, candles[1].Volume)

	// 第二次直接使用缓存
	require.NoError(t, d.Download(context.Background(), "BTCUSDT", "1m", path, start, start.Add(24*time.Hour)))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadEmptyRangeLeavesNoFile(t *testing.T) {
	d, _ := newTestDownloader(t, `[]`)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "data", "empty.csv")

	err := d.Download(context.Background(), "BTCUSDT", "1m", path, start, start.Add(time.Hour))
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadRejectsInvertedRange(t *testing.T) {
	d, calls := newTestDownloader(t, klinesJSON)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	err := d.Download(context.Background(), "BTCUSDT", "1m", filepath.Join(t.TempDir(), "x.csv"), start, start)
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestFileName(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join("data", "ETHUSDT-5m-2024-03-01-2024-03-31.csv"),
		FileName("data", "ETHUSDT", "5m", start, start.AddDate(0, 0, 30)))
}
