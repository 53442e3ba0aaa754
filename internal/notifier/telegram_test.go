package notifier

import (
	"net/http"
	"net/http/httptest"
	"signal-trading-bot-go/internal/models"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const ownerChat int64 = -100123

func newTestTelegram(t *testing.T) (*TelegramSender, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			sent.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":-100123}}}`))
	}))
	t.Cleanup(srv.Close)

	b, err := tele.NewBot(tele.Settings{Token: "test", URL: srv.URL, Offline: true, Synchronous: true})
	require.NoError(t, err)

	var queried atomic.Int32
	status := StatusFunc(func() models.EngineStatus {
		queried.Add(1)
		return models.EngineStatus{Symbol: "BTCUSDT"}
	})
	return newTelegramSender(b, ownerChat, status, zap.NewNop()), &queried, &sent
}

func command(text string, chat, sender int64) tele.Update {
	return tele.Update{Message: &tele.Message{
		Text:   text,
		Chat:   &tele.Chat{ID: chat},
		Sender: &tele.User{ID: sender},
	}}
}

func TestTelegramCommandsAnswerConfiguredChat(t *testing.T) {
	tg, queried, sent := newTestTelegram(t)

	// 群组中任意成员都可以查询
	for _, text := range []string{"/status", "/position", "/risk"} {
		tg.bot.ProcessUpdate(command(text, ownerChat, 777))
	}
	assert.Equal(t, int32(3), queried.Load())
	assert.Equal(t, int32(3), sent.Load())
}

func TestTelegramCommandsIgnoreOtherChats(t *testing.T) {
	tg, queried, sent := newTestTelegram(t)

	for _, text := range []string{"/status", "/position", "/risk"} {
		tg.bot.ProcessUpdate(command(text, 555, 555))
	}
	assert.Zero(t, queried.Load(), "status must not be read for a stranger")
	assert.Zero(t, sent.Load())
}
