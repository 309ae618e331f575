package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagecredits/pkg/logger"
)

type fakeBotServer struct {
	mu       sync.Mutex
	messages []map[string]string
	fail     bool
}

func (f *fakeBotServer) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"alerts","username":"alerts_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if f.fail {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_ = r.ParseForm()
		f.mu.Lock()
		f.messages = append(f.messages, map[string]string{
			"chat_id": r.PostForm.Get("chat_id"),
			"text":    r.PostForm.Get("text"),
		})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100}}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestNotifier(t *testing.T, fake *fakeBotServer) *Notifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	api, err := tgbotapi.NewBotAPIWithClient("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	return NewNotifier(api, -100, logger.Discard())
}

func TestAlertSendsMessage(t *testing.T) {
	fake := &fakeBotServer{}
	n := newTestNotifier(t, fake)

	require.NoError(t, n.Alert(context.Background(), "Refund not recorded for task t1"))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "-100", fake.messages[0]["chat_id"])
	assert.Equal(t, "Refund not recorded for task t1", fake.messages[0]["text"])
}

func TestAlertTruncatesLongText(t *testing.T) {
	fake := &fakeBotServer{}
	n := newTestNotifier(t, fake)

	require.NoError(t, n.Alert(context.Background(), strings.Repeat("x", 5000)))
	require.Len(t, fake.messages, 1)
	assert.Len(t, []rune(fake.messages[0]["text"]), maxMessageLen)
}

func TestAlertErrors(t *testing.T) {
	fake := &fakeBotServer{fail: true}
	n := newTestNotifier(t, fake)
	assert.Error(t, n.Alert(context.Background(), "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Alert(ctx, "x"), context.Canceled)
}
