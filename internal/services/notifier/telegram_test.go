package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
)

func TestTelegram_SendMessage(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.Telegram{BotToken: "123:abc", APIBase: srv.URL, Timeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, tg.Send(context.Background(), "-100", "<b>hi</b>"))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, "<b>hi</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegram_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.Telegram{BotToken: "t", APIBase: srv.URL}, zaptest.NewLogger(t))
	err := tg.Send(context.Background(), "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegram_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.Telegram{BotToken: "t", APIBase: srv.URL, RatePerSec: 0.01}, zaptest.NewLogger(t))
	require.NoError(t, tg.Send(context.Background(), "1", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, tg.Send(ctx, "1", "second"))
}

func TestMailer_Compose(t *testing.T) {
	m := NewMailer(config.SMTP{Host: "localhost", Port: 1025, From: "noreply@zepatrol.dev"}, zaptest.NewLogger(t))
	raw := string(m.compose("ops@acme.io", "⚠️ Node a DOWN", "line1\nline2"))

	assert.Contains(t, raw, "From: noreply@zepatrol.dev\r\n")
	assert.Contains(t, raw, "To: ops@acme.io\r\n")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.Contains(t, raw, "\r\n\r\nline1\r\nline2\r\n")
}
