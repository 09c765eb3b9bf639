package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

func newOfflineAdapter(t *testing.T, mode transport.Mode, secret string) *Adapter {
	t.Helper()
	a, err := New(Config{
		Token:         "123:offline",
		Mode:          mode,
		WebhookSecret: secret,
		QueueSize:     1,
		Offline:       true,
	}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Token: "  ", Offline: true}, logx.Nop())
	require.Error(t, err)
}

func TestWebhookAcknowledgesAndProcessesAsync(t *testing.T) {
	t.Parallel()

	a := newOfflineAdapter(t, transport.ModeWebhook, "s3cret")
	out := make(chan transport.Update, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, out))
	defer a.Stop(context.Background())

	body := `{"update_id": 7, "message": {"message_id": 1, "text": "/listtokens", "chat": {"id": -42, "type": "group"}, "from": {"id": 9, "username": "alice"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(body))
	req.Header.Set(secretHeader, "s3cret")
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	select {
	case up := <-out:
		require.NotNil(t, up.Message)
		assert.Equal(t, int64(-42), up.Message.ChatID)
		assert.Equal(t, "/listtokens", up.Message.Text)
		assert.Equal(t, "alice", up.Message.FromUsername)
		assert.True(t, up.Message.IsGroup)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not processed")
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	t.Parallel()

	a := newOfflineAdapter(t, transport.ModeWebhook, "s3cret")
	require.NoError(t, a.Start(context.Background(), make(chan transport.Update, 1)))
	defer a.Stop(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(secretHeader, "wrong")
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnavailableWhenNotRunning(t *testing.T) {
	t.Parallel()

	a := newOfflineAdapter(t, transport.ModeWebhook, "")
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookBadBody(t *testing.T) {
	t.Parallel()

	a := newOfflineAdapter(t, transport.ModeWebhook, "")
	require.NoError(t, a.Start(context.Background(), make(chan transport.Update, 1)))
	defer a.Stop(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		permanent bool
		retry     time.Duration
	}{
		{"blocked", tele.NewError(403, "Forbidden: bot was blocked by the user"), true, 0},
		{"chat not found", tele.NewError(400, "Bad Request: chat not found"), true, 0},
		{"flood", errors.New("telegram: retry after 12 (429)"), false, 12 * time.Second},
		{"server", tele.NewError(502, "Bad Gateway"), false, 0},
		{"network", errors.New("dial tcp: i/o timeout"), false, 0},
		{"kicked text", errors.New("telegram: Forbidden: bot was kicked from the group chat"), true, 0},
		{"deadline", context.DeadlineExceeded, false, 0},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		assert.Equal(t, tc.permanent, transport.IsPermanent(got), tc.name)
		assert.Equal(t, tc.retry, transport.RetryAfter(got), tc.name)
		assert.ErrorIs(t, got, tc.err, tc.name)
	}
	assert.NoError(t, classify(nil))
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	short := "hello"
	assert.Equal(t, []string{short}, splitTelegramText(short, 10, ""))

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(long, 10, "")
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, got)

	html := "xxxxxx<b>bold</b>"
	parts := splitTelegramText(html, 8, "HTML")
	assert.Equal(t, "xxxxxx", parts[0])
	assert.Equal(t, html, strings.Join(parts, ""))
}

func TestButtonsMarkup(t *testing.T) {
	t.Parallel()

	assert.Nil(t, buttonsMarkup(nil))
	rm := buttonsMarkup([]transport.Button{{Text: "Chart", URL: "https://c"}, {Text: "", URL: "https://skip"}, {Text: "Buy", URL: "https://b"}})
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 1)
	assert.Len(t, rm.InlineKeyboard[0], 2)
}

func TestMenuUpdateIsIdempotent(t *testing.T) {
	t.Parallel()

	a := newOfflineAdapter(t, transport.ModePolling, "")
	cmds := []transport.BotCommand{{Command: "help", Description: "Show help"}}
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	first := a.menuHash
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, first, a.menuHash)
	assert.NotZero(t, first)
}

func newAPIAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	a, err := New(Config{
		Token:      "123:offline",
		Mode:       transport.ModePolling,
		APIURL:     url,
		Offline:    true,
		BackoffMin: 5 * time.Millisecond,
		BackoffMax: 20 * time.Millisecond,
	}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestSendReturnsMessageRef(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":5,"type":"private"},"text":"hi"}}`))
	}))
	t.Cleanup(srv.Close)

	ref, err := newAPIAdapter(t, srv.URL).SendText(context.Background(), transport.ChatTarget{ChatID: 5}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, ref.MessageID)
	assert.Equal(t, int64(5), ref.ChatID)
}

func TestSendHonorsCallerDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	a := newAPIAdapter(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.SendText(ctx, transport.ChatTarget{ChatID: 5}, "hi", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, transport.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	actx, acancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer acancel()
	start = time.Now()
	err = a.SendAnimation(actx, transport.ChatTarget{ChatID: 5}, "https://example.com/a.gif")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopPollingWithoutRunningLoop(t *testing.T) {
	t.Parallel()

	a := newOfflineAdapter(t, transport.ModePolling, "")
	done := make(chan struct{})
	go func() {
		a.stopPolling()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stopPolling blocked with no bot loop running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, a.beginPolling(ctx))
}

func TestPollingStartStop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(20 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	t.Cleanup(srv.Close)
	a := newAPIAdapter(t, srv.URL)

	require.NoError(t, a.Start(context.Background(), make(chan transport.Update, 1)))
	require.Eventually(t, func() bool {
		a.pollMu.Lock()
		defer a.pollMu.Unlock()
		return a.polling
	}, 2*time.Second, 10*time.Millisecond)

	a.runMu.Lock()
	sup := a.sup
	a.runMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.Eventually(t, func() bool { return sup.Snapshot().Counters.Active == 0 }, 2*time.Second, 10*time.Millisecond)

	a.pollMu.Lock()
	assert.False(t, a.polling)
	a.pollMu.Unlock()
}
