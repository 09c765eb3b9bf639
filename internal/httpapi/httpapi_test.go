package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/monitor"
	"buyxanbot/internal/notifier"
	"buyxanbot/internal/runtime/supervisor"
	"buyxanbot/internal/storage"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

type fakeStore struct {
	err error
}

func (f fakeStore) ListChainConfigs(context.Context) ([]chain.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []chain.Config{{ID: "ETH", Enabled: true, Checkpoint: 42, Targets: []string{"0xabc"}}}, nil
}

func (f fakeStore) ListChats(context.Context) ([]storage.Chat, error) {
	return []storage.Chat{{ID: -100, Emoji: "🟢"}}, f.err
}

func (f fakeStore) GetStats(context.Context) (storage.Stats, error) {
	return storage.Stats{CyclesRun: 3, EventsDispatched: 2}, f.err
}

type fixedCycle monitor.CycleState

func (c fixedCycle) State() monitor.CycleState { return monitor.CycleState(c) }

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewRouter(fakeStore{}, Options{
		BotEnabled: true,
		Mode:       transport.ModePolling,
		Cycle:      fixedCycle{LastCycleAt: now.Add(-10 * time.Second), LastSuccessAt: now.Add(-10 * time.Second)},
		Now:        func() time.Time { return now },
	}, logx.Nop())

	rec, body := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
	assert.Equal(t, "2026-03-01T11:59:50Z", body["last_success_at"])
	assert.Equal(t, false, body["cycle_in_progress"])
	bot := body["bot"].(map[string]any)
	assert.Equal(t, true, bot["enabled"])
	assert.Equal(t, "polling", bot["mode"])
}

func TestStatusWithoutBot(t *testing.T) {
	t.Parallel()
	h := NewRouter(fakeStore{}, Options{}, logx.Nop())

	rec, body := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["last_success_at"])
	assert.Nil(t, body["last_cycle_at"])
	bot := body["bot"].(map[string]any)
	assert.Equal(t, false, bot["enabled"])
	_, hasMode := bot["mode"]
	assert.False(t, hasMode)

	// no webhook handler mounted outside webhook mode
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminReads(t *testing.T) {
	t.Parallel()
	h := NewRouter(fakeStore{}, Options{}, logx.Nop())

	rec, body := get(t, h, "/api/admin/configs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfgs := body["configs"].([]any)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "ETH", cfgs[0].(map[string]any)["id"])
	assert.EqualValues(t, 42, cfgs[0].(map[string]any)["checkpoint"])

	rec, body = get(t, h, "/api/admin/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["chats"], 1)

	rec, body = get(t, h, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["cycles_run"])
	assert.EqualValues(t, 2, body["events_dispatched"])
}

func TestAdminStoreError(t *testing.T) {
	t.Parallel()
	h := NewRouter(fakeStore{err: errors.New("db locked")}, Options{}, logx.Nop())

	rec, body := get(t, h, "/api/admin/stats", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "get stats failed", body["error"])
}

func TestAdminJWT(t *testing.T) {
	t.Parallel()
	secret := "s3cret"
	h := NewRouter(fakeStore{}, Options{AdminJWTSecret: secret}, logx.Nop())

	sign := func(key string, method jwt.SigningMethod, exp time.Time) string {
		tok := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "ops", "exp": exp.Unix()})
		s, err := tok.SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}

	rec, _ := get(t, h, "/api/admin/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/api/admin/stats", map[string]string{"Authorization": "Bearer " + sign("other", jwt.SigningMethodHS256, time.Now().Add(time.Hour))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/api/admin/stats", map[string]string{"Authorization": "Bearer " + sign(secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/api/admin/stats", map[string]string{"Authorization": "Bearer " + sign(secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/api/admin/stats", map[string]string{"Authorization": "Bearer " + sign(secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))})
	assert.Equal(t, http.StatusOK, rec.Code)

	// status stays public
	rec, _ = get(t, h, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookMountedAndCounted(t *testing.T) {
	t.Parallel()
	var got string
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	h := NewRouter(fakeStore{}, Options{BotEnabled: true, Mode: transport.ModeWebhook, Webhook: hook}, logx.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, `{"update_id":1}`, got)

	assert.Equal(t, "busy", webhookResult(http.StatusTooManyRequests))
	assert.Equal(t, "accepted", webhookResult(http.StatusOK))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := NewRouter(fakeStore{}, Options{}, logx.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "buyxanbot_monitor_cycles_total")
}

func TestServerStartShutdown(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, NewRouter(fakeStore{}, Options{}, logx.Nop()), logx.Nop())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

type fixedDeliveries []notifier.HistoryItem

func (d fixedDeliveries) Recent() []notifier.HistoryItem { return d }

func TestDeliveriesAndProfiler(t *testing.T) {
	t.Parallel()
	h := NewRouter(fakeStore{}, Options{}, logx.Nop())
	rec, body := get(t, h, "/api/admin/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["deliveries"])
	rec, _ = get(t, h, "/api/admin/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = NewRouter(fakeStore{}, Options{
		Pprof:      true,
		Deliveries: fixedDeliveries{{Chain: "ETH", Ref: "0xaa:1", ChatID: -100}},
	}, logx.Nop())
	rec, body = get(t, h, "/api/admin/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["deliveries"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "0xaa:1", items[0].(map[string]any)["ref"])

	rec, _ = get(t, h, "/api/admin/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRuntimeSnapshots(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	sup := supervisor.New(ctx)
	release := make(chan struct{})
	started := make(chan struct{})
	sup.Go0("worker", func(c context.Context) {
		close(started)
		<-release
	})
	<-started
	defer func() {
		close(release)
		cancel()
		_ = sup.Wait(context.Background())
	}()

	h := NewRouter(fakeStore{}, Options{Runtime: map[string]Snapshotter{"app": sup}}, logx.Nop())
	rec, body := get(t, h, "/api/admin/runtime", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	app := body["app"].(map[string]any)
	tasks := app["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "worker", tasks[0].(map[string]any)["name"])
}
