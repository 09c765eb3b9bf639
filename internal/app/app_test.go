package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/config"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", filepath.ToSlash(dir))
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestModeConflictIsFatal(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, `{
		"telegram": {"token": "1:x", "polling": {"enabled": true}, "webhook": {"enabled": true, "public_url": "https://bot.example.org/hook"}},
		"storage": {"path": "$DIR/bot.db"}
	}`)
	_, err := New(p, WithEnv(noEnv))
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrModeConflict))
}

func TestBadScheduleIsFatal(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, `{"monitor": {"schedule": "whenever"}, "storage": {"path": "$DIR/bot.db"}}`)
	_, err := New(p, WithEnv(noEnv))
	require.Error(t, err)
}

func TestStartWithoutTokenServesHTTP(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, `{
		"http": {"addr": "127.0.0.1:0"},
		"storage": {"path": "$DIR/bot.db"},
		"chains": [{"id": "sim", "kind": "simulated"}]
	}`)
	a, err := New(p, WithEnv(noEnv))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(context.Background(), StopAppStop)

	assert.False(t, a.BotRunning())
	status := getJSON(t, "http://"+a.HTTPAddr()+"/api/status")
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, false, status["bot"].(map[string]any)["enabled"])

	cfgs := getJSON(t, "http://"+a.HTTPAddr()+"/api/admin/configs")["configs"].([]any)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "SIM", cfgs[0].(map[string]any)["id"])
}

func TestStartWebhookBotOffline(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, `{
		"telegram": {"token": "123:offline", "webhook": {"enabled": true, "public_url": "https://bot.example.org/api/telegram/webhook", "secret_token": "s"}},
		"monitor": {"schedule": "1h"},
		"http": {"addr": "127.0.0.1:0"},
		"storage": {"path": "$DIR/bot.db"},
		"chains": [{"id": "SIM", "kind": "simulated"}]
	}`)
	a, err := New(p, WithEnv(noEnv), WithTelegramOffline())
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.True(t, a.BotRunning())

	status := getJSON(t, "http://"+a.HTTPAddr()+"/api/status")
	bot := status["bot"].(map[string]any)
	assert.Equal(t, true, bot["enabled"])
	assert.Equal(t, "webhook", bot["mode"])
	assert.Equal(t, false, status["cycle_in_progress"])

	req, err := http.NewRequest(http.MethodPost, "http://"+a.HTTPAddr()+"/api/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopSignal))
	require.NoError(t, a.Stop(ctx, StopSignal))
	select {
	case <-a.Done():
	default:
		t.Fatal("run context still alive after stop")
	}
}

func TestChainMetaMergesOverrides(t *testing.T) {
	t.Parallel()
	m := chainMeta(config.ChainConfig{ID: "ETH", Kind: "evm", Explorer: "https://eth.blockscout.com/", NativePriceUSD: "4000"})
	assert.Equal(t, "Ethereum", m.Name)
	assert.Equal(t, "https://eth.blockscout.com", m.Explorer)
	assert.True(t, m.NativePriceUSD.Equal(decimal.NewFromInt(4000)))
	assert.Equal(t, chain.KindEVM, m.Kind)

	custom := chainMeta(config.ChainConfig{ID: "DEV", Kind: "simulated"})
	assert.Equal(t, "DEV", custom.Name)
	assert.Equal(t, "DEV", custom.Symbol)
	assert.Equal(t, chain.KindSimulated, custom.Kind)
}

func TestChainSeed(t *testing.T) {
	t.Parallel()
	off := false
	s := chainSeed(config.ChainConfig{ID: "BNB", MinAmount: "2.5", Enabled: &off})
	assert.False(t, s.Enabled)
	assert.Equal(t, "2.5", s.MinAmount.String())

	s = chainSeed(config.ChainConfig{ID: "BNB", MinAmount: ""})
	assert.True(t, s.Enabled)
	assert.True(t, s.MinAmount.IsZero())
}

func TestValidateReload(t *testing.T) {
	t.Parallel()
	ok := &config.Config{Monitor: config.MonitorConfig{Schedule: "10s", Timezone: "UTC"}}
	require.NoError(t, validateReload(context.Background(), ok))

	bad := &config.Config{Monitor: config.MonitorConfig{Schedule: "10s", Timezone: "Mars/Olympus"}}
	require.Error(t, validateReload(context.Background(), bad))
}
