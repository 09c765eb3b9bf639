package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buyxanbot/internal/transport"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

const minimalJSON = `{
  "telegram": {"token": "123:abc"},
  "chains": [
    {"id": "eth", "kind": "evm", "rpc_url": "https://rpc.example", "min_amount": "1.5"},
    {"id": "SIM", "kind": "simulated"}
  ]
}`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.json", minimalJSON))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "10s", cfg.Monitor.Schedule)
	assert.Equal(t, "8s", cfg.Monitor.ScanTimeout)
	assert.Equal(t, 4, cfg.Monitor.MaxParallel)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, "ETH", cfg.Chains[0].ID)
	assert.True(t, cfg.Chains[0].IsEnabled())
	assert.Equal(t, int32(18), cfg.Chains[0].TokenDecimals)
	assert.Equal(t, "0", cfg.Chains[1].MinAmount)
	assert.Same(t, cfg, m.Get())

	mode, err := cfg.Telegram.ResolveMode()
	require.NoError(t, err)
	assert.Equal(t, transport.ModePolling, mode)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	body := `
bot:
  disabled: true
monitor:
  schedule: "*/10 * * * * *"
chains:
  - id: SOLANA
    kind: solana
    rpc_url: https://api.mainnet-beta.solana.com
    enabled: false
`
	m := NewManager(writeFile(t, "config.yaml", body))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Bot.Disabled)
	assert.Equal(t, "*/10 * * * * *", cfg.Monitor.Schedule)
	assert.False(t, cfg.Chains[0].IsEnabled())
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.json", minimalJSON))
	m.SetEnv(envMap(map[string]string{
		EnvBotToken:   "999:env",
		EnvDisableBot: "true",
		EnvPort:       "8080",
	}))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "999:env", cfg.Telegram.Token)
	assert.True(t, cfg.Bot.Disabled)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"unknown field", `{"nope": 1}`},
		{"trailing data", `{} {}`},
		{"bad kind", `{"chains":[{"id":"X","kind":"btc","rpc_url":"http://x"}]}`},
		{"missing rpc", `{"chains":[{"id":"ETH","kind":"evm"}]}`},
		{"duplicate chain", `{"chains":[{"id":"A","kind":"simulated"},{"id":"a","kind":"simulated"}]}`},
		{"bad min amount", `{"chains":[{"id":"A","kind":"simulated","min_amount":"lots"}]}`},
		{"bad duration", `{"monitor":{"scan_timeout":"soon"}}`},
		{"webhook without url", `{"telegram":{"webhook":{"enabled":true}}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, "config.json", tc.body))
			m.SetEnv(noEnv)
			_, err := m.Load()
			require.Error(t, err)
		})
	}
}

func TestTransportModeConflictIsFatal(t *testing.T) {
	t.Parallel()

	body := `{"telegram":{"token":"t","polling":{"enabled":true},"webhook":{"enabled":true,"public_url":"https://bot.example/api/telegram/webhook"}}}`
	m := NewManager(writeFile(t, "config.json", body))
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModeConflict))
}

func TestResolveMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		webhook, polling bool
		want             transport.Mode
		err              error
	}{
		{false, false, transport.ModePolling, nil},
		{false, true, transport.ModePolling, nil},
		{true, false, transport.ModeWebhook, nil},
		{true, true, "", ErrModeConflict},
	}
	for _, tc := range cases {
		tg := TelegramConfig{Webhook: WebhookConfig{Enabled: tc.webhook}, Polling: PollingConfig{Enabled: tc.polling}}
		got, err := tg.ResolveMode()
		assert.Equal(t, tc.want, got)
		assert.ErrorIs(t, err, tc.err)
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", minimalJSON)
	m := NewManager(path)
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}

func TestReloadRespectsValidatorHook(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", minimalJSON)
	m := NewManager(path)
	m.SetEnv(noEnv)
	first, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(ctx context.Context, cfg *Config) error { return errors.New("nope") })
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600))

	published, err := m.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, published)
	assert.Same(t, first, m.Get())
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Monitor: MonitorConfig{Schedule: "10s"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Monitor: MonitorConfig{Schedule: "5s"}}

	changed, restart, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "monitor"}, changed)
	assert.Equal(t, []string{"monitor"}, restart)
	assert.NotEmpty(t, attrs)
}
