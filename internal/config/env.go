package config

import (
	"strconv"
	"strings"
)

// Environment variables recognized on top of the config file.
const (
	EnvBotToken   = "TELEGRAM_BOT_TOKEN"
	EnvDisableBot = "DISABLE_BOT"
	EnvPort       = "PORT"
)

// ApplyEnv overlays environment values onto cfg. getenv is os.Getenv in
// production.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvBotToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvDisableBot)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bot.Disabled = b
		}
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Addr = ":" + v
		}
	}
}
