package config

import (
	"reflect"

	"buyxanbot/pkg/logx"
)

// Reloadable lists the sections applied to a running process on hot reload.
// Changes anywhere else take effect after a restart.
var Reloadable = map[string]bool{
	"logging":  true,
	"notifier": true,
}

// SummarizeConfigChange returns (1) the changed top-level sections,
// (2) the subset that requires a restart, and (3) safe structured attrs for
// logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	attrs := make([]logx.Field, 0, 8)

	mark := func(section string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	mark("bot", oldCfg.Bot != newCfg.Bot, logx.Bool("bot.disabled", newCfg.Bot.Disabled))
	mark("telegram", !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram),
		logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		logx.Bool("telegram.webhook", newCfg.Telegram.Webhook.Enabled),
		logx.Bool("telegram.polling", newCfg.Telegram.Polling.Enabled),
	)
	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)
	mark("monitor", oldCfg.Monitor != newCfg.Monitor, logx.String("monitor.schedule", newCfg.Monitor.Schedule))
	mark("notifier", oldCfg.Notifier != newCfg.Notifier, logx.Float64("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	mark("storage", oldCfg.Storage != newCfg.Storage, logx.String("storage.path", newCfg.Storage.Path))
	mark("http", oldCfg.HTTP != newCfg.HTTP, logx.String("http.addr", newCfg.HTTP.Addr))
	mark("chains", !reflect.DeepEqual(oldCfg.Chains, newCfg.Chains), logx.Int("chains.count", len(newCfg.Chains)))

	var restart []string
	for _, s := range changed {
		if !Reloadable[s] {
			restart = append(restart, s)
		}
	}
	return changed, restart, attrs
}
