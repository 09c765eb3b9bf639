package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"buyxanbot/internal/config"
	"buyxanbot/internal/monitor"
	"buyxanbot/pkg/logx"
)

// validateReload rejects a reloaded config that would not survive a restart.
func validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := monitor.ParseSchedule(cfg.Monitor.Schedule); err != nil {
		return fmt.Errorf("monitor.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Monitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("monitor.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// reloadLoop applies hot-reloadable sections (logging, notifier) and logs
// which other sections need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed, restart, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(logConfig(next))
	if a.disp != nil {
		a.disp.Apply(notifierConfig(next))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}
}
