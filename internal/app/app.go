// Package app is the composition root: it builds every component from the
// config, starts them in dependency order and stops them in reverse.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/commands"
	"buyxanbot/internal/config"
	"buyxanbot/internal/httpapi"
	"buyxanbot/internal/metrics"
	"buyxanbot/internal/monitor"
	"buyxanbot/internal/notifier"
	"buyxanbot/internal/runtime/supervisor"
	"buyxanbot/internal/storage"
	"buyxanbot/internal/transport"
	"buyxanbot/internal/transport/telegram"
	"buyxanbot/pkg/logx"
)

type Option func(*options)

type options struct {
	getenv          func(string) string
	telegramOffline bool
	telegramAPIURL  string
}

// WithEnv replaces the environment lookup used for overrides.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// WithTelegramOffline builds the bot client without any network call.
func WithTelegramOffline() Option {
	return func(o *options) { o.telegramOffline = true }
}

type App struct {
	opts options

	cfgm *config.Manager
	cfg  *config.Config
	mode transport.Mode

	log  logx.Logger
	logs *logx.Service
	sup  *supervisor.Supervisor

	store   *storage.Store
	chains  *chain.Registry
	closers []func()

	adapter *telegram.Adapter
	disp    *notifier.Dispatcher
	orch    *monitor.Orchestrator
	trigger *monitor.Trigger
	router  *commands.Router
	updates chan transport.Update

	cmdCancel context.CancelFunc
	cmdDone   chan struct{}

	http *httpapi.Server

	stopOnce sync.Once
}

// New loads and validates the config. Any error here is fatal, including a
// transport mode conflict.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{getenv: os.Getenv}
	for _, fn := range opts {
		fn(&o)
	}
	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnv(o.getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Telegram.ResolveMode()
	if err != nil {
		return nil, err
	}
	if _, err := monitor.ParseSchedule(cfg.Monitor.Schedule); err != nil {
		return nil, fmt.Errorf("monitor.schedule: %w", err)
	}

	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		opts: o,
		cfgm: cfgm,
		cfg:  cfg,
		mode: mode,
		log:  log.With(logx.String("comp", "app")),
		logs: logs,
	}, nil
}

// Done is closed when the app's run context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound HTTP address once started.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// BotRunning reports whether the bot subsystem (transport, commands,
// monitoring) was started.
func (a *App) BotRunning() bool { return a.adapter != nil }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfg
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
		supervisor.WithRestartHook(func(name string) { metrics.SupervisorRestarts.WithLabelValues(name).Inc() }),
	)
	runCtx := a.sup.Context()

	store, err := storage.Open(ctx, storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 5*time.Second),
		AuditKeep:   5000,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	reg, closers, err := buildChains(ctx, cfg, store, a.log.With(logx.String("comp", "chains")))
	a.closers = closers
	if err != nil {
		return fmt.Errorf("chains: %w", err)
	}
	a.chains = reg

	if err := a.startBot(runCtx); err != nil {
		return err
	}

	if err := a.startHTTP(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	a.cfgm.SetValidator(validateReload)
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	notifyReady(a.log)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })

	a.log.Info("app started",
		logx.Bool("bot", a.BotRunning()),
		logx.String("mode", a.mode.String()),
		logx.Strings("chains", reg.IDs()),
		logx.String("http", a.HTTPAddr()),
	)
	return nil
}

// startBot brings up transport, dispatcher, orchestrator and commands. A
// disabled bot or a missing/rejected credential leaves the subsystem off
// without failing the process.
func (a *App) startBot(ctx context.Context) error {
	cfg := a.cfg
	switch {
	case cfg.Bot.Disabled:
		a.log.Info("bot subsystem disabled by config")
		return nil
	case strings.TrimSpace(cfg.Telegram.Token) == "":
		a.log.Warn("telegram token missing; bot subsystem not started")
		return nil
	}

	ad, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		Mode:          a.mode,
		PollTimeout:   config.DurationOr(cfg.Telegram.Polling.Timeout, 30*time.Second),
		BackoffMin:    config.DurationOr(cfg.Telegram.Polling.BackoffMin, 500*time.Millisecond),
		BackoffMax:    config.DurationOr(cfg.Telegram.Polling.BackoffMax, 30*time.Second),
		WebhookURL:    cfg.Telegram.Webhook.PublicURL,
		WebhookSecret: cfg.Telegram.Webhook.SecretToken,
		QueueSize:     cfg.Telegram.Webhook.QueueSize,
		APIURL:        a.opts.telegramAPIURL,
		Offline:       a.opts.telegramOffline,
	}, a.log)
	if err != nil {
		a.log.Warn("telegram client rejected; bot subsystem not started", logx.Err(err))
		return nil
	}
	a.adapter = ad
	a.logs.SetSender(func(c context.Context, chatID int64, text string) error {
		_, err := ad.SendText(c, transport.ChatTarget{ChatID: chatID}, text, nil)
		return err
	})

	a.disp = notifier.New(notifierConfig(cfg), ad, a.store, a.chains, a.log)
	a.orch = monitor.New(a.store, a.chains, a.disp, monitor.Options{
		ScanTimeout: config.DurationOr(cfg.Monitor.ScanTimeout, 8*time.Second),
		MaxParallel: cfg.Monitor.MaxParallel,
	}, a.log.With(logx.String("comp", "monitor")))

	trig, err := monitor.NewTrigger(cfg.Monitor.Schedule, cfg.Monitor.Timezone, a.log)
	if err != nil {
		return fmt.Errorf("monitor trigger: %w", err)
	}
	a.trigger = trig

	a.router = commands.NewRouter(ad, a.log)
	a.router.SetRegistry(commands.Builtins(commands.Deps{
		Store:  a.store,
		Chains: a.chains,
		Cycle:  a.orch,
		Owners: cfg.Telegram.OwnerUserIDs,
	}))

	a.updates = make(chan transport.Update, 256)
	if err := ad.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("telegram start: %w", err)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	a.cmdCancel, a.cmdDone = cancel, make(chan struct{})
	go func() {
		defer close(a.cmdDone)
		if err := a.router.DispatchLoop(cmdCtx, a.updates); err != nil {
			a.log.Warn("command dispatcher exited", logx.Err(err))
		}
	}()
	a.sup.Go0("commands.menu", a.router.PublishMenu)

	if err := a.orch.Start(ctx, trig); err != nil {
		return fmt.Errorf("monitor start: %w", err)
	}
	a.log.Info("monitoring scheduled", logx.String("spec", trig.Spec()), logx.Time("next", trig.Next()))
	return nil
}

func (a *App) startHTTP() error {
	cfg := a.cfg
	opts := httpapi.Options{
		BotEnabled:     a.adapter != nil,
		Mode:           a.mode,
		AdminJWTSecret: cfg.HTTP.AdminJWTSecret,
		Pprof:          cfg.HTTP.Pprof,
	}
	opts.Runtime = map[string]httpapi.Snapshotter{"app": a.sup}
	if a.orch != nil {
		opts.Cycle = a.orch
		opts.Deliveries = a.disp
		opts.Runtime["telegram"] = a.adapter
		opts.Runtime["commands"] = a.router
	}
	if a.adapter != nil && a.mode == transport.ModeWebhook {
		opts.Webhook = a.adapter.WebhookHandler()
	}
	a.http = httpapi.NewServer(httpapi.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  config.DurationOr(cfg.HTTP.ReadTimeout, 10*time.Second),
		WriteTimeout: config.DurationOr(cfg.HTTP.WriteTimeout, 15*time.Second),
	}, httpapi.NewRouter(a.store, opts, a.log), a.log)
	return a.http.Start()
}

// Stop shuts components down in order, each bounded by its own timeout.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	a.step(ctx, "monitor", 10*time.Second, func(c context.Context) error {
		if a.orch != nil {
			a.orch.Stop(c)
		}
		return nil
	})
	a.step(ctx, "commands", 3*time.Second, func(c context.Context) error {
		if a.cmdCancel == nil {
			return nil
		}
		a.cmdCancel()
		select {
		case <-a.cmdDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "transport", 3*time.Second, func(c context.Context) error {
		if a.adapter == nil {
			return nil
		}
		return a.adapter.Stop(c)
	})
	a.step(ctx, "http", config.DurationOr(a.cfg.HTTP.ShutdownTimeout, 5*time.Second), func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Shutdown(c)
	})

	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	for _, fn := range a.closers {
		fn()
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
}

// step runs fn bounded by max (and by ctx's deadline). A step that misses
// its deadline keeps running in the background; the stop sequence moves on.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.GroupLog != 0,
			ChatID:     cfg.Telegram.GroupLog,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		SendTimeout:     config.DurationOr(n.SendTimeout, 10*time.Second),
		RatePerSec:      n.RatePerSec,
		Burst:           n.Burst,
		DedupWindow:     config.DurationOr(n.DedupWindow, time.Hour),
		DedupMaxEntries: n.DedupMaxEntries,
		CommunityURL:    n.CommunityURL,
		MaxPause:        30 * time.Second,
	}
}
