package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"buyxanbot/internal/runtime/supervisor"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
	"buyxanbot/pkg/tgui"
)

type Config struct {
	Token string
	Mode  transport.Mode

	PollTimeout time.Duration
	BackoffMin  time.Duration
	BackoffMax  time.Duration

	WebhookURL    string
	WebhookSecret string
	QueueSize     int

	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Offline skips every network call made at construction and start.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot    *tele.Bot
	poller *backoffPoller
	out    atomic.Value // chan<- transport.Update

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	queue   chan tele.Update

	// polling is true while bot.Start runs; bot.Stop blocks unless it does.
	pollMu  sync.Mutex
	polling bool

	droppedUpdates atomic.Uint64
	received       atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var _ transport.Adapter = (*Adapter)(nil)

// New builds the bot client. Outside offline mode this validates the token
// with getMe, so a rejected credential fails here.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Mode == "" {
		cfg.Mode = transport.ModePolling
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"), logx.String("mode", cfg.Mode.String()))

	a := &Adapter{cfg: cfg, log: log}
	a.poller = &backoffPoller{
		timeout:    cfg.PollTimeout,
		backoffMin: cfg.BackoffMin,
		backoffMax: cfg.BackoffMax,
		log:        log,
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  a.poller,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b

	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Mode() transport.Mode { return a.cfg.Mode }

// Username is the bot's @handle as reported by getMe (empty when offline).
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// Received counts inbound updates handed to the consumer.
func (a *Adapter) Received() uint64 { return a.received.Load() }

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &transport.Message{
			ID:       m.ID,
			ChatID:   m.Chat.ID,
			ThreadID: m.ThreadID,
			Text:     m.Text,
			IsGroup:  m.Chat.Type != tele.ChatPrivate,
		}
		if m.Sender != nil {
			msg.FromID = m.Sender.ID
			msg.FromUsername = m.Sender.Username
		}
		a.sendUpdate(transport.Update{Message: msg})
		return nil
	})
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
		a.received.Add(1)
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	// transport failures must not take the process down
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(false))
	sup := a.sup
	if a.cfg.Mode == transport.ModeWebhook {
		a.queue = make(chan tele.Update, a.cfg.QueueSize)
	}
	queue := a.queue
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})

	switch a.cfg.Mode {
	case transport.ModeWebhook:
		a.startWebhook(sup, queue)
	default:
		a.startPolling(sup)
	}
	a.log.Info("telegram transport started")
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) startPolling(sup *supervisor.Supervisor) {
	if !a.cfg.Offline {
		// getUpdates is refused while a webhook is registered.
		if err := a.bot.RemoveWebhook(); err != nil {
			a.log.Warn("remove webhook failed", logx.Err(err))
		}
	}

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.stopPolling()
	})

	sup.GoRestart0("telebot.poll", func(c context.Context) {
		if !a.beginPolling(c) {
			return
		}
		defer a.endPolling()
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		supervisor.WithRestartBackoff(a.cfg.BackoffMin, a.cfg.BackoffMax),
		supervisor.WithPublishFirstError(true),
		supervisor.WithStopOnCleanExit(false),
	)
}

// beginPolling marks the bot loop as running unless ctx is already done.
// Checking ctx under pollMu orders it against stopPolling.
func (a *Adapter) beginPolling(ctx context.Context) bool {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	a.polling = true
	return true
}

func (a *Adapter) endPolling() {
	a.pollMu.Lock()
	a.polling = false
	a.pollMu.Unlock()
}

// stopPolling stops the bot loop if it is running. Between restarts there
// is nothing to stop and the loop will not start again.
func (a *Adapter) stopPolling() {
	a.pollMu.Lock()
	running := a.polling
	a.pollMu.Unlock()
	if running {
		a.bot.Stop()
	}
}

func (a *Adapter) startWebhook(sup *supervisor.Supervisor, queue chan tele.Update) {
	if !a.cfg.Offline {
		sup.GoRestart("telegram.set_webhook", func(c context.Context) error {
			return a.bot.SetWebhook(&tele.Webhook{
				Endpoint:       &tele.WebhookEndpoint{PublicURL: a.cfg.WebhookURL},
				SecretToken:    a.cfg.WebhookSecret,
				AllowedUpdates: []string{"message"},
			})
		}, supervisor.WithRestartBackoff(a.cfg.BackoffMin, a.cfg.BackoffMax))
	}

	sup.Go0("webhook.process", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case u := <-queue:
				a.bot.ProcessUpdate(u)
			}
		}
	})
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.queue = nil
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()

	// keep shutdown snappy even if a getUpdates long-poll is still waiting
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Snapshot exposes the adapter's goroutine stats.
func (a *Adapter) Snapshot() supervisor.Snapshot {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup.Snapshot()
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunks {
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// buttons ride on the last chunk, under the full text
		if i == len(chunks)-1 {
			sendOpt.ReplyMarkup = buttonsMarkup(opt.Buttons)
		}
		msg, err := sendCtx(ctx, func() (*tele.Message, error) {
			return a.bot.Send(chat, chunk, sendOpt)
		})
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendAnimation(ctx context.Context, to transport.ChatTarget, url string) error {
	anim := &tele.Animation{File: tele.FromURL(url)}
	_, err := sendCtx(ctx, func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: to.ChatID}, anim, &tele.SendOptions{ThreadID: to.ThreadID})
	})
	return err
}

// sendCtx runs a Bot API call bounded by ctx. telebot requests carry no
// context of their own, so an abandoned call finishes on the client timeout
// in the background.
func sendCtx(ctx context.Context, fn func() (*tele.Message, error)) (*tele.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport.Transient(err, 0)
	}
	type outcome struct {
		msg *tele.Message
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		msg, err := fn()
		done <- outcome{msg, err}
	}()
	select {
	case out := <-done:
		return out.msg, classify(out.err)
	case <-ctx.Done():
		return nil, transport.Transient(ctx.Err(), 0)
	}
}

func buttonsMarkup(buttons []transport.Button) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(buttons))
	for _, b := range buttons {
		if b.Text == "" || b.URL == "" {
			continue
		}
		btns = append(btns, tgui.URLBtn(b.Text, b.URL))
	}
	return tgui.Grid2(btns)
}
