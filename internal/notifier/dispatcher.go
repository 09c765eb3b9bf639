package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/storage"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

// Dispatcher delivers buy alerts. It is safe for concurrent use; the
// orchestrator calls Dispatch from one goroutine per chain.
type Dispatcher struct {
	sender transport.Sender
	store  Store
	metas  MetaSource
	log    logx.Logger
	now    func() time.Time

	mu         sync.Mutex
	cfg        Config
	limiter    *rate.Limiter
	pauseUntil time.Time

	dedup *dedupSet

	hmu     sync.Mutex
	history []HistoryItem
}

const historyCap = 200

func New(cfg Config, sender transport.Sender, store Store, metas MetaSource, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		sender: sender,
		store:  store,
		metas:  metas,
		log:    log,
		now:    time.Now,
	}
	cfg = withDefaults(cfg)
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	d.dedup = newDedupSet(cfg.DedupWindow, cfg.DedupMaxEntries, d.now)
	return d
}

func withDefaults(cfg Config) Config {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.MaxPause <= 0 {
		cfg.MaxPause = 30 * time.Second
	}
	return cfg
}

// Apply swaps rate, timeout and dedup settings without dropping dedup state.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	d.mu.Lock()
	d.cfg = cfg
	d.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	d.limiter.SetBurst(cfg.Burst)
	d.mu.Unlock()
	d.dedup.configure(cfg.DedupWindow, cfg.DedupMaxEntries)
}

// Dispatch delivers events in order and returns how many were fully
// delivered before the first failure. The error, if any, is the failure that
// stopped the batch; it is classified by transport.IsPermanent.
func (d *Dispatcher) Dispatch(ctx context.Context, events []chain.Event) (int, error) {
	for i, ev := range events {
		if err := d.deliver(ctx, ev); err != nil {
			return i, fmt.Errorf("event %s/%s: %w", ev.Chain, ev.Ref, err)
		}
	}
	return len(events), nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev chain.Event) error {
	subs, err := d.store.Subscribers(ctx, ev.Chain, ev.Token)
	if err != nil {
		return fmt.Errorf("subscribers: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	meta, ok := d.metas.Meta(ev.Chain)
	if !ok {
		meta = chain.Meta{ID: ev.Chain, Name: ev.Chain, Symbol: ev.Chain}
	}

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	for _, sub := range subs {
		key := dedupKey(ev.Chain, ev.Ref, sub.ChatID)
		if d.dedup.seen(key) {
			d.log.Debug("alert deduped", logx.String("chain", ev.Chain), logx.String("ref", ev.Ref), logx.Int64("chat_id", sub.ChatID))
			continue
		}
		alert := Format(meta, ev, sub.Emoji, cfg.CommunityURL)
		err := d.sendOne(ctx, cfg, sub, alert)
		d.record(ev, sub.ChatID, err)
		if err == nil {
			d.dedup.mark(key)
			continue
		}
		if transport.IsPermanent(err) {
			d.log.Warn("chat unreachable; disabling",
				logx.Int64("chat_id", sub.ChatID), logx.String("chain", ev.Chain), logx.Err(err))
			if derr := d.store.DisableChat(ctx, sub.ChatID, err.Error()); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				d.log.Error("disable chat failed", logx.Int64("chat_id", sub.ChatID), logx.Err(derr))
			}
		} else if wait := transport.RetryAfter(err); wait > 0 {
			d.pause(wait, cfg.MaxPause)
		}
		return fmt.Errorf("chat %d: %w", sub.ChatID, err)
	}
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, cfg Config, sub storage.Subscriber, alert Alert) error {
	if err := d.waitTurn(ctx); err != nil {
		return transport.Transient(err, 0)
	}
	to := transport.ChatTarget{ChatID: sub.ChatID}

	if sub.GIFURL != "" {
		gctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		if err := d.sender.SendAnimation(gctx, to, sub.GIFURL); err != nil {
			d.log.Debug("alert animation failed", logx.Int64("chat_id", sub.ChatID), logx.Err(err))
		}
		cancel()
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err := d.sender.SendText(sctx, to, alert.Text, &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        alert.Buttons,
	})
	return err
}

// waitTurn blocks for the rate limiter and any retry-after pause.
func (d *Dispatcher) waitTurn(ctx context.Context) error {
	d.mu.Lock()
	until := d.pauseUntil
	lim := d.limiter
	d.mu.Unlock()

	if wait := until.Sub(d.now()); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lim.Wait(ctx)
}

func (d *Dispatcher) pause(wait, max time.Duration) {
	if wait > max {
		wait = max
	}
	until := d.now().Add(wait)
	d.mu.Lock()
	if until.After(d.pauseUntil) {
		d.pauseUntil = until
	}
	d.mu.Unlock()
}

func (d *Dispatcher) record(ev chain.Event, chatID int64, err error) {
	item := HistoryItem{At: d.now(), Chain: ev.Chain, Ref: ev.Ref, ChatID: chatID}
	if err != nil {
		item.Error = err.Error()
	}
	d.hmu.Lock()
	d.history = append(d.history, item)
	if len(d.history) > historyCap {
		d.history = d.history[len(d.history)-historyCap:]
	}
	d.hmu.Unlock()
}

// Recent returns recent deliveries, oldest first.
func (d *Dispatcher) Recent() []HistoryItem {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return append([]HistoryItem(nil), d.history...)
}
