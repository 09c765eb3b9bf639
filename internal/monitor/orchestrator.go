package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/metrics"
	"buyxanbot/internal/storage"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

// Store is the Config & Stats Store as seen by the orchestrator.
type Store interface {
	ListEnabledChainConfigs(ctx context.Context) ([]chain.Config, error)
	UpdateCheckpoint(ctx context.Context, chainID string, checkpoint uint64) error
	RecordCycle(ctx context.Context, skipped bool, at time.Time) error
	RecordChain(ctx context.Context, chainID string, d storage.ChainDelta) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, events []chain.Event) (int, error)
}

// Scanners resolves the scanner for a chain id.
type Scanners interface {
	Get(id string) (chain.Entry, bool)
}

type Options struct {
	ScanTimeout time.Duration
	MaxParallel int
	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration
	Now          func() time.Time
}

// CycleState is the orchestrator's shared state. Only the in-progress flag
// and the timestamps live here.
type CycleState struct {
	InProgress    bool      `json:"cycle_in_progress"`
	LastCycleID   string    `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
}

// ChainReport is one chain's outcome within a cycle.
type ChainReport struct {
	Chain       string     `json:"chain"`
	Idle        bool       `json:"idle,omitempty"`
	Prev        uint64     `json:"prev_checkpoint"`
	Checkpoint  uint64     `json:"checkpoint"`
	Events      int        `json:"events"`
	Dispatched  int        `json:"dispatched"`
	Gap         *chain.Gap `json:"gap,omitempty"`
	ScanErr     error      `json:"-"`
	DispatchErr error      `json:"-"`
}

type Report struct {
	ID        string        `json:"id"`
	Skipped   bool          `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
	Err       error         `json:"-"`
	Chains    []ChainReport `json:"chains"`
}

type Orchestrator struct {
	store    Store
	scanners Scanners
	disp     Dispatcher
	opts     Options
	log      logx.Logger

	mu    sync.Mutex
	state CycleState

	trigger *Trigger
	runCtx  context.Context
	cancel  context.CancelFunc
}

func New(store Store, scanners Scanners, disp Dispatcher, opts Options, log logx.Logger) *Orchestrator {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 8 * time.Second
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{store: store, scanners: scanners, disp: disp, opts: opts, log: log}
}

// State returns a copy of the cycle state.
func (o *Orchestrator) State() CycleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) begin(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.InProgress {
		return false
	}
	o.state.InProgress = true
	o.state.LastCycleID = id
	metrics.CycleInProgress.Set(1)
	return true
}

func (o *Orchestrator) end(at time.Time, ok bool) {
	o.mu.Lock()
	o.state.InProgress = false
	o.state.LastCycleAt = at
	if ok {
		o.state.LastSuccessAt = at
	}
	o.mu.Unlock()
	metrics.CycleInProgress.Set(0)
}

// RunCycle performs one full scan/dispatch pass. It returns immediately with
// Skipped set when another cycle is in progress.
func (o *Orchestrator) RunCycle(ctx context.Context) (rep Report) {
	rep = Report{ID: uuid.NewString(), StartedAt: o.opts.Now()}
	log := o.log.With(logx.String("cycle", rep.ID))

	if !o.begin(rep.ID) {
		rep.Skipped = true
		metrics.CyclesSkipped.Inc()
		log.Info("cycle skipped: previous cycle still in progress")
		o.recordCycle(ctx, true, rep.StartedAt, log)
		return rep
	}

	ok := false
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("cycle panic: %v", r)
			log.Error("cycle panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		done := o.opts.Now()
		rep.Took = done.Sub(rep.StartedAt)
		o.end(done, ok && rep.Err == nil)
		metrics.CycleDuration.Observe(rep.Took.Seconds())
	}()

	metrics.CyclesTotal.Inc()
	rep.Chains, rep.Err = o.runChains(ctx, log)
	o.recordCycle(ctx, false, rep.StartedAt, log)
	if rep.Err != nil {
		log.Error("cycle aborted", logx.Err(rep.Err))
		return rep
	}
	ok = true

	var events, sent, failed int
	for _, c := range rep.Chains {
		events += c.Events
		sent += c.Dispatched
		if c.ScanErr != nil || c.DispatchErr != nil {
			failed++
		}
	}
	log.Debug("cycle done",
		logx.Int("chains", len(rep.Chains)),
		logx.Int("events", events),
		logx.Int("dispatched", sent),
		logx.Int("failed_chains", failed),
		logx.Duration("took", o.opts.Now().Sub(rep.StartedAt)),
	)
	return rep
}

func (o *Orchestrator) runChains(ctx context.Context, log logx.Logger) ([]ChainReport, error) {
	lctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	cfgs, err := o.store.ListEnabledChainConfigs(lctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list chain configs: %w", err)
	}

	reports := make([]ChainReport, len(cfgs))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallel)
	for i, cfg := range cfgs {
		g.Go(func() error {
			reports[i] = o.runChain(ctx, cfg, log.With(logx.String("chain", cfg.ID)))
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

// runChain scans one chain, dispatches its events and advances its
// checkpoint. Failures stay inside the returned report.
func (o *Orchestrator) runChain(ctx context.Context, cfg chain.Config, log logx.Logger) (rep ChainReport) {
	rep = ChainReport{Chain: cfg.ID, Idle: len(cfg.Targets) == 0, Prev: cfg.Checkpoint, Checkpoint: cfg.Checkpoint}
	delta := storage.ChainDelta{}
	defer func() {
		if r := recover(); r != nil {
			rep.ScanErr = fmt.Errorf("chain %s: panic: %v", cfg.ID, r)
			log.Error("chain panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			delta = storage.ChainDelta{ScanFailed: true, Err: rep.ScanErr.Error()}
		}
		delta.At = o.opts.Now()
		o.recordChain(ctx, cfg.ID, delta, log)
	}()

	entry, ok := o.scanners.Get(cfg.ID)
	if !ok {
		rep.ScanErr = fmt.Errorf("chain %s: no scanner registered", cfg.ID)
		delta = storage.ChainDelta{ScanFailed: true, Err: rep.ScanErr.Error()}
		log.Warn("chain has no scanner")
		return rep
	}

	start := time.Now()
	res, err := chain.Guard(entry.Scanner, o.opts.ScanTimeout).Scan(ctx, cfg)
	metrics.ScanDuration.WithLabelValues(cfg.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		rep.ScanErr = err
		delta = storage.ChainDelta{ScanFailed: true, Err: err.Error()}
		outcome := "error"
		if errors.Is(err, chain.ErrScanTimeout) {
			outcome = "timeout"
		}
		metrics.ScansTotal.WithLabelValues(cfg.ID, outcome).Inc()
		log.Warn("scan failed; retrying next cycle", logx.Err(err))
		return rep
	}
	metrics.ScansTotal.WithLabelValues(cfg.ID, "ok").Inc()
	delta.ScanOK = true

	// An unwatched chain is still scanned so its checkpoint follows the
	// head; whatever it returns has no audience.
	if rep.Idle {
		res.Events = nil
		res.Gap = nil
	}

	if res.Gap != nil {
		rep.Gap = res.Gap
		delta.Gaps = 1
		metrics.GapWarnings.WithLabelValues(cfg.ID).Inc()
		log.Warn("scan gap: resuming at earliest reachable position",
			logx.Uint64("from", res.Gap.From),
			logx.Uint64("resume_from", res.Gap.ResumeFrom),
			logx.String("reason", res.Gap.Reason),
		)
	}

	events := inWindow(res.Events, cfg.Checkpoint, res.Checkpoint)
	if dropped := len(res.Events) - len(events); dropped > 0 {
		log.Warn("scanner returned events outside its window", logx.Int("dropped", dropped))
	}
	chain.SortEvents(events)
	rep.Events = len(events)

	delivered := len(events)
	if len(events) > 0 {
		delivered, err = o.disp.Dispatch(ctx, events)
		if delivered > len(events) {
			delivered = len(events)
		}
		rep.Dispatched = delivered
		delta.Dispatched = delivered
		metrics.EventsDispatched.WithLabelValues(cfg.ID).Add(float64(delivered))
		if err != nil {
			rep.DispatchErr = err
			delta.DispatchFailures = 1
			delta.Err = err.Error()
			kind := "transient"
			if transport.IsPermanent(err) {
				kind = "permanent"
			}
			metrics.DispatchFailures.WithLabelValues(cfg.ID, kind).Inc()
			log.Warn("dispatch stopped; undelivered events retry next cycle",
				logx.Int("delivered", delivered),
				logx.Int("events", len(events)),
				logx.String("kind", kind),
				logx.Err(err),
			)
		}
	}

	next := NextCheckpoint(cfg.Checkpoint, res, events, delivered)
	if next > cfg.Checkpoint {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
		err := o.store.UpdateCheckpoint(uctx, cfg.ID, next)
		cancel()
		if err != nil {
			log.Error("checkpoint update failed", logx.Uint64("checkpoint", next), logx.Err(err))
			if delta.Err == "" {
				delta.Err = err.Error()
			}
			return rep
		}
		rep.Checkpoint = next
	}
	metrics.Checkpoint.WithLabelValues(cfg.ID).Set(float64(rep.Checkpoint))
	return rep
}

// NextCheckpoint is how far a chain may advance after delivering the first
// delivered of events. It never goes below prev, never past the scan's
// checkpoint, and never past a position holding an undelivered event. A gap
// lifts the floor to just before the resume point unless an undelivered
// event lies below it.
func NextCheckpoint(prev uint64, res chain.Result, events []chain.Event, delivered int) uint64 {
	floor := prev
	if res.Gap != nil && res.Gap.ResumeFrom > 0 && res.Gap.ResumeFrom-1 > floor {
		floor = res.Gap.ResumeFrom - 1
	}
	next := res.Checkpoint
	if delivered < len(events) {
		if pos := events[delivered].Position; pos > 0 {
			next = pos - 1
		} else {
			next = 0
		}
		// an undelivered event below the resume point still holds the line
		if next < floor {
			floor = next
		}
	}
	if next < floor {
		next = floor
	}
	if next < prev {
		next = prev
	}
	return next
}

// inWindow keeps events in (prev, checkpoint]; a first scan (prev 0) only
// bounds from above.
func inWindow(events []chain.Event, prev, checkpoint uint64) []chain.Event {
	out := make([]chain.Event, 0, len(events))
	for _, ev := range events {
		if ev.Position <= prev || ev.Position > checkpoint {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (o *Orchestrator) recordCycle(ctx context.Context, skipped bool, at time.Time, log logx.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
	defer cancel()
	if err := o.store.RecordCycle(sctx, skipped, at); err != nil {
		log.Warn("record cycle stats failed", logx.Err(err))
	}
}

func (o *Orchestrator) recordChain(ctx context.Context, id string, d storage.ChainDelta, log logx.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
	defer cancel()
	if err := o.store.RecordChain(sctx, id, d); err != nil {
		log.Warn("record chain stats failed", logx.Err(err))
	}
}

// Start runs RunCycle on every trigger tick until Stop or ctx is done.
func (o *Orchestrator) Start(ctx context.Context, trigger *Trigger) error {
	o.mu.Lock()
	if o.trigger != nil {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.trigger, o.runCtx, o.cancel = trigger, runCtx, cancel
	o.mu.Unlock()

	return trigger.Start(func() { o.RunCycle(runCtx) })
}

// Stop stops the trigger, cancels an in-flight cycle and waits for it up to
// ctx's deadline.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	t, cancel := o.trigger, o.cancel
	o.trigger, o.cancel = nil, nil
	o.mu.Unlock()
	if t == nil {
		return
	}
	cancel()
	t.Stop(ctx)
}
