package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"buyxanbot/pkg/logx"
)

// Trigger fires a callback on a cron schedule. Each tick runs on its own
// goroutine; overlap is the callback's concern.
type Trigger struct {
	mu   sync.Mutex
	c    *cron.Cron
	spec string
	loc  *time.Location
	id   cron.EntryID
	log  logx.Logger
}

func NewTrigger(schedule, timezone string, log logx.Logger) (*Trigger, error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{spec: spec, loc: loc, log: log}, nil
}

func (t *Trigger) Spec() string { return t.spec }

// Start registers fn and starts ticking. Calling Start twice is a no-op.
func (t *Trigger) Start(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return nil
	}
	cl := cronLogger{log: t.log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	id, err := c.AddFunc(t.spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", t.spec, err)
	}
	c.Start()
	t.c, t.id = c, id
	t.log.Info("trigger started", logx.String("spec", t.spec), logx.String("tz", t.loc.String()))
	return nil
}

// Stop stops ticking and waits for running callbacks until ctx is done.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		t.log.Warn("trigger stop timed out; a cycle is still running")
	}
}

// Next is the next scheduled tick, zero when stopped.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.id).Next
}

// cronLogger routes robfig/cron's logr-style logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
