// Package commands routes inbound bot commands to their handlers. The same
// router serves both transport modes; it only ever sees transport.Update.
package commands

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"buyxanbot/internal/runtime/supervisor"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Message transport.Message
	Chat    transport.ChatTarget
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger
	Sender  transport.Sender
}

// Reply sends an HTML reply to the request's chat.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, html, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Router struct {
	sender transport.Sender
	log    logx.Logger

	mu    sync.RWMutex
	cmds  map[string]Command
	order []Command

	workers int
	jobs    chan func()

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func NewRouter(sender transport.Sender, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		sender:  sender,
		log:     log.With(logx.String("comp", "commands")),
		cmds:    map[string]Command{},
		workers: 4,
		jobs:    make(chan func(), 256),
	}
}

// SetRegistry replaces the routed commands.
func (r *Router) SetRegistry(cmds []Command) {
	m := map[string]Command{}
	order := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		m[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := m[a]; !taken {
				m[a] = c
			}
		}
		order = append(order, c)
	}
	r.mu.Lock()
	r.cmds, r.order = m, order
	r.mu.Unlock()
}

// Visible returns the non-hidden commands in registration order.
func (r *Router) Visible() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, c := range r.order {
		if !c.Hidden {
			out = append(out, c)
		}
	}
	return out
}

// MenuCommands is the platform command menu for the visible commands.
func (r *Router) MenuCommands() []transport.BotCommand {
	vis := r.Visible()
	out := make([]transport.BotCommand, 0, len(vis))
	for _, c := range vis {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// PublishMenu pushes MenuCommands to the platform when the sender supports it.
func (r *Router) PublishMenu(ctx context.Context) {
	up, ok := r.sender.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, r.MenuCommands()); err != nil {
		r.log.Warn("command menu update failed", logx.Err(err))
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	jobs := r.jobs
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Debug("command workers stopped with error", logx.Err(err))
		}
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

// Snapshot exposes worker stats, zero when not running.
func (r *Router) Snapshot() supervisor.Snapshot {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.sup == nil {
		return supervisor.Snapshot{}
	}
	return r.sup.Snapshot()
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	if up.Message == nil {
		return
	}
	msg := *up.Message
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()
	if !found {
		r.enqueue(func() {
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			_, _ = r.sender.SendText(sctx, chat, "Unknown command. Try /help", nil)
		})
		return
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Sender:  r.sender,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	if !r.enqueue(func() { _ = final(ctx, req) }) {
		r.log.Warn("command queue full; dropping", logx.String("cmd", cmd.Name))
	}
}

func (r *Router) enqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}
