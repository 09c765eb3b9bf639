package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/monitor"
	"buyxanbot/internal/storage"
	"buyxanbot/pkg/logx"
	"buyxanbot/pkg/tgui"
)

// Store is the subset of the storage layer the commands touch.
type Store interface {
	UpsertChat(ctx context.Context, chatID int64, title string) error
	AddWatchedToken(ctx context.Context, chatID int64, chainID, address string) (bool, error)
	RemoveWatchedToken(ctx context.Context, chatID int64, chainID, address string) (bool, error)
	ListChatTokens(ctx context.Context, chatID int64) ([]storage.WatchedToken, error)
	SetChatEmoji(ctx context.Context, chatID int64, emoji string) error
	SetChatGIF(ctx context.Context, chatID int64, url string) error
	GetChat(ctx context.Context, chatID int64) (storage.Chat, error)
	GetStats(ctx context.Context) (storage.Stats, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Chains interface {
	Meta(id string) (chain.Meta, bool)
	IDs() []string
}

type CycleStater interface {
	State() monitor.CycleState
}

type Deps struct {
	Store  Store
	Chains Chains
	// Cycle is nil when the orchestrator is not running.
	Cycle CycleStater
	// Owners restricts configuring commands when non-empty.
	Owners []int64
	Now    func() time.Time
}

const maxEmojiRunes = 8

var validate = validator.New()

// Builtins returns the bot's command set.
func Builtins(d Deps) []Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{d: d}
	return []Command{
		{Name: "start", Description: "Start the bot", Handle: h.start},
		{Name: "help", Aliases: []string{"h"}, Description: "Show commands", Handle: h.help},
		{Name: "addtoken", Description: "Watch a token for buys", Usage: "/addtoken CHAIN ADDRESS", Handle: h.addToken},
		{Name: "removetoken", Description: "Stop watching a token", Usage: "/removetoken CHAIN ADDRESS", Handle: h.removeToken},
		{Name: "listtokens", Description: "List watched tokens", Handle: h.listTokens},
		{Name: "setgif", Description: "Set the alert GIF", Usage: "/setgif URL | /setgif off", Handle: h.setGIF},
		{Name: "setemoji", Description: "Set the alert emoji", Usage: "/setemoji EMOJI", Handle: h.setEmoji},
		{Name: "status", Description: "Monitoring status", Timeout: 10 * time.Second, Handle: h.status},
	}
}

type handlers struct {
	d Deps
}

func (h *handlers) start(ctx context.Context, req *Request) error {
	if err := h.d.Store.UpsertChat(ctx, req.Chat.ChatID, ""); err != nil {
		return err
	}
	msg := tgui.JoinH("\n",
		tgui.B("Buy alerts are ready."),
		tgui.Esc("Add a token with ")+tgui.Code("/addtoken CHAIN ADDRESS")+tgui.Esc("."),
		tgui.Esc("Supported chains: "+strings.Join(h.d.Chains.IDs(), ", ")),
		tgui.Esc("See /help for everything else."),
	)
	return req.Reply(ctx, msg.String())
}

func (h *handlers) help(ctx context.Context, req *Request) error {
	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range Builtins(h.d) {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		lines = append(lines, tgui.Code(usage)+tgui.Esc(" - "+c.Description))
	}
	return req.Reply(ctx, tgui.JoinH("\n", lines...).String())
}

func (h *handlers) addToken(ctx context.Context, req *Request) error {
	meta, addr, err := h.tokenArgs(req, "/addtoken CHAIN ADDRESS")
	if err != nil {
		return h.replyErr(ctx, req, err)
	}
	if ok, err := h.configure(ctx, req); !ok || err != nil {
		return err
	}
	added, err := h.d.Store.AddWatchedToken(ctx, req.Chat.ChatID, meta.ID, addr)
	h.audit(ctx, req, "addtoken", meta.ID+":"+addr, err, map[string]any{"added": added})
	if err != nil {
		return err
	}
	if !added {
		return req.Reply(ctx, (tgui.Esc("Already watching ") + tgui.Code(addr) + tgui.Esc(" on "+meta.Name+".")).String())
	}
	return req.Reply(ctx, (tgui.Esc("✅ Watching ") + tgui.Code(addr) + tgui.Esc(" on "+meta.Name+".")).String())
}

func (h *handlers) removeToken(ctx context.Context, req *Request) error {
	meta, addr, err := h.tokenArgs(req, "/removetoken CHAIN ADDRESS")
	if err != nil {
		return h.replyErr(ctx, req, err)
	}
	if ok, err := h.configure(ctx, req); !ok || err != nil {
		return err
	}
	removed, err := h.d.Store.RemoveWatchedToken(ctx, req.Chat.ChatID, meta.ID, addr)
	h.audit(ctx, req, "removetoken", meta.ID+":"+addr, err, map[string]any{"removed": removed})
	if err != nil {
		return err
	}
	if !removed {
		return req.Reply(ctx, (tgui.Code(addr) + tgui.Esc(" was not watched on "+meta.Name+".")).String())
	}
	return req.Reply(ctx, (tgui.Esc("Removed ") + tgui.Code(addr) + tgui.Esc(" on "+meta.Name+".")).String())
}

func (h *handlers) listTokens(ctx context.Context, req *Request) error {
	toks, err := h.d.Store.ListChatTokens(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return req.Reply(ctx, "No tokens watched yet. Use /addtoken CHAIN ADDRESS")
	}
	lines := []tgui.H{tgui.B(fmt.Sprintf("Watched tokens (%d)", len(toks)))}
	for _, t := range toks {
		line := tgui.Esc(t.ChainID+" ") + tgui.Code(t.Address)
		if meta, ok := h.d.Chains.Meta(t.ChainID); ok {
			if u := meta.AddressURL(t.Address); u != "" {
				line += tgui.Esc(" ") + tgui.Link("🔗", u)
			}
		}
		lines = append(lines, line)
	}
	return req.Reply(ctx, tgui.JoinH("\n", lines...).String())
}

func (h *handlers) setGIF(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return h.replyErr(ctx, req, usageErr("/setgif URL | /setgif off"))
	}
	u := strings.TrimSpace(req.Args[0])
	if strings.EqualFold(u, "off") {
		u = ""
	} else if err := validate.Var(u, "required,http_url"); err != nil {
		return h.replyErr(ctx, req, errors.New("that does not look like an http(s) URL"))
	}
	if ok, err := h.configure(ctx, req); !ok || err != nil {
		return err
	}
	err := h.d.Store.SetChatGIF(ctx, req.Chat.ChatID, u)
	h.audit(ctx, req, "setgif", u, err, nil)
	if err != nil {
		return err
	}
	if u == "" {
		return req.Reply(ctx, "GIF cleared.")
	}
	return req.Reply(ctx, "GIF set.")
}

func (h *handlers) setEmoji(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return h.replyErr(ctx, req, usageErr("/setemoji EMOJI"))
	}
	e := strings.TrimSpace(req.Args[0])
	if n := utf8.RuneCountInString(e); n == 0 || n > maxEmojiRunes {
		return h.replyErr(ctx, req, fmt.Errorf("emoji must be 1 to %d characters", maxEmojiRunes))
	}
	if ok, err := h.configure(ctx, req); !ok || err != nil {
		return err
	}
	err := h.d.Store.SetChatEmoji(ctx, req.Chat.ChatID, e)
	h.audit(ctx, req, "setemoji", e, err, nil)
	if err != nil {
		return err
	}
	return req.Reply(ctx, tgui.Esc("Emoji set to "+e).String())
}

func (h *handlers) status(ctx context.Context, req *Request) error {
	lines := []tgui.H{tgui.B("Status")}
	if h.d.Cycle == nil {
		lines = append(lines, tgui.Esc("Monitoring: stopped"))
	} else {
		st := h.d.Cycle.State()
		lines = append(lines,
			tgui.Esc("Monitoring: running"),
			tgui.Esc("Cycle in progress: "+yesNo(st.InProgress)),
			tgui.Esc("Last cycle: "+ago(h.d.Now(), st.LastCycleAt)),
			tgui.Esc("Last success: "+ago(h.d.Now(), st.LastSuccessAt)),
		)
	}
	stats, err := h.d.Store.GetStats(ctx)
	if err != nil {
		return err
	}
	lines = append(lines,
		tgui.Esc(fmt.Sprintf("Cycles: %d run, %d skipped", stats.CyclesRun, stats.CyclesSkipped)),
		tgui.Esc(fmt.Sprintf("Alerts: %d sent, %d failed", stats.EventsDispatched, stats.DispatchFailures)),
	)
	for _, c := range stats.Chains {
		line := fmt.Sprintf("%s: %d ok, %d failed", c.ChainID, c.ScansOK, c.ScanFailures)
		if c.LastError != "" {
			line += " (" + tgui.TruncRunes(c.LastError, 60) + ")"
		}
		lines = append(lines, tgui.Esc(line))
	}
	return req.Reply(ctx, tgui.JoinH("\n", lines...).String())
}

type usageErr string

func (u usageErr) Error() string { return "usage: " + string(u) }

func (h *handlers) tokenArgs(req *Request, usage string) (chain.Meta, string, error) {
	if len(req.Args) != 2 {
		return chain.Meta{}, "", usageErr(usage)
	}
	meta, ok := h.d.Chains.Meta(strings.ToUpper(req.Args[0]))
	if !ok {
		return chain.Meta{}, "", fmt.Errorf("unknown chain %q, supported: %s", req.Args[0], strings.Join(h.d.Chains.IDs(), ", "))
	}
	addr, err := chain.NormalizeAddress(meta.Kind, req.Args[1])
	if err != nil {
		return chain.Meta{}, "", err
	}
	return meta, addr, nil
}

var errNotOwner = errors.New("only the bot owners can change alert settings")

// configure authorizes the caller and (re)activates the chat; a configuring
// command is what clears a disabled chat. ok is false when the caller was
// refused and already answered.
func (h *handlers) configure(ctx context.Context, req *Request) (ok bool, err error) {
	if len(h.d.Owners) > 0 && !slices.Contains(h.d.Owners, req.Message.FromID) {
		return false, h.replyErr(ctx, req, errNotOwner)
	}
	return true, h.d.Store.UpsertChat(ctx, req.Chat.ChatID, "")
}

// replyErr answers a user mistake. Only a failed reply is an error.
func (h *handlers) replyErr(ctx context.Context, req *Request, err error) error {
	return req.Reply(ctx, tgui.Esc("❌ "+err.Error()).String())
}

func (h *handlers) audit(ctx context.Context, req *Request, action, target string, err error, meta map[string]any) {
	e := storage.AuditEntry{
		At:            h.d.Now(),
		ActorID:       req.Message.FromID,
		ActorUsername: req.Message.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        target,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, jerr := json.Marshal(meta); jerr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aerr := h.d.Store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Round(time.Second).String() + " ago"
}
