// Package httpapi serves the process's HTTP surface: liveness/status, the
// read-only admin views, the Telegram webhook endpoint and /metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/metrics"
	"buyxanbot/internal/monitor"
	"buyxanbot/internal/notifier"
	"buyxanbot/internal/runtime/supervisor"
	"buyxanbot/internal/storage"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

const Version = "1.0.0"

type Store interface {
	ListChainConfigs(ctx context.Context) ([]chain.Config, error)
	ListChats(ctx context.Context) ([]storage.Chat, error)
	GetStats(ctx context.Context) (storage.Stats, error)
}

type CycleStater interface {
	State() monitor.CycleState
}

type DeliveryLog interface {
	Recent() []notifier.HistoryItem
}

// Snapshotter is anything that reports supervised goroutine stats.
type Snapshotter interface {
	Snapshot() supervisor.Snapshot
}

type Options struct {
	BotEnabled bool
	Mode       transport.Mode
	// Cycle is nil when monitoring is not running.
	Cycle CycleStater
	// Deliveries is nil when monitoring is not running.
	Deliveries DeliveryLog
	// Runtime is listed by /api/admin/runtime, keyed by component.
	Runtime map[string]Snapshotter
	// Pprof mounts the runtime profiler under /api/admin/debug.
	Pprof bool
	// Webhook is mounted only in webhook mode.
	Webhook        http.Handler
	AdminJWTSecret string
	RequestTimeout time.Duration
	Now            func() time.Time
}

type api struct {
	store Store
	opts  Options
	log   logx.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(store Store, opts Options, log logx.Logger) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &api{store: store, opts: opts, log: log.With(logx.String("comp", "http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.accessLog)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Get("/api/status", a.status)

		r.Route("/api/admin", func(r chi.Router) {
			if opts.AdminJWTSecret != "" {
				r.Use(requireJWT([]byte(opts.AdminJWTSecret)))
			}
			r.Get("/configs", a.configs)
			r.Get("/chats", a.chats)
			r.Get("/stats", a.stats)
			r.Get("/deliveries", a.deliveries)
			r.Get("/runtime", a.runtime)
			if opts.Pprof {
				r.Mount("/debug", middleware.Profiler())
			}
		})
	})

	if opts.Webhook != nil {
		r.Post("/api/telegram/webhook", countWebhook(opts.Webhook).ServeHTTP)
	}
	return r
}

type botStatus struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"`
}

type statusResponse struct {
	Status          string     `json:"status"`
	Timestamp       time.Time  `json:"timestamp"`
	Version         string     `json:"version"`
	Bot             botStatus  `json:"bot"`
	LastCycleAt     *time.Time `json:"last_cycle_at"`
	LastSuccessAt   *time.Time `json:"last_success_at"`
	CycleInProgress bool       `json:"cycle_in_progress"`
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:    "running",
		Timestamp: a.opts.Now().UTC(),
		Version:   Version,
		Bot:       botStatus{Enabled: a.opts.BotEnabled},
	}
	if a.opts.BotEnabled {
		resp.Bot.Mode = a.opts.Mode.String()
	}
	if a.opts.Cycle != nil {
		st := a.opts.Cycle.State()
		resp.LastCycleAt = timePtr(st.LastCycleAt)
		resp.LastSuccessAt = timePtr(st.LastSuccessAt)
		resp.CycleInProgress = st.InProgress
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) configs(w http.ResponseWriter, r *http.Request) {
	cfgs, err := a.store.ListChainConfigs(r.Context())
	if err != nil {
		a.fail(w, "list chain configs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": cfgs})
}

func (a *api) chats(w http.ResponseWriter, r *http.Request) {
	chats, err := a.store.ListChats(r.Context())
	if err != nil {
		a.fail(w, "list chats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.GetStats(r.Context())
	if err != nil {
		a.fail(w, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) deliveries(w http.ResponseWriter, _ *http.Request) {
	items := []notifier.HistoryItem{}
	if a.opts.Deliveries != nil {
		items = a.opts.Deliveries.Recent()
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})
}

func (a *api) runtime(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]supervisor.Snapshot, len(a.opts.Runtime))
	for name, s := range a.opts.Runtime {
		out[name] = s.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) fail(w http.ResponseWriter, what string, err error) {
	a.log.Error(what+" failed", logx.Err(err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": what + " failed"})
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

// countWebhook labels each webhook request by how the adapter answered it.
func countWebhook(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)
		metrics.WebhookUpdates.WithLabelValues(webhookResult(ww.Status())).Inc()
	})
}

func webhookResult(status int) string {
	switch status {
	case http.StatusOK, 0:
		return "accepted"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusTooManyRequests:
		return "busy"
	default:
		return "unavailable"
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
