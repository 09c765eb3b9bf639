package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	tele "gopkg.in/telebot.v4"

	"buyxanbot/pkg/logx"
)

const (
	secretHeader       = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBodySize = 1 << 20
)

// WebhookHandler accepts pushed updates. It answers as soon as the update is
// queued; processing happens on the adapter's own goroutine. A full queue is
// answered with 429 so the platform redelivers later.
func (a *Adapter) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := a.cfg.WebhookSecret; secret != "" {
			got := r.Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid secret token"})
				return
			}
		}

		var u tele.Update
		if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBodySize)).Decode(&u); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid update"})
			return
		}

		a.runMu.Lock()
		queue := a.queue
		a.runMu.Unlock()
		if queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "bot not running"})
			return
		}

		select {
		case queue <- u:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		default:
			a.log.Warn("webhook queue full", logx.Int("update_id", u.ID))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "error": "busy"})
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
