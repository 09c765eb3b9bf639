package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const telegramSendTimeout = 10 * time.Second

type telegramItem struct {
	chatID int64
	msg    string
}

func (s *Service) telegramWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.tgQueue:
			fn := s.send()
			if fn == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, telegramSendTimeout)
			_ = fn(sctx, it.chatID, it.msg)
			cancel()
		}
	}
}

// enqueue never blocks core logging.
func (s *Service) enqueue(it telegramItem) {
	select {
	case s.tgQueue <- it:
	default:
		s.tgDrops.Add(1)
	}
}

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	chatID := s.chatID
	lim := s.limiter
	minLvl := s.minLevel
	s.mu.Unlock()

	if chatID == 0 || lim == nil || s.send() == nil {
		return len(p), nil
	}
	if level < minLvl || !lim.Allow() {
		return len(p), nil
	}
	if msg := formatTelegramLine(p); msg != "" {
		s.enqueue(telegramItem{chatID: chatID, msg: msg})
	}
	return len(p), nil
}

// formatTelegramLine turns a zerolog JSON line into a compact plain-text
// message: "[LEVEL] message" followed by one "- key=value" line per field,
// keys sorted.
func formatTelegramLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
