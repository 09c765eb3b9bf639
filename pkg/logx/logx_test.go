package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nope", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "monitor"))
	log.Info("cycle done", Int("chains", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["comp"] != "monitor" || m["message"] != "cycle done" || m["chains"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("must not panic")
}

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()

	got := formatTelegramLine([]byte(`{"level":"error","time":"x","message":"scan failed","chain":"ETH","err":"boom"}` + "\n"))
	want := "[ERROR] scan failed\n- chain=ETH\n- err=boom"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if got := formatTelegramLine([]byte("plain text")); got != "plain text" {
		t.Fatalf("non-json line: %q", got)
	}
}

func TestTelegramSinkForwardsAboveMinLevel(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 50},
	})
	defer svc.Close()

	got := make(chan string, 4)
	svc.SetSender(func(ctx context.Context, chatID int64, text string) error {
		if chatID != -100 {
			t.Errorf("chat id %d", chatID)
		}
		got <- text
		return nil
	})

	log.Info("quiet")
	log.Warn("loud")

	select {
	case msg := <-got:
		if !strings.HasPrefix(msg, "[WARN] loud") {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("warn record was not forwarded")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
