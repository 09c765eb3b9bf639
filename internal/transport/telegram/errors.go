package telegram

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"buyxanbot/internal/transport"
)

var retryAfterRx = regexp.MustCompile(`retry after (\d+)`)

// destination-level failures; retrying the same chat cannot succeed
var permanentHints = []string{
	"chat not found",
	"bot was blocked",
	"bot was kicked",
	"user is deactivated",
	"bot is not a member",
	"have no rights to send",
	"not enough rights",
	"chat_write_forbidden",
	"peer_id_invalid",
}

// classify maps a telebot error onto the transport taxonomy: 400/403 and
// destination errors are permanent; flood control, 5xx and network failures
// are transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transport.Transient(err, 0)
	}

	msg := strings.ToLower(err.Error())
	if m := retryAfterRx.FindStringSubmatch(msg); m != nil {
		secs, _ := strconv.Atoi(m[1])
		return transport.Transient(err, time.Duration(secs)*time.Second)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 429:
			return transport.Transient(err, 0)
		case te.Code == 400 || te.Code == 403:
			return transport.Permanent(err)
		}
	}
	for _, h := range permanentHints {
		if strings.Contains(msg, h) {
			return transport.Permanent(err)
		}
	}
	return transport.Transient(err, 0)
}
