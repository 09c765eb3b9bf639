package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"buyxanbot/pkg/logx"
)

// backoffPoller is a getUpdates long-poller that backs off exponentially on
// failure instead of spinning. The offset is the acknowledgement cursor: it
// survives restarts of the bot loop because the poller outlives them.
type backoffPoller struct {
	timeout    time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	log        logx.Logger

	lastUpdateID int
	failures     int
}

type getUpdatesResponse struct {
	OK          bool          `json:"ok"`
	Result      []tele.Update `json:"result"`
	Description string        `json:"description"`
}

func (p *backoffPoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	backoff := p.backoffMin
	for {
		select {
		case <-stop:
			return
		default:
		}

		updates, err := p.fetch(b)
		if err != nil {
			p.failures++
			p.log.Warn("getUpdates failed", logx.Err(err), logx.Int("failures", p.failures), logx.Duration("backoff", backoff))
			select {
			case <-stop:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.backoffMax)
			continue
		}
		if p.failures > 0 {
			p.log.Info("getUpdates recovered", logx.Int("failures", p.failures))
		}
		p.failures = 0
		backoff = p.backoffMin

		for _, u := range updates {
			p.lastUpdateID = u.ID
			select {
			case dest <- u:
			case <-stop:
				return
			}
		}
	}
}

func (p *backoffPoller) fetch(b *tele.Bot) ([]tele.Update, error) {
	params := map[string]string{
		"offset":          strconv.Itoa(p.lastUpdateID + 1),
		"timeout":         strconv.Itoa(int(p.timeout / time.Second)),
		"allowed_updates": `["message"]`,
	}
	data, err := b.Raw("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var resp getUpdatesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("getUpdates: %s", resp.Description)
	}
	return resp.Result, nil
}
