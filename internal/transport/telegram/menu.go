package telegram

import (
	"context"
	"hash/fnv"

	tele "gopkg.in/telebot.v4"

	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

// UpdateMenuCommands publishes the command menu (setMyCommands). It only
// calls the API when the list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" || len(list) >= maxMenuCommands {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > maxMenuDescription {
			d = d[:maxMenuDescription]
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.cfg.Offline {
		if err := a.bot.SetCommands(list); err != nil {
			return classify(err)
		}
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
