package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// URLBtn creates a URL button.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

// Grid2 splits buttons into 2 columns and returns a ready ReplyMarkup.
// It returns nil when there are no buttons.
func Grid2(buttons []tele.Btn) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rows := rm.Split(2, buttons)
	rm.Inline(rows...)
	return rm
}
