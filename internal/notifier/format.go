package notifier

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/tgui"
)

const maxEmojis = 20

var hundred = decimal.NewFromInt(100)

// Alert is a rendered buy alert.
type Alert struct {
	Text    string
	Buttons []transport.Button
}

// USDValue is the native amount priced at the chain's configured native price.
func USDValue(meta chain.Meta, ev chain.Event) decimal.Decimal {
	return ev.NativeAmount.Mul(meta.NativePriceUSD)
}

// EmojiCount is one emoji per $100, clamped to 1..20.
func EmojiCount(usd decimal.Decimal) int {
	n := usd.Div(hundred).IntPart()
	switch {
	case n < 1:
		return 1
	case n > maxEmojis:
		return maxEmojis
	default:
		return int(n)
	}
}

// Format renders the HTML alert for one event and one subscriber emoji.
func Format(meta chain.Meta, ev chain.Event, emoji, communityURL string) Alert {
	if emoji == "" {
		emoji = "🟢"
	}
	name := ev.TokenName
	if name == "" {
		name = tgui.ShortAddr(ev.Token)
	}
	symbol := ev.TokenSymbol
	if symbol == "" {
		symbol = "TOKEN"
	}
	usd := USDValue(meta, ev)

	header := tgui.JoinH(" ", tgui.B(name), tgui.Esc("("+symbol+") Buy!"))
	emojis := tgui.Esc(strings.Repeat(emoji, EmojiCount(usd)))

	var spent tgui.H
	if ev.NativeAmount.IsPositive() {
		f, _ := usd.Float64()
		spent = tgui.Esc("💵 " + ev.NativeAmount.StringFixed(3) + " " + meta.Symbol + " ($" + humanize.FormatFloat("#,###.##", f) + ")")
	}
	var got tgui.H
	if ev.Amount.IsPositive() {
		f, _ := ev.Amount.Float64()
		got = tgui.Esc("🪙 " + humanize.FormatFloat("#,###.", f) + " " + symbol)
	}

	var who tgui.H
	if ev.Buyer != "" {
		who = tgui.Raw("🔷 " + linkOrText(tgui.ShortAddr(ev.Buyer), meta.AddressURL(ev.Buyer)).String() + " | ")
	}
	who = tgui.Raw(who.String() + "Txn " + linkOrText("🔗", meta.TxURL(ev.TxHash)).String())

	chartURL := meta.ChartURL(ev.Token)
	tradeURL := meta.TradeURL(ev.Token)
	var links []tgui.H
	links = append(links, tgui.Raw("📊 "+tgui.Link("Chart", chartURL).String()))
	if tradeURL != "" {
		links = append(links, tgui.Raw("🦄 "+tgui.Link("Trade", tradeURL).String()))
	}
	if communityURL != "" {
		links = append(links, tgui.Raw("🔹 "+tgui.Link("Join Community", communityURL).String()))
	}

	body := tgui.JoinH("\n", spent, got, who)
	text := tgui.JoinH("\n\n", header, emojis, body, tgui.JoinH("\n", links...))

	buttons := []transport.Button{{Text: "📊 Chart", URL: chartURL}}
	if tradeURL != "" {
		buttons = append(buttons, transport.Button{Text: "🦄 Buy", URL: tradeURL})
	}
	return Alert{Text: text.String(), Buttons: buttons}
}

func linkOrText(text, url string) tgui.H {
	if url == "" {
		return tgui.Esc(text)
	}
	return tgui.Link(text, url)
}
