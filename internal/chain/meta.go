package chain

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Meta is the display and linking data for a chain.
type Meta struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Explorer       string          `json:"explorer"`
	NativePriceUSD decimal.Decimal `json:"native_price_usd"`
	ChartSlug      string          `json:"chart_slug"`
}

var builtins = map[string]Meta{
	"ETH":    {ID: "ETH", Kind: KindEVM, Name: "Ethereum", Symbol: "ETH", Explorer: "https://etherscan.io", NativePriceUSD: decimal.NewFromInt(3500), ChartSlug: "eth"},
	"SOLANA": {ID: "SOLANA", Kind: KindSolana, Name: "Solana", Symbol: "SOL", Explorer: "https://solscan.io", NativePriceUSD: decimal.NewFromInt(150), ChartSlug: "solana"},
	"BNB":    {ID: "BNB", Kind: KindEVM, Name: "BNB Chain", Symbol: "BNB", Explorer: "https://bscscan.com", NativePriceUSD: decimal.NewFromInt(600), ChartSlug: "bsc"},
	"BASE":   {ID: "BASE", Kind: KindEVM, Name: "Base", Symbol: "ETH", Explorer: "https://basescan.org", NativePriceUSD: decimal.NewFromInt(3500), ChartSlug: "base"},
}

// Builtin returns the built-in metadata for a well-known chain id.
func Builtin(id string) (Meta, bool) {
	m, ok := builtins[strings.ToUpper(id)]
	return m, ok
}

// Merge overlays non-zero fields of o onto m.
func (m Meta) Merge(o Meta) Meta {
	if o.Kind != "" {
		m.Kind = o.Kind
	}
	if o.Name != "" {
		m.Name = o.Name
	}
	if o.Symbol != "" {
		m.Symbol = o.Symbol
	}
	if o.Explorer != "" {
		m.Explorer = strings.TrimRight(o.Explorer, "/")
	}
	if !o.NativePriceUSD.IsZero() {
		m.NativePriceUSD = o.NativePriceUSD
	}
	if o.ChartSlug != "" {
		m.ChartSlug = o.ChartSlug
	}
	return m
}

func (m Meta) TxURL(hash string) string {
	if m.Explorer == "" || hash == "" {
		return ""
	}
	return m.Explorer + "/tx/" + hash
}

func (m Meta) AddressURL(addr string) string {
	if m.Explorer == "" || addr == "" {
		return ""
	}
	if m.Kind == KindSolana {
		return m.Explorer + "/account/" + addr
	}
	return m.Explorer + "/address/" + addr
}

func (m Meta) ChartURL(token string) string {
	slug := m.ChartSlug
	if slug == "" {
		slug = strings.ToLower(m.ID)
	}
	return "https://www.geckoterminal.com/" + slug + "/pools/" + token
}

// TradeURL returns the swap page for the token, or "" when the chain has no
// known venue.
func (m Meta) TradeURL(token string) string {
	q := url.QueryEscape(token)
	switch m.ID {
	case "SOLANA":
		return "https://jup.ag/swap/SOL-" + token
	case "BNB":
		return "https://pancakeswap.finance/swap?outputCurrency=" + q
	case "ETH":
		return "https://app.uniswap.org/swap?chain=ethereum&outputCurrency=" + q
	case "BASE":
		return "https://app.uniswap.org/swap?chain=base&outputCurrency=" + q
	default:
		return ""
	}
}
