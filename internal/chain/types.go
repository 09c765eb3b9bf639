// Package chain defines what a monitored chain looks like to the rest of the
// bot: its rule (Config), what a scan produces (Result, Event) and the
// Scanner contract each chain kind implements.
package chain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindEVM       Kind = "evm"
	KindSolana    Kind = "solana"
	KindSimulated Kind = "simulated"
)

// Config is one chain's monitoring rule as stored. Checkpoint is the last
// fully processed position (block height or slot); scans treat it as an
// exclusive lower bound. Zero means the chain was never scanned.
type Config struct {
	ID         string          `json:"id"`
	Enabled    bool            `json:"enabled"`
	MinAmount  decimal.Decimal `json:"min_amount"`
	Targets    []string        `json:"targets"`
	Checkpoint uint64          `json:"checkpoint"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Event is one qualifying transfer. (Chain, Ref) identifies it.
type Event struct {
	Chain    string `json:"chain"`
	Ref      string `json:"ref"`
	Position uint64 `json:"position"`
	TxHash   string `json:"tx_hash"`

	Token       string `json:"token"`
	TokenName   string `json:"token_name,omitempty"`
	TokenSymbol string `json:"token_symbol,omitempty"`

	From   string          `json:"from,omitempty"`
	Buyer  string          `json:"buyer,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	// NativeAmount is the native coin spent, when the source knows it.
	NativeAmount decimal.Decimal `json:"native_amount"`

	Timestamp time.Time `json:"timestamp"`
}

// Gap reports a range of positions that could not be scanned because the
// source no longer serves it. The scan resumed at ResumeFrom.
type Gap struct {
	From       uint64 `json:"from"`
	ResumeFrom uint64 `json:"resume_from"`
	Reason     string `json:"reason"`
}

// Result is what one scan of one chain produced. Events are sorted oldest
// first and all lie in (previous checkpoint, Checkpoint].
type Result struct {
	Chain      string  `json:"chain"`
	Events     []Event `json:"events"`
	Checkpoint uint64  `json:"checkpoint"`
	Gap        *Gap    `json:"gap,omitempty"`
}

// SortEvents orders events by (Position, Ref).
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Position != events[j].Position {
			return events[i].Position < events[j].Position
		}
		return events[i].Ref < events[j].Ref
	})
}
