package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("storage: not found")

// DefaultEmoji is the emoji a chat gets until it picks one.
const DefaultEmoji = "🟢"

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	// AuditKeep bounds the audit table; 0 keeps everything.
	AuditKeep int
}

// ChainSeed is the configured rule for a chain, applied on every start.
// It never touches the stored checkpoint.
type ChainSeed struct {
	ID        string
	Enabled   bool
	MinAmount decimal.Decimal
}

type Chat struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title,omitempty"`
	Emoji          string         `json:"emoji"`
	GIFURL         string         `json:"gif_url,omitempty"`
	Disabled       bool           `json:"disabled"`
	DisabledReason string         `json:"disabled_reason,omitempty"`
	DisabledAt     time.Time      `json:"disabled_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Tokens         []WatchedToken `json:"tokens"`
}

type WatchedToken struct {
	ChatID  int64     `json:"chat_id"`
	ChainID string    `json:"chain_id"`
	Address string    `json:"address"`
	AddedAt time.Time `json:"added_at"`
}

// Subscriber is an active chat watching a given (chain, token).
type Subscriber struct {
	ChatID int64
	Emoji  string
	GIFURL string
}

type ChainStats struct {
	ChainID          string    `json:"chain_id"`
	ScansOK          int64     `json:"scans_ok"`
	ScanFailures     int64     `json:"scan_failures"`
	EventsDispatched int64     `json:"events_dispatched"`
	DispatchFailures int64     `json:"dispatch_failures"`
	GapWarnings      int64     `json:"gap_warnings"`
	LastScanAt       time.Time `json:"last_scan_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// Stats is the aggregate view. Totals are sums over Chains.
type Stats struct {
	CyclesRun        int64        `json:"cycles_run"`
	CyclesSkipped    int64        `json:"cycles_skipped"`
	LastCycleAt      time.Time    `json:"last_cycle_at,omitempty"`
	ScansOK          int64        `json:"scans_ok"`
	ScanFailures     int64        `json:"scan_failures"`
	EventsDispatched int64        `json:"events_dispatched"`
	DispatchFailures int64        `json:"dispatch_failures"`
	GapWarnings      int64        `json:"gap_warnings"`
	Chains           []ChainStats `json:"chains"`
}

// ChainDelta is what one cycle contributes to a chain's counters.
type ChainDelta struct {
	ScanOK           bool
	ScanFailed       bool
	Dispatched       int
	DispatchFailures int
	Gaps             int
	// Err replaces last_error when set; a clean scan clears it.
	Err string
	At  time.Time
}

// AuditEntry records one configuring action.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Action        string
	Target        string
	Error         string
	MetaJSON      string
}
