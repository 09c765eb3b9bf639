package notifier

import (
	"context"
	"time"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/storage"
)

type Config struct {
	SendTimeout     time.Duration
	RatePerSec      float64
	Burst           int
	DedupWindow     time.Duration
	DedupMaxEntries int
	CommunityURL    string
	// MaxPause caps how long a retry-after hint may hold sends.
	MaxPause time.Duration
}

// Store is the slice of the Config & Stats Store the dispatcher touches.
type Store interface {
	Subscribers(ctx context.Context, chainID, address string) ([]storage.Subscriber, error)
	DisableChat(ctx context.Context, chatID int64, reason string) error
}

// MetaSource resolves display metadata for a chain id.
type MetaSource interface {
	Meta(id string) (chain.Meta, bool)
}

// HistoryItem is one recent delivery, kept for /status and the admin API.
type HistoryItem struct {
	At     time.Time `json:"at"`
	Chain  string    `json:"chain"`
	Ref    string    `json:"ref"`
	ChatID int64     `json:"chat_id"`
	Error  string    `json:"error,omitempty"`
}
