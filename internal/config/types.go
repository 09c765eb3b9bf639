package config

import (
	"encoding/json"
	"hash/fnv"
)

// Config is the whole process configuration. It is decoded once at startup
// and passed by value to constructors; hot reload only touches the sections
// listed in Reloadable.
type Config struct {
	Bot      BotConfig      `json:"bot"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Chains   []ChainConfig  `json:"chains" validate:"dive"`
}

type BotConfig struct {
	// Disabled turns off the whole bot subsystem (transport, commands, monitoring).
	Disabled bool `json:"disabled"`
}

type TelegramConfig struct {
	Token        string        `json:"token"`
	OwnerUserIDs []int64       `json:"owner_user_ids,omitempty"`
	GroupLog     int64         `json:"group_log,omitempty"`
	Polling      PollingConfig `json:"polling"`
	Webhook      WebhookConfig `json:"webhook"`
}

type PollingConfig struct {
	Enabled    bool   `json:"enabled"`
	Timeout    string `json:"timeout" default:"30s" validate:"duration"`
	BackoffMin string `json:"backoff_min" default:"500ms" validate:"duration"`
	BackoffMax string `json:"backoff_max" default:"30s" validate:"duration"`
}

type WebhookConfig struct {
	Enabled     bool   `json:"enabled"`
	PublicURL   string `json:"public_url,omitempty" validate:"omitempty,url"`
	SecretToken string `json:"secret_token,omitempty"`
	QueueSize   int    `json:"queue_size" default:"256" validate:"gte=1"`
}

type LoggingConfig struct {
	Level    string              `json:"level" default:"info" validate:"oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool                `json:"console"`
	File     LoggingFileConfig   `json:"file"`
	Telegram LoggingTelegramConf `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegramConf struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level" default:"warn"`
	RatePerSec int    `json:"rate_per_sec" default:"1" validate:"gte=1"`
}

type MonitorConfig struct {
	// Schedule is either a Go duration ("10s") or a cron spec with optional seconds.
	Schedule    string `json:"schedule" default:"10s" validate:"required"`
	Timezone    string `json:"timezone,omitempty"`
	ScanTimeout string `json:"scan_timeout" default:"8s" validate:"duration"`
	MaxParallel int    `json:"max_parallel" default:"4" validate:"gte=1,lte=64"`
}

type NotifierConfig struct {
	SendTimeout     string  `json:"send_timeout" default:"10s" validate:"duration"`
	RatePerSec      float64 `json:"rate_per_sec" default:"1" validate:"gt=0"`
	Burst           int     `json:"burst" default:"1" validate:"gte=1"`
	DedupWindow     string  `json:"dedup_window" default:"1h" validate:"duration"`
	DedupMaxEntries int     `json:"dedup_max_entries" default:"10000" validate:"gte=0"`
	CommunityURL    string  `json:"community_url,omitempty" validate:"omitempty,url"`
}

type StorageConfig struct {
	Path        string `json:"path" default:"./data/buyxanbot.db"`
	BusyTimeout string `json:"busy_timeout" default:"5s" validate:"duration"`
}

type HTTPConfig struct {
	Addr            string `json:"addr" default:":3000" validate:"required"`
	AdminJWTSecret  string `json:"admin_jwt_secret,omitempty"`
	ReadTimeout     string `json:"read_timeout" default:"10s" validate:"duration"`
	WriteTimeout    string `json:"write_timeout" default:"15s" validate:"duration"`
	ShutdownTimeout string `json:"shutdown_timeout" default:"5s" validate:"duration"`
	// Pprof exposes the runtime profiler under /api/admin/debug.
	Pprof bool `json:"pprof,omitempty"`
}

// ChainConfig describes one monitored chain: how to reach it and the
// seed values for its monitoring rule. Name/Symbol/Explorer/price fall back
// to built-in metadata for well-known ids.
type ChainConfig struct {
	ID             string `json:"id" validate:"required,uppercase"`
	Kind           string `json:"kind" validate:"required,oneof=evm solana simulated"`
	Name           string `json:"name,omitempty"`
	Symbol         string `json:"symbol,omitempty"`
	Explorer       string `json:"explorer,omitempty" validate:"omitempty,url"`
	RPCURL         string `json:"rpc_url,omitempty"`
	NativePriceUSD string `json:"native_price_usd,omitempty"`
	ChartSlug      string `json:"chart_slug,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty" default:"true"`
	MinAmount      string `json:"min_amount" default:"0"`
	TokenDecimals  int32  `json:"token_decimals" default:"18" validate:"gte=0,lte=36"`
	Confirmations  uint64 `json:"confirmations"`
	BatchSize      uint64 `json:"batch_size" default:"500" validate:"gte=1"`
	MaxLookback    uint64 `json:"max_lookback" default:"5000" validate:"gte=1"`
	PageLimit      int    `json:"page_limit" default:"100" validate:"gte=1,lte=1000"`
	MaxPages       int    `json:"max_pages" default:"10" validate:"gte=1,lte=100"`
}

// IsEnabled treats a missing flag as enabled.
func (c ChainConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
