package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"buyxanbot/internal/transport"
)

// ErrModeConflict is returned when both webhook and polling are requested.
var ErrModeConflict = errors.New("config: telegram webhook and polling cannot both be enabled")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true
			}
			d, err := time.ParseDuration(s)
			return err == nil && d >= 0
		})
		validate = v
	})
	return validate
}

// Normalize fills defaults from struct tags. It never overwrites values that
// are already set.
func Normalize(cfg *Config) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		c.ID = strings.ToUpper(strings.TrimSpace(c.ID))
		c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	}
	return nil
}

// Validate checks field tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Telegram.ResolveMode(); err != nil {
		return err
	}
	if cfg.Telegram.Webhook.Enabled && strings.TrimSpace(cfg.Telegram.Webhook.PublicURL) == "" {
		return errors.New("config: telegram.webhook.public_url is required when webhook is enabled")
	}

	seen := make(map[string]struct{}, len(cfg.Chains))
	for i, c := range cfg.Chains {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("config: chains[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = struct{}{}

		if c.Kind != "simulated" && strings.TrimSpace(c.RPCURL) == "" {
			return fmt.Errorf("config: chains[%d] (%s): rpc_url is required for kind %q", i, c.ID, c.Kind)
		}
		if _, err := decimal.NewFromString(c.MinAmount); err != nil {
			return fmt.Errorf("config: chains[%d] (%s): min_amount: %w", i, c.ID, err)
		}
		if p := strings.TrimSpace(c.NativePriceUSD); p != "" {
			if _, err := decimal.NewFromString(p); err != nil {
				return fmt.Errorf("config: chains[%d] (%s): native_price_usd: %w", i, c.ID, err)
			}
		}
	}
	return nil
}

// ResolveMode picks the single transport mode for the process lifetime.
// Polling is the default when neither mode is requested.
func (t TelegramConfig) ResolveMode() (transport.Mode, error) {
	switch {
	case t.Webhook.Enabled && t.Polling.Enabled:
		return "", ErrModeConflict
	case t.Webhook.Enabled:
		return transport.ModeWebhook, nil
	default:
		return transport.ModePolling, nil
	}
}
