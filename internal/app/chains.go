package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/chain/evm"
	"buyxanbot/internal/chain/simulated"
	"buyxanbot/internal/chain/solana"
	"buyxanbot/internal/config"
	"buyxanbot/internal/storage"
	"buyxanbot/pkg/logx"
)

// chainMeta is the built-in metadata for cc.ID with config overrides on top.
func chainMeta(cc config.ChainConfig) chain.Meta {
	base, ok := chain.Builtin(cc.ID)
	if !ok {
		base = chain.Meta{Name: cc.ID, Symbol: cc.ID}
	}
	base.ID = cc.ID
	over := chain.Meta{
		Kind:      chain.Kind(cc.Kind),
		Name:      cc.Name,
		Symbol:    cc.Symbol,
		Explorer:  cc.Explorer,
		ChartSlug: cc.ChartSlug,
	}
	if p := strings.TrimSpace(cc.NativePriceUSD); p != "" {
		// validated at load
		over.NativePriceUSD, _ = decimal.NewFromString(p)
	}
	return base.Merge(over)
}

func chainSeed(cc config.ChainConfig) storage.ChainSeed {
	minAmount, err := decimal.NewFromString(strings.TrimSpace(cc.MinAmount))
	if err != nil {
		minAmount = decimal.Zero
	}
	return storage.ChainSeed{ID: cc.ID, Enabled: cc.IsEnabled(), MinAmount: minAmount}
}

// newScanner dials the chain's data source. The returned close func is never nil.
func newScanner(ctx context.Context, cc config.ChainConfig, log logx.Logger) (chain.Scanner, func(), error) {
	log = log.With(logx.String("chain", cc.ID))
	switch chain.Kind(cc.Kind) {
	case chain.KindEVM:
		c, err := ethclient.DialContext(ctx, cc.RPCURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial %s: %w", cc.ID, err)
		}
		return evm.New(c, evm.Options{
			Decimals:      cc.TokenDecimals,
			Confirmations: cc.Confirmations,
			BatchSize:     cc.BatchSize,
			MaxLookback:   cc.MaxLookback,
		}, log), c.Close, nil
	case chain.KindSolana:
		c, err := rpc.DialContext(ctx, cc.RPCURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial %s: %w", cc.ID, err)
		}
		return solana.New(c, solana.Options{PageLimit: cc.PageLimit, MaxPages: cc.MaxPages}, log), c.Close, nil
	case chain.KindSimulated:
		return simulated.New(simulated.Options{BatchSize: cc.BatchSize}), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("chain %s: unknown kind %q", cc.ID, cc.Kind)
	}
}

// buildChains seeds every configured chain into the store and registers a
// scanner for it. A chain whose source cannot be dialed is seeded but not
// registered; every cycle records it as a scan failure.
func buildChains(ctx context.Context, cfg *config.Config, store *storage.Store, log logx.Logger) (*chain.Registry, []func(), error) {
	reg := chain.NewRegistry()
	var closers []func()
	for _, cc := range cfg.Chains {
		if err := store.SyncChain(ctx, chainSeed(cc)); err != nil {
			return nil, closers, err
		}
		sc, closeFn, err := newScanner(ctx, cc, log)
		if err != nil {
			log.Warn("chain source unavailable; chain not monitored", logx.String("chain", cc.ID), logx.Err(err))
			continue
		}
		closers = append(closers, closeFn)
		if err := reg.Register(chainMeta(cc), sc); err != nil {
			return nil, closers, err
		}
		log.Info("chain registered",
			logx.String("chain", cc.ID),
			logx.String("kind", cc.Kind),
			logx.Bool("enabled", cc.IsEnabled()),
		)
	}
	return reg, closers, nil
}
