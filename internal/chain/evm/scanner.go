// Package evm scans EVM chains for ERC-20 Transfer logs emitted by watched
// token contracts.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"buyxanbot/internal/chain"
	"buyxanbot/pkg/logx"
)

// TransferTopic is topic[0] of Transfer(address,address,uint256).
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client is the subset of ethclient.Client the scanner needs.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Options struct {
	Decimals      int32
	Confirmations uint64
	// BatchSize caps the number of blocks read per scan.
	BatchSize uint64
	// MaxLookback is the oldest distance behind head the scanner will read.
	MaxLookback uint64
	Now         func() time.Time
}

type Scanner struct {
	client Client
	opts   Options
	log    logx.Logger
}

func New(client Client, opts Options, log logx.Logger) *Scanner {
	if opts.BatchSize == 0 {
		opts.BatchSize = 500
	}
	if opts.MaxLookback == 0 {
		opts.MaxLookback = 5000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{client: client, opts: opts, log: log}
}

func (s *Scanner) Scan(ctx context.Context, cfg chain.Config) (chain.Result, error) {
	res := chain.Result{Chain: cfg.ID, Checkpoint: cfg.Checkpoint}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return chain.Result{}, fmt.Errorf("evm %s: block number: %w", cfg.ID, err)
	}
	var safe uint64
	if head > s.opts.Confirmations {
		safe = head - s.opts.Confirmations
	}

	if cfg.Checkpoint == 0 {
		res.Checkpoint = safe
		return res, nil
	}
	if cfg.Checkpoint >= safe {
		return res, nil
	}
	// Nothing is watched, so nothing in between can qualify.
	if len(cfg.Targets) == 0 {
		res.Checkpoint = safe
		return res, nil
	}

	from := cfg.Checkpoint + 1
	if safe-cfg.Checkpoint > s.opts.MaxLookback {
		resume := safe - s.opts.MaxLookback + 1
		res.Gap = &chain.Gap{
			From:       from,
			ResumeFrom: resume,
			Reason:     fmt.Sprintf("checkpoint %d is more than %d blocks behind head %d", cfg.Checkpoint, s.opts.MaxLookback, safe),
		}
		from = resume
	}
	to := safe
	if to-from+1 > s.opts.BatchSize {
		to = from + s.opts.BatchSize - 1
	}

	addrs := make([]common.Address, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		addrs = append(addrs, common.HexToAddress(t))
	}
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addrs,
		Topics:    [][]common.Hash{{TransferTopic}},
	})
	if err != nil {
		return chain.Result{}, fmt.Errorf("evm %s: filter logs %d..%d: %w", cfg.ID, from, to, err)
	}

	now := s.opts.Now()
	for _, lg := range logs {
		ev, ok := s.decode(cfg.ID, lg, now)
		if !ok || ev.Position < from || ev.Position > to {
			continue
		}
		if ev.Amount.LessThan(cfg.MinAmount) {
			continue
		}
		res.Events = append(res.Events, ev)
	}
	chain.SortEvents(res.Events)
	res.Checkpoint = to

	s.log.Debug("evm scan",
		logx.String("chain", cfg.ID),
		logx.Uint64("from", from),
		logx.Uint64("to", to),
		logx.Int("logs", len(logs)),
		logx.Int("events", len(res.Events)),
	)
	return res, nil
}

func (s *Scanner) decode(chainID string, lg types.Log, now time.Time) (chain.Event, bool) {
	if lg.Removed || len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic || len(lg.Data) != 32 {
		return chain.Event{}, false
	}
	value := new(big.Int).SetBytes(lg.Data)
	return chain.Event{
		Chain:     chainID,
		Ref:       fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index),
		Position:  lg.BlockNumber,
		TxHash:    lg.TxHash.Hex(),
		Token:     lowerHex(lg.Address),
		From:      lowerHex(common.BytesToAddress(lg.Topics[1].Bytes())),
		Buyer:     lowerHex(common.BytesToAddress(lg.Topics[2].Bytes())),
		Amount:    decimal.NewFromBigInt(value, -s.opts.Decimals),
		Timestamp: now.UTC(),
	}, true
}

func lowerHex(a common.Address) string { return strings.ToLower(a.Hex()) }
