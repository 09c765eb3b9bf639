// Package simulated produces deterministic synthetic buy events so the bot
// can run end to end without a chain endpoint.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"buyxanbot/internal/chain"
)

type Options struct {
	// BlockTime is how often the synthetic head advances.
	BlockTime time.Duration
	// EventEvery emits roughly one event per EventEvery positions per token.
	EventEvery uint64
	BatchSize  uint64
	Now        func() time.Time
}

type Scanner struct {
	opts Options
}

func New(opts Options) *Scanner {
	if opts.BlockTime <= 0 {
		opts.BlockTime = 10 * time.Second
	}
	if opts.EventEvery == 0 {
		opts.EventEvery = 3
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{opts: opts}
}

// Head is the synthetic chain height at the current clock.
func (s *Scanner) Head() uint64 {
	return uint64(s.opts.Now().UnixNano() / int64(s.opts.BlockTime))
}

func (s *Scanner) Scan(ctx context.Context, cfg chain.Config) (chain.Result, error) {
	if err := ctx.Err(); err != nil {
		return chain.Result{}, err
	}
	res := chain.Result{Chain: cfg.ID, Checkpoint: cfg.Checkpoint}
	head := s.Head()
	if cfg.Checkpoint == 0 {
		res.Checkpoint = head
		return res, nil
	}
	if cfg.Checkpoint >= head || len(cfg.Targets) == 0 {
		res.Checkpoint = max(head, cfg.Checkpoint)
		return res, nil
	}
	to := head
	if to-cfg.Checkpoint > s.opts.BatchSize {
		to = cfg.Checkpoint + s.opts.BatchSize
	}

	for pos := cfg.Checkpoint + 1; pos <= to; pos++ {
		for _, token := range cfg.Targets {
			sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", cfg.ID, token, pos)))
			if binary.BigEndian.Uint64(sum[:8])%s.opts.EventEvery != 0 {
				continue
			}
			ev := synth(cfg.ID, token, pos, sum, s.opts.BlockTime)
			if ev.Amount.LessThan(cfg.MinAmount) {
				continue
			}
			res.Events = append(res.Events, ev)
		}
	}
	chain.SortEvents(res.Events)
	res.Checkpoint = to
	return res, nil
}

// synth derives amounts from the hash: 0.1 to 5.1 native, 1000 to 51000 tokens.
func synth(chainID, token string, pos uint64, sum [32]byte, blockTime time.Duration) chain.Event {
	a := binary.BigEndian.Uint64(sum[8:16])
	b := binary.BigEndian.Uint64(sum[16:24])
	native := decimal.New(int64(a%5001), -3).Add(decimal.New(1, -1))
	tokens := decimal.New(int64(1000+b%50001), 0)
	tx := hex.EncodeToString(sum[:])
	return chain.Event{
		Chain:        chainID,
		Ref:          tx,
		Position:     pos,
		TxHash:       tx,
		Token:        token,
		Buyer:        "sim" + tx[40:],
		Amount:       tokens,
		NativeAmount: native,
		Timestamp:    time.Unix(0, int64(pos)*int64(blockTime)).UTC(),
	}
}
