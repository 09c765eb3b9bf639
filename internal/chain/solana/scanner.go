// Package solana scans Solana token mints for new successful transaction
// signatures over JSON-RPC.
package solana

import (
	"context"
	"fmt"
	"time"

	"buyxanbot/internal/chain"
	"buyxanbot/pkg/logx"
)

// Caller is satisfied by *rpc.Client from go-ethereum, which speaks plain
// JSON-RPC 2.0 over HTTP.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type Options struct {
	PageLimit int
	// MaxPages caps how far back one scan pages per mint.
	MaxPages   int
	Commitment string
	Now        func() time.Time
}

type Scanner struct {
	rpc  Caller
	opts Options
	log  logx.Logger
}

type signatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       any    `json:"err"`
	BlockTime *int64 `json:"blockTime"`
}

func New(c Caller, opts Options, log logx.Logger) *Scanner {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.Commitment == "" {
		opts.Commitment = "confirmed"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{rpc: c, opts: opts, log: log}
}

func (s *Scanner) Scan(ctx context.Context, cfg chain.Config) (chain.Result, error) {
	res := chain.Result{Chain: cfg.ID, Checkpoint: cfg.Checkpoint}

	var head uint64
	if err := s.rpc.CallContext(ctx, &head, "getSlot", map[string]any{"commitment": s.opts.Commitment}); err != nil {
		return chain.Result{}, fmt.Errorf("solana %s: getSlot: %w", cfg.ID, err)
	}
	if cfg.Checkpoint == 0 {
		res.Checkpoint = head
		return res, nil
	}
	if cfg.Checkpoint >= head {
		return res, nil
	}

	for _, mint := range cfg.Targets {
		sigs, gap, err := s.signatures(ctx, cfg, mint)
		if err != nil {
			return chain.Result{}, err
		}
		var floor uint64
		if gap != nil {
			floor = gap.ResumeFrom
			if res.Gap == nil || gap.ResumeFrom > res.Gap.ResumeFrom {
				res.Gap = gap
			}
		}
		for _, sig := range sigs {
			// below floor: the partially read oldest slot
			if sig.Slot > head || sig.Slot < floor || sig.Err != nil {
				continue
			}
			res.Events = append(res.Events, chain.Event{
				Chain:     cfg.ID,
				Ref:       sig.Signature,
				Position:  sig.Slot,
				TxHash:    sig.Signature,
				Token:     mint,
				Timestamp: s.blockTime(sig.BlockTime),
			})
		}
	}

	chain.SortEvents(res.Events)
	res.Checkpoint = head
	s.log.Debug("solana scan",
		logx.String("chain", cfg.ID),
		logx.Uint64("head", head),
		logx.Int("targets", len(cfg.Targets)),
		logx.Int("events", len(res.Events)),
	)
	return res, nil
}

// signatures pages back from the newest signature of mint until it passes
// the checkpoint or the history ends. Running out of pages first yields a
// gap whose resume point lies past the partially read oldest slot.
func (s *Scanner) signatures(ctx context.Context, cfg chain.Config, mint string) ([]signatureInfo, *chain.Gap, error) {
	var out []signatureInfo
	before := ""
	for page := 0; page < s.opts.MaxPages; page++ {
		params := map[string]any{
			"limit":      s.opts.PageLimit,
			"commitment": s.opts.Commitment,
		}
		if before != "" {
			params["before"] = before
		}
		var batch []signatureInfo
		if err := s.rpc.CallContext(ctx, &batch, "getSignaturesForAddress", mint, params); err != nil {
			return nil, nil, fmt.Errorf("solana %s: signatures for %s: %w", cfg.ID, mint, err)
		}
		for _, sig := range batch {
			if sig.Slot <= cfg.Checkpoint {
				return out, nil, nil
			}
			out = append(out, sig)
		}
		if len(batch) < s.opts.PageLimit {
			return out, nil, nil
		}
		before = batch[len(batch)-1].Signature
	}

	oldest := out[len(out)-1].Slot
	return out, &chain.Gap{
		From:       cfg.Checkpoint + 1,
		ResumeFrom: oldest + 1,
		Reason: fmt.Sprintf("more than %d signatures for %s since slot %d",
			s.opts.MaxPages*s.opts.PageLimit, mint, cfg.Checkpoint),
	}, nil
}

func (s *Scanner) blockTime(bt *int64) time.Time {
	if bt == nil || *bt <= 0 {
		return s.opts.Now().UTC()
	}
	return time.Unix(*bt, 0).UTC()
}
