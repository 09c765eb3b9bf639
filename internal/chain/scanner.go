package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrScanTimeout is returned by a guarded scanner whose call exceeded its
// deadline. The checkpoint must be left untouched.
var ErrScanTimeout = errors.New("chain: scan timed out")

// Scanner inspects one chain for qualifying events after cfg.Checkpoint.
//
// Scan must be idempotent for a fixed checkpoint: with no new activity it
// returns no events and the same checkpoint. Returned events lie strictly
// after cfg.Checkpoint and at or before Result.Checkpoint.
type Scanner interface {
	Scan(ctx context.Context, cfg Config) (Result, error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc func(ctx context.Context, cfg Config) (Result, error)

func (f ScannerFunc) Scan(ctx context.Context, cfg Config) (Result, error) { return f(ctx, cfg) }

// Guard bounds every call to inner by timeout. A call that does not return in
// time yields ErrScanTimeout; its late result is discarded.
func Guard(inner Scanner, timeout time.Duration) Scanner {
	if timeout <= 0 {
		return inner
	}
	return &guarded{inner: inner, timeout: timeout}
}

type guarded struct {
	inner   Scanner
	timeout time.Duration
}

type scanOutcome struct {
	res Result
	err error
}

func (g *guarded) Scan(ctx context.Context, cfg Config) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan scanOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scanOutcome{err: fmt.Errorf("chain %s: scanner panic: %v", cfg.ID, r)}
			}
		}()
		res, err := g.inner.Scan(cctx, cfg)
		done <- scanOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w after %s: %v", ErrScanTimeout, g.timeout, out.err)
		}
		return out.res, out.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w after %s", ErrScanTimeout, g.timeout)
	}
}
