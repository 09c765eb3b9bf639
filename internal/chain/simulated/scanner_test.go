package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buyxanbot/internal/chain"
)

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestSimulatedDeterministicAndBounded(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := New(Options{BlockTime: time.Second, EventEvery: 1, Now: clockAt(now)})
	head := s.Head()
	cfg := chain.Config{ID: "DEV", Targets: []string{"TOKEN"}, Checkpoint: head - 5}

	a, err := s.Scan(context.Background(), cfg)
	require.NoError(t, err)
	b, err := s.Scan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, head, a.Checkpoint)
	require.Len(t, a.Events, 5)

	lo, hi := decimal.NewFromFloat(0.1), decimal.NewFromFloat(5.1)
	for i, ev := range a.Events {
		assert.Equal(t, head-4+uint64(i), ev.Position)
		assert.True(t, ev.NativeAmount.GreaterThanOrEqual(lo) && ev.NativeAmount.LessThanOrEqual(hi), ev.NativeAmount.String())
		assert.True(t, ev.Amount.GreaterThanOrEqual(decimal.NewFromInt(1000)))
	}
}

func TestSimulatedIdempotentAtHead(t *testing.T) {
	t.Parallel()

	s := New(Options{Now: clockAt(time.Unix(1_700_000_000, 0))})
	first, err := s.Scan(context.Background(), chain.Config{ID: "DEV", Targets: []string{"T"}})
	require.NoError(t, err)
	assert.Empty(t, first.Events)

	for i := 0; i < 2; i++ {
		res, err := s.Scan(context.Background(), chain.Config{ID: "DEV", Targets: []string{"T"}, Checkpoint: first.Checkpoint})
		require.NoError(t, err)
		assert.Empty(t, res.Events)
		assert.Equal(t, first.Checkpoint, res.Checkpoint)
	}
}

func TestSimulatedMinAmountAndBatch(t *testing.T) {
	t.Parallel()

	s := New(Options{BlockTime: time.Second, EventEvery: 1, BatchSize: 10, Now: clockAt(time.Unix(1_700_000_000, 0))})
	head := s.Head()
	res, err := s.Scan(context.Background(), chain.Config{ID: "DEV", Targets: []string{"T"}, Checkpoint: head - 100, MinAmount: decimal.NewFromInt(1_000_000)})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, head-90, res.Checkpoint)
}

func TestSimulatedWithoutTargetsJumpsToHead(t *testing.T) {
	t.Parallel()

	s := New(Options{BlockTime: time.Second, EventEvery: 1, BatchSize: 10, Now: clockAt(time.Unix(1_700_000_000, 0))})
	head := s.Head()
	res, err := s.Scan(context.Background(), chain.Config{ID: "DEV", Checkpoint: head - 500})
	require.NoError(t, err)
	assert.Equal(t, head, res.Checkpoint)
	assert.Empty(t, res.Events)
}
