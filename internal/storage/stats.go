package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordCycle counts one trigger tick, run or skipped.
func (s *Store) RecordCycle(ctx context.Context, skipped bool, at time.Time) error {
	var err error
	if skipped {
		_, err = s.db.ExecContext(ctx, `UPDATE global_stats SET cycles_skipped = cycles_skipped + 1 WHERE id = 1`)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE global_stats SET cycles_run = cycles_run + 1, last_cycle_at = ? WHERE id = 1`,
			at.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// RecordChain adds one cycle's outcome to a chain's counters.
func (s *Store) RecordChain(ctx context.Context, chainID string, d ChainDelta) error {
	at := d.At
	if at.IsZero() {
		at = s.now()
	}
	var lastErr any
	switch {
	case d.Err != "":
		lastErr = d.Err
	case d.ScanOK:
		lastErr = nil
	}
	keepErr := d.Err == "" && !d.ScanOK

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chain_stats(chain_id, scans_ok, scan_failures, events_dispatched, dispatch_failures, gap_warnings, last_scan_at, last_error)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(chain_id) DO UPDATE SET
		   scans_ok          = scans_ok + excluded.scans_ok,
		   scan_failures     = scan_failures + excluded.scan_failures,
		   events_dispatched = events_dispatched + excluded.events_dispatched,
		   dispatch_failures = dispatch_failures + excluded.dispatch_failures,
		   gap_warnings      = gap_warnings + excluded.gap_warnings,
		   last_scan_at      = excluded.last_scan_at,
		   last_error        = CASE WHEN ? THEN last_error ELSE excluded.last_error END`,
		chainID, boolInt(d.ScanOK), boolInt(d.ScanFailed), d.Dispatched, d.DispatchFailures, d.Gaps,
		at.UTC().Format(time.RFC3339Nano), lastErr, boolInt(keepErr),
	)
	if err != nil {
		return fmt.Errorf("record chain %s: %w", chainID, err)
	}
	return nil
}

// GetStats returns the global counters and every chain's counters with
// totals summed across chains.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var (
		st   Stats
		last sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cycles_run, cycles_skipped, last_cycle_at FROM global_stats WHERE id = 1`,
	).Scan(&st.CyclesRun, &st.CyclesSkipped, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("global stats: %w", err)
	}
	st.LastCycleAt = parseTime(last)

	rows, err := s.db.QueryContext(ctx,
		`SELECT chain_id, scans_ok, scan_failures, events_dispatched, dispatch_failures, gap_warnings, last_scan_at, last_error
		   FROM chain_stats ORDER BY chain_id`)
	if err != nil {
		return Stats{}, fmt.Errorf("chain stats: %w", err)
	}
	defer rows.Close()
	st.Chains = []ChainStats{}
	for rows.Next() {
		var (
			c        ChainStats
			scanAt   sql.NullString
			lastErrS sql.NullString
		)
		if err := rows.Scan(&c.ChainID, &c.ScansOK, &c.ScanFailures, &c.EventsDispatched, &c.DispatchFailures, &c.GapWarnings, &scanAt, &lastErrS); err != nil {
			return Stats{}, err
		}
		c.LastScanAt = parseTime(scanAt)
		c.LastError = lastErrS.String
		st.ScansOK += c.ScansOK
		st.ScanFailures += c.ScanFailures
		st.EventsDispatched += c.EventsDispatched
		st.DispatchFailures += c.DispatchFailures
		st.GapWarnings += c.GapWarnings
		st.Chains = append(st.Chains, c)
	}
	return st, rows.Err()
}

// ChainStats returns one chain's counters.
func (s *Store) ChainStats(ctx context.Context, chainID string) (ChainStats, error) {
	st, err := s.GetStats(ctx)
	if err != nil {
		return ChainStats{}, err
	}
	for _, c := range st.Chains {
		if c.ChainID == chainID {
			return c, nil
		}
	}
	return ChainStats{}, fmt.Errorf("chain %s: %w", chainID, ErrNotFound)
}
