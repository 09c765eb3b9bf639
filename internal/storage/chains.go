package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"buyxanbot/internal/chain"
)

// SyncChain inserts or updates a chain's configured rule, keeping its
// checkpoint.
func (s *Store) SyncChain(ctx context.Context, seed ChainSeed) error {
	id := strings.ToUpper(strings.TrimSpace(seed.ID))
	if id == "" {
		return fmt.Errorf("sync chain: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chains(chain_id, enabled, min_amount, checkpoint, updated_at) VALUES(?,?,?,0,?)
		 ON CONFLICT(chain_id) DO UPDATE SET enabled=excluded.enabled, min_amount=excluded.min_amount, updated_at=excluded.updated_at`,
		id, boolInt(seed.Enabled), seed.MinAmount.String(), s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("sync chain %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO chain_stats(chain_id) VALUES(?)`, id)
	return err
}

// ListEnabledChainConfigs returns enabled chains with their targets: the
// distinct token addresses watched by active chats.
func (s *Store) ListEnabledChainConfigs(ctx context.Context) ([]chain.Config, error) {
	return s.listChains(ctx, true)
}

// ListChainConfigs is the read-only admin view of every chain.
func (s *Store) ListChainConfigs(ctx context.Context) ([]chain.Config, error) {
	return s.listChains(ctx, false)
}

func (s *Store) listChains(ctx context.Context, enabledOnly bool) ([]chain.Config, error) {
	q := `SELECT chain_id, enabled, min_amount, checkpoint, updated_at FROM chains`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY chain_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	var out []chain.Config
	idx := map[string]int{}
	for rows.Next() {
		var (
			c       chain.Config
			enabled int
			minAmt  string
			cp      int64
			updated sql.NullString
		)
		if err := rows.Scan(&c.ID, &enabled, &minAmt, &cp, &updated); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.Enabled = enabled == 1
		c.MinAmount, err = decimal.NewFromString(minAmt)
		if err != nil {
			c.MinAmount = decimal.Zero
		}
		c.Checkpoint = uint64(cp)
		c.UpdatedAt = parseTime(updated)
		c.Targets = []string{}
		idx[c.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT w.chain_id, w.address
		   FROM watched_tokens w JOIN chats c ON c.chat_id = w.chat_id
		  WHERE c.disabled_at IS NULL
		  ORDER BY w.chain_id, w.address`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var id, addr string
		if err := trows.Scan(&id, &addr); err != nil {
			return nil, err
		}
		if i, ok := idx[id]; ok {
			out[i].Targets = append(out[i].Targets, addr)
		}
	}
	return out, trows.Err()
}

// UpdateCheckpoint moves a chain's checkpoint forward. A value at or below
// the stored one is ignored.
func (s *Store) UpdateCheckpoint(ctx context.Context, chainID string, checkpoint uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chains SET checkpoint = ?, updated_at = ? WHERE chain_id = ? AND checkpoint < ?`,
		int64(checkpoint), s.stamp(), chainID, int64(checkpoint),
	)
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", chainID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM chains WHERE chain_id = ?`, chainID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("chain %s: %w", chainID, ErrNotFound)
	}
	return err
}

// Checkpoint returns the stored checkpoint of one chain.
func (s *Store) Checkpoint(ctx context.Context, chainID string) (uint64, error) {
	var cp int64
	err := s.db.QueryRowContext(ctx, `SELECT checkpoint FROM chains WHERE chain_id = ?`, chainID).Scan(&cp)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("chain %s: %w", chainID, ErrNotFound)
	}
	return uint64(cp), err
}
