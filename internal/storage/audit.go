package storage

import (
	"context"
	"time"

	"buyxanbot/pkg/logx"
)

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, err, meta)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, nullStr(e.Target), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	if err == nil && s.auditKeep > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

// AuditCount returns the number of audit rows.
func (s *Store) AuditCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&n)
	return n, err
}

func (s *Store) pruneAudit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit WHERE id <= (SELECT MAX(id) FROM audit) - ?`, s.auditKeep)
	return err
}
