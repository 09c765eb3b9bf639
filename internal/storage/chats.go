package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertChat registers a chat or refreshes its title. It also clears any
// disabled state: a configuring command from the chat counts as the
// administrator reconfiguring it.
func (s *Store) UpsertChat(ctx context.Context, chatID int64, title string) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, title, emoji, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   title = COALESCE(excluded.title, chats.title),
		   disabled_reason = NULL,
		   disabled_at = NULL`,
		chatID, nullStr(title), DefaultEmoji, now,
	)
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", chatID, err)
	}
	return nil
}

// AddWatchedToken reports false when the chat already watches the token.
func (s *Store) AddWatchedToken(ctx context.Context, chatID int64, chainID, address string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watched_tokens(chat_id, chain_id, address, added_at) VALUES(?,?,?,?)`,
		chatID, chainID, address, s.stamp(),
	)
	if err != nil {
		return false, fmt.Errorf("add token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) RemoveWatchedToken(ctx context.Context, chatID int64, chainID, address string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watched_tokens WHERE chat_id = ? AND chain_id = ? AND address = ?`,
		chatID, chainID, address,
	)
	if err != nil {
		return false, fmt.Errorf("remove token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListChatTokens(ctx context.Context, chatID int64) ([]WatchedToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, chain_id, address, added_at FROM watched_tokens
		  WHERE chat_id = ? ORDER BY chain_id, address`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

func scanTokens(rows *sql.Rows) ([]WatchedToken, error) {
	out := []WatchedToken{}
	for rows.Next() {
		var (
			w     WatchedToken
			added sql.NullString
		)
		if err := rows.Scan(&w.ChatID, &w.ChainID, &w.Address, &added); err != nil {
			return nil, err
		}
		w.AddedAt = parseTime(added)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) SetChatEmoji(ctx context.Context, chatID int64, emoji string) error {
	return s.updateChat(ctx, chatID, `UPDATE chats SET emoji = ? WHERE chat_id = ?`, emoji)
}

// SetChatGIF sets the animation sent before alerts; "" clears it.
func (s *Store) SetChatGIF(ctx context.Context, chatID int64, url string) error {
	return s.updateChat(ctx, chatID, `UPDATE chats SET gif_url = ? WHERE chat_id = ?`, nullStr(url))
}

// DisableChat stops deliveries to a chat until it is reconfigured.
func (s *Store) DisableChat(ctx context.Context, chatID int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET disabled_reason = ?, disabled_at = ? WHERE chat_id = ?`,
		nullStr(reason), s.stamp(), chatID)
	return rowsOrNotFound(chatID, res, err)
}

func (s *Store) updateChat(ctx context.Context, chatID int64, q string, v any) error {
	res, err := s.db.ExecContext(ctx, q, v, chatID)
	return rowsOrNotFound(chatID, res, err)
}

func rowsOrNotFound(chatID int64, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update chat %d: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
	}
	return nil
}

const chatCols = `chat_id, title, emoji, gif_url, disabled_reason, disabled_at, created_at`

func scanChat(sc interface{ Scan(...any) error }) (Chat, error) {
	var (
		c                              Chat
		title, gif, reason, dis, added sql.NullString
	)
	if err := sc.Scan(&c.ID, &title, &c.Emoji, &gif, &reason, &dis, &added); err != nil {
		return Chat{}, err
	}
	c.Title = title.String
	c.GIFURL = gif.String
	c.DisabledReason = reason.String
	c.DisabledAt = parseTime(dis)
	c.Disabled = dis.Valid
	c.CreatedAt = parseTime(added)
	c.Tokens = []WatchedToken{}
	return c, nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx, `SELECT `+chatCols+` FROM chats WHERE chat_id = ?`, chatID))
	if err == sql.ErrNoRows {
		return Chat{}, fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return Chat{}, err
	}
	c.Tokens, err = s.ListChatTokens(ctx, chatID)
	return c, err
}

// ListChats returns every chat with its watched tokens.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatCols+` FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := []Chat{}
	idx := map[int64]int{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		idx[c.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, chain_id, address, added_at FROM watched_tokens ORDER BY chat_id, chain_id, address`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer trows.Close()
	tokens, err := scanTokens(trows)
	if err != nil {
		return nil, err
	}
	for _, w := range tokens {
		if i, ok := idx[w.ChatID]; ok {
			out[i].Tokens = append(out[i].Tokens, w)
		}
	}
	return out, nil
}

// Subscribers returns the active chats watching (chain, address).
func (s *Store) Subscribers(ctx context.Context, chainID, address string) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.chat_id, c.emoji, c.gif_url
		   FROM watched_tokens w JOIN chats c ON c.chat_id = w.chat_id
		  WHERE w.chain_id = ? AND w.address = ? AND c.disabled_at IS NULL
		  ORDER BY c.chat_id`, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("subscribers: %w", err)
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		var (
			sub Subscriber
			gif sql.NullString
		)
		if err := rows.Scan(&sub.ChatID, &sub.Emoji, &gif); err != nil {
			return nil, err
		}
		sub.GIFURL = gif.String
		out = append(out, sub)
	}
	return out, rows.Err()
}
