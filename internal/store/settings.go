package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// GetSetting returns the raw value stored under name.
func (s *SQLStore) GetSetting(ctx context.Context, name string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM settings WHERE name = ?`), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %s: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load setting: %w", err)
	}
	return []byte(value), nil
}

// PutSetting stores value under name, replacing any previous value.
func (s *SQLStore) PutSetting(ctx context.Context, name string, value []byte) error {
	now := toNanos(s.now().UTC())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT name FROM settings WHERE name = ?`+s.dialect.forUpdate), name).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)`), name, string(value), now)
		case err == nil:
			_, err = tx.ExecContext(ctx, s.rebind(`UPDATE settings SET value = ?, updated_at = ? WHERE name = ?`), string(value), now, name)
		}
		if err != nil {
			return fmt.Errorf("failed to store setting: %w", err)
		}
		return nil
	})
}
