package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailcore/pkg/models"
)

// LastUID returns the highest IMAP UID fetched for account, or zero
func (db *DB) LastUID(ctx context.Context, account string) (uint32, error) {
	var state models.SyncState
	err := db.GetContext(ctx, &state, `SELECT * FROM sync_state WHERE account = ?`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state.LastUID, nil
}

// SetLastUID records the highest IMAP UID fetched for account
func (db *DB) SetLastUID(ctx context.Context, account string, uid uint32) error {
	if err := db.writable(); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (account, last_uid, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET last_uid = excluded.last_uid, updated_at = excluded.updated_at
	`, account, uid, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}
