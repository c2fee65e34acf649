package database

import (
	"context"
	"fmt"

	"github.com/mixelka/mailcore/pkg/models"
)

// Search returns the messages matching query, newest first. A limit of zero
// or less returns every match.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]*Message, error) {
	where, args, err := CompileQuery(query)
	if err != nil {
		return nil, err
	}

	stmt := `SELECT m.* FROM messages m WHERE ` + where + ` ORDER BY m.date DESC, m.seq DESC`
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}

	var recs []models.MessageRecord
	if err := db.SelectContext(ctx, &recs, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return db.withTags(ctx, recs)
}

// Count returns the number of messages matching query
func (db *DB) Count(ctx context.Context, query string) (int, error) {
	where, args, err := CompileQuery(query)
	if err != nil {
		return 0, err
	}

	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages m WHERE `+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
