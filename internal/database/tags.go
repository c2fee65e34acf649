package database

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// AddTag tags the message with the given ID
func (db *DB) AddTag(ctx context.Context, id, tag string) error {
	return db.setTag(ctx, id, tag, true)
}

// RemoveTag removes a tag from the message with the given ID
func (db *DB) RemoveTag(ctx context.Context, id, tag string) error {
	return db.setTag(ctx, id, tag, false)
}

func (db *DB) setTag(ctx context.Context, id, tag string, add bool) error {
	if err := db.writable(); err != nil {
		return err
	}
	if err := validTag(tag); err != nil {
		return err
	}

	id = normalizeID(id)
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to check message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	query := `DELETE FROM tags WHERE message_id = ? AND tag = ?`
	if add {
		query = `INSERT OR IGNORE INTO tags (message_id, tag) VALUES (?, ?)`
	}
	if _, err := db.ExecContext(ctx, query, id, tag); err != nil {
		return fmt.Errorf("failed to update tag: %w", err)
	}
	return nil
}

// TagQuery adds or removes tag on every message matching query and returns
// the number of messages changed.
func (db *DB) TagQuery(ctx context.Context, query, tag string, add bool) (int64, error) {
	if err := db.writable(); err != nil {
		return 0, err
	}
	if err := validTag(tag); err != nil {
		return 0, err
	}

	where, args, err := CompileQuery(query)
	if err != nil {
		return 0, err
	}

	var stmt string
	if add {
		stmt = `INSERT OR IGNORE INTO tags (message_id, tag) SELECT m.id, ? FROM messages m WHERE ` + where
		args = append([]any{tag}, args...)
	} else {
		stmt = `DELETE FROM tags WHERE tag = ? AND message_id IN (SELECT m.id FROM messages m WHERE ` + where + `)`
		args = append([]any{tag}, args...)
	}

	result, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to tag messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// AllTags returns every tag in use, sorted
func (db *DB) AllTags(ctx context.Context) ([]string, error) {
	tags := []string{}
	if err := db.SelectContext(ctx, &tags, `SELECT DISTINCT tag FROM tags ORDER BY tag`); err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	return tags, nil
}

func validTag(tag string) error {
	if tag == "" || strings.ContainsAny(tag, " \t\r\n()\"") {
		return fmt.Errorf("%w: invalid tag %q", ErrInvalidQuery, tag)
	}
	return nil
}

func sortedUnique(tags []string) []string {
	out := slices.Clone(tags)
	slices.Sort(out)
	return slices.Compact(out)
}
