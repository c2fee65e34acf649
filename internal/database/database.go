package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// ErrReadOnly is returned when writing through a read-only handle
var ErrReadOnly = errors.New("store is opened read-only")

// Mode selects how the store is opened
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Folders raw messages are written to
const (
	FolderInbox    = "inbox"
	FolderSent     = "sent"
	FolderImported = "imported"
)

const indexFile = "index.db"

// DB is the mail store: an SQLite index over raw message files kept under
// a root directory
type DB struct {
	*sqlx.DB
	root string
	mode Mode
}

// Open opens the store at root. A read-write store is created when missing;
// a read-only store must already exist.
func Open(ctx context.Context, root string, mode Mode) (*DB, error) {
	path := filepath.Join(root, indexFile)

	var dsn string
	switch mode {
	case ReadWrite:
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		// WAL mode and foreign keys enabled
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	case ReadOnly:
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	default:
		return nil, fmt.Errorf("unknown store mode %d", mode)
	}

	conn, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: conn, root: root, mode: mode}
	if mode == ReadWrite {
		if err := db.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.writable(); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Root returns the store directory
func (db *DB) Root() string {
	return db.root
}

// Mode returns how the store was opened
func (db *DB) Mode() Mode {
	return db.mode
}

func (db *DB) writable() error {
	if db.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}
