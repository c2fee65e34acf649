package database

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/textproto"
)

// ImportStats summarizes an mbox import
type ImportStats struct {
	Imported   int
	Duplicates int
}

// ImportMbox stores every message of an mbox stream in the imported folder.
// Messages already in the store are skipped.
func (db *DB) ImportMbox(ctx context.Context, r io.Reader, tags ...string) (ImportStats, error) {
	var stats ImportStats
	if err := db.writable(); err != nil {
		return stats, err
	}

	reader := mbox.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		msg, err := reader.NextMessage()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read mbox: %w", err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return stats, fmt.Errorf("failed to read mbox message: %w", err)
		}

		_, err = db.StoreRaw(ctx, FolderImported, raw, tags...)
		switch {
		case errors.Is(err, ErrAlreadyExists):
			stats.Duplicates++
		case err != nil:
			return stats, err
		default:
			stats.Imported++
		}
	}
}

// ExportMbox writes the messages matching query to w in mbox format, oldest
// first, and returns how many were written.
func (db *DB) ExportMbox(ctx context.Context, w io.Writer, query string) (int, error) {
	msgs, err := db.Search(ctx, query, 0)
	if err != nil {
		return 0, err
	}

	mw := mbox.NewWriter(w)
	n := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := exportOne(mw, msgs[i]); err != nil {
			return n, err
		}
		n++
	}
	if err := mw.Close(); err != nil {
		return n, fmt.Errorf("failed to finish mbox: %w", err)
	}
	return n, nil
}

func exportOne(mw *mbox.Writer, m *Message) error {
	f, err := m.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	from := "MAILER-DAEMON"
	br := bufio.NewReader(f)
	if h, err := textproto.ReadHeader(br); err == nil {
		if addr, err := mail.ParseAddress(unfold(h.Get("From"))); err == nil {
			from = addr.Address
		}
	}
	if _, err := f.(io.Seeker).Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind message: %w", err)
	}

	out, err := mw.CreateMessage(from, time.Unix(m.Date(), 0).UTC())
	if err != nil {
		return fmt.Errorf("failed to create mbox entry: %w", err)
	}
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("failed to write mbox entry: %w", err)
	}
	return nil
}
