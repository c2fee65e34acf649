package database

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mixelka/mailcore/pkg/models"
)

// Message is a handle on one stored message. Headers are read from the raw
// file on first use.
type Message struct {
	rec  models.MessageRecord
	tags []string
	root string

	once   sync.Once
	header textproto.Header
	err    error
}

func (m *Message) ID() string       { return m.rec.ID }
func (m *Message) ThreadID() string { return m.rec.ThreadID }
func (m *Message) Date() int64      { return m.rec.Date }
func (m *Message) Seq() int64       { return m.rec.Seq }
func (m *Message) Subject() string  { return m.rec.Subject }

// Tags returns the message tags in sorted order
func (m *Message) Tags() []string {
	return append([]string(nil), m.tags...)
}

// Filename returns the path of the raw message
func (m *Message) Filename() string {
	return filepath.Join(m.root, m.rec.Filename)
}

// Open opens the raw message
func (m *Message) Open() (io.ReadCloser, error) {
	f, err := os.Open(m.Filename())
	if err != nil {
		return nil, fmt.Errorf("failed to open message %s: %w", m.rec.ID, err)
	}
	return f, nil
}

// Header returns the unfolded value of the first header field called name
// and whether it is present.
func (m *Message) Header(name string) (string, bool, error) {
	m.once.Do(func() {
		var f io.ReadCloser
		f, m.err = m.Open()
		if m.err != nil {
			return
		}
		defer f.Close()
		m.header, m.err = textproto.ReadHeader(bufio.NewReader(f))
		if m.err != nil {
			m.err = fmt.Errorf("failed to read header of %s: %w", m.rec.ID, m.err)
		}
	})
	if m.err != nil {
		return "", false, m.err
	}
	if !m.header.Has(name) {
		return "", false, nil
	}
	return unfold(m.header.Get(name)), true, nil
}

func unfold(v string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", "", "\n", "").Replace(v))
}

// FindMessage returns the message with the given Message-ID
func (db *DB) FindMessage(ctx context.Context, id string) (*Message, error) {
	return db.findMessage(ctx, `SELECT * FROM messages WHERE id = ?`, normalizeID(id))
}

// FindMessageBySeq returns the message with the given sequence number
func (db *DB) FindMessageBySeq(ctx context.Context, seq int64) (*Message, error) {
	return db.findMessage(ctx, `SELECT * FROM messages WHERE seq = ?`, seq)
}

func (db *DB) findMessage(ctx context.Context, query string, arg any) (*Message, error) {
	var rec models.MessageRecord
	err := db.GetContext(ctx, &rec, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msgs, err := db.withTags(ctx, []models.MessageRecord{rec})
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// withTags loads the tags of the given records
func (db *DB) withTags(ctx context.Context, recs []models.MessageRecord) ([]*Message, error) {
	msgs := make([]*Message, 0, len(recs))
	if len(recs) == 0 {
		return msgs, nil
	}

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	query, args, err := sqlx.In(`SELECT message_id, tag FROM tags WHERE message_id IN (?) ORDER BY tag`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build tag query: %w", err)
	}

	var rows []struct {
		MessageID string `db:"message_id"`
		Tag       string `db:"tag"`
	}
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}

	tags := make(map[string][]string, len(recs))
	for _, r := range rows {
		tags[r.MessageID] = append(tags[r.MessageID], r.Tag)
	}
	for _, r := range recs {
		msgs = append(msgs, &Message{rec: r, tags: tags[r.ID], root: db.root})
	}
	return msgs, nil
}

// IndexFile adds a raw message file under the store root to the index. The
// message joins the thread of the first known message it refers to.
func (db *DB) IndexFile(ctx context.Context, path string, tags ...string) (*Message, error) {
	if err := db.writable(); err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(db.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("message file %s is outside the store", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file: %w", err)
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}
	hdr := message.Header{Header: h}

	rec := models.MessageRecord{
		ID:       normalizeID(hdr.Get("Message-Id")),
		Filename: rel,
		FromAddr: unfold(hdr.Get("From")),
		ToAddr:   strings.Trim(unfold(hdr.Get("To"))+", "+unfold(hdr.Get("Cc")), ", "),
	}
	if rec.ID == "" {
		sum := sha1.Sum(raw)
		rec.ID = "mailcore-sha1-" + hex.EncodeToString(sum[:])
	}
	if subject, err := hdr.Text("Subject"); err == nil {
		rec.Subject = unfold(subject)
	} else {
		rec.Subject = unfold(hdr.Get("Subject"))
	}
	if t, err := mail.ParseDate(unfold(hdr.Get("Date"))); err == nil {
		rec.Date = t.Unix()
	} else {
		rec.Date = time.Now().Unix()
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM messages WHERE id = ?`, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to check message: %w", err)
	}
	if exists > 0 {
		return nil, ErrAlreadyExists
	}

	rec.ThreadID, err = findThread(ctx, tx, parentIDs(hdr))
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = time.Now()
	result, err := tx.NamedExecContext(ctx, `
		INSERT INTO messages (id, thread_id, filename, date, from_addr, to_addr, subject, created_at)
		VALUES (:id, :thread_id, :filename, :date, :from_addr, :to_addr, :subject, :created_at)
	`, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if rec.Seq, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (message_id, tag) VALUES (?, ?)`, rec.ID, tag); err != nil {
			return nil, fmt.Errorf("failed to tag message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return &Message{rec: rec, tags: sortedUnique(tags), root: db.root}, nil
}

// StoreRaw writes raw message bytes into folder and indexes them. The file
// is removed again when indexing fails.
func (db *DB) StoreRaw(ctx context.Context, folder string, raw []byte, tags ...string) (*Message, error) {
	if err := db.writable(); err != nil {
		return nil, err
	}

	dir := filepath.Join(db.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".eml")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	msg, err := db.IndexFile(ctx, path, tags...)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return msg, nil
}

func findThread(ctx context.Context, tx *sqlx.Tx, parents []string) (string, error) {
	if len(parents) > 0 {
		query, args, err := sqlx.In(`SELECT id, thread_id FROM messages WHERE id IN (?)`, parents)
		if err != nil {
			return "", fmt.Errorf("failed to build thread query: %w", err)
		}
		var rows []struct {
			ID       string `db:"id"`
			ThreadID string `db:"thread_id"`
		}
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
			return "", fmt.Errorf("failed to find thread: %w", err)
		}
		threads := make(map[string]string, len(rows))
		for _, r := range rows {
			threads[r.ID] = r.ThreadID
		}
		for _, p := range parents {
			if t, ok := threads[p]; ok {
				return t, nil
			}
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

// parentIDs lists In-Reply-To first, then References from newest to oldest
func parentIDs(h message.Header) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(raw string) {
		id := normalizeID(raw)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range strings.Fields(unfold(h.Get("In-Reply-To"))) {
		add(id)
	}
	refs := strings.Fields(unfold(h.Get("References")))
	for i := len(refs) - 1; i >= 0; i-- {
		add(refs[i])
	}
	return ids
}

func normalizeID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
