package models

import "time"

// MessageRecord is one indexed message of the mail store
type MessageRecord struct {
	Seq       int64     `db:"seq"`       // Store local sequence number
	ID        string    `db:"id"`        // Message-ID without angle brackets
	ThreadID  string    `db:"thread_id"` // Shared by every message of a conversation
	Filename  string    `db:"filename"`  // Raw message path, relative to the store root
	Date      int64     `db:"date"`      // Seconds since epoch, UTC
	FromAddr  string    `db:"from_addr"` // Raw From header, for searching
	ToAddr    string    `db:"to_addr"`   // Raw To and Cc headers, for searching
	Subject   string    `db:"subject"`   // Decoded subject
	CreatedAt time.Time `db:"created_at"`
}

// SyncState is the IMAP watermark of one account
type SyncState struct {
	Account   string    `db:"account"`
	LastUID   uint32    `db:"last_uid"` // Highest UID already stored
	UpdatedAt time.Time `db:"updated_at"`
}
