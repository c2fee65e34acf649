package email

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var (
	errNotConnected = errors.New("not connected")
	errNoBody       = errors.New("server returned no body")
)

// RawMessage is one message fetched from the server, unparsed
type RawMessage struct {
	UID  uint32
	Data []byte
}

// ClientConfig configuration for IMAP client
type ClientConfig struct {
	Email       string
	Password    string
	Server      string // host:port
	DialTimeout time.Duration
}

// Client IMAP client for a single email account
type Client struct {
	config    ClientConfig
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("email", cfg.Email),
	}
}

// Connect connects to the IMAP server, logs in and selects INBOX
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.logger.Info("connecting to IMAP server", "server", c.config.Server)

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Server)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}
	imapClient.Timeout = timeout

	if err := imapClient.Login(c.config.Email, c.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}
	if _, err := imapClient.Select("INBOX", true); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	c.client = imapClient
	c.connected = true
	c.logger.Info("connected to IMAP server")
	return nil
}

// FetchSince fetches the full source of every message with UID above
// sinceUID without marking them seen.
func (c *Client) FetchSince(ctx context.Context, sinceUID uint32) ([]*RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, errNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// re-select to see messages that arrived since the last poll
	if _, err := c.client.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(sinceUID+1, 0) // 0 means * (all)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var (
		out        []*RawMessage
		unreadable []*UnreadableError
	)
	for msg := range messages {
		// "n:*" always matches the last message, even below n
		if msg.Uid <= sinceUID {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			unreadable = append(unreadable, &UnreadableError{UID: msg.Uid, Err: errNoBody})
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			unreadable = append(unreadable, &UnreadableError{UID: msg.Uid, Err: err})
			continue
		}
		out = append(out, &RawMessage{UID: msg.Uid, Data: data})
	}

	out, err := completeBefore(out, unreadable)
	if err != nil {
		c.logger.Warn("stopping batch at unreadable message", "error", err)
	}
	if fetchErr := <-done; fetchErr != nil {
		return out, errors.Join(fmt.Errorf("failed to fetch: %w", fetchErr), err)
	}
	return out, err
}

// UnreadableError reports a message the server listed without a readable body
type UnreadableError struct {
	UID uint32
	Err error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("failed to read uid %d: %v", e.UID, e.Err)
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// completeBefore orders msgs by UID and keeps only those below the lowest
// unreadable UID, returning that UID's error. A watermark taken from the
// result never passes a message that was not read.
func completeBefore(msgs []*RawMessage, unreadable []*UnreadableError) ([]*RawMessage, error) {
	slices.SortFunc(msgs, func(a, b *RawMessage) int { return cmp.Compare(a.UID, b.UID) })
	if len(unreadable) == 0 {
		return msgs, nil
	}

	first := slices.MinFunc(unreadable, func(a, b *UnreadableError) int { return cmp.Compare(a.UID, b.UID) })
	cut, _ := slices.BinarySearchFunc(msgs, first.UID, func(m *RawMessage, uid uint32) int {
		return cmp.Compare(m.UID, uid)
	})
	return msgs[:cut], first
}

// Close logs out and drops the connection. The client can connect again.
func (c *Client) Close() {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if imapClient == nil {
		return
	}

	// Try logout with timeout, then force close
	done := make(chan struct{})
	go func() {
		imapClient.Logout()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		imapClient.Terminate()
	}
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
