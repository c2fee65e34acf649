package email

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mixelka/mailcore/internal/database"
)

// Tags given to ingested mail
var inboxTags = []string{"inbox", "unread"}

// Store is the part of the mail store the manager writes to
type Store interface {
	LastUID(ctx context.Context, account string) (uint32, error)
	SetLastUID(ctx context.Context, account string, uid uint32) error
	StoreRaw(ctx context.Context, folder string, raw []byte, tags ...string) (*database.Message, error)
}

// Mailbox is a connection to one remote INBOX. FetchSince returns messages
// in UID order with no unread message below the highest UID it returns.
type Mailbox interface {
	Connect(ctx context.Context) error
	FetchSince(ctx context.Context, sinceUID uint32) ([]*RawMessage, error)
	IsConnected() bool
	Close()
}

// Account is one mailbox to ingest
type Account struct {
	Email    string
	Password string
	Server   string // host:port
}

// MessageHandler handles newly stored messages
type MessageHandler func(account string, msg *database.Message)

// ErrorHandler handles ingestion errors
type ErrorHandler func(account string, err error)

// Manager polls every configured account and files new mail in the store
type Manager struct {
	store       Store
	interval    time.Duration
	dialTimeout time.Duration
	logger      *slog.Logger
	onMessage   MessageHandler
	onError     ErrorHandler
	dial        func(Account) Mailbox

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a new email manager
func NewManager(store Store, interval, dialTimeout time.Duration, logger *slog.Logger) *Manager {
	m := &Manager{
		store:       store,
		interval:    interval,
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "email_manager"),
		running:     make(map[string]context.CancelFunc),
	}
	m.dial = func(a Account) Mailbox {
		return NewClient(ClientConfig{
			Email:       a.Email,
			Password:    a.Password,
			Server:      a.Server,
			DialTimeout: m.dialTimeout,
		}, m.logger)
	}
	return m
}

// SetMessageHandler sets the handler for new messages
func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.onMessage = handler
}

// SetErrorHandler sets the handler for errors
func (m *Manager) SetErrorHandler(handler ErrorHandler) {
	m.onError = handler
}

// Start begins polling account until ctx is done or Stop is called
func (m *Manager) Start(ctx context.Context, account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.running[account.Email]; exists {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.running[account.Email] = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, account)
	}()

	m.logger.Info("added email account", "email", account.Email, "interval", m.interval)
}

// Stop stops every account and waits for the pollers to return
func (m *Manager) Stop() {
	m.mu.Lock()
	for email, cancel := range m.running {
		cancel()
		delete(m.running, email)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("all email clients stopped")
}

func (m *Manager) run(ctx context.Context, account Account) {
	mbox := m.dial(account)
	defer mbox.Close()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.sync(ctx, account, mbox); err != nil && ctx.Err() == nil {
			m.logger.Error("failed to sync account", "email", account.Email, "error", err)
			if m.onError != nil {
				m.onError(account.Email, err)
			}
			mbox.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce connects, stores every new message of account and disconnects
func (m *Manager) SyncOnce(ctx context.Context, account Account) (int, error) {
	mbox := m.dial(account)
	defer mbox.Close()
	return m.sync(ctx, account, mbox)
}

// sync stores the messages above the account watermark. The watermark only
// moves past messages that were stored or already present.
func (m *Manager) sync(ctx context.Context, account Account, mbox Mailbox) (int, error) {
	if !mbox.IsConnected() {
		if err := mbox.Connect(ctx); err != nil {
			return 0, err
		}
	}

	lastUID, err := m.store.LastUID(ctx, account.Email)
	if err != nil {
		return 0, err
	}

	msgs, fetchErr := mbox.FetchSince(ctx, lastUID)
	slices.SortFunc(msgs, func(a, b *RawMessage) int { return cmp.Compare(a.UID, b.UID) })

	stored := 0
	watermark := lastUID
	for _, raw := range msgs {
		msg, err := m.store.StoreRaw(ctx, database.FolderInbox, raw.Data, inboxTags...)
		switch {
		case errors.Is(err, database.ErrAlreadyExists):
			m.logger.Debug("message already stored", "uid", raw.UID)
		case err != nil:
			fetchErr = errors.Join(fetchErr, fmt.Errorf("failed to store uid %d: %w", raw.UID, err))
		default:
			stored++
			if m.onMessage != nil {
				m.onMessage(account.Email, msg)
			}
		}
		if err != nil && !errors.Is(err, database.ErrAlreadyExists) {
			break
		}
		watermark = max(watermark, raw.UID)
	}

	if watermark > lastUID {
		if err := m.store.SetLastUID(ctx, account.Email, watermark); err != nil {
			return stored, err
		}
	}
	if stored > 0 {
		m.logger.Info("stored new messages", "email", account.Email, "count", stored, "last_uid", watermark)
	}
	return stored, fetchErr
}
