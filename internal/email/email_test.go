package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mixelka/mailcore/internal/database"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawMail(id string) []byte {
	return []byte(strings.Join([]string{
		"From: alice@example.org",
		"To: me@example.org",
		"Subject: " + id,
		"Date: Mon, 2 Jan 2006 15:04:05 +0000",
		"Message-ID: <" + id + "@example.org>",
		"",
		"hello",
		"",
	}, "\r\n"))
}

type fakeMailbox struct {
	mu         sync.Mutex
	messages   []*RawMessage
	connected  bool
	connects   int
	fetchErr   error
	unreadable map[uint32]bool
}

func (f *fakeMailbox) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeMailbox) FetchSince(_ context.Context, since uint32) ([]*RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		out []*RawMessage
		bad []*UnreadableError
	)
	for _, m := range f.messages {
		switch {
		case m.UID <= since:
		case f.unreadable[m.UID]:
			bad = append(bad, &UnreadableError{UID: m.UID, Err: errNoBody})
		default:
			out = append(out, m)
		}
	}
	out, err := completeBefore(out, bad)
	if f.fetchErr != nil {
		return out, f.fetchErr
	}
	return out, err
}

func (f *fakeMailbox) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMailbox) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func newTestManager(t *testing.T, mbox *fakeMailbox) (*Manager, *database.DB) {
	t.Helper()

	db, err := database.Open(context.Background(), t.TempDir(), database.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(db, 10*time.Millisecond, time.Second, discardLogger())
	m.dial = func(Account) Mailbox { return mbox }
	return m, db
}

func TestSyncOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mbox := &fakeMailbox{messages: []*RawMessage{
		{UID: 3, Data: rawMail("a")},
		{UID: 7, Data: rawMail("b")},
	}}
	m, db := newTestManager(t, mbox)
	account := Account{Email: "me@example.org"}

	var announced []string
	m.SetMessageHandler(func(_ string, msg *database.Message) {
		announced = append(announced, msg.ID())
	})

	n, err := m.SyncOnce(ctx, account)
	if err != nil || n != 2 {
		t.Fatalf("SyncOnce() = %d, %v", n, err)
	}
	if strings.Join(announced, ",") != "a@example.org,b@example.org" {
		t.Errorf("announced %v", announced)
	}

	uid, err := db.LastUID(ctx, account.Email)
	if err != nil || uid != 7 {
		t.Errorf("LastUID() = %d, %v", uid, err)
	}
	count, err := db.Count(ctx, "tag:inbox and tag:unread")
	if err != nil || count != 2 {
		t.Errorf("Count() = %d, %v", count, err)
	}

	n, err = m.SyncOnce(ctx, account)
	if err != nil || n != 0 {
		t.Errorf("second SyncOnce() = %d, %v", n, err)
	}
}

func TestSyncSkipsDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mbox := &fakeMailbox{messages: []*RawMessage{
		{UID: 1, Data: rawMail("a")},
		{UID: 2, Data: rawMail("a")},
		{UID: 3, Data: rawMail("c")},
	}}
	m, db := newTestManager(t, mbox)

	n, err := m.SyncOnce(ctx, Account{Email: "me@example.org"})
	if err != nil || n != 2 {
		t.Fatalf("SyncOnce() = %d, %v", n, err)
	}
	if uid, _ := db.LastUID(ctx, "me@example.org"); uid != 3 {
		t.Errorf("LastUID() = %d, want 3", uid)
	}
}

func TestSyncKeepsPartialProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetchErr := errors.New("connection reset")
	mbox := &fakeMailbox{
		messages: []*RawMessage{{UID: 5, Data: rawMail("a")}},
		fetchErr: fetchErr,
	}
	m, db := newTestManager(t, mbox)

	n, err := m.SyncOnce(ctx, Account{Email: "me@example.org"})
	if !errors.Is(err, fetchErr) || n != 1 {
		t.Fatalf("SyncOnce() = %d, %v", n, err)
	}
	if uid, _ := db.LastUID(ctx, "me@example.org"); uid != 5 {
		t.Errorf("LastUID() = %d, want 5", uid)
	}
}

func TestSyncDoesNotSkipUnreadableMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mbox := &fakeMailbox{
		messages: []*RawMessage{
			{UID: 4, Data: rawMail("a")},
			{UID: 5, Data: rawMail("b")},
			{UID: 6, Data: rawMail("c")},
		},
		unreadable: map[uint32]bool{5: true},
	}
	m, db := newTestManager(t, mbox)
	account := Account{Email: "me@example.org"}

	n, err := m.SyncOnce(ctx, account)
	var unreadable *UnreadableError
	if !errors.As(err, &unreadable) || unreadable.UID != 5 || n != 1 {
		t.Fatalf("SyncOnce() = %d, %v", n, err)
	}
	if uid, _ := db.LastUID(ctx, account.Email); uid != 4 {
		t.Errorf("LastUID() = %d, want 4", uid)
	}

	mbox.mu.Lock()
	mbox.unreadable = nil
	mbox.mu.Unlock()

	n, err = m.SyncOnce(ctx, account)
	if err != nil || n != 2 {
		t.Fatalf("retry SyncOnce() = %d, %v", n, err)
	}
	if uid, _ := db.LastUID(ctx, account.Email); uid != 6 {
		t.Errorf("LastUID() = %d, want 6", uid)
	}
}

func TestCompleteBefore(t *testing.T) {
	t.Parallel()

	msgs := func(uids ...uint32) []*RawMessage {
		out := make([]*RawMessage, len(uids))
		for i, uid := range uids {
			out[i] = &RawMessage{UID: uid}
		}
		return out
	}
	uidsOf := func(ms []*RawMessage) []uint32 {
		out := []uint32{}
		for _, m := range ms {
			out = append(out, m.UID)
		}
		return out
	}

	tests := []struct {
		name    string
		msgs    []*RawMessage
		bad     []uint32
		want    []uint32
		wantErr uint32
	}{
		{name: "all readable", msgs: msgs(9, 3, 7), want: []uint32{3, 7, 9}},
		{name: "gap in the middle", msgs: msgs(3, 9), bad: []uint32{8, 5}, want: []uint32{3}, wantErr: 5},
		{name: "first unreadable", msgs: msgs(6, 7), bad: []uint32{5}, want: []uint32{}, wantErr: 5},
		{name: "last unreadable", msgs: msgs(6, 7), bad: []uint32{8}, want: []uint32{6, 7}, wantErr: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var bad []*UnreadableError
			for _, uid := range tt.bad {
				bad = append(bad, &UnreadableError{UID: uid, Err: errNoBody})
			}
			got, err := completeBefore(tt.msgs, bad)
			if fmt.Sprint(uidsOf(got)) != fmt.Sprint(tt.want) {
				t.Errorf("kept %v, want %v", uidsOf(got), tt.want)
			}

			var unreadable *UnreadableError
			switch {
			case tt.wantErr == 0 && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.wantErr != 0 && (!errors.As(err, &unreadable) || unreadable.UID != tt.wantErr):
				t.Errorf("error = %v, want uid %d", err, tt.wantErr)
			}
		})
	}
}

func TestManagerPolls(t *testing.T) {
	t.Parallel()

	mbox := &fakeMailbox{}
	m, db := newTestManager(t, mbox)

	got := make(chan string, 4)
	m.SetMessageHandler(func(_ string, msg *database.Message) { got <- msg.ID() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, Account{Email: "me@example.org"})
	m.Start(ctx, Account{Email: "me@example.org"})

	mbox.mu.Lock()
	mbox.messages = append(mbox.messages, &RawMessage{UID: 1, Data: rawMail("late")})
	mbox.mu.Unlock()

	select {
	case id := <-got:
		if id != "late@example.org" {
			t.Errorf("announced %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller never picked up the message")
	}

	m.Stop()
	if n, _ := db.Count(context.Background(), ""); n != 1 {
		t.Errorf("store holds %d messages, want 1", n)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		email     string
		reachable []string
		mx        string
		want      string
		wantErr   bool
	}{
		{name: "known provider", email: "someone@GMail.com", want: "imap.gmail.com:993"},
		{name: "imap subdomain", email: "me@example.org", reachable: []string{"imap.example.org", "mail.example.org"}, want: "imap.example.org:993"},
		{name: "mail subdomain", email: "me@example.org", reachable: []string{"mail.example.org"}, want: "mail.example.org:993"},
		{name: "hosted via mx", email: "me@example.org", mx: "mx1.hoster.net.", reachable: []string{"imap.hoster.net"}, want: "imap.hoster.net:993"},
		{name: "fallback", email: "me@example.org", want: "imap.example.org:993"},
		{name: "invalid", email: "example.org", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &Resolver{
				reachable: func(host string) bool {
					for _, h := range tt.reachable {
						if h == host {
							return true
						}
					}
					return false
				},
				lookupMX: func(string) ([]*net.MX, error) {
					if tt.mx == "" {
						return nil, fmt.Errorf("no such host")
					}
					return []*net.MX{{Host: tt.mx}}, nil
				},
			}

			got, err := r.Resolve(tt.email)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Resolve(%q) = %q, %v, want %q", tt.email, got, err, tt.want)
			}
		})
	}
}
