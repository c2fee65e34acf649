package eml

import (
	"errors"
	"testing"
	"time"
)

func TestTemplateBody(t *testing.T) {
	t.Parallel()

	meta := &Meta{
		From:      []Mailbox{{Name: "Enid Blyton", Address: "enid@blyt.on"}},
		Timestamp: 1234567890,
	}
	body := &Body{Content: "Five Write Some Rust", Mimetype: "text/plain"}

	want := "\r\n\r\nOn Fri, 13 Feb 2009 23:31:30 +0000, Enid Blyton <enid@blyt.on> wrote:\r\nFive Write Some Rust"
	if got := templateBody(meta, body); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	html := &Body{Content: "<p>hi</p>", Mimetype: "text/html"}
	want = "\r\n\r\nOn Fri, 13 Feb 2009 23:31:30 +0000, Enid Blyton <enid@blyt.on> wrote:\r\n[no plaintext]"
	if got := templateBody(meta, html); got != want {
		t.Errorf("without plaintext: got %q, want %q", got, want)
	}
}

func TestTemplateReply(t *testing.T) {
	t.Parallel()

	subject := "Famous Five"
	refs := "<a@example.org> b@example.org"
	orig := &Meta{
		ID:         "orig@blyt.on",
		ThreadID:   "thread1",
		From:       []Mailbox{{Name: "Enid Blyton", Address: "enid@blyt.on"}},
		To:         []EmlAddr{Single(Mailbox{Name: "Me", Address: "me@example.org"})},
		Cc:         []EmlAddr{Single(Mailbox{Address: "cc@example.org"})},
		Subject:    &subject,
		References: &refs,
		Timestamp:  1234567890,
	}
	body := &Body{Content: "Five Write Some Rust", Mimetype: "text/plain"}
	now := time.Unix(1700000000, 0)

	tmpl, err := TemplateReply(orig, body, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply := tmpl.Meta

	if reply.ID != "1700000000.thread1.enid@blyt.on" {
		t.Errorf("ID: got %q", reply.ID)
	}
	if reply.ThreadID != "thread1" {
		t.Errorf("ThreadID: got %q", reply.ThreadID)
	}
	if reply.Timestamp != now.Unix() {
		t.Errorf("Timestamp: got %d", reply.Timestamp)
	}
	if len(reply.From) != 1 || reply.From[0] != (Mailbox{Name: "Me", Address: "me@example.org"}) {
		t.Errorf("From: got %+v", reply.From)
	}
	assertAddrs(t, reply.To, []EmlAddr{Single(orig.From[0])})
	assertAddrs(t, reply.Cc, orig.Cc)
	if reply.Subject == nil || *reply.Subject != "Re: Famous Five" {
		t.Errorf("Subject: got %v", reply.Subject)
	}
	if reply.InReplyTo == nil || *reply.InReplyTo != "<orig@blyt.on>" {
		t.Errorf("InReplyTo: got %v", reply.InReplyTo)
	}
	if reply.References == nil || *reply.References != "<a@example.org> <b@example.org> <orig@blyt.on>" {
		t.Errorf("References: got %v", reply.References)
	}
	if want := "\r\n\r\nOn Fri, 13 Feb 2009 23:31:30 +0000, Enid Blyton <enid@blyt.on> wrote:\r\nFive Write Some Rust"; tmpl.Body != want {
		t.Errorf("Body: got %q", tmpl.Body)
	}

	sender, err := reply.ResolveSender()
	if err != nil || sender != "me@example.org" {
		t.Errorf("ResolveSender: got %q, %v", sender, err)
	}
}

func TestTemplateReplyAddressing(t *testing.T) {
	t.Parallel()

	enid := Mailbox{Name: "Enid", Address: "enid@blyt.on"}
	me := Mailbox{Address: "me@example.org"}
	now := time.Unix(1700000000, 0)

	t.Run("reply-to wins", func(t *testing.T) {
		t.Parallel()

		list := Single(Mailbox{Address: "list@example.org"})
		tmpl, err := TemplateReply(&Meta{
			ID:      "x@y",
			From:    []Mailbox{enid},
			To:      []EmlAddr{Single(me)},
			ReplyTo: []EmlAddr{list},
		}, &Body{}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertAddrs(t, tmpl.Meta.To, []EmlAddr{list})
		if tmpl.Meta.ID != "1700000000.unknown.list@example.org" {
			t.Errorf("ID: got %q", tmpl.Meta.ID)
		}
	})

	t.Run("received-by when there is no To", func(t *testing.T) {
		t.Parallel()

		tmpl, err := TemplateReply(&Meta{
			ID:         "x@y",
			From:       []Mailbox{enid},
			ReceivedBy: &me,
		}, &Body{}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tmpl.Meta.From) != 1 || tmpl.Meta.From[0] != me {
			t.Errorf("From: got %+v", tmpl.Meta.From)
		}
	})

	t.Run("group recipients are flattened into From", func(t *testing.T) {
		t.Parallel()

		tmpl, err := TemplateReply(&Meta{
			ID:   "x@y",
			From: []Mailbox{enid},
			To:   []EmlAddr{Group("Us", me)},
		}, &Body{}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tmpl.Meta.From) != 1 || tmpl.Meta.From[0] != me {
			t.Errorf("From: got %+v", tmpl.Meta.From)
		}
	})

	t.Run("nobody to reply as", func(t *testing.T) {
		t.Parallel()

		_, err := TemplateReply(&Meta{ID: "x@y", From: []Mailbox{enid}}, &Body{}, now)
		if !errors.Is(err, ErrMissingHeader) {
			t.Fatalf("expected ErrMissingHeader, got %v", err)
		}
		if pe := AsParseError(err); pe.ID != "x@y" {
			t.Errorf("ID: got %q", pe.ID)
		}
	})

	t.Run("several recipients make the sender ambiguous", func(t *testing.T) {
		t.Parallel()

		tmpl, err := TemplateReply(&Meta{
			ID:   "x@y",
			From: []Mailbox{enid},
			To:   []EmlAddr{Single(me), Single(Mailbox{Address: "other@example.org"})},
		}, &Body{}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := tmpl.Meta.ResolveSender(); !errors.Is(err, ErrAmbiguousSender) {
			t.Errorf("expected ErrAmbiguousSender, got %v", err)
		}
	})
}

func TestReplySubject(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hello":     "Re: Hello",
		"Re: Hello": "Re: Hello",
		"RE: Hello": "RE: Hello",
		"":          "Re:",
	}
	for in, want := range tests {
		if got := replySubject(in); got != want {
			t.Errorf("replySubject(%q): got %q, want %q", in, got, want)
		}
	}
}
