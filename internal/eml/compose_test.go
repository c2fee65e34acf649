package eml

import (
	"errors"
	"strings"
	"testing"
)

func TestGuessMimeType(t *testing.T) {
	t.Parallel()

	if got := GuessMimeType("photo.png"); got != "image/png" {
		t.Errorf("png: got %q", got)
	}
	if got := GuessMimeType("blob.zzqqxx"); got != "application/octet-stream" {
		t.Errorf("unknown: got %q", got)
	}
	if got := GuessMimeType("README"); got != "application/octet-stream" {
		t.Errorf("no extension: got %q", got)
	}
}

func TestRenderBodyFraming(t *testing.T) {
	t.Parallel()

	got := RenderBody("hello", []Attachment{{Filename: "dir/data.bin", Content: []byte("hi")}}, "B",
		func(string) string { return "application/octet-stream" })

	want := strings.Join([]string{
		"--B",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: 8bit",
		"Content-Disposition: inline",
		"",
		"hello",
		"--B",
		"Content-Type: application/octet-stream; name=data.bin",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: attachment; filename=data.bin",
		"",
		"aGk=",
	}, "\r\n")
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestComposeDecomposes(t *testing.T) {
	t.Parallel()

	subject := "Notes"
	draft := &Draft{
		Meta: Meta{
			ID:        "1700000000.thread1.@unknown",
			From:      []Mailbox{{Name: "Me", Address: "me@example.org"}},
			To:        []EmlAddr{Single(Mailbox{Name: "You", Address: "you@example.org"})},
			Bcc:       []EmlAddr{Single(Mailbox{Address: "secret@example.org"})},
			Subject:   &subject,
			Timestamp: 1234567890,
		},
		Body: strings.Repeat("x", 100),
		Attachments: []Attachment{
			{Filename: "photo.png", Content: []byte{0x89, 'P', 'N', 'G'}},
		},
	}

	raw, err := Compose(draft, "BOUNDARY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"Bcc:\r\n",
		"Date: Fri, 13 Feb 2009 23:31:30 +0000\r\n",
		"From: \"Me\" <me@example.org>\r\n",
		"MIME-Version: 1.0\r\n",
		"Message-ID: <1700000000.thread1.@multiple>\r\n",
		"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n\r\n--BOUNDARY\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message is missing %q", want)
		}
	}
	if strings.Contains(raw, "secret@example.org") {
		t.Error("Bcc recipients must not appear in the message")
	}
	if !strings.HasSuffix(raw, "\r\n--BOUNDARY--") {
		t.Error("message must end with the closing delimiter")
	}

	body, err := NewDecomposer(nil).Decompose(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if want := strings.Repeat("x", 78) + "\r\n" + strings.Repeat("x", 22); body.Content != want {
		t.Errorf("Content: got %q", body.Content)
	}
	atts := body.Attachments()
	if len(atts) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(atts))
	}
	if atts[0].Mimetype != "image/png" || string(atts[0].ContentEncoded) != "\x89PNG" {
		t.Errorf("attachment: got %q %q", atts[0].Mimetype, atts[0].ContentEncoded)
	}
}

func TestComposeRejectsAmbiguousSender(t *testing.T) {
	t.Parallel()

	_, err := Compose(&Draft{Meta: Meta{
		From: []Mailbox{{Address: "a@example.org"}, {Address: "b@example.org"}},
		To:   []EmlAddr{Single(Mailbox{Address: "c@example.org"})},
	}}, NewBoundary())
	if !errors.Is(err, ErrAmbiguousSender) {
		t.Fatalf("expected ErrAmbiguousSender, got %v", err)
	}
}

func TestDraftMessageIDMatchesCompose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"minted from timestamp", "", "1700000000.unknown.enid@blyt.on"},
		{"kept and re-slotted", "1700000005.thread-1.@unknown", "1700000005.thread-1.enid@blyt.on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := &Draft{Meta: Meta{
				ID:        tt.id,
				Timestamp: 1700000000,
				From:      []Mailbox{{Address: "me@example.org"}},
				To:        []EmlAddr{Single(Mailbox{Address: "enid@blyt.on"})},
			}}
			id, err := d.MessageID()
			if err != nil {
				t.Fatal(err)
			}
			if id != tt.want {
				t.Errorf("MessageID() = %q, want %q", id, tt.want)
			}

			raw, err := Compose(d, NewBoundary())
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(raw, "Message-ID: <"+id+">\r\n") {
				t.Errorf("composed message lacks Message-ID <%s>:\n%s", id, raw)
			}
		})
	}
}

func TestNewBoundaryIsUnique(t *testing.T) {
	t.Parallel()

	a, b := NewBoundary(), NewBoundary()
	if a == b {
		t.Error("boundaries must differ")
	}
	if strings.ContainsAny(a, " \"") {
		t.Errorf("boundary %q needs quoting", a)
	}
}
