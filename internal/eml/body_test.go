package eml

import "testing"

func TestPlaintextPrecedence(t *testing.T) {
	t.Parallel()

	leaf := func(mimetype, content string) *Body {
		return &Body{Mimetype: mimetype, Content: content}
	}

	tests := []struct {
		name   string
		body   *Body
		want   string
		wantOK bool
	}{
		{
			name:   "root only",
			body:   leaf("text/plain", "X"),
			want:   "X",
			wantOK: true,
		},
		{
			name: "alternative wins over plain root",
			body: &Body{
				Mimetype:     "text/plain",
				Content:      "X",
				Alternatives: []*Body{leaf("text/plain", "Y")},
			},
			want:   "Y",
			wantOK: true,
		},
		{
			name: "plain alternative behind html root",
			body: &Body{
				Mimetype:     "text/html",
				Content:      "<p>X</p>",
				Alternatives: []*Body{leaf("text/html", "<p>Z</p>"), leaf("text/plain", "Y")},
			},
			want:   "Y",
			wantOK: true,
		},
		{
			name: "plain root behind html alternative",
			body: &Body{
				Mimetype:     "text/plain",
				Content:      "X",
				Alternatives: []*Body{leaf("text/html", "<p>Y</p>")},
			},
			want:   "X",
			wantOK: true,
		},
		{
			name: "first of several plain alternatives",
			body: &Body{
				Mimetype:     "text/html",
				Alternatives: []*Body{leaf("text/plain", "first"), leaf("text/plain", "second")},
			},
			want:   "first",
			wantOK: true,
		},
		{
			name: "extra parts are not searched",
			body: &Body{
				Mimetype: "text/html",
				Extra:    []*Body{leaf("text/plain", "attached")},
			},
			wantOK: false,
		},
		{
			name:   "nil body",
			body:   nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := Plaintext(tt.body)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAttachmentsSkipSignature(t *testing.T) {
	t.Parallel()

	name := "sig.asc"
	body := &Body{
		Mimetype:  "text/plain",
		Signature: &Body{Mimetype: "application/pgp-signature", Filename: &name},
	}
	if got := body.Attachments(); len(got) != 0 {
		t.Errorf("got %d attachments, want 0", len(got))
	}
}
