package eml

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type prefixSanitizer struct{}

func (prefixSanitizer) Clean(html string) string { return "clean:" + html }

func decompose(t *testing.T, lines ...string) (*Body, error) {
	t.Helper()
	return NewDecomposer(prefixSanitizer{}).Decompose(strings.NewReader(strings.Join(lines, "\r\n")))
}

// multipart builds a multipart/<subtype> message with one text/plain
// child per content.
func multipart(subtype string, contents ...string) []string {
	lines := []string{
		"From: a@example.org",
		"Content-Type: multipart/" + subtype + "; boundary=XYZ",
		"",
	}
	for _, c := range contents {
		lines = append(lines, "--XYZ", "Content-Type: text/plain", "", c)
	}
	return append(lines, "--XYZ--", "")
}

func TestDecomposeLeaf(t *testing.T) {
	t.Parallel()

	body, err := decompose(t,
		"From: a@example.org",
		"Subject: hi",
		"",
		"Hello there.",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Mimetype != "text/plain" {
		t.Errorf("Mimetype: got %q, want text/plain", body.Mimetype)
	}
	if body.Content != "Hello there." {
		t.Errorf("Content: got %q", body.Content)
	}
	if body.Disposition != "inline" {
		t.Errorf("Disposition: got %q, want inline", body.Disposition)
	}
	if body.Relation() != RelationNone {
		t.Errorf("Relation: got %v, want none", body.Relation())
	}
	if body.ContentBase64 != nil {
		t.Errorf("ContentBase64: got %q, want nil", *body.ContentBase64)
	}
}

func TestDecomposeAlternativeKeepsOrder(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("%d children", n), func(t *testing.T) {
			t.Parallel()

			contents := make([]string, n)
			for i := range contents {
				contents[i] = fmt.Sprintf("rendering %d", i)
			}
			body, err := decompose(t, multipart("alternative", contents...)...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body.Content != contents[0] {
				t.Errorf("Content: got %q, want %q", body.Content, contents[0])
			}
			if len(body.Alternatives) != n-1 {
				t.Fatalf("Alternatives: got %d, want %d", len(body.Alternatives), n-1)
			}
			for i, alt := range body.Alternatives {
				if alt.Content != contents[i+1] {
					t.Errorf("alternative %d: got %q, want %q", i, alt.Content, contents[i+1])
				}
			}
			if len(body.Extra) != 0 || body.Signature != nil {
				t.Error("alternative node must not populate extra or signature")
			}
		})
	}
}

func TestDecomposeMixed(t *testing.T) {
	t.Parallel()

	body, err := decompose(t, multipart("mixed", "main", "one", "two")...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Content != "main" {
		t.Errorf("Content: got %q, want main", body.Content)
	}
	if body.Relation() != RelationExtra || len(body.Extra) != 2 {
		t.Fatalf("Extra: got relation %v with %d parts", body.Relation(), len(body.Extra))
	}
}

func TestDecomposeNestedKeepsInnerChildren(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subtype string
		want    string
		got     func(*Body) []*Body
	}{
		{"alternative", "b,c", func(b *Body) []*Body { return b.Alternatives }},
		{"mixed", "b,c", func(b *Body) []*Body { return b.Extra }},
	}

	for _, tt := range tests {
		t.Run(tt.subtype, func(t *testing.T) {
			t.Parallel()

			body, err := decompose(t,
				"Content-Type: multipart/"+tt.subtype+"; boundary=OUTER",
				"",
				"--OUTER",
				"Content-Type: multipart/"+tt.subtype+"; boundary=INNER",
				"",
				"--INNER",
				"Content-Type: text/plain",
				"",
				"a",
				"--INNER",
				"Content-Type: text/html",
				"",
				"b",
				"--INNER--",
				"--OUTER",
				"Content-Type: text/enriched",
				"",
				"c",
				"--OUTER--",
				"",
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body.Content != "a" {
				t.Errorf("Content: got %q, want a", body.Content)
			}

			var contents []string
			for _, child := range tt.got(body) {
				contents = append(contents, strings.TrimPrefix(child.Content, "clean:"))
			}
			if got := strings.Join(contents, ","); got != tt.want {
				t.Errorf("children: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecomposeSignedNeedsExactlyOneSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		children int
		wantErr  bool
	}{
		{children: 1, wantErr: true},
		{children: 2, wantErr: false},
		{children: 3, wantErr: true},
		{children: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d children", tt.children), func(t *testing.T) {
			t.Parallel()

			contents := make([]string, tt.children)
			for i := range contents {
				contents[i] = fmt.Sprintf("part %d", i)
			}
			body, err := decompose(t, multipart("signed", contents...)...)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedStructure) {
					t.Fatalf("expected ErrUnsupportedStructure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body.Signature == nil || body.Signature.Content != "part 1" {
				t.Fatalf("Signature: got %+v", body.Signature)
			}
			if body.Relation() != RelationSignature {
				t.Errorf("Relation: got %v, want signature", body.Relation())
			}
		})
	}
}

func TestDecomposeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lines  []string
		kind   error
		reason string
	}{
		{
			name:   "unknown multipart",
			lines:  multipart("related", "a", "b"),
			kind:   ErrUnsupportedStructure,
			reason: "multipart/related",
		},
		{
			name:   "mimetype without slash",
			lines:  []string{"Content-Type: text", "", "body"},
			kind:   ErrMalformedMimetype,
			reason: "text",
		},
		{
			name:   "multipart without boundary",
			lines:  []string{"Content-Type: multipart/mixed", "", "body"},
			kind:   ErrUnsupportedStructure,
			reason: "boundary",
		},
		{
			name:   "multipart without parts",
			lines:  []string{"Content-Type: multipart/mixed; boundary=XYZ", "", "--XYZ--", ""},
			kind:   ErrUnsupportedStructure,
			reason: "without parts",
		},
		{
			name: "nested failure aborts the tree",
			lines: []string{
				"Content-Type: multipart/mixed; boundary=OUTER",
				"",
				"--OUTER",
				"Content-Type: text/plain",
				"",
				"fine",
				"--OUTER",
				"Content-Type: multipart/report; boundary=INNER",
				"",
				"--INNER",
				"Content-Type: text/plain",
				"",
				"report",
				"--INNER--",
				"--OUTER--",
				"",
			},
			kind:   ErrUnsupportedStructure,
			reason: "multipart/report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			body, err := decompose(t, tt.lines...)
			if err == nil {
				t.Fatalf("expected error, got body %+v", body)
			}
			if body != nil {
				t.Error("no partial tree may be returned")
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("error %v is not %v", err, tt.kind)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q should mention %q", err.Error(), tt.reason)
			}
		})
	}
}

func TestDecomposeEncodings(t *testing.T) {
	t.Parallel()

	t.Run("base64", func(t *testing.T) {
		t.Parallel()

		body, err := decompose(t,
			"Content-Type: text/plain; charset=utf-8",
			"Content-Transfer-Encoding: base64",
			"",
			"SGVsbG8sIHdvcmxk",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if body.Content != "Hello, world" {
			t.Errorf("Content: got %q", body.Content)
		}
		if string(body.ContentEncoded) != "Hello, world" {
			t.Errorf("ContentEncoded: got %q", body.ContentEncoded)
		}
		if body.ContentBase64 == nil || *body.ContentBase64 != "SGVsbG8sIHdvcmxk" {
			t.Errorf("ContentBase64: got %v", body.ContentBase64)
		}
	})

	t.Run("quoted-printable latin1", func(t *testing.T) {
		t.Parallel()

		body, err := decompose(t,
			"Content-Type: text/plain; charset=iso-8859-1",
			"Content-Transfer-Encoding: quoted-printable",
			"",
			"caf=E9",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if body.Content != "café" {
			t.Errorf("Content: got %q, want café", body.Content)
		}
		if want := []byte{'c', 'a', 'f', 0xe9}; string(body.ContentEncoded) != string(want) {
			t.Errorf("ContentEncoded: got %v, want %v", body.ContentEncoded, want)
		}
		if body.ContentBase64 != nil {
			t.Error("ContentBase64 must be nil for quoted-printable")
		}
	})
}

func TestDecomposeHTMLIsSanitized(t *testing.T) {
	t.Parallel()

	body, err := decompose(t,
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>hi</p>",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !body.IsCleanedHTML {
		t.Error("IsCleanedHTML: got false")
	}
	if body.Content != "clean:<p>hi</p>" {
		t.Errorf("Content: got %q", body.Content)
	}

	raw, err := NewDecomposer(nil).Decompose(strings.NewReader("Content-Type: text/html\r\n\r\n<p>hi</p>"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.IsCleanedHTML || raw.Content != "<p>hi</p>" {
		t.Errorf("without sanitizer: got %q cleaned=%v", raw.Content, raw.IsCleanedHTML)
	}
}

func TestDecomposeAttachments(t *testing.T) {
	t.Parallel()

	body, err := decompose(t,
		"Content-Type: multipart/mixed; boundary=XYZ",
		"",
		"--XYZ",
		"Content-Type: multipart/alternative; boundary=ALT",
		"",
		"--ALT",
		"Content-Type: text/plain",
		"",
		"plain",
		"--ALT",
		"Content-Type: text/html",
		"",
		"<b>rich</b>",
		"--ALT--",
		"--XYZ",
		"Content-Type: application/pdf; name=\"ignored.pdf\"",
		"Content-Disposition: ATTACHMENT; filename=\"report.pdf\"; size=5",
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0=",
		"--XYZ",
		"Content-Type: image/png; name=\"logo.png\"",
		"Content-Transfer-Encoding: base64",
		"",
		"iVBORw==",
		"--XYZ--",
		"",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if body.Content != "plain" || len(body.Alternatives) != 1 {
		t.Fatalf("root: got %q with %d alternatives", body.Content, len(body.Alternatives))
	}
	if text, ok := Plaintext(body); !ok || text != "plain" {
		t.Errorf("Plaintext: got %q, %v", text, ok)
	}

	atts := body.Attachments()
	if len(atts) != 2 {
		t.Fatalf("Attachments: got %d, want 2", len(atts))
	}
	pdf := atts[0]
	if pdf.Disposition != "attachment" {
		t.Errorf("Disposition: got %q, want attachment", pdf.Disposition)
	}
	if pdf.Filename == nil || *pdf.Filename != "report.pdf" {
		t.Errorf("Filename: got %v, want report.pdf", pdf.Filename)
	}
	if pdf.Size == nil || *pdf.Size != "5" {
		t.Errorf("Size: got %v, want 5", pdf.Size)
	}
	if string(pdf.ContentEncoded) != "%PDF-" {
		t.Errorf("ContentEncoded: got %q", pdf.ContentEncoded)
	}
	if logo := atts[1]; logo.Filename == nil || *logo.Filename != "logo.png" {
		t.Errorf("content-type name fallback: got %v", logo.Filename)
	}
}
