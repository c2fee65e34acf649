package parser

import (
	"strings"
	"testing"
)

func TestCleanerClean(t *testing.T) {
	t.Parallel()

	c := NewCleaner()
	got := c.Clean(`<p onclick="steal()">Hi <a href="https://example.org/x">there</a>` +
		`<img src="https://tracker.example/p.gif" alt="pixel"><script>alert(1)</script></p>`)

	for _, want := range []string{`target="_blank"`, `title="https://example.org/x"`, `href="https://example.org/x"`, `alt="pixel"`} {
		if !strings.Contains(got, want) {
			t.Errorf("cleaned html %q is missing %s", got, want)
		}
	}
	for _, banned := range []string{"<script", "onclick", "tracker.example", "<body", "<html"} {
		if strings.Contains(got, banned) {
			t.Errorf("cleaned html %q still contains %s", got, banned)
		}
	}
}

func TestCleanerPlainText(t *testing.T) {
	t.Parallel()

	if got := NewCleaner().Clean("just words"); got != "just words" {
		t.Errorf("got %q", got)
	}
}

func TestHTMLParserParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "empty",
			html: "  ",
			want: "",
		},
		{
			name: "paragraphs and breaks",
			html: "<p>Hello <b>world</b></p><p>Second<br>line</p>",
			want: "Hello world\n\nSecond\nline",
		},
		{
			name: "scripts and styles dropped",
			html: "<html><head><style>p{}</style></head><body><script>x()</script><div>Body</div></body></html>",
			want: "Body",
		},
		{
			name: "links keep their target",
			html: `<p>See <a href="https://example.org">the site</a> or <a href="https://example.org/y">https://example.org/y</a></p>`,
			want: "See the site <https://example.org> or https://example.org/y",
		},
		{
			name: "lists",
			html: "<ul><li>one</li><li>two</li></ul>",
			want: "- one\n- two",
		},
		{
			name: "quoted reply",
			html: "<p>Reply</p><blockquote><p>old</p><p>older</p></blockquote>",
			want: "Reply\n\n> old\n>\n> older",
		},
		{
			name: "invisible characters",
			html: "<p>a\u200bb\ufeffc</p>",
			want: "abc",
		},
	}

	p := NewHTMLParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := p.Parse(tt.html)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
