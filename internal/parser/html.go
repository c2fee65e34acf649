package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser renders HTML mail bodies as plain text
type HTMLParser struct {
	spaces    *regexp.Regexp
	blankRuns *regexp.Regexp
	invisible *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		spaces:    regexp.MustCompile(`[^\S\n]+`),
		blankRuns: regexp.MustCompile(`\n{3,}`),
		// zero-width and formatting characters used by trackers and templates
		invisible: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{180E}\x{2060}-\x{2064}\x{FE00}-\x{FE0F}]+`),
	}
}

// Parse converts HTML to plain text. Links keep their target in angle
// brackets and quoted blocks are prefixed with "> ".
func (p *HTMLParser) Parse(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link, title").Remove()

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if href == "" || strings.HasPrefix(href, "#") || text == href {
			return
		}
		s.AppendHtml(" &lt;" + escapeText(href) + "&gt;")
	})
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n- ")
	})
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, h1, h2, h3, h4, h5, h6, tr, table, ul, ol").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
		s.AppendHtml("\n")
	})

	var quoted []string
	doc.Find("blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("blockquote").Length() > 0 {
			return
		}
		quoted = append(quoted, p.clean(s.Text()))
		s.ReplaceWithHtml("\n" + quoteMarker(len(quoted)-1) + "\n")
	})

	text := p.clean(doc.Text())
	for i, q := range quoted {
		lines := strings.Split(q, "\n")
		for j, l := range lines {
			lines[j] = strings.TrimRight("> "+l, " ")
		}
		text = strings.Replace(text, quoteMarker(i), strings.Join(lines, "\n"), 1)
	}
	return text, nil
}

func (p *HTMLParser) clean(text string) string {
	text = p.invisible.ReplaceAllString(text, "")
	text = p.spaces.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		out = append(out, strings.TrimSpace(line))
	}
	text = strings.Join(out, "\n")
	text = p.blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func quoteMarker(i int) string {
	return "@@quote-" + strconv.Itoa(i) + "@@"
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
