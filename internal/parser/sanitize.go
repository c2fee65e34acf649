package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Cleaner sanitizes untrusted HTML mail bodies for display
type Cleaner struct {
	policy *bluemonday.Policy
}

// NewCleaner creates a cleaner based on the user generated content policy
func NewCleaner() *Cleaner {
	return &Cleaner{policy: bluemonday.UGCPolicy()}
}

// Clean strips unsafe markup, drops remote image sources and makes every
// link open externally with its target shown on hover.
func (c *Cleaner) Clean(html string) string {
	safe := c.policy.Sanitize(html)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(safe))
	if err != nil {
		return safe
	}

	doc.Find("img[src]").RemoveAttr("src")
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		s.SetAttr("target", "_blank")
		s.SetAttr("title", href)
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return safe
	}
	return out
}
