package database

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidQuery is returned for a search query that cannot be compiled
var ErrInvalidQuery = errors.New("invalid query")

type tokenKind int

const (
	tokWord tokenKind = iota
	tokLParen
	tokRParen
)

type token struct {
	kind   tokenKind
	text   string
	quoted bool
}

// tokenize splits a query into words, quoted values and parentheses.
// A quote may start inside a word, as in subject:"hello world".
func tokenize(q string) ([]token, error) {
	var (
		toks []token
		cur  strings.Builder
		in   bool
		has  bool
		qt   bool
	)
	flush := func() {
		if has {
			toks = append(toks, token{kind: tokWord, text: cur.String(), quoted: qt})
		}
		cur.Reset()
		has, qt = false, false
	}

	for _, r := range q {
		switch {
		case in && r == '"':
			in = false
		case in:
			cur.WriteRune(r)
		case r == '"':
			in, has, qt = true, true, true
		case r == '(' || r == ')':
			flush()
			kind := tokLParen
			if r == ')' {
				kind = tokRParen
			}
			toks = append(toks, token{kind: kind, text: string(r)})
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	if in {
		return nil, fmt.Errorf("%w: unterminated quote", ErrInvalidQuery)
	}
	flush()
	return toks, nil
}

type compiler struct {
	toks []token
	pos  int
	args []any
}

// CompileQuery turns a search query into an SQL condition over the
// messages table aliased as m. An empty query matches everything.
//
// Terms are tag:, id:, thread:, from:, to:, subject: or bare words, which
// match sender, recipients and subject. "*" matches all messages. Terms
// combine with and, or, not and parentheses; adjacent terms are and-ed.
func CompileQuery(q string) (string, []any, error) {
	toks, err := tokenize(q)
	if err != nil {
		return "", nil, err
	}
	if len(toks) == 0 {
		return "1", nil, nil
	}

	c := &compiler{toks: toks}
	where, err := c.or()
	if err != nil {
		return "", nil, err
	}
	if c.pos < len(c.toks) {
		return "", nil, fmt.Errorf("%w: unexpected %q", ErrInvalidQuery, c.toks[c.pos].text)
	}
	return where, c.args, nil
}

func (c *compiler) peek() (token, bool) {
	if c.pos >= len(c.toks) {
		return token{}, false
	}
	return c.toks[c.pos], true
}

func (c *compiler) keyword(word string) bool {
	t, ok := c.peek()
	return ok && t.kind == tokWord && !t.quoted && strings.EqualFold(t.text, word)
}

func (c *compiler) or() (string, error) {
	left, err := c.and()
	if err != nil {
		return "", err
	}
	for c.keyword("or") {
		c.pos++
		right, err := c.and()
		if err != nil {
			return "", err
		}
		left = "(" + left + " OR " + right + ")"
	}
	return left, nil
}

func (c *compiler) and() (string, error) {
	left, err := c.not()
	if err != nil {
		return "", err
	}
	for {
		t, ok := c.peek()
		if !ok || t.kind == tokRParen || c.keyword("or") {
			return left, nil
		}
		if c.keyword("and") {
			c.pos++
		}
		right, err := c.not()
		if err != nil {
			return "", err
		}
		left = "(" + left + " AND " + right + ")"
	}
}

func (c *compiler) not() (string, error) {
	if c.keyword("not") {
		c.pos++
		inner, err := c.not()
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil
	}
	return c.term()
}

func (c *compiler) term() (string, error) {
	t, ok := c.peek()
	if !ok {
		return "", fmt.Errorf("%w: unexpected end of query", ErrInvalidQuery)
	}
	c.pos++

	switch t.kind {
	case tokLParen:
		inner, err := c.or()
		if err != nil {
			return "", err
		}
		if end, ok := c.peek(); !ok || end.kind != tokRParen {
			return "", fmt.Errorf("%w: missing closing parenthesis", ErrInvalidQuery)
		}
		c.pos++
		return "(" + inner + ")", nil
	case tokRParen:
		return "", fmt.Errorf("%w: unexpected %q", ErrInvalidQuery, t.text)
	}

	if !t.quoted && (t.text == "*" || strings.EqualFold(t.text, "and") || strings.EqualFold(t.text, "or")) {
		if t.text == "*" {
			return "1", nil
		}
		return "", fmt.Errorf("%w: unexpected %q", ErrInvalidQuery, t.text)
	}

	field, value, found := strings.Cut(t.text, ":")
	if !found {
		return c.like(t.text, "m.from_addr", "m.to_addr", "m.subject"), nil
	}

	switch strings.ToLower(field) {
	case "tag":
		c.args = append(c.args, value)
		return "EXISTS (SELECT 1 FROM tags t WHERE t.message_id = m.id AND t.tag = ?)", nil
	case "id":
		c.args = append(c.args, normalizeID(value))
		return "m.id = ?", nil
	case "thread":
		c.args = append(c.args, value)
		return "m.thread_id = ?", nil
	case "from":
		return c.like(value, "m.from_addr"), nil
	case "to":
		return c.like(value, "m.to_addr"), nil
	case "subject":
		return c.like(value, "m.subject"), nil
	default:
		return c.like(t.text, "m.from_addr", "m.to_addr", "m.subject"), nil
	}
}

func (c *compiler) like(value string, columns ...string) string {
	pattern := "%" + escapeLike(value) + "%"
	conds := make([]string, 0, len(columns))
	for _, col := range columns {
		conds = append(conds, col+` LIKE ? ESCAPE '\'`)
		c.args = append(c.args, pattern)
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
