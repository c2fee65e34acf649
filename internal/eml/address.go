package eml

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Mailbox is a single address with an optional display name. Address is
// always the bare addr-spec.
type Mailbox struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// String renders the mailbox in wire form. The display name is always
// quoted, even when empty.
func (m Mailbox) String() string {
	return quoteString(m.Name) + " <" + m.Address + ">"
}

// Display renders the mailbox for people: `Name <address>`, or the bare
// address when there is no name.
func (m Mailbox) Display() string {
	if m.Name == "" {
		return m.Address
	}
	return m.Name + " <" + m.Address + ">"
}

// AddrKind discriminates the two shapes of an address-list entry.
type AddrKind int

const (
	AddrSingle AddrKind = iota
	AddrGroup
)

// EmlAddr is one entry of an address-list header: a single mailbox or a
// named group of mailboxes.
type EmlAddr struct {
	kind    AddrKind
	single  Mailbox
	name    string
	members []Mailbox
}

// Single wraps a mailbox as an address-list entry.
func Single(m Mailbox) EmlAddr {
	return EmlAddr{kind: AddrSingle, single: m}
}

// Group builds a named group entry.
func Group(name string, members ...Mailbox) EmlAddr {
	return EmlAddr{kind: AddrGroup, name: name, members: append([]Mailbox{}, members...)}
}

// Kind reports whether the entry is a single mailbox or a group.
func (a EmlAddr) Kind() AddrKind { return a.kind }

// Mailbox returns the wrapped mailbox of a single entry.
func (a EmlAddr) Mailbox() (Mailbox, bool) {
	return a.single, a.kind == AddrSingle
}

// GroupName returns the display name of a group entry.
func (a EmlAddr) GroupName() string { return a.name }

// Members returns the mailboxes of a group entry.
func (a EmlAddr) Members() []Mailbox { return a.members }

// String renders the entry in wire form: `name: m1, m2;` for a group,
// the mailbox form otherwise.
func (a EmlAddr) String() string {
	if a.kind == AddrSingle {
		return a.single.String()
	}
	parts := make([]string, 0, len(a.members))
	for _, m := range a.members {
		parts = append(parts, m.String())
	}
	if len(parts) == 0 {
		return formatPhrase(a.name) + ":;"
	}
	return formatPhrase(a.name) + ": " + strings.Join(parts, ", ") + ";"
}

type groupJSON struct {
	Name    string    `json:"name"`
	Members []Mailbox `json:"members"`
}

func (a EmlAddr) MarshalJSON() ([]byte, error) {
	if a.kind == AddrGroup {
		members := a.members
		if members == nil {
			members = []Mailbox{}
		}
		return json.Marshal(groupJSON{Name: a.name, Members: members})
	}
	return json.Marshal(a.single)
}

func (a *EmlAddr) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string     `json:"name"`
		Address *string    `json:"address"`
		Members *[]Mailbox `json:"members"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Members != nil:
		*a = Group(raw.Name, *raw.Members...)
	case raw.Address != nil:
		*a = Single(Mailbox{Name: raw.Name, Address: *raw.Address})
	default:
		return errors.New("address entry has neither address nor members")
	}
	return nil
}

// TryMailbox narrows an entry to a mailbox; groups are rejected.
func TryMailbox(a EmlAddr) (Mailbox, error) {
	if m, ok := a.Mailbox(); ok {
		return m, nil
	}
	return Mailbox{}, NewParseError().
		Kind(ErrMalformedAddress).
		Because(fmt.Sprintf("not a single mailbox: group %q", a.name))
}

// Mailboxes flattens entries into their mailboxes, expanding groups.
func Mailboxes(addrs []EmlAddr) []Mailbox {
	var out []Mailbox
	for _, a := range addrs {
		if m, ok := a.Mailbox(); ok {
			out = append(out, m)
			continue
		}
		out = append(out, a.members...)
	}
	return out
}

// FormatAddrList renders entries as a comma separated header value.
func FormatAddrList(addrs []EmlAddr) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// FormatMailboxes renders mailboxes as a comma separated header value.
func FormatMailboxes(mboxes []Mailbox) string {
	parts := make([]string, 0, len(mboxes))
	for _, m := range mboxes {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ", ")
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// ParseAddressList parses an address-list header value. Groups are kept as
// groups; an empty value yields an empty list. The caller attributes the
// error to a header.
func ParseAddressList(raw string) ([]EmlAddr, error) {
	entries, err := splitAddressList(raw)
	if err != nil {
		return nil, malformed(err)
	}

	addrs := make([]EmlAddr, 0, len(entries))
	for _, e := range entries {
		if !e.group {
			m, err := parseMailbox(e.text)
			if err != nil {
				return nil, malformed(err)
			}
			addrs = append(addrs, Single(m))
			continue
		}

		var members []Mailbox
		if strings.TrimSpace(e.text) != "" {
			list, err := mail.ParseAddressList(e.text)
			if err != nil {
				return nil, malformed(fmt.Errorf("group %q: %w", e.name, err))
			}
			for _, a := range list {
				members = append(members, Mailbox{Name: a.Name, Address: a.Address})
			}
		}
		addrs = append(addrs, Group(decodePhrase(e.name), members...))
	}
	return addrs, nil
}

// ParseMailboxList parses a header that may only contain single mailboxes,
// such as From.
func ParseMailboxList(raw string) ([]Mailbox, error) {
	addrs, err := ParseAddressList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Mailbox, 0, len(addrs))
	for _, a := range addrs {
		m, err := TryMailbox(a)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func malformed(err error) *ParseError {
	return NewParseError().Kind(ErrMalformedAddress).Because(err.Error())
}

func parseMailbox(text string) (Mailbox, error) {
	a, err := mail.ParseAddress(text)
	if err != nil {
		return Mailbox{}, err
	}
	return Mailbox{Name: a.Name, Address: a.Address}, nil
}

type listEntry struct {
	group bool
	name  string
	text  string
}

// splitAddressList cuts an address list at top-level commas, recognising
// groups (`name: members;`). Quoted strings, comments and angle addresses
// are skipped over.
func splitAddressList(raw string) ([]listEntry, error) {
	var (
		entries   []listEntry
		cur       strings.Builder
		inQuote   bool
		escaped   bool
		comment   int
		angle     bool
		inGroup   bool
		groupName string
	)

	push := func() {
		text := strings.TrimSpace(cur.String())
		cur.Reset()
		if text != "" {
			entries = append(entries, listEntry{text: text})
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case inQuote:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inQuote = false
			}
		case comment > 0:
			switch c {
			case '\\':
				escaped = true
			case '(':
				comment++
			case ')':
				comment--
			}
		case c == '"':
			inQuote = true
		case c == '(':
			comment++
		case c == '<':
			if angle {
				return nil, errors.New("nested angle-addr")
			}
			angle = true
		case c == '>':
			if !angle {
				return nil, errors.New("unexpected '>'")
			}
			angle = false
		case angle:
		case c == ':' && !inGroup:
			groupName = strings.TrimSpace(cur.String())
			if groupName == "" {
				return nil, errors.New("group without a display name")
			}
			cur.Reset()
			inGroup = true
			continue
		case c == ';' && inGroup:
			entries = append(entries, listEntry{group: true, name: groupName, text: cur.String()})
			cur.Reset()
			inGroup = false
			continue
		case c == ',' && !inGroup:
			push()
			continue
		}
		cur.WriteByte(c)
	}

	switch {
	case inQuote:
		return nil, errors.New("unterminated quoted string")
	case comment > 0:
		return nil, errors.New("unterminated comment")
	case angle:
		return nil, errors.New("unterminated angle-addr")
	case inGroup:
		return nil, fmt.Errorf("group %q is missing its terminating ';'", groupName)
	}
	push()
	return entries, nil
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// formatPhrase renders a display name bare when it is made of atoms and
// spaces, quoted otherwise.
func formatPhrase(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r > 0x7e || r < 0x20 || strings.ContainsRune(`()<>[]:;@\,."`, r) {
			return quoteString(s)
		}
	}
	return s
}

func decodePhrase(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.NewReplacer(`\\`, `\`, `\"`, `"`).Replace(s[1 : len(s)-1])
	}
	if decoded, err := wordDecoder.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}
