package eml

import (
	"fmt"
	"maps"
	"mime"
	"net/mail"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the RFC 2822 date form used in rendered headers.
const DateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// Fields is the header set of an outgoing message. Values are stored in
// their rendered wire form.
type Fields struct {
	m map[string]string
}

// NewFields returns an empty field set.
func NewFields() *Fields {
	return &Fields{m: make(map[string]string)}
}

// FieldsOf builds a field set from already rendered values.
func FieldsOf(kv map[string]string) *Fields {
	f := NewFields()
	for k, v := range kv {
		f.m[k] = v
	}
	return f
}

func (f *Fields) set(name, value string) *Fields {
	f.m[name] = value
	return f
}

// Cc sets the Cc header.
func (f *Fields) Cc(addrs []EmlAddr) *Fields { return f.set("Cc", FormatAddrList(addrs)) }

// Bcc sets the Bcc header.
func (f *Fields) Bcc(addrs []EmlAddr) *Fields { return f.set("Bcc", FormatAddrList(addrs)) }

// Date sets the Date header in RFC 2822 form.
func (f *Fields) Date(t time.Time) *Fields { return f.set("Date", t.Format(DateLayout)) }

// From sets the From header.
func (f *Fields) From(from []Mailbox) *Fields { return f.set("From", FormatMailboxes(from)) }

// InReplyTo sets the In-Reply-To header. id keeps its angle brackets.
func (f *Fields) InReplyTo(id string) *Fields { return f.set("In-Reply-To", id) }

// MessageID sets the Message-ID header. id keeps its angle brackets.
func (f *Fields) MessageID(id string) *Fields { return f.set("Message-ID", id) }

// References sets the References header from a space separated id chain.
func (f *Fields) References(refs string) *Fields { return f.set("References", refs) }

// ReplyTo sets the Reply-To header.
func (f *Fields) ReplyTo(addrs []EmlAddr) *Fields { return f.set("Reply-To", FormatAddrList(addrs)) }

// Sender sets the Sender header.
func (f *Fields) Sender(m Mailbox) *Fields { return f.set("Sender", m.String()) }

// Subject sets the Subject header, Q-encoded when it is not plain ASCII.
func (f *Fields) Subject(s string) *Fields {
	return f.set("Subject", mime.QEncoding.Encode("utf-8", s))
}

// To sets the To header.
func (f *Fields) To(addrs []EmlAddr) *Fields { return f.set("To", FormatAddrList(addrs)) }

// Get returns the rendered value of a header.
func (f *Fields) Get(name string) (string, bool) {
	v, ok := f.m[name]
	return v, ok
}

// Names returns the header names in sorted order.
func (f *Fields) Names() []string {
	return slices.Sorted(maps.Keys(f.m))
}

// FormatFields renders the header block without a trailing line break.
// Bcc is always rendered without its value.
func (f *Fields) FormatFields() string {
	lines := make([]string, 0, len(f.m))
	for _, name := range f.Names() {
		if name == "Bcc" {
			lines = append(lines, "Bcc:")
			continue
		}
		lines = append(lines, name+": "+f.m[name])
	}
	return strings.Join(lines, "\r\n")
}

// FormatMessage wraps a body that already carries its part delimiters into
// a multipart/mixed message.
func (f *Fields) FormatMessage(body, boundary string) string {
	return fmt.Sprintf("%s\r\nContent-Type: multipart/mixed; boundary=%s\r\n\r\n%s\r\n--%s--",
		f.FormatFields(), boundary, body, boundary)
}

var messageIDRe = regexp.MustCompile(`^<([^.<>]*)\.([^.<>]*)\.([^<>]*)>$`)

// FormatMessageIDForDestination rewrites the destination slot of the
// current `<timestamp.thread.destination>` Message-ID. Without a
// Message-ID of that shape a new one is minted from Date, or now.
func (f *Fields) FormatMessageIDForDestination(dest string) string {
	if cur, ok := f.m["Message-ID"]; ok {
		if m := messageIDRe.FindStringSubmatch(cur); m != nil {
			return fmt.Sprintf("<%s.%s.%s>", m[1], m[2], dest)
		}
	}

	ts := time.Now().Unix()
	if d, ok := f.m["Date"]; ok {
		if t, err := mail.ParseDate(d); err == nil {
			ts = t.Unix()
		}
	}
	return fmt.Sprintf("<%d.unknown.%s>", ts, dest)
}

// BumpMessageID moves the timestamp slot of a `timestamp.thread.destination`
// id (without angle brackets) one second forward. Ids of any other shape
// are returned unchanged with false.
func BumpMessageID(id string) (string, bool) {
	m := messageIDRe.FindStringSubmatch("<" + id + ">")
	if m == nil {
		return id, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return id, false
	}
	return fmt.Sprintf("%d.%s.%s", ts+1, m[2], m[3]), true
}

// ResolveSender returns the single address responsible for the message:
// the Sender when set, otherwise the only From mailbox.
func (f *Fields) ResolveSender() (string, error) {
	if sender, ok := f.m["Sender"]; ok {
		mboxes, err := f.mailboxes("Sender", sender)
		if err != nil {
			return "", err
		}
		if len(mboxes) != 1 {
			return "", NewParseError().
				Kind(ErrAmbiguousSender).
				In("Sender").
				Because("Must have exactly one Sender (if present)")
		}
		return mboxes[0].Address, nil
	}

	from, ok := f.m["From"]
	if !ok {
		return "", NewParseError().Kind(ErrMissingHeader).In("From").Because("Missing From header")
	}
	mboxes, err := f.mailboxes("From", from)
	if err != nil {
		return "", err
	}
	switch {
	case len(mboxes) > 1:
		return "", NewParseError().
			Kind(ErrAmbiguousSender).
			In("From").
			Because("Must set Sender if multiple From addresses")
	case len(mboxes) == 0:
		return "", NewParseError().Kind(ErrMissingHeader).In("From").Because("Missing From address")
	}
	return mboxes[0].Address, nil
}

// ResolveReplyTo returns the rendered Reply-To, falling back to From.
func (f *Fields) ResolveReplyTo() (string, error) {
	if v, ok := f.m["Reply-To"]; ok {
		return v, nil
	}
	if v, ok := f.m["From"]; ok {
		return v, nil
	}
	return "", NewParseError().Kind(ErrMissingHeader).In("From").Because("Missing header")
}

// Destinations returns every recipient address of To, Cc and Bcc, in
// that order, with groups expanded.
func (f *Fields) Destinations() ([]string, error) {
	var out []string
	for _, name := range []string{"To", "Cc", "Bcc"} {
		v, ok := f.m[name]
		if !ok {
			continue
		}
		mboxes, err := f.mailboxes(name, v)
		if err != nil {
			return nil, err
		}
		for _, m := range mboxes {
			out = append(out, m.Address)
		}
	}
	return out, nil
}

// DestinationSlot condenses the destinations into the last Message-ID
// component.
func (f *Fields) DestinationSlot() string {
	return destinationSlot(f.Destinations())
}

func destinationSlot(dests []string, err error) string {
	if err != nil {
		return "@unknown"
	}
	switch len(dests) {
	case 0:
		return "@unknown"
	case 1:
		return dests[0]
	default:
		return "@multiple"
	}
}

func (f *Fields) mailboxes(name, value string) ([]Mailbox, error) {
	addrs, err := ParseAddressList(value)
	if err != nil {
		return nil, asParseError(err).In(name)
	}
	return Mailboxes(addrs), nil
}

// FieldsFromMeta renders metadata into a header set. The Message-ID is
// minted for the metadata's destinations.
func FieldsFromMeta(m *Meta) *Fields {
	f := NewFields()
	if m.Cc != nil {
		f.Cc(m.Cc)
	}
	if m.Bcc != nil {
		f.Bcc(m.Bcc)
	}
	if m.InReplyTo != nil {
		f.InReplyTo(*m.InReplyTo)
	}
	if m.References != nil {
		f.References(*m.References)
	}
	if m.ReplyTo != nil {
		f.ReplyTo(m.ReplyTo)
	}
	if m.Sender != nil {
		f.Sender(*m.Sender)
	}
	if m.Subject != nil {
		f.Subject(*m.Subject)
	}
	if m.To != nil {
		f.To(m.To)
	}
	f.From(m.From)
	f.Date(time.Unix(m.Timestamp, 0).UTC())
	f.MessageID(f.FormatMessageIDForDestination(f.DestinationSlot()))
	return f
}

// Meta parses the rendered fields back into metadata. Store identifiers
// and tags cannot be recovered and are left empty.
func (f *Fields) Meta() (*Meta, error) {
	meta := &Meta{Tags: []string{}}

	list := func(name string, keepEmpty bool) ([]EmlAddr, error) {
		v, ok := f.m[name]
		if !ok {
			return nil, nil
		}
		addrs, err := ParseAddressList(v)
		if err != nil {
			return nil, asParseError(err).In(name)
		}
		if len(addrs) == 0 && !keepEmpty {
			return nil, nil
		}
		return addrs, nil
	}

	var err error
	if meta.Bcc, err = list("Bcc", true); err != nil {
		return nil, err
	}
	if meta.Cc, err = list("Cc", true); err != nil {
		return nil, err
	}
	if meta.ReplyTo, err = list("Reply-To", false); err != nil {
		return nil, err
	}
	if meta.To, err = list("To", false); err != nil {
		return nil, err
	}

	from, ok := f.m["From"]
	if !ok {
		return nil, NewParseError().Kind(ErrMissingHeader).In("From").Because("Missing header")
	}
	if meta.From, err = ParseMailboxList(from); err != nil {
		return nil, asParseError(err).In("From")
	}

	if v, ok := f.m["Sender"]; ok {
		addrs, err := ParseAddressList(v)
		if err != nil {
			return nil, asParseError(err).In("Sender")
		}
		switch len(addrs) {
		case 0:
		case 1:
			m, err := TryMailbox(addrs[0])
			if err != nil {
				return nil, asParseError(err).In("Sender")
			}
			meta.Sender = &m
		default:
			return nil, NewParseError().Kind(ErrAmbiguousSender).In("Sender").Because("Too many Senders")
		}
	}

	if v, ok := f.m["Date"]; ok {
		if t, err := mail.ParseDate(v); err == nil {
			meta.Timestamp = t.Unix()
		}
	}
	meta.InReplyTo = f.optional("In-Reply-To")
	meta.References = f.optional("References")
	meta.Subject = f.optional("Subject")
	if meta.Subject != nil {
		if decoded, err := wordDecoder.DecodeHeader(*meta.Subject); err == nil {
			meta.Subject = &decoded
		}
	}
	return meta, nil
}

func (f *Fields) optional(name string) *string {
	v, ok := f.m[name]
	if !ok {
		return nil
	}
	return &v
}
