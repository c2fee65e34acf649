package eml

import (
	"fmt"
	"strings"
	"time"
)

const noPlaintext = "[no plaintext]"

// ReplyTemplate is a prefilled reply: the headers of the new message and
// the quoted original body.
type ReplyTemplate struct {
	Meta Meta   `json:"meta"`
	Body string `json:"body"`
}

// TemplateReply derives a reply to the message described by meta and body.
// The reply is sent as the original recipients to whoever the original asked
// replies to go to.
func TemplateReply(meta *Meta, body *Body, now time.Time) (*ReplyTemplate, error) {
	replyTo, err := meta.ResolveReplyTo()
	if err != nil {
		return nil, asParseError(err).WithID(meta.ID)
	}
	replyAddrs, err := ParseAddressList(replyTo)
	if err != nil {
		return nil, asParseError(err).WithID(meta.ID).In("Reply-To")
	}

	thread := meta.ThreadID
	if thread == "" {
		thread = "unknown"
	}

	f := NewFields()
	f.MessageID(fmt.Sprintf("<%d.%s.@unknown>", now.Unix(), thread))
	f.MessageID(f.FormatMessageIDForDestination(destinationSlot(addresses(Mailboxes(replyAddrs)), nil)))
	f.Date(now.UTC())

	if meta.Cc != nil {
		f.Cc(meta.Cc)
	}

	from := Mailboxes(meta.To)
	if len(from) == 0 && meta.ReceivedBy != nil {
		from = []Mailbox{*meta.ReceivedBy}
	}
	if len(from) == 0 {
		return nil, NewParseError().
			Kind(ErrMissingHeader).
			WithID(meta.ID).
			In("To").
			Because("No recipient to reply as")
	}
	f.From(from)

	if meta.ReplyTo != nil {
		f.To(meta.ReplyTo)
	} else {
		to := make([]EmlAddr, 0, len(meta.From))
		for _, m := range meta.From {
			to = append(to, Single(m))
		}
		f.To(to)
	}

	if meta.ID != "" {
		parent := "<" + meta.ID + ">"
		f.InReplyTo(parent)
		f.References(strings.Join(append(references(meta.References), parent), " "))
	}

	subject := ""
	if meta.Subject != nil {
		subject = strings.TrimSpace(*meta.Subject)
	}
	f.Subject(replySubject(subject))

	reply, err := f.Meta()
	if err != nil {
		return nil, asParseError(err).WithID(meta.ID)
	}
	msgID, _ := f.Get("Message-ID")
	reply.ID = strings.Trim(msgID, "<>")
	reply.ThreadID = meta.ThreadID

	return &ReplyTemplate{Meta: *reply, Body: templateBody(meta, body)}, nil
}

func templateBody(meta *Meta, body *Body) string {
	var author string
	if len(meta.From) > 0 {
		author = meta.From[len(meta.From)-1].Display()
	}
	quoted, ok := Plaintext(body)
	if !ok {
		quoted = noPlaintext
	}
	return fmt.Sprintf("\r\n\r\nOn %s, %s wrote:\r\n%s",
		time.Unix(meta.Timestamp, 0).UTC().Format(DateLayout), author, quoted)
}

func replySubject(subject string) string {
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	if subject == "" {
		return "Re:"
	}
	return "Re: " + subject
}

// references splits a References value into ids, each in angle brackets.
func references(raw *string) []string {
	if raw == nil {
		return nil
	}
	var out []string
	for _, id := range strings.Fields(*raw) {
		id = strings.Trim(id, "<>")
		if id != "" {
			out = append(out, "<"+id+">")
		}
	}
	return out
}

func addresses(mboxes []Mailbox) []string {
	out := make([]string, 0, len(mboxes))
	for _, m := range mboxes {
		out = append(out, m.Address)
	}
	return out
}
