package eml

import "regexp"

// StoredMessage is the view of an indexed message the extractor needs.
// Header reports whether the header is present.
type StoredMessage interface {
	ID() string
	ThreadID() string
	Date() int64
	Tags() []string
	Header(name string) (string, bool, error)
}

// Meta is the structured header snapshot of one message. Nil address
// lists mean the header was absent.
type Meta struct {
	Bcc        []EmlAddr `json:"bcc"`
	Cc         []EmlAddr `json:"cc"`
	From       []Mailbox `json:"from"`
	ID         string    `json:"id"`
	ThreadID   string    `json:"id_thread"`
	InReplyTo  *string   `json:"in_reply_to"`
	ReceivedBy *Mailbox  `json:"received_by"`
	References *string   `json:"references"`
	ReplyTo    []EmlAddr `json:"reply_to"`
	Sender     *Mailbox  `json:"sender"`
	Subject    *string   `json:"subject"`
	Tags       []string  `json:"tags"`
	To         []EmlAddr `json:"to"`
	Timestamp  int64     `json:"timestamp"`
}

// Destinations lists the recipient addresses of To, Cc and Bcc in order.
func (m *Meta) Destinations() ([]string, error) {
	return FieldsFromMeta(m).Destinations()
}

// ResolveSender returns the address that is responsible for sending.
func (m *Meta) ResolveSender() (string, error) {
	return FieldsFromMeta(m).ResolveSender()
}

// ResolveReplyTo returns the rendered address list replies should go to.
func (m *Meta) ResolveReplyTo() (string, error) {
	return FieldsFromMeta(m).ResolveReplyTo()
}

var receivedForRe = regexp.MustCompile(`for <?([^\s<>]+@[^\s<>]+\.[^\s<>;]+)>?;`)

// Extract builds the metadata of a stored message. Optional address
// headers must parse when present; From is mandatory and must only hold
// single mailboxes.
func Extract(msg StoredMessage) (*Meta, error) {
	id := msg.ID()
	fail := func(err error, header string) error {
		return asParseError(err).WithID(id).In(header)
	}

	header := func(name string) (*string, error) {
		v, ok, err := msg.Header(name)
		if err != nil {
			return nil, fail(err, name)
		}
		if !ok {
			return nil, nil
		}
		return &v, nil
	}

	addrList := func(name string) ([]EmlAddr, error) {
		v, err := header(name)
		if err != nil || v == nil {
			return nil, err
		}
		addrs, err := ParseAddressList(*v)
		if err != nil {
			return nil, fail(err, name)
		}
		return addrs, nil
	}

	meta := &Meta{
		ID:        id,
		ThreadID:  msg.ThreadID(),
		Timestamp: msg.Date(),
		Tags:      append([]string{}, msg.Tags()...),
	}

	var err error
	if meta.Bcc, err = addrList("Bcc"); err != nil {
		return nil, err
	}
	if meta.Cc, err = addrList("Cc"); err != nil {
		return nil, err
	}
	if meta.ReplyTo, err = addrList("Reply-To"); err != nil {
		return nil, err
	}
	if meta.To, err = addrList("To"); err != nil {
		return nil, err
	}

	from, err := header("From")
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, NewParseError().Kind(ErrMissingHeader).WithID(id).In("From").Because("Missing")
	}
	if meta.From, err = ParseMailboxList(*from); err != nil {
		return nil, fail(err, "From")
	}
	if len(meta.From) == 0 {
		return nil, NewParseError().Kind(ErrMissingHeader).WithID(id).In("From").Because("No mailbox in From")
	}

	if sender, err := header("Sender"); err != nil {
		return nil, err
	} else if sender != nil {
		if meta.Sender, err = singleMailbox(*sender); err != nil {
			return nil, fail(err, "Sender")
		}
	}

	received, err := header("Received")
	if err != nil {
		return nil, err
	}
	if received != nil {
		if match := receivedForRe.FindStringSubmatch(*received); match != nil {
			meta.ReceivedBy, _ = singleMailbox(match[1])
		}
	}

	if meta.InReplyTo, err = header("In-Reply-To"); err != nil {
		return nil, err
	}
	if meta.References, err = header("References"); err != nil {
		return nil, err
	}
	if meta.Subject, err = header("Subject"); err != nil {
		return nil, err
	}
	if meta.Subject != nil {
		if decoded, err := wordDecoder.DecodeHeader(*meta.Subject); err == nil {
			meta.Subject = &decoded
		}
	}
	return meta, nil
}

// singleMailbox parses an advisory header that should name one mailbox.
// Anything other than exactly one single mailbox yields nil.
func singleMailbox(raw string) (*Mailbox, error) {
	addrs, err := ParseAddressList(raw)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, nil
	}
	m, ok := addrs[0].Mailbox()
	if !ok {
		return nil, nil
	}
	return &m, nil
}
