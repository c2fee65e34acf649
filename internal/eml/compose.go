package eml

import (
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attachment is a file to be sent with an outgoing message.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Draft is an outgoing message as requested by a client.
type Draft struct {
	Meta        Meta         `json:"meta"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
}

// MimeGuesser maps a filename to a media type.
type MimeGuesser func(filename string) string

// GuessMimeType looks the extension up in the system type table and falls
// back to application/octet-stream.
func GuessMimeType(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// NewBoundary returns a random multipart boundary.
func NewBoundary() string {
	return "mailcore-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RenderBody frames the text and each attachment as a part delimited by
// boundary. The closing delimiter is left to FormatMessage.
func RenderBody(body string, atts []Attachment, boundary string, guess MimeGuesser) string {
	if guess == nil {
		guess = GuessMimeType
	}

	parts := make([]string, 0, len(atts)+1)
	parts = append(parts, part(boundary, []string{
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: 8bit",
		"Content-Disposition: inline",
	}, WrapBody(body)))

	for _, a := range atts {
		name := filepath.Base(a.Filename)
		ctype := guess(name)
		if mt, params, err := mime.ParseMediaType(ctype); err == nil {
			params["name"] = name
			ctype = mime.FormatMediaType(mt, params)
		}
		parts = append(parts, part(boundary, []string{
			"Content-Type: " + ctype,
			"Content-Transfer-Encoding: base64",
			"Content-Disposition: " + mime.FormatMediaType("attachment", map[string]string{"filename": name}),
		}, WrapBase64(a.Content)))
	}
	return strings.Join(parts, "\r\n")
}

func part(boundary string, headers []string, content string) string {
	return "--" + boundary + "\r\n" + strings.Join(headers, "\r\n") + "\r\n\r\n" + content
}

// Compose renders a draft into message bytes. The draft must resolve to a
// single responsible sender. A draft carrying an ID keeps it as its
// Message-ID, with the destination slot brought up to date.
func Compose(d *Draft, boundary string) (string, error) {
	f, err := d.fields()
	if err != nil {
		return "", err
	}
	f.set("MIME-Version", "1.0")

	return f.FormatMessage(RenderBody(d.Body, d.Attachments, boundary, GuessMimeType), boundary), nil
}

// MessageID returns the Message-ID Compose would write, without angle
// brackets. Without a Timestamp it depends on the current time.
func (d *Draft) MessageID() (string, error) {
	f, err := d.fields()
	if err != nil {
		return "", err
	}
	id, _ := f.Get("Message-ID")
	return strings.Trim(id, "<>"), nil
}

func (d *Draft) fields() (*Fields, error) {
	meta := d.Meta
	if meta.Timestamp == 0 {
		meta.Timestamp = time.Now().Unix()
	}

	f := FieldsFromMeta(&meta)
	if _, err := f.ResolveSender(); err != nil {
		return nil, err
	}
	if _, err := f.Destinations(); err != nil {
		return nil, err
	}
	if meta.ID != "" {
		f.MessageID("<" + meta.ID + ">")
		f.MessageID(f.FormatMessageIDForDestination(f.DestinationSlot()))
	}
	return f, nil
}
