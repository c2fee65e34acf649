package eml

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// Sanitizer cleans untrusted HTML before it is handed to a renderer.
type Sanitizer interface {
	Clean(html string) string
}

// Decomposer turns raw MIME into a Body tree.
type Decomposer struct {
	sanitizer Sanitizer
}

// NewDecomposer creates a decomposer. With a nil sanitizer text/html parts
// are returned as-is and not flagged as cleaned.
func NewDecomposer(s Sanitizer) *Decomposer {
	return &Decomposer{sanitizer: s}
}

// Decompose reads a complete message or MIME part (header block and body)
// and returns its body tree. Any failure in any part fails the whole tree.
func (d *Decomposer) Decompose(r io.Reader) (*Body, error) {
	br := bufio.NewReader(r)
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, NewParseError().
			Kind(ErrUnsupportedStructure).
			Because(fmt.Sprintf("failed to read header: %v", err))
	}
	return d.part(h, br)
}

func (d *Decomposer) part(h textproto.Header, body io.Reader) (*Body, error) {
	mimetype, ctParams, err := contentType(h)
	if err != nil {
		return nil, err
	}

	major, minor, _ := strings.Cut(mimetype, "/")
	if major != "multipart" {
		return d.leaf(h, mimetype, ctParams, body)
	}

	switch minor {
	case "alternative", "mixed", "signed":
	default:
		return nil, NewParseError().
			Kind(ErrUnsupportedStructure).
			Because("Not implemented: " + mimetype)
	}

	boundary := ctParams["boundary"]
	if boundary == "" {
		return nil, NewParseError().
			Kind(ErrUnsupportedStructure).
			Because(mimetype + " without boundary")
	}

	var children []*Body
	mr := textproto.NewMultipartReader(body, boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewParseError().
				Kind(ErrUnsupportedStructure).
				Because(fmt.Sprintf("failed to read %s part: %v", mimetype, err))
		}
		child, err := d.part(p.Header, p)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, NewParseError().
			Kind(ErrUnsupportedStructure).
			Because(mimetype + " without parts")
	}

	first, rest := children[0], children[1:]
	switch minor {
	case "alternative":
		first.Alternatives = append(first.Alternatives, rest...)
	case "mixed":
		first.Extra = append(first.Extra, rest...)
	case "signed":
		if len(rest) != 1 {
			return nil, NewParseError().
				Kind(ErrUnsupportedStructure).
				Because(fmt.Sprintf("Expected exactly one signature for signed part, found %d", len(rest)))
		}
		first.Signature = rest[0]
	}
	return first, nil
}

func (d *Decomposer) leaf(h textproto.Header, mimetype string, ctParams map[string]string, body io.Reader) (*Body, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, NewParseError().Because(fmt.Sprintf("failed to read %s body: %v", mimetype, err))
	}

	content, err := decodeEntity(h, raw)
	if err != nil {
		return nil, NewParseError().Because(fmt.Sprintf("failed to decode %s body: %v", mimetype, err))
	}

	cte := strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding")))
	var encHeader textproto.Header
	if cte != "" {
		encHeader.Set("Content-Transfer-Encoding", cte)
	}
	encoded, err := decodeEntity(encHeader, raw)
	if err != nil {
		return nil, NewParseError().Because(fmt.Sprintf("failed to decode %s body: %v", mimetype, err))
	}

	b := &Body{
		Alternatives:   []*Body{},
		Extra:          []*Body{},
		Content:        string(content),
		ContentEncoded: encoded,
		Mimetype:       mimetype,
		Disposition:    "inline",
	}
	if cte == "base64" && utf8.Valid(raw) {
		s := string(raw)
		b.ContentBase64 = &s
	}

	if cd := h.Get("Content-Disposition"); cd != "" {
		if disp, params, err := parseWithParams(cd); err == nil {
			b.Disposition = disp
			if v, ok := params["filename"]; ok {
				b.Filename = &v
			}
			if v, ok := params["size"]; ok {
				b.Size = &v
			}
		}
	}
	if b.Filename == nil {
		if v, ok := ctParams["name"]; ok {
			b.Filename = &v
		}
	}

	if mimetype == "text/html" && d.sanitizer != nil {
		b.Content = d.sanitizer.Clean(b.Content)
		b.IsCleanedHTML = true
	}
	return b, nil
}

// decodeEntity undoes the transfer encoding and, for text parts with a
// charset, converts to UTF-8. Unknown encodings and charsets leave the
// octets untouched.
func decodeEntity(h textproto.Header, raw []byte) ([]byte, error) {
	e, err := message.New(message.Header{Header: h}, bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, err
	}
	return io.ReadAll(e.Body)
}

// contentType returns the lowercased type/subtype of a part. A missing
// Content-Type means text/plain.
func contentType(h textproto.Header) (string, map[string]string, error) {
	raw := h.Get("Content-Type")
	if strings.TrimSpace(raw) == "" {
		return "text/plain", map[string]string{}, nil
	}
	mimetype, params, err := parseWithParams(raw)
	if err != nil || !strings.Contains(mimetype, "/") {
		return "", nil, NewParseError().
			Kind(ErrMalformedMimetype).
			In("Content-Type").
			Because("Failed to parse mimetype: " + raw)
	}
	return mimetype, params, nil
}

// parseWithParams parses a Content-Type or Content-Disposition value.
// Broken parameters are dropped rather than failing the value.
func parseWithParams(raw string) (string, map[string]string, error) {
	v, params, err := mime.ParseMediaType(raw)
	if err == mime.ErrInvalidMediaParameter {
		err = nil
		params = map[string]string{}
	}
	if err != nil {
		return "", nil, err
	}
	for k, p := range params {
		if decoded, err := wordDecoder.DecodeHeader(p); err == nil {
			params[k] = decoded
		}
	}
	return strings.ToLower(v), params, nil
}
