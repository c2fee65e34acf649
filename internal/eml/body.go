package eml

// Body is one node of a decomposed MIME tree. A leaf has no children; a
// node produced from a multipart container has exactly one of
// Alternatives, Extra or Signature populated.
type Body struct {
	Alternatives   []*Body `json:"alternatives"`
	Content        string  `json:"content"`
	ContentBase64  *string `json:"content_base64"`
	ContentEncoded []byte  `json:"content_encoded"`
	Disposition    string  `json:"disposition"`
	Extra          []*Body `json:"extra"`
	Filename       *string `json:"filename"`
	IsCleanedHTML  bool    `json:"is_cleaned_html"`
	Mimetype       string  `json:"mimetype"`
	Signature      *Body   `json:"signature"`
	Size           *string `json:"size"`
}

// Relation names the child relation of a node.
type Relation int

const (
	RelationNone Relation = iota
	RelationAlternatives
	RelationExtra
	RelationSignature
)

func (r Relation) String() string {
	switch r {
	case RelationAlternatives:
		return "alternatives"
	case RelationExtra:
		return "extra"
	case RelationSignature:
		return "signature"
	default:
		return "none"
	}
}

// Relation reports which child relation is populated.
func (b *Body) Relation() Relation {
	switch {
	case len(b.Alternatives) > 0:
		return RelationAlternatives
	case len(b.Extra) > 0:
		return RelationExtra
	case b.Signature != nil:
		return RelationSignature
	default:
		return RelationNone
	}
}

// IsAttachment reports whether the node is meant to be downloaded rather
// than displayed.
func (b *Body) IsAttachment() bool {
	return b.Disposition == "attachment" || b.Filename != nil
}

// Attachments collects every attachment node in the tree. Signature parts
// are not attachments.
func (b *Body) Attachments() []*Body {
	var out []*Body
	var walk func(n *Body, root bool)
	walk = func(n *Body, root bool) {
		if !root && n.IsAttachment() {
			out = append(out, n)
		}
		for _, c := range n.Alternatives {
			walk(c, false)
		}
		for _, c := range n.Extra {
			walk(c, false)
		}
	}
	walk(b, true)
	return out
}

// Plaintext returns the content of the first text/plain node among the
// alternatives of b, falling back to b itself.
func Plaintext(b *Body) (string, bool) {
	if b == nil {
		return "", false
	}
	candidates := make([]*Body, 0, len(b.Alternatives)+1)
	candidates = append(candidates, b.Alternatives...)
	candidates = append(candidates, b)
	for _, c := range candidates {
		if c.Mimetype == "text/plain" {
			return c.Content, true
		}
	}
	return "", false
}
