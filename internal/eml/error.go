package eml

import (
	"errors"
	"strings"
)

// Error kinds. A *ParseError matches one of these with errors.Is.
var (
	ErrMissingHeader        = errors.New("missing required header")
	ErrMalformedAddress     = errors.New("malformed address")
	ErrMalformedMimetype    = errors.New("malformed mimetype")
	ErrUnsupportedStructure = errors.New("unsupported structure")
	ErrAmbiguousSender      = errors.New("ambiguous sender")
)

// ParseError describes why a message could not be read or composed:
// which message, which header, and the reason.
type ParseError struct {
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
	Within string `json:"within,omitempty"`

	kind error
}

// NewParseError returns an error with an unknown reason.
func NewParseError() *ParseError {
	return &ParseError{Reason: "Unknown"}
}

// WithID attaches the message identifier.
func (e *ParseError) WithID(id string) *ParseError {
	e.ID = id
	return e
}

// In attaches the header name that was being processed.
func (e *ParseError) In(header string) *ParseError {
	e.Within = header
	return e
}

// Because sets the human readable reason.
func (e *ParseError) Because(reason string) *ParseError {
	e.Reason = reason
	return e
}

// Kind sets the taxonomy sentinel reported through errors.Is.
func (e *ParseError) Kind(kind error) *ParseError {
	e.kind = kind
	return e
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	if e.ID != "" {
		sb.WriteString("message ")
		sb.WriteString(e.ID)
		sb.WriteString(": ")
	}
	if e.Within != "" {
		sb.WriteString(e.Within)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Reason)
	return sb.String()
}

func (e *ParseError) Unwrap() error {
	return e.kind
}

// asParseError converts any error into a *ParseError, keeping an existing
// one intact.
func asParseError(err error) *ParseError {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe
	}
	return NewParseError().Because(err.Error())
}

// AsParseError is the exported form used by batch callers that must report
// per-message failures in the structured shape.
func AsParseError(err error) *ParseError {
	if err == nil {
		return nil
	}
	return asParseError(err)
}
