package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/goware/emailx"
)

// ErrEmptyEnvelope is returned for an envelope without recipients
var ErrEmptyEnvelope = errors.New("envelope has no recipients")

// Envelope is the SMTP envelope of one delivery
type Envelope struct {
	From string
	To   []string
}

// NewEnvelope normalizes the sender and recipient addresses and rejects
// unparsable ones. Duplicate recipients are dropped.
func NewEnvelope(from string, to []string) (Envelope, error) {
	env := Envelope{From: emailx.Normalize(from)}
	if err := emailx.ValidateFast(env.From); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope sender %q: %w", from, err)
	}

	seen := make(map[string]bool, len(to))
	for _, addr := range to {
		addr = emailx.Normalize(addr)
		if err := emailx.ValidateFast(addr); err != nil {
			return Envelope{}, fmt.Errorf("invalid envelope recipient %q: %w", addr, err)
		}
		if !seen[addr] {
			seen[addr] = true
			env.To = append(env.To, addr)
		}
	}
	if len(env.To) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	return env, nil
}

// DeliveryResponse is the final answer of the relay for one delivery
type DeliveryResponse struct {
	Positive bool   `json:"positive"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
}

// Err returns a *DeliveryError for a negative response, nil otherwise
func (r *DeliveryResponse) Err() error {
	if r.Positive {
		return nil
	}
	return &DeliveryError{Code: r.Code, Message: r.Message}
}

// DeliveryError is a delivery the relay refused
type DeliveryError struct {
	Code    int
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery refused: %d %s", e.Code, e.Message)
}

// Sender delivers raw RFC5322 messages. A refusal by the relay is reported
// as a negative response; the error is reserved for failures to talk to it.
type Sender interface {
	SendRaw(ctx context.Context, env Envelope, raw []byte) (*DeliveryResponse, error)
	Name() string
}
