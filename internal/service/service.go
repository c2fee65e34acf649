package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mixelka/mailcore/internal/database"
	"github.com/mixelka/mailcore/internal/eml"
	"github.com/mixelka/mailcore/internal/transport"
)

// DefaultListLimit caps ListEml when no limit is configured
const DefaultListLimit = 25

// Tags set by the service
const (
	TagSent    = "sent"
	TagReplied = "replied"
)

// ErrNoTransport is returned when sending without a configured transport
var ErrNoTransport = errors.New("no transport configured")

// MetaResult is the outcome of extracting one message of a listing
type MetaResult struct {
	Meta *eml.Meta
	Err  *eml.ParseError
}

// MarshalJSON encodes the result as {"ok": meta} or {"err": error}
func (r MetaResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]*eml.ParseError{"err": r.Err})
	}
	return json.Marshal(map[string]*eml.Meta{"ok": r.Meta})
}

// Config configuration for the service
type Config struct {
	ListLimit int
}

// Service is the operation surface offered to the bot and the CLI
type Service struct {
	db         *database.DB
	sender     transport.Sender
	decomposer *eml.Decomposer
	listLimit  int
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new service. sender may be nil for read-only use.
func New(db *database.DB, sender transport.Sender, sanitizer eml.Sanitizer, cfg Config, logger *slog.Logger) *Service {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	return &Service{
		db:         db,
		sender:     sender,
		decomposer: eml.NewDecomposer(sanitizer),
		listLimit:  cfg.ListLimit,
		logger:     logger.With("component", "service"),
		now:        time.Now,
	}
}

// ListEml returns metadata for the newest messages matching query. A message
// that cannot be read yields an error entry and the listing goes on.
func (s *Service) ListEml(ctx context.Context, query string) ([]MetaResult, error) {
	msgs, err := s.db.Search(ctx, query, s.listLimit)
	if err != nil {
		return nil, err
	}

	results := make([]MetaResult, 0, len(msgs))
	for _, msg := range msgs {
		meta, err := eml.Extract(msg)
		if err != nil {
			pe := eml.AsParseError(err)
			if pe.ID == "" {
				pe.WithID(msg.ID())
			}
			s.logger.Warn("failed to extract message", "id", msg.ID(), "error", pe)
			results = append(results, MetaResult{Err: pe})
			continue
		}
		results = append(results, MetaResult{Meta: meta})
	}
	return results, nil
}

// CountMatches returns the number of messages matching query
func (s *Service) CountMatches(ctx context.Context, query string) (int, error) {
	return s.db.Count(ctx, query)
}

// ListTags returns every tag in use
func (s *Service) ListTags(ctx context.Context) ([]string, error) {
	return s.db.AllTags(ctx)
}

// ApplyTag tags every message matching query
func (s *Service) ApplyTag(ctx context.Context, query, tag string) (int64, error) {
	n, err := s.db.TagQuery(ctx, query, tag, true)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("tag applied", "query", query, "tag", tag, "changed", n)
	return n, nil
}

// RemoveTag untags every message matching query
func (s *Service) RemoveTag(ctx context.Context, query, tag string) (int64, error) {
	n, err := s.db.TagQuery(ctx, query, tag, false)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("tag removed", "query", query, "tag", tag, "changed", n)
	return n, nil
}

// ViewEml decomposes the body of the message with the given ID
func (s *Service) ViewEml(ctx context.Context, id string) (*eml.Body, error) {
	msg, err := s.db.FindMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.body(msg)
}

// ViewMeta extracts the metadata of the message with the given ID
func (s *Service) ViewMeta(ctx context.Context, id string) (*eml.Meta, error) {
	msg, err := s.db.FindMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return eml.Extract(msg)
}

// ReplyTemplate prepares a reply to the message with the given ID
func (s *Service) ReplyTemplate(ctx context.Context, id string) (*eml.ReplyTemplate, error) {
	msg, err := s.db.FindMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := eml.Extract(msg)
	if err != nil {
		return nil, err
	}
	body, err := s.body(msg)
	if err != nil {
		return nil, err
	}
	return eml.TemplateReply(meta, body, s.now())
}

func (s *Service) body(msg *database.Message) (*eml.Body, error) {
	f, err := msg.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	body, err := s.decomposer.Decompose(f)
	if err != nil {
		return nil, eml.AsParseError(err).WithID(msg.ID())
	}
	return body, nil
}

// Preview renders the draft exactly as Send would
func (s *Service) Preview(draft *eml.Draft) (string, error) {
	return eml.Compose(draft, eml.NewBoundary())
}

// Send composes and delivers the draft, then files it under sent. The
// message it replies to, when stored, is tagged replied.
func (s *Service) Send(ctx context.Context, draft *eml.Draft) (*database.Message, error) {
	if s.sender == nil {
		return nil, ErrNoTransport
	}

	draft, err := s.withFreeID(ctx, draft)
	if err != nil {
		return nil, err
	}
	raw, err := eml.Compose(draft, eml.NewBoundary())
	if err != nil {
		return nil, err
	}
	from, err := draft.Meta.ResolveSender()
	if err != nil {
		return nil, err
	}
	to, err := draft.Meta.Destinations()
	if err != nil {
		return nil, err
	}
	env, err := transport.NewEnvelope(from, to)
	if err != nil {
		return nil, err
	}

	resp, err := s.sender.SendRaw(ctx, env, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	s.logger.Info("message sent", "transport", s.sender.Name(), "recipients", len(env.To))

	msg, err := s.db.StoreRaw(ctx, database.FolderSent, []byte(raw), TagSent)
	if err != nil {
		return nil, fmt.Errorf("message sent but not stored: %w", err)
	}

	if draft.Meta.InReplyTo != nil {
		err := s.db.AddTag(ctx, *draft.Meta.InReplyTo, TagReplied)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			s.logger.Warn("failed to tag replied message", "id", *draft.Meta.InReplyTo, "error", err)
		}
	}
	return msg, nil
}

// maxIDBumps bounds the search for an unused Message-ID
const maxIDBumps = 64

// withFreeID pins the draft's timestamp and moves its Message-ID forward
// until no stored message has it. The caller's draft is left untouched.
func (s *Service) withFreeID(ctx context.Context, draft *eml.Draft) (*eml.Draft, error) {
	d := *draft
	if d.Meta.Timestamp == 0 {
		d.Meta.Timestamp = s.now().Unix()
	}

	id, err := d.MessageID()
	if err != nil {
		return nil, err
	}
	for range maxIDBumps {
		_, err := s.db.FindMessage(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			d.Meta.ID = id
			return &d, nil
		}
		if err != nil {
			return nil, err
		}
		next, ok := eml.BumpMessageID(id)
		if !ok {
			break
		}
		id = next
	}
	return nil, fmt.Errorf("message %s: %w", id, database.ErrAlreadyExists)
}

// Relay re-sends a stored message unchanged to an explicit envelope
func (s *Service) Relay(ctx context.Context, id string, env transport.Envelope) (*transport.DeliveryResponse, error) {
	if s.sender == nil {
		return nil, ErrNoTransport
	}

	msg, err := s.db.FindMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := msg.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	resp, err := s.sender.SendRaw(ctx, env, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to relay message: %w", err)
	}
	s.logger.Info("message relayed", "id", msg.ID(), "positive", resp.Positive, "code", resp.Code)
	return resp, nil
}
