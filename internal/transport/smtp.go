package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

// SMTPConfig configuration for the SMTP relay
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ImplicitTLS bool
	DialTimeout time.Duration
	TLSConfig   *tls.Config // nil means verify against Host
}

// SMTP delivers messages through an authenticated SMTP relay
type SMTP struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTP creates a new SMTP sender
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) *SMTP {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &SMTP{
		config: cfg,
		logger: logger.With("component", "smtp", "host", cfg.Host),
	}
}

// Name returns the sender name
func (s *SMTP) Name() string {
	return "smtp"
}

// SendRaw relays raw to every envelope recipient
func (s *SMTP) SendRaw(ctx context.Context, env Envelope, raw []byte) (*DeliveryResponse, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := s.deliver(client, env, raw)
	if err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) {
			s.logger.Warn("relay refused message", "code", reply.Code, "reply", reply.Msg)
			return &DeliveryResponse{Code: reply.Code, Message: reply.Msg}, nil
		}
		return nil, err
	}

	if err := client.Quit(); err != nil {
		s.logger.Debug("failed to quit SMTP session", "error", err)
	}
	s.logger.Info("message relayed", "recipients", len(env.To))
	return resp, nil
}

func (s *SMTP) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	tlsConfig := s.config.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: s.config.Host}
	}

	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if s.config.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if !s.config.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	return client, nil
}

func (s *SMTP) deliver(client *smtp.Client, env Envelope, raw []byte) (*DeliveryResponse, error) {
	if err := client.Mail(env.From); err != nil {
		return nil, fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range env.To {
		if err := client.Rcpt(rcpt); err != nil {
			return nil, fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("end of DATA: %w", err)
	}
	return &DeliveryResponse{Positive: true, Code: 250, Message: "Ok"}, nil
}
