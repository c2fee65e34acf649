package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transports
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"
)

// Config application configuration
type Config struct {
	// Mail store
	MailRoot  string `env:"MAIL_ROOT" envDefault:"./data/mail"`
	ListLimit int    `env:"LIST_LIMIT" envDefault:"25"`

	// IMAP ingestion (optional)
	IMAPEmail        string        `env:"IMAP_EMAIL"`
	IMAPPassword     string        `env:"IMAP_PASSWORD"`
	IMAPServer       string        `env:"IMAP_SERVER"` // host:port, resolved from IMAP_EMAIL when empty
	IMAPPollInterval time.Duration `env:"IMAP_POLL_INTERVAL" envDefault:"1m"`
	IMAPDialTimeout  time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Outgoing mail
	Transport       string `env:"TRANSPORT" envDefault:"smtp"` // "smtp" or "ses"
	SMTPHost        string `env:"SMTP_HOST"`
	SMTPPort        int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser        string `env:"SMTP_USER"`
	SMTPPass        string `env:"SMTP_PASS"`
	SMTPImplicitTLS bool   `env:"SMTP_IMPLICIT_TLS" envDefault:"false"`

	SESRegion          string `env:"SES_REGION"`
	SESAccessKeyID     string `env:"SES_ACCESS_KEY_ID"`
	SESSecretAccessKey string `env:"SES_SECRET_ACCESS_KEY"`

	// Telegram
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// IMAPEnabled returns true if IMAP ingestion is configured
func (c *Config) IMAPEnabled() bool {
	return c.IMAPEmail != "" && c.IMAPPassword != ""
}

// TransportConfigured returns true if outgoing mail can be sent
func (c *Config) TransportConfigured() bool {
	switch c.Transport {
	case TransportSES:
		return c.SESRegion != ""
	default:
		return c.SMTPHost != ""
	}
}

// Validate checks settings that depend on each other
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportSMTP:
		if c.SMTPUser != "" && c.SMTPPass == "" {
			errs = append(errs, errors.New("SMTP_PASS is required when SMTP_USER is set"))
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT %d is out of range", c.SMTPPort))
		}
	case TransportSES:
		if c.SESRegion == "" {
			errs = append(errs, errors.New("SES_REGION is required for the ses transport"))
		}
		if (c.SESAccessKeyID == "") != (c.SESSecretAccessKey == "") {
			errs = append(errs, errors.New("SES_ACCESS_KEY_ID and SES_SECRET_ACCESS_KEY must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}

	if (c.IMAPEmail == "") != (c.IMAPPassword == "") {
		errs = append(errs, errors.New("IMAP_EMAIL and IMAP_PASSWORD must be set together"))
	}
	if c.IMAPPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("IMAP_POLL_INTERVAL %s is too short", c.IMAPPollInterval))
	}
	if c.ListLimit <= 0 {
		errs = append(errs, fmt.Errorf("LIST_LIMIT must be positive, got %d", c.ListLimit))
	}

	return errors.Join(errs...)
}

// ValidateBot checks the settings the Telegram front-end needs
func (c *Config) ValidateBot() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID is required")
	}
	return nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
