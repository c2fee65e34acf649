package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixelka/mailcore/internal/config"
)

// FromConfig builds the sender selected by TRANSPORT. It returns nil when
// outgoing mail is not configured.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Sender, error) {
	if !cfg.TransportConfigured() {
		return nil, nil
	}

	switch cfg.Transport {
	case config.TransportSES:
		ses, err := NewSES(ctx, SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretAccessKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		return ses, nil
	case config.TransportSMTP:
		return NewSMTP(SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			ImplicitTLS: cfg.SMTPImplicitTLS,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
