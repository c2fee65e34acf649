package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const (
	sesMaxRetries     = 3
	sesBaseRetryDelay = 1 * time.Second
)

// SESConfig configuration for the SES sender
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the SES v2 SendEmail operation
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES delivers raw messages through the AWS SES v2 API
type SES struct {
	client    SendEmailAPI
	logger    *slog.Logger
	baseDelay time.Duration
}

// NewSES creates an SES sender from the default AWS configuration chain.
// Static credentials are used when both keys are set.
func NewSES(ctx context.Context, cfg SESConfig, logger *slog.Logger) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewSESWithClient creates an SES sender over client
func NewSESWithClient(client SendEmailAPI, logger *slog.Logger) *SES {
	return &SES{
		client:    client,
		logger:    logger.With("component", "ses"),
		baseDelay: sesBaseRetryDelay,
	}
}

// Name returns the sender name
func (s *SES) Name() string {
	return "ses"
}

// SendRaw sends raw as-is to the envelope recipients. Transient API errors
// are retried with exponential backoff; a rejected message is not.
func (s *SES) SendRaw(ctx context.Context, env Envelope, raw []byte) (*DeliveryResponse, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: env.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= sesMaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying SES request", "attempt", attempt)
			if err := sleepWithContext(ctx, s.backoff(attempt)); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return &DeliveryResponse{Positive: true, Code: 250, Message: "Ok " + aws.ToString(out.MessageId)}, nil
		}

		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			s.logger.Warn("SES rejected message", "error", err)
			return &DeliveryResponse{Code: 554, Message: rejected.ErrorMessage()}, nil
		}

		lastErr = err
		s.logger.Warn("SES API error", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("SES request failed after %d retries: %w", sesMaxRetries, lastErr)
}

func (s *SES) backoff(attempt int) time.Duration {
	return s.baseDelay << (attempt - 1)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
