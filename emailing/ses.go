package emailing

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

var _ Sender = (*SESSender)(nil)

// SESClient is the subset of the SES API the sender uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers mail through Amazon SES.
type SESSender struct {
	client SESClient
	sender string
	logger *zap.Logger
}

// SESOption configures the sender.
type SESOption func(*SESSender)

// WithSESLogger sets the sender's logger.
func WithSESLogger(log *zap.Logger) SESOption {
	return func(s *SESSender) { s.logger = log }
}

// NewSESSender connects to SES in the configured region.
func NewSESSender(ctx context.Context, cfg *config.EmailConfig, opts ...SESOption) (*SESSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg.Sender, opts...), nil
}

// NewSESSenderWithClient wraps an existing SES client.
func NewSESSenderWithClient(client SESClient, sender string, opts ...SESOption) *SESSender {
	s := &SESSender{client: client, sender: sender, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers the message as simple content. Template fields are ignored;
// SES templating is managed outside this library.
func (s *SESSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}

	from := msg.From
	if from == "" {
		from = s.sender
	}

	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody)}
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody)}
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Debug("email sent",
		zap.String("message_id", aws.ToString(out.MessageId)),
		zap.Strings("to", msg.To),
	)
	return nil
}
