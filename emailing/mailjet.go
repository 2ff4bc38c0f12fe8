package emailing

import (
	"context"
	"errors"
	"fmt"

	mailjet "github.com/mailjet/mailjet-apiv3-go/v4"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

var _ Sender = (*MailjetSender)(nil)

// MailjetClient is the subset of the Mailjet API the sender uses.
type MailjetClient interface {
	SendMailV31(data *mailjet.MessagesV31, options ...mailjet.RequestOptions) (*mailjet.ResultsV31, error)
}

// MailjetSender delivers mail through the Mailjet v3.1 send API. Messages
// with a TemplateID render server-side with the message variables.
type MailjetSender struct {
	client MailjetClient
	sender string
	logger *zap.Logger
}

// MailjetOption configures the sender.
type MailjetOption func(*MailjetSender)

// WithMailjetLogger sets the sender's logger.
func WithMailjetLogger(log *zap.Logger) MailjetOption {
	return func(s *MailjetSender) { s.logger = log }
}

// NewMailjetSender authenticates against Mailjet with the configured key
// pair.
func NewMailjetSender(cfg *config.EmailConfig, opts ...MailjetOption) *MailjetSender {
	client := mailjet.NewMailjetClient(cfg.MailjetKey, cfg.MailjetSecret)
	return NewMailjetSenderWithClient(client, cfg.Sender, opts...)
}

// NewMailjetSenderWithClient wraps an existing Mailjet client.
func NewMailjetSenderWithClient(client MailjetClient, sender string, opts ...MailjetOption) *MailjetSender {
	s := &MailjetSender{client: client, sender: sender, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers the message through the v3.1 bulk endpoint.
func (s *MailjetSender) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}

	from := msg.From
	if from == "" {
		from = s.sender
	}

	recipients := make(mailjet.RecipientsV31, len(msg.To))
	for i, to := range msg.To {
		recipients[i] = mailjet.RecipientV31{Email: to}
	}

	info := mailjet.InfoMessagesV31{
		From:     &mailjet.RecipientV31{Email: from},
		To:       &recipients,
		Subject:  msg.Subject,
		TextPart: msg.TextBody,
		HTMLPart: msg.HTMLBody,
	}
	if msg.TemplateID != 0 {
		info.TemplateID = int(msg.TemplateID)
		info.TemplateLanguage = true
		info.Variables = msg.Variables
	}

	res, err := s.client.SendMailV31(&mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{info}})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	for _, result := range res.ResultsV31 {
		s.logger.Debug("email sent", zap.String("status", result.Status))
	}
	return nil
}
