package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

var _ Sender = (*TwilioSender)(nil)

// TwilioAPI is the subset of the Twilio messaging API the sender uses.
type TwilioAPI interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioSender delivers text messages through the Twilio REST API. Outgoing
// messages route through the configured messaging service when one is set,
// otherwise from the fixed sender number.
type TwilioSender struct {
	api                 TwilioAPI
	senderNumber        string
	messagingServiceSID string
	logger              *zap.Logger
}

// TwilioOption configures the sender.
type TwilioOption func(*TwilioSender)

// WithTwilioLogger sets the sender's logger.
func WithTwilioLogger(log *zap.Logger) TwilioOption {
	return func(s *TwilioSender) { s.logger = log }
}

// NewTwilioSender authenticates against Twilio with the configured account
// SID and auth token.
func NewTwilioSender(cfg *config.SMSConfig, opts ...TwilioOption) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return NewTwilioSenderWithAPI(client.Api, cfg, opts...)
}

// NewTwilioSenderWithAPI wraps an existing Twilio API client.
func NewTwilioSenderWithAPI(api TwilioAPI, cfg *config.SMSConfig, opts ...TwilioOption) *TwilioSender {
	s := &TwilioSender{
		api:                 api,
		senderNumber:        cfg.SenderNumber,
		messagingServiceSID: cfg.MessagingServiceSID,
		logger:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers the message.
func (s *TwilioSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("message has no recipient")
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetBody(msg.Body)

	switch {
	case msg.From != "":
		params.SetFrom(msg.From)
	case s.messagingServiceSID != "":
		params.SetMessagingServiceSid(s.messagingServiceSID)
	case s.senderNumber != "":
		params.SetFrom(s.senderNumber)
	default:
		return errors.New("no sender number or messaging service configured")
	}

	res, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}

	if res.Sid != nil {
		s.logger.Debug("sms sent", zap.String("sid", *res.Sid))
	}
	return nil
}
