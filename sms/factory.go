package sms

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

// NewSender builds the provider named by the configuration.
func NewSender(cfg *config.SMSConfig, log *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case "twilio":
		return NewTwilioSender(cfg, WithTwilioLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}
