package faxing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

// NewSender builds the provider named by the configuration.
func NewSender(cfg *config.FaxConfig, log *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case "ifax":
		return NewIFaxSender(cfg, WithIFaxLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown fax provider %q", cfg.Provider)
	}
}
