package emailing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

// NewSender builds the provider named by the configuration.
func NewSender(ctx context.Context, cfg *config.EmailConfig, log *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case "ses":
		return NewSESSender(ctx, cfg, WithSESLogger(log))
	case "mailjet":
		return NewMailjetSender(cfg, WithMailjetLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
