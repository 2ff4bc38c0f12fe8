package messaging

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

// NewPublisher builds the publisher named by the configuration.
func NewPublisher(ctx context.Context, cfg *config.MessagingConfig, log *zap.Logger) (Publisher, error) {
	switch cfg.Provider {
	case "sqs":
		return NewSQSConnection(ctx, cfg, WithSQSLogger(log))
	case "rabbitmq":
		return NewRabbitMQConnection(cfg, WithRabbitMQLogger(log))
	case "logging":
		return NewLoggingPublisher(log), nil
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", cfg.Provider)
	}
}
