package messaging

import (
	"context"

	"go.uber.org/zap"
)

var _ Publisher = (*LoggingPublisher)(nil)

// LoggingPublisher writes notifications to the log instead of a broker.
// It is the default transport for local development and tests.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher creates a publisher that logs every payload.
func NewLoggingPublisher(log *zap.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: log.Named("messaging")}
}

// Publish logs the payload and always succeeds.
func (p *LoggingPublisher) Publish(_ context.Context, queue string, payload []byte) error {
	p.logger.Info("message published",
		zap.String("queue", queue),
		zap.ByteString("payload", payload),
	)
	return nil
}
