package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

var (
	_ Publisher = (*SQSConnection)(nil)
	_ Consumer  = (*SQSConnection)(nil)
)

// SQSClient is the subset of the SQS API the connection uses.
type SQSClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConnection publishes and consumes notifications over AWS SQS. Queues
// are created on first use and their URLs cached per name.
type SQSConnection struct {
	client SQSClient
	logger *zap.Logger

	mu        sync.Mutex
	queueURLs map[string]string
}

// SQSOption configures the connection.
type SQSOption func(*SQSConnection)

// WithSQSLogger sets the connection's logger.
func WithSQSLogger(log *zap.Logger) SQSOption {
	return func(c *SQSConnection) { c.logger = log }
}

// NewSQSConnection connects to SQS in the configured region.
func NewSQSConnection(ctx context.Context, cfg *config.MessagingConfig, opts ...SQSOption) (*SQSConnection, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}
	return NewSQSConnectionWithClient(sqs.NewFromConfig(awsCfg), opts...), nil
}

// NewSQSConnectionWithClient wraps an existing SQS client.
func NewSQSConnectionWithClient(client SQSClient, opts ...SQSOption) *SQSConnection {
	c := &SQSConnection{
		client:    client,
		logger:    zap.NewNop(),
		queueURLs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SQSConnection) queueURL(ctx context.Context, queue string) (string, error) {
	c.mu.Lock()
	cached, ok := c.queueURLs[queue]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	out, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		created, createErr := c.client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queue)})
		if createErr != nil {
			return "", fmt.Errorf("failed to resolve queue %s: %w", queue, createErr)
		}
		c.cacheURL(queue, aws.ToString(created.QueueUrl))
		return aws.ToString(created.QueueUrl), nil
	}

	c.cacheURL(queue, aws.ToString(out.QueueUrl))
	return aws.ToString(out.QueueUrl), nil
}

func (c *SQSConnection) cacheURL(queue, url string) {
	c.mu.Lock()
	c.queueURLs[queue] = url
	c.mu.Unlock()
}

// Publish sends the payload to the named queue.
func (c *SQSConnection) Publish(ctx context.Context, queue string, payload []byte) error {
	url, err := c.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(payload)),
	})
	return err
}

// Consume long-polls the queue until the context is canceled. Messages are
// deleted only after the handler succeeds, so failures redeliver.
func (c *SQSConnection) Consume(ctx context.Context, queue string, handler Handler) error {
	url, err := c.queueURL(ctx, queue)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		for _, msg := range out.Messages {
			if err := handler(ctx, []byte(aws.ToString(msg.Body))); err != nil {
				c.logger.Error("message handler failed",
					zap.String("queue", queue),
					zap.Error(err),
				)
				continue
			}
			if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(url),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				c.logger.Error("failed to delete processed message",
					zap.String("queue", queue),
					zap.Error(err),
				)
			}
		}
	}
}
