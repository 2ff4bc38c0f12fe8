package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/repository"
)

var _ repository.Adapter = (*Adapter)(nil)

// Client is the subset of the DynamoDB API the adapter uses. It exists so
// tests can substitute a fake without a live endpoint.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Adapter stores entity records as DynamoDB items keyed by entity_id. The
// audit table is keyed by entity_id plus version so relocated revisions
// accumulate instead of overwriting each other.
type Adapter struct {
	client Client
	logger *zap.Logger
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.logger = log }
}

// NewAdapter connects to DynamoDB with the given configuration. A non-empty
// endpoint targets a local stack instead of the regional service.
func NewAdapter(ctx context.Context, cfg *config.DynamoDBConfig, opts ...Option) (*Adapter, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewAdapterWithClient(client, opts...), nil
}

// NewAdapterWithClient wraps an existing DynamoDB client.
func NewAdapterWithClient(client Client, opts ...Option) *Adapter {
	a := &Adapter{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func unmarshalItem(item map[string]types.AttributeValue) (map[string]any, error) {
	var record map[string]any
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return nil, fmt.Errorf("failed to decode stored item: %w", err)
	}
	return record, nil
}

// GetOne fetches a single record matching the filter. A filter on entity_id
// resolves with a key lookup; anything else falls back to a scan.
func (a *Adapter) GetOne(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort) (map[string]any, error) {
	if id, ok := filter[domain.FieldEntityID]; ok && len(sorts) == 0 {
		out, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(table),
			Key: map[string]types.AttributeValue{
				domain.FieldEntityID: &types.AttributeValueMemberS{Value: fmt.Sprint(id)},
			},
		})
		if err != nil {
			return nil, err
		}
		if out.Item == nil {
			return nil, nil
		}
		record, err := unmarshalItem(out.Item)
		if err != nil {
			return nil, err
		}
		if !repository.MatchesFilter(record, filter) {
			return nil, nil
		}
		return record, nil
	}

	records, err := a.GetMany(ctx, table, filter, sorts, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GetMany scans the table and filters client-side, following pagination to
// the end before sorting and bounding the result.
func (a *Adapter) GetMany(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort, limit int) ([]map[string]any, error) {
	var out []map[string]any
	var startKey map[string]types.AttributeValue

	for {
		page, err := a.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			record, err := unmarshalItem(item)
			if err != nil {
				return nil, err
			}
			if repository.MatchesFilter(record, filter) {
				out = append(out, record)
			}
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		startKey = page.LastEvaluatedKey
	}

	repository.SortRecords(out, sorts)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Save writes the record as a conditional put. A sentinel expected version
// requires the item to be absent; anything else requires the stored version
// token to still match.
func (a *Adapter) Save(ctx context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}
	if expectedVersion == domain.VersionSentinel {
		input.ConditionExpression = aws.String("attribute_not_exists(#id)")
		input.ExpressionAttributeNames = map[string]string{"#id": domain.FieldEntityID}
	} else {
		input.ConditionExpression = aws.String("#v = :prev")
		input.ExpressionAttributeNames = map[string]string{"#v": domain.FieldVersion}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: expectedVersion.String()},
		}
	}

	if _, err := a.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, fmt.Errorf("%w: conditional put rejected for %v",
				domain.ErrLockConflict, record[domain.FieldEntityID])
		}
		return nil, err
	}
	return record, nil
}

// MoveToAudit copies the stored item into the audit table. A missing item is
// an expected race and not a failure.
func (a *Adapter) MoveToAudit(ctx context.Context, table string, entityID uuid.UUID) error {
	out, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			domain.FieldEntityID: &types.AttributeValueMemberS{Value: entityID.String()},
		},
	})
	if err != nil {
		return err
	}
	if out.Item == nil {
		return nil
	}

	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(repository.AuditTable(table)),
		Item:      out.Item,
	})
	return err
}

// RunBatch pairs the relocation with the conditional write in one
// TransactWriteItems call, so a lost lock also cancels the relocation.
func (a *Adapter) RunBatch(ctx context.Context, ops []repository.Operation) error {
	var items []types.TransactWriteItem

	for _, op := range ops {
		switch op.Kind {
		case repository.OpMoveToAudit:
			out, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
				TableName: aws.String(op.Table),
				Key: map[string]types.AttributeValue{
					domain.FieldEntityID: &types.AttributeValueMemberS{Value: op.EntityID.String()},
				},
			})
			if err != nil {
				return err
			}
			if out.Item == nil {
				continue
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(repository.AuditTable(op.Table)),
					Item:      out.Item,
				},
			})

		case repository.OpSave:
			item, err := attributevalue.MarshalMap(op.Record)
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			put := &types.Put{
				TableName: aws.String(op.Table),
				Item:      item,
			}
			if op.ExpectedVersion == domain.VersionSentinel {
				put.ConditionExpression = aws.String("attribute_not_exists(#id)")
				put.ExpressionAttributeNames = map[string]string{"#id": domain.FieldEntityID}
			} else {
				put.ConditionExpression = aws.String("#v = :prev")
				put.ExpressionAttributeNames = map[string]string{"#v": domain.FieldVersion}
				put.ExpressionAttributeValues = map[string]types.AttributeValue{
					":prev": &types.AttributeValueMemberS{Value: op.ExpectedVersion.String()},
				}
			}
			items = append(items, types.TransactWriteItem{Put: put})

		default:
			return fmt.Errorf("unsupported batch operation %d", op.Kind)
		}
	}

	if len(items) == 0 {
		return nil
	}

	if _, err := a.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return fmt.Errorf("%w: conditional put rejected in transaction", domain.ErrLockConflict)
				}
			}
		}
		return err
	}
	return nil
}
