package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/repository"
)

const defaultKeyPrefix = "vellum:"

var _ repository.Adapter = (*Adapter)(nil)

// Adapter stores entity records as JSON documents keyed by
// <prefix><table>:<entity_id>. Superseded revisions are parked under
// <prefix><table>_audit:<entity_id>:<version> so every version key stays
// unique. Conditional writes run under WATCH so a concurrent overwrite of
// the same entity surfaces as a lock conflict.
type Adapter struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// Option configures the adapter.
type Option func(*Adapter)

// WithKeyPrefix overrides the default key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(a *Adapter) { a.keyPrefix = prefix }
}

// WithLogger sets the adapter's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.logger = log }
}

// NewAdapter connects to Redis with the given configuration.
func NewAdapter(cfg *config.RedisConfig, opts ...Option) (*Adapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewAdapterWithClient(client, opts...), nil
}

// NewAdapterWithClient wraps an existing Redis client. Useful for testing or
// when sharing a client across components.
func NewAdapterWithClient(client *redis.Client, opts ...Option) *Adapter {
	a := &Adapter{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close closes the underlying Redis client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) recordKey(table, id string) string {
	return fmt.Sprintf("%s%s:%s", a.keyPrefix, table, id)
}

func (a *Adapter) auditKey(table, id, version string) string {
	return fmt.Sprintf("%s%s:%s:%s", a.keyPrefix, repository.AuditTable(table), id, version)
}

func decodeRecord(payload string) (map[string]any, error) {
	var record map[string]any
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("corrupt stored record: %w", err)
	}
	return record, nil
}

// GetOne fetches a single record matching the filter. A filter on entity_id
// resolves with a direct key lookup; anything else falls back to a scan.
func (a *Adapter) GetOne(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort) (map[string]any, error) {
	if id, ok := filter[domain.FieldEntityID]; ok && len(sorts) == 0 {
		payload, err := a.client.Get(ctx, a.recordKey(table, fmt.Sprint(id))).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		record, err := decodeRecord(payload)
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

// GetMany scans the table's keyspace and filters client-side. Fine for the
// modest cardinalities this backend is meant for; large collections belong
// in a relational backend.
func (a *Adapter) GetMany(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort, limit int) ([]map[string]any, error) {
	var out []map[string]any

	iter := a.client.Scan(ctx, 0, a.recordKey(table, "*"), 0).Iterator()
	for iter.Next(ctx) {
		payload, err := a.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		record, err := decodeRecord(payload)
		if err != nil {
			a.logger.Warn("skipping undecodable record",
				zap.String("key", iter.Val()),
				zap.Error(err),
			)
			continue
		}
		if repository.MatchesFilter(record, filter) {
			out = append(out, record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	repository.SortRecords(out, sorts)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Save writes the record under WATCH. The stored version token is compared
// inside the watched section, so any concurrent write to the same key aborts
// the transaction and reports a lock conflict.
func (a *Adapter) Save(ctx context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	id := fmt.Sprint(record[domain.FieldEntityID])
	key := a.recordKey(table, id)

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		if expectedVersion == domain.VersionSentinel {
			if exists {
				return fmt.Errorf("%w: row already exists for %s", domain.ErrLockConflict, id)
			}
		} else {
			if !exists {
				return fmt.Errorf("%w: stored version moved for %s", domain.ErrLockConflict, id)
			}
			current, err := decodeRecord(stored)
			if err != nil {
				return err
			}
			if fmt.Sprint(current[domain.FieldVersion]) != expectedVersion.String() {
				return fmt.Errorf("%w: stored version moved for %s", domain.ErrLockConflict, id)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	if err := a.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// another writer touched the key between WATCH and EXEC
			return nil, fmt.Errorf("%w: concurrent write on %s", domain.ErrLockConflict, id)
		}
		return nil, err
	}
	return record, nil
}

// MoveToAudit copies the stored record to its audit key. The stored version
// is part of the key so successive relocations never collide.
func (a *Adapter) MoveToAudit(ctx context.Context, table string, entityID uuid.UUID) error {
	key := a.recordKey(table, entityID.String())

	payload, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return err
	}
	version := fmt.Sprint(record[domain.FieldVersion])
	return a.client.Set(ctx, a.auditKey(table, entityID.String(), version), payload, 0).Err()
}

// RunBatch executes the operations sequentially. Redis transactions cannot
// span the read-check-write logic of two separate operations, so each step
// keeps its own conditional guarantees instead.
func (a *Adapter) RunBatch(ctx context.Context, ops []repository.Operation) error {
	for _, op := range ops {
		switch op.Kind {
		case repository.OpMoveToAudit:
			if err := a.MoveToAudit(ctx, op.Table, op.EntityID); err != nil {
				return err
			}
		case repository.OpSave:
			if _, err := a.Save(ctx, op.Table, op.Record, op.ExpectedVersion); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported batch operation %d", op.Kind)
		}
	}
	return nil
}
