package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/repository"
)

var _ repository.Adapter = (*Adapter)(nil)

// Collection is the subset of the MongoDB collection API the adapter uses.
// It exists so tests can substitute fakes without a live server.
type Collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Database hands out collections by name.
type Database interface {
	Collection(name string) Collection
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d mongoDatabase) Collection(name string) Collection {
	return d.db.Collection(name)
}

// Adapter stores entity records as documents in one collection per table.
// Superseded revisions land in the <table>_audit collection under a
// (entity_id, version) upsert, so relocating the same revision twice is a
// no-op rather than a duplicate.
type Adapter struct {
	db     Database
	logger *zap.Logger
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.logger = log }
}

// NewAdapter connects to MongoDB with the given configuration.
func NewAdapter(ctx context.Context, cfg *config.MongoConfig, opts ...Option) (*Adapter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to reach MongoDB: %w", err)
	}

	return NewAdapterWithDatabase(mongoDatabase{db: client.Database(cfg.Database)}, opts...), nil
}

// NewAdapterWithDatabase wraps an existing database handle.
func NewAdapterWithDatabase(db Database, opts ...Option) *Adapter {
	a := &Adapter{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetOne fetches a single record matching the filter.
func (a *Adapter) GetOne(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort) (map[string]any, error) {
	opt := options.FindOne()
	if len(sorts) > 0 {
		opt.SetSort(sortDocument(sorts))
	}

	var doc bson.M
	err := a.db.Collection(table).FindOne(ctx, queryDocument(filter), opt).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordFromDocument(doc), nil
}

// GetMany fetches up to limit records matching the filter.
func (a *Adapter) GetMany(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort, limit int) ([]map[string]any, error) {
	opt := options.Find()
	if len(sorts) > 0 {
		opt.SetSort(sortDocument(sorts))
	}
	if limit > 0 {
		opt.SetLimit(int64(limit))
	}

	cursor, err := a.db.Collection(table).Find(ctx, queryDocument(filter), opt)
	if err != nil {
		return nil, err
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, recordFromDocument(doc))
	}
	return out, nil
}

// Save writes the record conditioned on the stored version token. A sentinel
// expected version inserts only when no document holds the entity yet;
// anything else replaces only while the stored version still matches.
func (a *Adapter) Save(ctx context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	coll := a.db.Collection(table)
	id := record[domain.FieldEntityID]

	if expectedVersion == domain.VersionSentinel {
		res, err := coll.UpdateOne(ctx,
			bson.M{domain.FieldEntityID: id},
			bson.M{"$setOnInsert": bson.M(record)},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount > 0 {
			return nil, fmt.Errorf("%w: document already exists for %v", domain.ErrLockConflict, id)
		}
		return record, nil
	}

	res, err := coll.ReplaceOne(ctx,
		bson.M{domain.FieldEntityID: id, domain.FieldVersion: expectedVersion.String()},
		bson.M(record),
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, fmt.Errorf("%w: stored version moved for %v", domain.ErrLockConflict, id)
	}
	return record, nil
}

// MoveToAudit copies the current document into the audit collection. The
// copy upserts on (entity_id, version), so a revision a losing writer has
// relocated already is silently kept as-is. A missing document is a
// tolerated no-op.
func (a *Adapter) MoveToAudit(ctx context.Context, table string, entityID uuid.UUID) error {
	var doc bson.M
	err := a.db.Collection(table).FindOne(ctx, bson.M{domain.FieldEntityID: entityID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}
	delete(doc, "_id")

	_, err = a.db.Collection(repository.AuditTable(table)).UpdateOne(ctx,
		bson.M{
			domain.FieldEntityID: doc[domain.FieldEntityID],
			domain.FieldVersion:  doc[domain.FieldVersion],
		},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

// RunBatch executes the operations sequentially. Multi-document transactions
// need a replica set, so each step keeps its own conditional guarantees
// instead.
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

func queryDocument(filter repository.Filter) bson.M {
	doc := bson.M{}
	for key, value := range filter {
		doc[key] = value
	}
	return doc
}

func sortDocument(sorts []repository.Sort) bson.D {
	doc := make(bson.D, 0, len(sorts))
	for _, s := range sorts {
		dir := 1
		if s.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: s.Field, Value: dir})
	}
	return doc
}

// recordFromDocument strips the driver's object id and rewrites the BSON
// container types into the plain maps and slices the wire format uses.
func recordFromDocument(doc bson.M) map[string]any {
	delete(doc, "_id")
	record := make(map[string]any, len(doc))
	for key, value := range doc {
		record[key] = normalizeValue(value)
	}
	return record
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case bson.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.DateTime:
		return v.Time().UTC()
	default:
		return v
	}
}
