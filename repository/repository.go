package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vellum/vellum/domain"
)

// Notifier publishes change notifications after successful writes. The
// messaging package provides implementations.
type Notifier interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// Repository orchestrates reads and concurrency-controlled writes for one
// entity type against a pluggable backend adapter. The previous-version
// token is used as the optimistic lock: at most one writer wins per
// (entity_id, previous_version) pair, and superseded revisions are
// relocated into the audit store before being overwritten.
type Repository struct {
	adapter  Adapter
	schema   *domain.Schema
	registry *domain.Registry
	table    string
	notifier Notifier
	queue    string
	batched  bool
	logger   *zap.Logger
}

// Option customizes a Repository.
type Option func(*Repository)

// WithNotifier attaches a change notifier and the queue it publishes to.
func WithNotifier(n Notifier, queue string) Option {
	return func(r *Repository) {
		r.notifier = n
		r.queue = queue
	}
}

// WithLogger sets the repository logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithTable overrides the schema's table name.
func WithTable(table string) Option {
	return func(r *Repository) { r.table = table }
}

// Batched issues the relocate-then-write pair through RunBatch so adapters
// with transactional support can group them. Hydration of backend-generated
// fields is skipped in this mode.
func Batched() Option {
	return func(r *Repository) { r.batched = true }
}

// New creates a repository for the schema's entity type.
func New(adapter Adapter, schema *domain.Schema, registry *domain.Registry, opts ...Option) *Repository {
	r := &Repository{
		adapter:  adapter,
		schema:   schema,
		registry: registry,
		table:    schema.Table(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the primary table this repository writes to.
func (r *Repository) Table() string { return r.table }

type query struct {
	sort            []Sort
	limit           int
	includeInactive bool
}

// QueryOption adjusts a lookup.
type QueryOption func(*query)

// WithSort orders the lookup.
func WithSort(sort ...Sort) QueryOption {
	return func(q *query) { q.sort = sort }
}

// WithLimit bounds the number of records returned by GetMany.
func WithLimit(limit int) QueryOption {
	return func(q *query) { q.limit = limit }
}

// IncludeInactive includes soft-deleted entities, which lookups exclude by
// default.
func IncludeInactive() QueryOption {
	return func(q *query) { q.includeInactive = true }
}

const defaultLimit = 100

func (r *Repository) buildFilter(filter Filter, q query) Filter {
	out := make(Filter, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	if _, explicit := out[domain.FieldActive]; !explicit && !q.includeInactive {
		out[domain.FieldActive] = true
	}
	return out
}

// GetOne fetches the single entity matching the filter. Soft-deleted rows
// are excluded unless requested. Returns domain.ErrNotFound when nothing
// matches.
func (r *Repository) GetOne(ctx context.Context, filter Filter, opts ...QueryOption) (*domain.Entity, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	record, err := r.adapter.GetOne(ctx, r.table, r.buildFilter(filter, q), q.sort)
	if err != nil {
		return nil, r.wrapAdapterErr("get_one", err)
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return domain.FromWire(r.schema, r.registry, record)
}

// GetMany fetches a bounded, optionally sorted set of entities matching the
// filter.
func (r *Repository) GetMany(ctx context.Context, filter Filter, opts ...QueryOption) ([]*domain.Entity, error) {
	q := query{limit: defaultLimit}
	for _, opt := range opts {
		opt(&q)
	}

	records, err := r.adapter.GetMany(ctx, r.table, r.buildFilter(filter, q), q.sort, q.limit)
	if err != nil {
		return nil, r.wrapAdapterErr("get_many", err)
	}

	entities := make([]*domain.Entity, 0, len(records))
	for _, record := range records {
		e, err := domain.FromWire(r.schema, r.registry, record)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Save writes the entity through the full protocol: prepare (version
// rotation and validation), audit relocation of the superseded revision,
// the conditional write, and hydration of backend-generated fields. A lost
// optimistic-lock race surfaces as domain.ErrLockConflict; the repository
// never retries on the caller's behalf.
func (r *Repository) Save(ctx context.Context, e *domain.Entity, actor uuid.UUID, notify bool) (*domain.Entity, error) {
	if err := e.PrepareForSave(actor); err != nil {
		return nil, err
	}

	record := e.ToWire(domain.WireOptions{})
	expected := e.PreviousVersion()

	if r.batched && !e.IsFirstSave() {
		ops := []Operation{
			{Kind: OpMoveToAudit, Table: r.table, EntityID: e.EntityID()},
			{Kind: OpSave, Table: r.table, Record: record, ExpectedVersion: expected},
		}
		if err := r.adapter.RunBatch(ctx, ops); err != nil {
			if errors.Is(err, domain.ErrLockConflict) {
				return nil, err
			}
			return nil, r.wrapAdapterErr("run_batch", err)
		}
		if notify {
			r.notify(ctx, e)
		}
		return e, nil
	}

	if !e.IsFirstSave() {
		// relocate the currently stored revision before overwriting it;
		// a missing row is an expected race and not a failure
		if err := r.adapter.MoveToAudit(ctx, r.table, e.EntityID()); err != nil {
			return nil, r.wrapAdapterErr("move_to_audit", err)
		}
	}

	stored, err := r.adapter.Save(ctx, r.table, record, expected)
	if err != nil {
		if errors.Is(err, domain.ErrLockConflict) {
			return nil, err
		}
		return nil, r.wrapAdapterErr("save", err)
	}
	if stored != nil {
		e.ApplyWire(stored, r.registry)
	}

	if notify {
		r.notify(ctx, e)
	}
	return e, nil
}

// Delete soft-deletes the entity: active is cleared and the full write
// protocol runs as a normal update, audit relocation included. The row is
// never physically removed from the primary table.
func (r *Repository) Delete(ctx context.Context, e *domain.Entity, actor uuid.UUID) (*domain.Entity, error) {
	e.SetActive(false)
	return r.Save(ctx, e, actor, false)
}

// notify publishes a change notification. The entity's persistence is
// already final, so failures are logged and never surfaced.
func (r *Repository) notify(ctx context.Context, e *domain.Entity) {
	if r.notifier == nil {
		return
	}
	payload, err := json.Marshal(e.ToWire(domain.WireOptions{ISOTimestamps: true}))
	if err != nil {
		r.logger.Error("failed to encode change notification",
			zap.String("table", r.table),
			zap.String("entity_id", e.EntityID().String()),
			zap.Error(err),
		)
		return
	}
	if err := r.notifier.Publish(ctx, r.queue, payload); err != nil {
		r.logger.Error("failed to publish change notification",
			zap.String("table", r.table),
			zap.String("queue", r.queue),
			zap.String("entity_id", e.EntityID().String()),
			zap.Error(err),
		)
	}
}

func (r *Repository) wrapAdapterErr(op string, err error) error {
	var adapterErr *domain.AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}
	return domain.NewAdapterError(r.table, op, err)
}
