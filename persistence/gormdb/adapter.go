package gormdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/repository"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var _ repository.Adapter = (*Adapter)(nil)

// Adapter is the relational storage backend. Records live in one table per
// entity type; superseded revisions are copied into the shadow table next
// to it before each overwrite.
type Adapter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.logger = log }
}

// NewAdapter wraps an open GORM connection.
func NewAdapter(db *gorm.DB, opts ...Option) *Adapter {
	a := &Adapter{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func applyFilter(q *gorm.DB, filter repository.Filter) (*gorm.DB, error) {
	for key, value := range filter {
		if err := validIdent(key); err != nil {
			return nil, err
		}
		q = q.Where(fmt.Sprintf("%s = ?", key), value)
	}
	return q, nil
}

func applySorts(q *gorm.DB, sorts []repository.Sort) (*gorm.DB, error) {
	for _, s := range sorts {
		if err := validIdent(s.Field); err != nil {
			return nil, err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		q = q.Order(fmt.Sprintf("%s %s", s.Field, dir))
	}
	return q, nil
}

// GetOne fetches a single record matching the filter, or nil when no row
// matches.
func (a *Adapter) GetOne(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort) (map[string]any, error) {
	records, err := a.GetMany(ctx, table, filter, sorts, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GetMany fetches up to limit records matching the filter.
func (a *Adapter) GetMany(ctx context.Context, table string, filter repository.Filter, sorts []repository.Sort, limit int) ([]map[string]any, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}

	q := a.db.WithContext(ctx).Table(table)
	q, err := applyFilter(q, filter)
	if err != nil {
		return nil, err
	}
	q, err = applySorts(q, sorts)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = decodeRecord(row)
	}
	return out, nil
}

// Save writes the record under the optimistic-lock protocol. A sentinel
// expected version inserts; anything else issues a conditional update
// against the stored version token. Zero affected rows means the lock was
// lost.
func (a *Adapter) Save(ctx context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	if err := a.save(a.db.WithContext(ctx), table, record, expectedVersion); err != nil {
		return nil, err
	}
	return record, nil
}

func (a *Adapter) save(tx *gorm.DB, table string, record map[string]any, expectedVersion uuid.UUID) error {
	row := encodeRecord(record)

	if expectedVersion == domain.VersionSentinel {
		err := tx.Table(table).Create(row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: row already exists for %v", domain.ErrLockConflict, record[domain.FieldEntityID])
		}
		return err
	}

	res := tx.Table(table).
		Where(fmt.Sprintf("%s = ? AND %s = ?", domain.FieldEntityID, domain.FieldVersion),
			record[domain.FieldEntityID], expectedVersion.String()).
		Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		a.logger.Debug("optimistic lock lost",
			zap.String("table", table),
			zap.Any("entity_id", record[domain.FieldEntityID]),
			zap.String("expected_version", expectedVersion.String()),
		)
		return fmt.Errorf("%w: stored version moved for %v", domain.ErrLockConflict, record[domain.FieldEntityID])
	}
	return nil
}

// MoveToAudit copies the stored row into the shadow table. A missing row is
// an expected race and not a failure.
func (a *Adapter) MoveToAudit(ctx context.Context, table string, entityID uuid.UUID) error {
	return a.moveToAudit(a.db.WithContext(ctx), table, entityID)
}

func (a *Adapter) moveToAudit(tx *gorm.DB, table string, entityID uuid.UUID) error {
	if err := validIdent(table); err != nil {
		return err
	}
	// a writer that loses the optimistic lock has already relocated the
	// still-current revision, so the next relocation may see the same
	// (entity_id, version) pair again
	sql := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s WHERE %s = ? ON CONFLICT (%s, %s) DO NOTHING",
		repository.AuditTable(table), table, domain.FieldEntityID,
		domain.FieldEntityID, domain.FieldVersion)
	return tx.Exec(sql, entityID.String()).Error
}

// RunBatch executes the operations inside a single transaction.
func (a *Adapter) RunBatch(ctx context.Context, ops []repository.Operation) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			switch op.Kind {
			case repository.OpMoveToAudit:
				if err := a.moveToAudit(tx, op.Table, op.EntityID); err != nil {
					return err
				}
			case repository.OpSave:
				if err := a.save(tx, op.Table, op.Record, op.ExpectedVersion); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported batch operation %d", op.Kind)
			}
		}
		return nil
	})
}

// encodeRecord flattens composite values to JSON text so they fit scalar
// columns.
func encodeRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		switch v.(type) {
		case map[string]any, []any, []map[string]any:
			encoded, err := json.Marshal(v)
			if err != nil {
				out[k] = v
				continue
			}
			out[k] = string(encoded)
		default:
			out[k] = v
		}
	}
	return out
}

// decodeRecord reverses encodeRecord for rows read back from the database.
func decodeRecord(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v any) any {
	var raw []byte
	switch val := v.(type) {
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		return v
	}
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}
