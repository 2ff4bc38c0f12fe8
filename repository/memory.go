package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vellum/vellum/domain"
)

// MemoryAdapter is a mutex-guarded in-memory implementation of Adapter with
// full conditional-write and audit semantics. It backs tests and embedded
// use where no external store is wanted.
type MemoryAdapter struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any
	audits map[string][]map[string]any
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		tables: make(map[string]map[string]map[string]any),
		audits: make(map[string][]map[string]any),
	}
}

func copyRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

// GetOne fetches a single record matching the filter.
func (m *MemoryAdapter) GetOne(ctx context.Context, table string, filter Filter, sorts []Sort) (map[string]any, error) {
	records, err := m.GetMany(ctx, table, filter, sorts, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GetMany fetches up to limit records matching the filter.
func (m *MemoryAdapter) GetMany(_ context.Context, table string, filter Filter, sorts []Sort, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any
	for _, record := range m.tables[table] {
		if MatchesFilter(record, filter) {
			out = append(out, copyRecord(record))
		}
	}
	SortRecords(out, sorts)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Save performs the conditional write against the stored version token.
func (m *MemoryAdapter) Save(_ context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(table, record, expectedVersion)
}

func (m *MemoryAdapter) saveLocked(table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	id := fmt.Sprint(record[domain.FieldEntityID])
	rows := m.tables[table]
	if rows == nil {
		rows = make(map[string]map[string]any)
		m.tables[table] = rows
	}

	stored, exists := rows[id]
	if expectedVersion == domain.VersionSentinel {
		if exists {
			return nil, fmt.Errorf("%w: row already exists for %s", domain.ErrLockConflict, id)
		}
	} else {
		if !exists || fmt.Sprint(stored[domain.FieldVersion]) != expectedVersion.String() {
			return nil, fmt.Errorf("%w: stored version moved for %s", domain.ErrLockConflict, id)
		}
	}

	rows[id] = copyRecord(record)
	return copyRecord(record), nil
}

// MoveToAudit copies the stored row into the audit store; missing rows are
// a no-op.
func (m *MemoryAdapter) MoveToAudit(_ context.Context, table string, entityID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveToAuditLocked(table, entityID)
}

func (m *MemoryAdapter) moveToAuditLocked(table string, entityID uuid.UUID) error {
	stored, ok := m.tables[table][entityID.String()]
	if !ok {
		return nil
	}
	audit := AuditTable(table)
	// a writer that lost the optimistic lock may have relocated this exact
	// revision already; the audit store is keyed by (entity_id, version)
	for _, existing := range m.audits[audit] {
		if fmt.Sprint(existing[domain.FieldEntityID]) == entityID.String() &&
			fmt.Sprint(existing[domain.FieldVersion]) == fmt.Sprint(stored[domain.FieldVersion]) {
			return nil
		}
	}
	m.audits[audit] = append(m.audits[audit], copyRecord(stored))
	return nil
}

// RunBatch executes the operations sequentially under a single lock.
func (m *MemoryAdapter) RunBatch(_ context.Context, ops []Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		switch op.Kind {
		case OpMoveToAudit:
			if err := m.moveToAuditLocked(op.Table, op.EntityID); err != nil {
				return err
			}
		case OpSave:
			if _, err := m.saveLocked(op.Table, op.Record, op.ExpectedVersion); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported batch operation %d", op.Kind)
		}
	}
	return nil
}

// AuditRecords returns a copy of the audit store for a primary table.
func (m *MemoryAdapter) AuditRecords(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.audits[AuditTable(table)]
	out := make([]map[string]any, len(stored))
	for i, record := range stored {
		out[i] = copyRecord(record)
	}
	return out
}
