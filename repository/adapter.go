package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Filter is a set of equality conditions on wire keys.
type Filter map[string]any

// Sort orders a lookup by one wire key.
type Sort struct {
	Field string
	Desc  bool
}

// OpKind identifies a batched adapter operation.
type OpKind int

const (
	// OpMoveToAudit relocates the stored row for an entity into the audit table
	OpMoveToAudit OpKind = iota
	// OpSave performs the conditional write
	OpSave
)

// Operation is one step of a batched relocate-then-write pair.
type Operation struct {
	Kind            OpKind
	Table           string
	EntityID        uuid.UUID
	Record          map[string]any
	ExpectedVersion uuid.UUID
}

// Adapter is the capability set the repository requires from a storage
// backend. Implementations signal an optimistic-lock rejection from Save by
// returning an error matching domain.ErrLockConflict, distinct from any
// other failure.
type Adapter interface {
	// GetOne fetches a single record matching the filter, or nil when none does.
	GetOne(ctx context.Context, table string, filter Filter, sort []Sort) (map[string]any, error)

	// GetMany fetches up to limit records matching the filter.
	GetMany(ctx context.Context, table string, filter Filter, sort []Sort, limit int) ([]map[string]any, error)

	// Save writes the record conditioned on the optimistic-lock token: when
	// expectedVersion is the sentinel the row must not exist yet, otherwise
	// the stored row's version must still equal expectedVersion. Returns the
	// stored record so backend-generated fields can be copied back.
	Save(ctx context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error)

	// MoveToAudit copies the currently stored row for entityID into the
	// table's audit store. A missing row is a tolerated no-op, not an error.
	MoveToAudit(ctx context.Context, table string, entityID uuid.UUID) error

	// RunBatch executes a relocate-then-write pair, transactionally where the
	// backend supports it and sequentially otherwise.
	RunBatch(ctx context.Context, ops []Operation) error
}

// AuditTable returns the audit store name for a primary table.
func AuditTable(table string) string {
	return table + "_audit"
}

// MatchesFilter reports whether a wire record satisfies every equality
// condition. Values compare loosely so native and string forms of the same
// identifier both match. Backends without server-side querying filter
// client-side with it.
func MatchesFilter(record map[string]any, filter Filter) bool {
	for key, want := range filter {
		got, ok := record[key]
		if !ok {
			return false
		}
		if got != want && fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// SortRecords orders wire records in place by the given sort keys.
func SortRecords(records []map[string]any, sorts []Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, s := range sorts {
			a := fmt.Sprint(records[i][s.Field])
			b := fmt.Sprint(records[j][s.Field])
			if a == b {
				continue
			}
			if s.Desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}
