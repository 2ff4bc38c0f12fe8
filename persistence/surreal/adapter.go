package surreal

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/repository"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var _ repository.Adapter = (*Adapter)(nil)

// Adapter stores entity records as SurrealDB documents whose record id is
// derived from the entity_id. Superseded revisions are copied into the
// audit table with fresh record ids so every relocation is kept.
type Adapter struct {
	db     *surrealdb.DB
	logger *zap.Logger
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.logger = log }
}

// NewAdapter connects to SurrealDB, signs in, and selects the configured
// namespace and database.
func NewAdapter(cfg *config.SurrealDBConfig, opts ...Option) (*Adapter, error) {
	db, err := surrealdb.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}
	if _, err := db.Signin(map[string]any{"user": cfg.User, "pass": cfg.Password}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}
	if _, err := db.Use(cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace: %w", err)
	}

	a := &Adapter{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Close closes the underlying connection.
func (a *Adapter) Close() {
	a.db.Close()
}

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// parseResponse unwraps a raw query response into the per-statement result
// rows. Statements that report ERR status surface as errors with the
// server's detail message.
func parseResponse(response any) ([]map[string]any, error) {
	statements, ok := response.([]any)
	if !ok || len(statements) == 0 {
		return nil, nil
	}

	// only the last statement's rows are interesting to callers
	last, ok := statements[len(statements)-1].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response shape %T", statements[len(statements)-1])
	}
	if status, _ := last["status"].(string); status != "" && status != "OK" {
		detail, _ := last["detail"].(string)
		if detail == "" {
			detail = fmt.Sprint(last["result"])
		}
		return nil, fmt.Errorf("query failed with status %s: %s", status, detail)
	}

	switch result := last["result"].(type) {
	case nil:
		return nil, nil
	case []any:
		rows := make([]map[string]any, 0, len(result))
		for _, item := range result {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("unexpected row shape %T", item)
			}
			rows = append(rows, row)
		}
		return rows, nil
	case map[string]any:
		return []map[string]any{result}, nil
	default:
		return nil, fmt.Errorf("unexpected result shape %T", result)
	}
}

// normalizeRecord rewrites the document id back into entity_id form.
func normalizeRecord(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	if _, ok := out[domain.FieldEntityID]; !ok {
		if id, ok := row["id"].(string); ok {
			if _, plain, found := strings.Cut(id, ":"); found {
				out[domain.FieldEntityID] = strings.Trim(plain, "⟨⟩`")
			}
		}
	}
	return out
}

func buildWhere(filter repository.Filter, vars map[string]any) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	conditions := make([]string, 0, len(filter))
	i := 0
	for key, value := range filter {
		if err := validIdent(key); err != nil {
			return "", err
		}
		placeholder := fmt.Sprintf("w%d", i)
		conditions = append(conditions, fmt.Sprintf("%s = $%s", key, placeholder))
		vars[placeholder] = value
		i++
	}
	return " WHERE " + strings.Join(conditions, " AND "), nil
}

func buildOrder(sorts []repository.Sort) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(sorts))
	for _, s := range sorts {
		if err := validIdent(s.Field); err != nil {
			return "", err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s", s.Field, dir))
	}
	return " ORDER BY " + strings.Join(clauses, ", "), nil
}

func (a *Adapter) query(sql string, vars map[string]any) ([]map[string]any, error) {
	response, err := a.db.Query(sql, vars)
	if err != nil {
		return nil, err
	}
	return parseResponse(response)
}

// GetOne fetches a single record matching the filter.
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
func (a *Adapter) GetMany(_ context.Context, table string, filter repository.Filter, sorts []repository.Sort, limit int) ([]map[string]any, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}

	vars := map[string]any{"tb": table}
	where, err := buildWhere(filter, vars)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(sorts)
	if err != nil {
		return nil, err
	}

	sql := "SELECT * FROM type::table($tb)" + where + order
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := a.query(sql, vars)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = normalizeRecord(row)
	}
	return out, nil
}

// Save writes the record under the optimistic-lock protocol. First saves
// CREATE the document, which the server rejects when the id is taken.
// Updates go through a conditional UPDATE whose empty result means the
// stored version token moved.
func (a *Adapter) Save(_ context.Context, table string, record map[string]any, expectedVersion uuid.UUID) (map[string]any, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	id := fmt.Sprint(record[domain.FieldEntityID])
	vars := map[string]any{
		"tb":   table,
		"id":   id,
		"data": record,
	}

	if expectedVersion == domain.VersionSentinel {
		rows, err := a.query("CREATE type::thing($tb, $id) CONTENT $data", vars)
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				return nil, fmt.Errorf("%w: row already exists for %s", domain.ErrLockConflict, id)
			}
			return nil, err
		}
		if len(rows) == 0 {
			return record, nil
		}
		return normalizeRecord(rows[0]), nil
	}

	vars["prev"] = expectedVersion.String()
	rows, err := a.query("UPDATE type::thing($tb, $id) CONTENT $data WHERE version = $prev", vars)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: stored version moved for %s", domain.ErrLockConflict, id)
	}
	return normalizeRecord(rows[0]), nil
}

// MoveToAudit copies the stored document into the audit table under a fresh
// record id. A missing document is an expected race and not a failure.
func (a *Adapter) MoveToAudit(ctx context.Context, table string, entityID uuid.UUID) error {
	if err := validIdent(table); err != nil {
		return err
	}

	stored, err := a.GetOne(ctx, table, repository.Filter{domain.FieldEntityID: entityID.String()}, nil)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	_, err = a.query("CREATE type::table($tb) CONTENT $data", map[string]any{
		"tb":   repository.AuditTable(table),
		"data": stored,
	})
	return err
}

// RunBatch executes the operations sequentially. Each step keeps its own
// conditional guarantees; a multi-statement transaction would hide which
// step rejected the lock.
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
