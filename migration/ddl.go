package migration

import (
	"fmt"
	"strings"

	"github.com/vellum/vellum/domain"
)

// TableDDL generates the CREATE statements for a schema's primary table and
// its audit shadow, plus the matching DROP statements. The primary table is
// keyed on entity_id; the shadow keeps every superseded revision and is keyed
// on (entity_id, version).
func TableDDL(schema *domain.Schema) (up, down string) {
	table := schema.Table()
	audit := table + "_audit"

	cols := columnDefs(schema)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	for _, c := range cols {
		fmt.Fprintf(&b, "    %s,\n", c)
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n);\n", domain.FieldEntityID)

	for _, d := range schema.Fields() {
		if d.Kind == domain.KindRef {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);\n",
				table, d.Name, table, d.Name)
		}
	}

	fmt.Fprintf(&b, "\nCREATE TABLE IF NOT EXISTS %s (\n", audit)
	for _, c := range cols {
		fmt.Fprintf(&b, "    %s,\n", c)
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s, %s)\n);\n", domain.FieldEntityID, domain.FieldVersion)

	down = fmt.Sprintf("DROP TABLE IF EXISTS %s;\nDROP TABLE IF EXISTS %s;\n", audit, table)
	return b.String(), down
}

func columnDefs(schema *domain.Schema) []string {
	var cols []string
	for _, d := range schema.Fields() {
		if d.Computed {
			continue
		}
		def := fmt.Sprintf("%s %s", d.Name, columnType(d))
		if domain.IsControlField(d.Name) || strings.Contains(d.Rule, "required") {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	return cols
}

func columnType(d domain.Descriptor) string {
	switch d.Kind {
	case domain.KindRef:
		return "UUID"
	case domain.KindNested, domain.KindM2M:
		return "JSONB"
	}
	switch d.Type {
	case domain.TypeString, domain.TypeEnum:
		return "TEXT"
	case domain.TypeInt:
		return "BIGINT"
	case domain.TypeFloat:
		return "DOUBLE PRECISION"
	case domain.TypeBool:
		return "BOOLEAN"
	case domain.TypeDecimal:
		return "NUMERIC"
	case domain.TypeUUID:
		return "UUID"
	case domain.TypeTime:
		return "TIMESTAMPTZ"
	default:
		return "JSONB"
	}
}
