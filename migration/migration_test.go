package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/models"
)

func TestTableDDL(t *testing.T) {
	t.Run("primary and shadow tables share columns", func(t *testing.T) {
		up, down := TableDDL(models.Email)

		assert.Contains(t, up, "CREATE TABLE IF NOT EXISTS email (")
		assert.Contains(t, up, "CREATE TABLE IF NOT EXISTS email_audit (")
		assert.Contains(t, up, "PRIMARY KEY (entity_id)")
		assert.Contains(t, up, "PRIMARY KEY (entity_id, version)")
		assert.Equal(t, 2, strings.Count(up, "email_address TEXT NOT NULL"))

		assert.Contains(t, down, "DROP TABLE IF EXISTS email_audit;")
		assert.Contains(t, down, "DROP TABLE IF EXISTS email;")
	})

	t.Run("reference columns are typed and indexed", func(t *testing.T) {
		up, _ := TableDDL(models.Email)

		assert.Contains(t, up, "person_id UUID")
		assert.Contains(t, up, "CREATE INDEX IF NOT EXISTS idx_email_person_id ON email (person_id);")
	})

	t.Run("derived fields get no column", func(t *testing.T) {
		up, _ := TableDDL(models.Person)

		assert.NotContains(t, up, "full_name")
	})

	t.Run("composite fields store as jsonb", func(t *testing.T) {
		up, _ := TableDDL(models.LoginMethod)

		assert.Contains(t, up, "method_data JSONB")
	})

	t.Run("decimal fields store as numeric", func(t *testing.T) {
		up, _ := TableDDL(models.Organization)

		assert.Contains(t, up, "credit_balance NUMERIC")
	})
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add person table", "add_person_table"},
		{"Add-Person-Table", "add_person_table"},
		{"add__person__table", "add_person_table"},
		{"Add Person 123", "add_person_123"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreate(t *testing.T) {
	tmpDir := t.TempDir()

	schema := domain.NewSchema("Widget").
		Scalar("label", domain.TypeString, domain.WithRule("required")).
		MustBuild()

	f, err := Create(tmpDir, "add widget table", schema)
	require.NoError(t, err)

	assert.Len(t, f.Version, 14)
	assert.True(t, strings.HasSuffix(f.UpPath, ".up.sql"))
	assert.True(t, strings.HasSuffix(f.DownPath, ".down.sql"))

	upBase := strings.TrimSuffix(filepath.Base(f.UpPath), ".up.sql")
	downBase := strings.TrimSuffix(filepath.Base(f.DownPath), ".down.sql")
	assert.Equal(t, upBase, downBase)

	up, err := os.ReadFile(f.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS widget (")
	assert.Contains(t, string(up), "label TEXT NOT NULL")

	down, err := os.ReadFile(f.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP TABLE IF EXISTS widget_audit;")

	names, err := List(tmpDir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, upBase, names[0])
}

func TestListMissingDirectory(t *testing.T) {
	names, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, names)
}
