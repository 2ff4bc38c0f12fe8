package surreal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum/vellum/repository"
)

func TestParseResponse(t *testing.T) {
	t.Run("unwraps the rows of the last statement", func(t *testing.T) {
		response := []any{
			map[string]any{
				"status": "OK",
				"result": []any{
					map[string]any{"id": "people:abc", "first_name": "ada"},
				},
			},
		}

		rows, err := parseResponse(response)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "ada", rows[0]["first_name"])
	})

	t.Run("empty result yields no rows", func(t *testing.T) {
		rows, err := parseResponse([]any{map[string]any{"status": "OK", "result": []any{}}})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("ERR status surfaces the server detail", func(t *testing.T) {
		_, err := parseResponse([]any{map[string]any{
			"status": "ERR",
			"detail": "Database record `people:abc` already exists",
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("nil response yields no rows", func(t *testing.T) {
		rows, err := parseResponse(nil)
		require.NoError(t, err)
		assert.Nil(t, rows)
	})
}

func TestNormalizeRecord(t *testing.T) {
	t.Run("derives entity_id from the record id", func(t *testing.T) {
		record := normalizeRecord(map[string]any{
			"id":         "people:9b1deb4d",
			"first_name": "ada",
		})

		assert.Equal(t, "9b1deb4d", record["entity_id"])
		assert.NotContains(t, record, "id")
	})

	t.Run("keeps an explicit entity_id field", func(t *testing.T) {
		record := normalizeRecord(map[string]any{
			"id":        "people:9b1deb4d",
			"entity_id": "9b1deb4d",
		})

		assert.Equal(t, "9b1deb4d", record["entity_id"])
	})
}

func TestQueryBuilding(t *testing.T) {
	t.Run("filters become parameterized conditions", func(t *testing.T) {
		vars := map[string]any{}
		where, err := buildWhere(repository.Filter{"active": true}, vars)

		require.NoError(t, err)
		assert.Equal(t, " WHERE active = $w0", where)
		assert.Equal(t, true, vars["w0"])
	})

	t.Run("filter keys must be identifiers", func(t *testing.T) {
		_, err := buildWhere(repository.Filter{"active; REMOVE TABLE people": true}, map[string]any{})
		assert.Error(t, err)
	})

	t.Run("sorts validate fields and direction", func(t *testing.T) {
		order, err := buildOrder([]repository.Sort{
			{Field: "changed_on", Desc: true},
			{Field: "first_name"},
		})

		require.NoError(t, err)
		assert.Equal(t, " ORDER BY changed_on DESC, first_name ASC", order)
	})
}
