package gormdb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/repository"
)

// newMockAdapter creates an Adapter with a mocked SQL connection
func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)

	return NewAdapter(gormDB), mock, mockDB
}

func TestAdapter_GetOne(t *testing.T) {
	t.Run("finds and decodes an existing row", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		entityID := uuid.New()
		rows := sqlmock.NewRows([]string{"entity_id", "first_name", "settings"}).
			AddRow(entityID.String(), "ada", []byte(`{"theme":"dark"}`))

		mock.ExpectQuery(`SELECT \* FROM "people" WHERE entity_id = \$1 LIMIT \$2`).
			WithArgs(entityID.String(), 1).
			WillReturnRows(rows)

		record, err := adapter.GetOne(context.Background(), "people",
			repository.Filter{"entity_id": entityID.String()}, nil)

		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "ada", record["first_name"])
		assert.Equal(t, map[string]any{"theme": "dark"}, record["settings"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil for a missing row", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "people"`).
			WillReturnRows(sqlmock.NewRows([]string{"entity_id"}))

		record, err := adapter.GetOne(context.Background(), "people",
			repository.Filter{"entity_id": uuid.NewString()}, nil)

		require.NoError(t, err)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects filter keys that are not identifiers", func(t *testing.T) {
		adapter, _, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		_, err := adapter.GetOne(context.Background(), "people",
			repository.Filter{"name; DROP TABLE people": "x"}, nil)

		assert.Error(t, err)
	})
}

func TestAdapter_GetMany(t *testing.T) {
	t.Run("applies sort direction and limit", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		rows := sqlmock.NewRows([]string{"entity_id", "first_name"}).
			AddRow(uuid.NewString(), "bob").
			AddRow(uuid.NewString(), "ada")

		mock.ExpectQuery(`SELECT \* FROM "people" WHERE active = \$1 ORDER BY first_name DESC LIMIT \$2`).
			WithArgs(true, 10).
			WillReturnRows(rows)

		records, err := adapter.GetMany(context.Background(), "people",
			repository.Filter{"active": true},
			[]repository.Sort{{Field: "first_name", Desc: true}}, 10)

		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_Save(t *testing.T) {
	entityID := uuid.New()
	version := uuid.New()
	prev := uuid.New()

	record := func() map[string]any {
		return map[string]any{
			"entity_id":  entityID.String(),
			"version":    version.String(),
			"first_name": "ada",
		}
	}

	t.Run("sentinel expected version inserts", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		mock.ExpectExec(`INSERT INTO "people"`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		stored, err := adapter.Save(context.Background(), "people", record(), domain.VersionSentinel)

		require.NoError(t, err)
		assert.Equal(t, "ada", stored["first_name"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate insert is a lock conflict", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		mock.ExpectExec(`INSERT INTO "people"`).
			WillReturnError(gorm.ErrDuplicatedKey)

		_, err := adapter.Save(context.Background(), "people", record(), domain.VersionSentinel)

		assert.ErrorIs(t, err, domain.ErrLockConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conditional update targets the expected version", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "people" SET .* WHERE entity_id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := adapter.Save(context.Background(), "people", record(), prev)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero affected rows is a lock conflict", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "people" SET .* WHERE entity_id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := adapter.Save(context.Background(), "people", record(), prev)

		assert.ErrorIs(t, err, domain.ErrLockConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_MoveToAudit(t *testing.T) {
	t.Run("copies the stored row into the shadow table", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		entityID := uuid.New()
		mock.ExpectExec(`INSERT INTO people_audit SELECT \* FROM people WHERE entity_id = \$1 ON CONFLICT \(entity_id, version\) DO NOTHING`).
			WithArgs(entityID.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := adapter.MoveToAudit(context.Background(), "people", entityID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tolerates an already relocated revision", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		entityID := uuid.New()
		mock.ExpectExec(`INSERT INTO people_audit SELECT \* FROM people WHERE entity_id = \$1 ON CONFLICT \(entity_id, version\) DO NOTHING`).
			WithArgs(entityID.String()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := adapter.MoveToAudit(context.Background(), "people", entityID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects table names that are not identifiers", func(t *testing.T) {
		adapter, _, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		err := adapter.MoveToAudit(context.Background(), "people; DROP TABLE people", uuid.New())

		assert.Error(t, err)
	})
}

func TestAdapter_RunBatch(t *testing.T) {
	t.Run("runs relocation and write in one transaction", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		entityID := uuid.New()
		prev := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO people_audit SELECT \* FROM people WHERE entity_id = \$1 ON CONFLICT \(entity_id, version\) DO NOTHING`).
			WithArgs(entityID.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE "people" SET .* WHERE entity_id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := adapter.RunBatch(context.Background(), []repository.Operation{
			{Kind: repository.OpMoveToAudit, Table: "people", EntityID: entityID},
			{Kind: repository.OpSave, Table: "people", EntityID: entityID,
				Record: map[string]any{
					"entity_id":  entityID.String(),
					"version":    uuid.NewString(),
					"first_name": "ada",
				},
				ExpectedVersion: prev},
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock conflict rolls the transaction back", func(t *testing.T) {
		adapter, mock, mockDB := newMockAdapter(t)
		defer mockDB.Close()

		entityID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "people" SET .*`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := adapter.RunBatch(context.Background(), []repository.Operation{
			{Kind: repository.OpSave, Table: "people", EntityID: entityID,
				Record: map[string]any{
					"entity_id": entityID.String(),
					"version":   uuid.NewString(),
				},
				ExpectedVersion: uuid.New()},
		})

		assert.ErrorIs(t, err, domain.ErrLockConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
