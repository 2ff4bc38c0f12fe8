package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum/vellum/domain"
	"github.com/vellum/vellum/models"
	"github.com/vellum/vellum/persistence/gormdb"
	"github.com/vellum/vellum/repository"
)

func TestPersonLifecycle(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := context.Background()
	actor := uuid.New()

	adapter := gormdb.NewAdapter(tdb.DB)
	repo := repository.New(adapter, models.Person, models.NewRegistry())

	person := domain.MustNew(models.Person, map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})

	saved, err := repo.Save(ctx, person, actor, false)
	require.NoError(t, err)
	assert.NotEqual(t, domain.VersionSentinel, saved.Version())
	assert.Equal(t, domain.VersionSentinel, saved.PreviousVersion())
	assert.Equal(t, int64(1), tdb.CountRows("person"))
	assert.Equal(t, int64(0), tdb.CountRows("person_audit"))

	t.Run("update relocates the superseded revision", func(t *testing.T) {
		fetched, err := repo.GetOne(ctx, repository.Filter{domain.FieldEntityID: saved.EntityID().String()})
		require.NoError(t, err)
		firstVersion := fetched.Version()

		require.NoError(t, fetched.Set("last_name", "King"))
		updated, err := repo.Save(ctx, fetched, actor, false)
		require.NoError(t, err)

		assert.NotEqual(t, firstVersion, updated.Version())
		assert.Equal(t, firstVersion, updated.PreviousVersion())
		assert.Equal(t, int64(1), tdb.CountRows("person"))
		assert.Equal(t, int64(1), tdb.CountRows("person_audit"))

		var auditVersions []string
		err = tdb.DB.Table("person_audit").
			Where("entity_id = ?", saved.EntityID().String()).
			Pluck("version", &auditVersions).Error
		require.NoError(t, err)
		require.Len(t, auditVersions, 1)
		assert.Equal(t, firstVersion.String(), auditVersions[0])
	})

	t.Run("stale writer is rejected", func(t *testing.T) {
		filter := repository.Filter{domain.FieldEntityID: saved.EntityID().String()}
		first, err := repo.GetOne(ctx, filter)
		require.NoError(t, err)
		second, err := repo.GetOne(ctx, filter)
		require.NoError(t, err)

		require.NoError(t, first.Set("last_name", "Byron"))
		_, err = repo.Save(ctx, first, actor, false)
		require.NoError(t, err)

		require.NoError(t, second.Set("last_name", "Milbanke"))
		_, err = repo.Save(ctx, second, actor, false)
		assert.ErrorIs(t, err, domain.ErrLockConflict)

		// the losing write never reaches the primary table, but it has
		// already relocated the live revision into the audit table
		assert.Equal(t, int64(1), tdb.CountRows("person"))
		assert.Equal(t, int64(3), tdb.CountRows("person_audit"))

		// a re-read retry relocates that same revision again and must not
		// trip over the earlier copy
		retry, err := repo.GetOne(ctx, filter)
		require.NoError(t, err)
		require.NoError(t, retry.Set("last_name", "Milbanke"))
		_, err = repo.Save(ctx, retry, actor, false)
		require.NoError(t, err)
		assert.Equal(t, int64(3), tdb.CountRows("person_audit"))
	})

	t.Run("delete deactivates without removing the row", func(t *testing.T) {
		filter := repository.Filter{domain.FieldEntityID: saved.EntityID().String()}
		current, err := repo.GetOne(ctx, filter)
		require.NoError(t, err)

		deleted, err := repo.Delete(ctx, current, actor)
		require.NoError(t, err)
		assert.False(t, deleted.Active())

		_, err = repo.GetOne(ctx, filter)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		revived, err := repo.GetOne(ctx, filter, repository.IncludeInactive())
		require.NoError(t, err)
		assert.False(t, revived.Active())
		assert.Equal(t, int64(1), tdb.CountRows("person"))
	})
}

func TestBatchedSaves(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := context.Background()
	actor := uuid.New()

	adapter := gormdb.NewAdapter(tdb.DB)
	repo := repository.New(adapter, models.Organization, models.NewRegistry(), repository.Batched())

	org := domain.MustNew(models.Organization, map[string]any{
		"name": "Analytical Engines Ltd",
		"code": "AEL",
	})

	saved, err := repo.Save(ctx, org, actor, false)
	require.NoError(t, err)

	fetched, err := repo.GetOne(ctx, repository.Filter{domain.FieldEntityID: saved.EntityID().String()})
	require.NoError(t, err)
	require.NoError(t, fetched.Set("description", "Difference engines and tabulators"))

	_, err = repo.Save(ctx, fetched, actor, false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), tdb.CountRows("organization"))
	assert.Equal(t, int64(1), tdb.CountRows("organization_audit"))

	t.Run("stale batched writer rolls back the relocation", func(t *testing.T) {
		filter := repository.Filter{domain.FieldEntityID: saved.EntityID().String()}
		first, err := repo.GetOne(ctx, filter)
		require.NoError(t, err)
		second, err := repo.GetOne(ctx, filter)
		require.NoError(t, err)

		require.NoError(t, first.Set("code", "AE-1"))
		_, err = repo.Save(ctx, first, actor, false)
		require.NoError(t, err)

		require.NoError(t, second.Set("code", "AE-2"))
		_, err = repo.Save(ctx, second, actor, false)
		assert.ErrorIs(t, err, domain.ErrLockConflict)

		assert.Equal(t, int64(2), tdb.CountRows("organization_audit"))
	})
}

func TestQueriesAgainstPostgres(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := context.Background()
	actor := uuid.New()

	adapter := gormdb.NewAdapter(tdb.DB)
	repo := repository.New(adapter, models.Person, models.NewRegistry())

	for _, name := range []string{"Charles", "Ada", "Luigi"} {
		p := domain.MustNew(models.Person, map[string]any{"first_name": name})
		_, err := repo.Save(ctx, p, actor, false)
		require.NoError(t, err)
	}

	people, err := repo.GetMany(ctx, nil,
		repository.WithSort(repository.Sort{Field: "first_name"}),
		repository.WithLimit(2),
	)
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Ada", people[0].MustGet("first_name"))
	assert.Equal(t, "Charles", people[1].MustGet("first_name"))
}
