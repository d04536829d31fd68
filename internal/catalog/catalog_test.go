package catalog_test

import (
	"path/filepath"
	"testing"

	"github.com/eteran/meshvault/internal/catalog"
	"github.com/eteran/meshvault/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()

	db, err := database.Open(t.Context(), database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "meta.sqlite")))
	require.NoError(t, err, "database.Open error")
	t.Cleanup(func() { _ = db.Close() })

	return catalog.NewStore(db)
}

func chairInput() catalog.Input {
	return catalog.Input{
		Title:       "  Chair ",
		Description: "A wooden chair",
		Poly:        "Low Poly",
		Price:       "$75.00",
		Technical:   &catalog.Technical{Objects: 1, Vertices: 512, Edges: 1000, Faces: 490, Triangles: 980},
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	created, err := store.Create(t.Context(), chairInput())
	require.NoError(t, err, "Create error")
	require.Equal(t, "Chair", created.Title, "fields are trimmed")
	require.Equal(t, catalog.Vector3{1, 1, 1}, created.Scale, "default scale")
	require.Equal(t, catalog.Vector3{0, 0, 0}, created.Rotation, "default rotation")

	got, err := store.Get(t.Context(), created.ID)
	require.NoError(t, err, "Get error")
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, int64(512), got.Technical.Vertices)
	require.Equal(t, "$75.00", got.Price)

	exists, err := store.Exists(t.Context(), created.ID)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCreateRequiresFields(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	in := chairInput()
	in.Technical = nil
	_, err := store.Create(t.Context(), in)
	require.ErrorIs(t, err, catalog.ErrInvalid)

	in = chairInput()
	in.Title = "   "
	_, err = store.Create(t.Context(), in)
	require.ErrorIs(t, err, catalog.ErrInvalid)
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	created, err := store.Create(t.Context(), chairInput())
	require.NoError(t, err)

	in := chairInput()
	in.Title = "Armchair"
	in.Rotation = &catalog.Vector3{0, 1.5707963, 0}
	updated, err := store.Update(t.Context(), created.ID, in)
	require.NoError(t, err, "Update error")
	require.Equal(t, "Armchair", updated.Title)
	require.Equal(t, created.CreatedAt.Unix(), updated.CreatedAt.Unix(), "createdAt is preserved")

	got, err := store.Get(t.Context(), created.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.5707963, got.Rotation[1], 1e-9)

	require.NoError(t, store.Delete(t.Context(), created.ID))

	_, err = store.Get(t.Context(), created.ID)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	exists, err := store.Exists(t.Context(), created.ID)
	require.NoError(t, err)
	require.False(t, exists)

	require.ErrorIs(t, store.Delete(t.Context(), created.ID), catalog.ErrNotFound)
	_, err = store.Update(t.Context(), created.ID, chairInput())
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestListAndGetMany(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	a, err := store.Create(t.Context(), chairInput())
	require.NoError(t, err)
	b, err := store.Create(t.Context(), chairInput())
	require.NoError(t, err)

	all, err := store.List(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)

	many, err := store.GetMany(t.Context(), []string{a.ID, b.ID, uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, many, 2, "unknown ids are skipped")
	require.Contains(t, many, a.ID)
	require.Contains(t, many, b.ID)

	empty, err := store.GetMany(t.Context(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}
