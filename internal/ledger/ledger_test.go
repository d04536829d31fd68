package ledger_test

import (
	"path/filepath"
	"testing"

	"github.com/eteran/meshvault/internal/database"
	"github.com/eteran/meshvault/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()

	db, err := database.Open(t.Context(), database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "meta.sqlite")))
	require.NoError(t, err, "database.Open error")
	t.Cleanup(func() { _ = db.Close() })

	return ledger.NewStore(db)
}

func TestCreateAndFind(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	catalogID := uuid.NewString()
	blobID := uuid.NewString()

	created, err := store.Create(t.Context(), ledger.KindModel, catalogID, blobID, "chair.glb")
	require.NoError(t, err, "Create error")
	require.NotEmpty(t, created.ID, "ledger id")
	require.Equal(t, int64(1), created.Version, "initial version")

	found, err := store.FindByID(t.Context(), ledger.KindModel, created.ID)
	require.NoError(t, err, "FindByID error")
	require.Equal(t, catalogID, found.CatalogEntryID)
	require.Equal(t, blobID, found.BlobID)
	require.Equal(t, "chair.glb", found.OriginalFileName)
	require.Equal(t, ledger.KindModel, found.Kind)
	require.WithinDuration(t, created.CreatedAt, found.CreatedAt, 0)
}

func TestFindByIDIsScopedByKind(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	created, err := store.Create(t.Context(), ledger.KindModel, uuid.NewString(), uuid.NewString(), "a.glb")
	require.NoError(t, err)

	_, err = store.FindByID(t.Context(), ledger.KindThumbnail, created.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound, "a model id must not resolve as a thumbnail")
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Create(t.Context(), ledger.Kind("texture"), uuid.NewString(), uuid.NewString(), "a.png")
	require.ErrorIs(t, err, ledger.ErrInvalid, "unknown kind")

	_, err = store.Create(t.Context(), ledger.KindModel, "", uuid.NewString(), "a.glb")
	require.ErrorIs(t, err, ledger.ErrInvalid, "missing catalog entry id")

	_, err = store.Create(t.Context(), ledger.KindModel, uuid.NewString(), "", "a.glb")
	require.ErrorIs(t, err, ledger.ErrInvalid, "missing blob id")
}

func TestFindAllByCatalogEntryID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	owner := uuid.NewString()
	other := uuid.NewString()

	first, err := store.Create(t.Context(), ledger.KindThumbnail, owner, uuid.NewString(), "first.png")
	require.NoError(t, err)
	second, err := store.Create(t.Context(), ledger.KindThumbnail, owner, uuid.NewString(), "second.png")
	require.NoError(t, err)
	_, err = store.Create(t.Context(), ledger.KindThumbnail, other, uuid.NewString(), "other.png")
	require.NoError(t, err)
	_, err = store.Create(t.Context(), ledger.KindModel, owner, uuid.NewString(), "model.glb")
	require.NoError(t, err)

	entries, err := store.FindAllByCatalogEntryID(t.Context(), ledger.KindThumbnail, owner)
	require.NoError(t, err)
	require.Len(t, entries, 2, "only thumbnails of the owner")

	ids := []string{entries[0].ID, entries[1].ID}
	require.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	none, err := store.FindAllByCatalogEntryID(t.Context(), ledger.KindThumbnail, uuid.NewString())
	require.NoError(t, err)
	require.NotNil(t, none, "empty results are an empty slice")
	require.Empty(t, none)

	all, err := store.ListAll(t.Context(), ledger.KindThumbnail)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	catalogID := uuid.NewString()

	created, err := store.Create(t.Context(), ledger.KindThumbnail, catalogID, uuid.NewString(), "old.png")
	require.NoError(t, err)

	newBlob := uuid.NewString()
	updated, err := store.Update(t.Context(), ledger.KindThumbnail, created.ID, created.Version, newBlob, "new.png")
	require.NoError(t, err, "Update error")
	require.Equal(t, created.ID, updated.ID, "ledger id is stable")
	require.Equal(t, catalogID, updated.CatalogEntryID, "catalog entry id is untouched")
	require.Equal(t, newBlob, updated.BlobID)
	require.Equal(t, "new.png", updated.OriginalFileName)
	require.Equal(t, created.Version+1, updated.Version)
	require.False(t, updated.UpdatedAt.Before(created.UpdatedAt), "updatedAt moves forward")
}

func TestUpdateVersionConflict(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	created, err := store.Create(t.Context(), ledger.KindThumbnail, uuid.NewString(), uuid.NewString(), "old.png")
	require.NoError(t, err)

	winner := uuid.NewString()
	_, err = store.Update(t.Context(), ledger.KindThumbnail, created.ID, created.Version, winner, "winner.png")
	require.NoError(t, err)

	_, err = store.Update(t.Context(), ledger.KindThumbnail, created.ID, created.Version, uuid.NewString(), "loser.png")
	require.ErrorIs(t, err, ledger.ErrVersionConflict, "stale version must be rejected")

	current, err := store.FindByID(t.Context(), ledger.KindThumbnail, created.ID)
	require.NoError(t, err)
	require.Equal(t, winner, current.BlobID, "winner's blob stays referenced")

	// A zero expected version is an unconditional write.
	_, err = store.Update(t.Context(), ledger.KindThumbnail, created.ID, 0, uuid.NewString(), "forced.png")
	require.NoError(t, err)
}

func TestUpdateAndDeleteUnknown(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	missing := uuid.NewString()

	_, err := store.Update(t.Context(), ledger.KindModel, missing, 0, uuid.NewString(), "a.glb")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = store.Update(t.Context(), ledger.KindModel, missing, 3, uuid.NewString(), "a.glb")
	require.ErrorIs(t, err, ledger.ErrNotFound, "missing entries are not reported as conflicts")

	require.ErrorIs(t, store.Delete(t.Context(), ledger.KindModel, missing), ledger.ErrNotFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	created, err := store.Create(t.Context(), ledger.KindModel, uuid.NewString(), uuid.NewString(), "a.glb")
	require.NoError(t, err)

	require.NoError(t, store.Delete(t.Context(), ledger.KindModel, created.ID))

	_, err = store.FindByID(t.Context(), ledger.KindModel, created.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestKindBucket(t *testing.T) {
	t.Parallel()

	require.Equal(t, "models", ledger.KindModel.Bucket())
	require.Equal(t, "thumbnails", ledger.KindThumbnail.Bucket())
	require.Empty(t, ledger.Kind("other").Bucket())
}
