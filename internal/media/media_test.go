package media_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eteran/meshvault/internal/catalog"
	"github.com/eteran/meshvault/internal/database"
	"github.com/eteran/meshvault/internal/ledger"
	"github.com/eteran/meshvault/internal/media"
	"github.com/eteran/meshvault/internal/metrics"
	"github.com/eteran/meshvault/internal/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errInjected = errors.New("injected failure")

// catalogSet is a Catalog backed by a fixed set of ids.
type catalogSet map[string]bool

func (c catalogSet) Exists(_ context.Context, id string) (bool, error) {
	return c[id], nil
}

// faultyStore wraps a Store and fails selected operations on demand.
type faultyStore struct {
	storage.Store

	mu         sync.Mutex
	failPut    bool
	failDelete bool
	beforePut  func()
}

func (s *faultyStore) Put(ctx context.Context, bucket string, r io.Reader, name string) (storage.Blob, error) {
	s.mu.Lock()
	fail := s.failPut
	hook := s.beforePut
	s.beforePut = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return storage.Blob{}, errInjected
	}
	return s.Store.Put(ctx, bucket, r, name)
}

func (s *faultyStore) Delete(ctx context.Context, bucket string, id string) error {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()

	if fail {
		return errInjected
	}
	return s.Store.Delete(ctx, bucket, id)
}

// faultyLedger fails Create while still delegating everything else.
type faultyLedger struct {
	media.Ledger
}

func (l faultyLedger) Create(context.Context, ledger.Kind, string, string, string) (ledger.Entry, error) {
	return ledger.Entry{}, errInjected
}

type fixture struct {
	service   *media.Service
	ledger    *ledger.Store
	blobs     *storage.MemoryStorage
	faulty    *faultyStore
	metrics   *metrics.Metrics
	catalogID string
}

func newFixture(t *testing.T, kind ledger.Kind) *fixture {
	t.Helper()

	db, err := database.Open(t.Context(), database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "meta.sqlite")))
	require.NoError(t, err, "database.Open error")
	t.Cleanup(func() { _ = db.Close() })

	entries := ledger.NewStore(db)
	blobs := storage.NewMemoryStorage()
	faulty := &faultyStore{Store: blobs}
	m := metrics.New(prometheus.NewRegistry())
	catalogID := uuid.NewString()

	return &fixture{
		service:   media.NewService(kind, entries, faulty, catalogSet{catalogID: true}, m),
		ledger:    entries,
		blobs:     blobs,
		faulty:    faulty,
		metrics:   m,
		catalogID: catalogID,
	}
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()

	count := 0
	for _, kind := range []ledger.Kind{ledger.KindModel, ledger.KindThumbnail} {
		err := f.blobs.List(t.Context(), kind.Bucket(), func(storage.Blob) error {
			count++
			return nil
		})
		require.NoError(t, err)
	}
	return count
}

func readAll(t *testing.T, service *media.Service, id string) (media.Content, []byte) {
	t.Helper()

	content, err := service.StreamByID(t.Context(), id)
	require.NoError(t, err, "StreamByID error")
	defer content.Reader.Close()

	data, err := io.ReadAll(content.Reader)
	require.NoError(t, err)
	return content, data
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestUploadThenStreamReturnsSameBytes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	payload := make([]byte, 10<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	entry, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "chair.glb",
		Content:        bytes.NewReader(payload),
	})
	require.NoError(t, err, "Upload error")
	require.Equal(t, "chair.glb", entry.OriginalFileName)
	require.Equal(t, f.catalogID, entry.CatalogEntryID)

	content, data := readAll(t, f.service, entry.ID)
	require.Equal(t, media.ContentTypeGLB, content.ContentType)
	require.Equal(t, "chair.glb", content.FileName)
	require.True(t, bytes.Equal(payload, data), "streamed bytes differ from upload")

	require.Equal(t, 1.0, counterValue(t, f.metrics.Uploads.WithLabelValues("model", "ok")))
	require.Equal(t, float64(len(payload)), counterValue(t, f.metrics.UploadBytes.WithLabelValues("model")))
}

func TestUploadDefaultsFileName(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	entry, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		Content:        bytes.NewReader([]byte("png")),
	})
	require.NoError(t, err)
	require.Regexp(t, `^thumbnail-\d+$`, entry.OriginalFileName)
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	tests := []struct {
		name string
		req  media.UploadRequest
	}{
		{"missing catalog id", media.UploadRequest{Content: bytes.NewReader([]byte("x"))}},
		{"malformed catalog id", media.UploadRequest{CatalogEntryID: "A1", Content: bytes.NewReader([]byte("x"))}},
		{"missing content", media.UploadRequest{CatalogEntryID: f.catalogID, FileName: "a.glb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Upload(t.Context(), tt.req)
			require.ErrorIs(t, err, media.ErrValidation)
		})
	}

	require.Zero(t, f.blobCount(t), "validation failures must not store blobs")
}

func TestUploadUnknownCatalogEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	_, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: uuid.NewString(),
		FileName:       "chair.glb",
		Content:        bytes.NewReader([]byte("glb")),
	})
	require.ErrorIs(t, err, media.ErrNotFound)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	require.Zero(t, f.blobCount(t), "no blob for an unknown catalog entry")
	entries, err := f.service.List(t.Context())
	require.NoError(t, err)
	require.Empty(t, entries, "no ledger entry for an unknown catalog entry")
}

func TestUploadStorageFailureCreatesNoEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)
	f.faulty.failPut = true

	_, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "chair.glb",
		Content:        bytes.NewReader([]byte("glb")),
	})
	require.ErrorIs(t, err, media.ErrStorage)
	require.ErrorIs(t, err, errInjected)

	entries, err := f.service.List(t.Context())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUploadAbortedStreamCreatesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	body := io.MultiReader(bytes.NewReader([]byte("partial")), iotestErrReader{})
	_, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "chair.glb",
		Content:        body,
	})
	require.ErrorIs(t, err, media.ErrStorage)

	require.Zero(t, f.blobCount(t))
	entries, err := f.service.List(t.Context())
	require.NoError(t, err)
	require.Empty(t, entries)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestUploadLedgerFailureRemovesFreshBlob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)
	service := media.NewService(ledger.KindModel, faultyLedger{Ledger: f.ledger}, f.blobs, catalogSet{f.catalogID: true}, f.metrics)

	_, err := service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "chair.glb",
		Content:        bytes.NewReader([]byte("glb")),
	})
	require.ErrorIs(t, err, media.ErrStorage)
	require.Zero(t, f.blobCount(t), "the unreferenced blob is removed")
	require.Equal(t, 1.0, counterValue(t, f.metrics.OrphanedBlobs.WithLabelValues("model")))
}

func TestStreamUnknownAndDangling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	_, err := f.service.StreamByID(t.Context(), uuid.NewString())
	require.ErrorIs(t, err, media.ErrNotFound)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	entry, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "thumb.png",
		Content:        bytes.NewReader([]byte("png")),
	})
	require.NoError(t, err)

	require.NoError(t, f.blobs.Delete(t.Context(), ledger.KindThumbnail.Bucket(), entry.BlobID))

	_, err = f.service.StreamByID(t.Context(), entry.ID)
	require.ErrorIs(t, err, media.ErrNotFound)
	require.ErrorIs(t, err, storage.ErrNotFound, "a missing blob is distinguishable from a missing entry")
	require.NotErrorIs(t, err, ledger.ErrNotFound)
}

func TestReplaceServesNewContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	original, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "old.png",
		Content:        bytes.NewReader([]byte("old content")),
	})
	require.NoError(t, err)

	updated, err := f.service.Replace(t.Context(), media.ReplaceRequest{
		ID:       original.ID,
		FileName: "new.png",
		Content:  bytes.NewReader([]byte("new content")),
	})
	require.NoError(t, err, "Replace error")
	require.Equal(t, original.ID, updated.ID)
	require.Equal(t, original.CatalogEntryID, updated.CatalogEntryID)
	require.NotEqual(t, original.BlobID, updated.BlobID)
	require.Equal(t, "new.png", updated.OriginalFileName)

	_, data := readAll(t, f.service, original.ID)
	require.Equal(t, "new content", string(data))

	_, err = f.blobs.Stat(t.Context(), ledger.KindThumbnail.Bucket(), original.BlobID)
	require.ErrorIs(t, err, storage.ErrNotFound, "the superseded blob is gone")
	require.Equal(t, 1, f.blobCount(t))
}

func TestReplaceAfterOldBlobDeletedOutOfBand(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	original, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "old.png",
		Content:        bytes.NewReader([]byte("old")),
	})
	require.NoError(t, err)
	require.NoError(t, f.blobs.Delete(t.Context(), ledger.KindThumbnail.Bucket(), original.BlobID))

	_, err = f.service.Replace(t.Context(), media.ReplaceRequest{
		ID:       original.ID,
		FileName: "new.png",
		Content:  bytes.NewReader([]byte("new")),
	})
	require.NoError(t, err, "a missing old blob must not fail the replacement")

	_, data := readAll(t, f.service, original.ID)
	require.Equal(t, "new", string(data))
}

func TestReplaceToleratesOldBlobDeleteFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	original, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "a.gltf",
		Content:        bytes.NewReader([]byte("{}")),
	})
	require.NoError(t, err)

	f.faulty.failDelete = true
	updated, err := f.service.Replace(t.Context(), media.ReplaceRequest{
		ID:       original.ID,
		FileName: "b.glb",
		Content:  bytes.NewReader([]byte("glb")),
	})
	require.NoError(t, err)
	require.Equal(t, "b.glb", updated.OriginalFileName)
	require.Equal(t, 1.0, counterValue(t, f.metrics.CleanupFailures.WithLabelValues("model", "replace")))
}

func TestReplaceErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	_, err := f.service.Replace(t.Context(), media.ReplaceRequest{
		ID:      uuid.NewString(),
		Content: bytes.NewReader([]byte("x")),
	})
	require.ErrorIs(t, err, media.ErrNotFound)

	original, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "a.glb",
		Content:        bytes.NewReader([]byte("a")),
	})
	require.NoError(t, err)

	_, err = f.service.Replace(t.Context(), media.ReplaceRequest{ID: original.ID})
	require.ErrorIs(t, err, media.ErrValidation)

	_, data := readAll(t, f.service, original.ID)
	require.Equal(t, "a", string(data), "a rejected replacement leaves the payload alone")

	f.faulty.failPut = true
	_, err = f.service.Replace(t.Context(), media.ReplaceRequest{
		ID:      original.ID,
		Content: bytes.NewReader([]byte("b")),
	})
	require.ErrorIs(t, err, media.ErrStorage)

	current, err := f.service.Get(t.Context(), original.ID)
	require.NoError(t, err)
	require.Equal(t, original.BlobID, current.BlobID, "the ledger is unchanged after a failed put")
}

func TestReplaceLosesRace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	original, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "old.png",
		Content:        bytes.NewReader([]byte("old")),
	})
	require.NoError(t, err)

	// Another writer replaces the entry while this replacement is uploading.
	var winner storage.Blob
	f.faulty.beforePut = func() {
		winner, err = f.blobs.Put(t.Context(), ledger.KindThumbnail.Bucket(), bytes.NewReader([]byte("winner")), "winner.png")
		require.NoError(t, err)
		_, err = f.ledger.Update(t.Context(), ledger.KindThumbnail, original.ID, original.Version, winner.ID, "winner.png")
		require.NoError(t, err)
	}

	_, err = f.service.Replace(t.Context(), media.ReplaceRequest{
		ID:       original.ID,
		FileName: "loser.png",
		Content:  bytes.NewReader([]byte("loser")),
	})
	require.ErrorIs(t, err, media.ErrConflict)
	require.ErrorIs(t, err, ledger.ErrVersionConflict)

	_, data := readAll(t, f.service, original.ID)
	require.Equal(t, "winner", string(data))
	require.Equal(t, 1, f.blobCount(t), "the losing blob is cleaned up")
}

func TestConcurrentReplaceKeepsOneBlob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	original, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "v0.glb",
		Content:        bytes.NewReader([]byte("v0")),
	})
	require.NoError(t, err)

	const writers = 8
	var (
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	var eg errgroup.Group
	for i := range writers {
		eg.Go(func() error {
			_, err := f.service.Replace(t.Context(), media.ReplaceRequest{
				ID:       original.ID,
				FileName: "v.glb",
				Content:  bytes.NewReader([]byte{byte(i)}),
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, media.ErrConflict):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	require.Equal(t, writers, succeeded+conflicts)
	require.GreaterOrEqual(t, succeeded, 1)

	current, err := f.service.Get(t.Context(), original.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.blobCount(t), "only the referenced blob survives")

	_, err = f.blobs.Stat(t.Context(), ledger.KindModel.Bucket(), current.BlobID)
	require.NoError(t, err)
}

func TestConcurrentUploadsAreIndependent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	const uploads = 16
	ids := catalogSet{}
	for range uploads {
		ids[uuid.NewString()] = true
	}
	service := media.NewService(ledger.KindModel, f.ledger, f.blobs, ids, nil)

	var (
		mu      sync.Mutex
		entries []ledger.Entry
	)

	var eg errgroup.Group
	for catalogID := range ids {
		eg.Go(func() error {
			entry, err := service.Upload(t.Context(), media.UploadRequest{
				CatalogEntryID: catalogID,
				FileName:       catalogID + ".glb",
				Content:        bytes.NewReader([]byte(catalogID)),
			})
			if err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Len(t, entries, uploads)

	ledgerIDs := map[string]struct{}{}
	blobIDs := map[string]struct{}{}
	for _, entry := range entries {
		ledgerIDs[entry.ID] = struct{}{}
		blobIDs[entry.BlobID] = struct{}{}

		_, data := readAll(t, service, entry.ID)
		require.Equal(t, entry.CatalogEntryID, string(data))
	}
	require.Len(t, ledgerIDs, uploads, "distinct ledger ids")
	require.Len(t, blobIDs, uploads, "distinct blob ids")
}

func TestDeleteByID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	entry, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "thumb.png",
		Content:        bytes.NewReader([]byte("png")),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteByID(t.Context(), entry.ID))

	_, err = f.service.Get(t.Context(), entry.ID)
	require.ErrorIs(t, err, media.ErrNotFound)
	require.Zero(t, f.blobCount(t))

	require.ErrorIs(t, f.service.DeleteByID(t.Context(), entry.ID), media.ErrNotFound)
}

func TestDeleteSucceedsWhenBlobDeleteFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindThumbnail)

	entry, err := f.service.Upload(t.Context(), media.UploadRequest{
		CatalogEntryID: f.catalogID,
		FileName:       "thumb.png",
		Content:        bytes.NewReader([]byte("png")),
	})
	require.NoError(t, err)

	f.faulty.failDelete = true
	require.NoError(t, f.service.DeleteByID(t.Context(), entry.ID))

	_, err = f.service.Get(t.Context(), entry.ID)
	require.ErrorIs(t, err, media.ErrNotFound)
	require.Equal(t, 1.0, counterValue(t, f.metrics.CleanupFailures.WithLabelValues("thumbnail", "delete")))
}

func TestListAndDeleteAllForCatalogEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ledger.KindModel)

	for _, name := range []string{"a.glb", "b.glb", "c.gltf"} {
		_, err := f.service.Upload(t.Context(), media.UploadRequest{
			CatalogEntryID: f.catalogID,
			FileName:       name,
			Content:        bytes.NewReader([]byte(name)),
		})
		require.NoError(t, err)
	}

	entries, err := f.service.ListByCatalogEntryID(t.Context(), f.catalogID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "a.glb", entries[0].OriginalFileName, "oldest first")

	deleted, err := f.service.DeleteAllForCatalogEntry(t.Context(), f.catalogID)
	require.NoError(t, err)
	require.Equal(t, 3, deleted)
	require.Zero(t, f.blobCount(t))

	entries, err = f.service.ListByCatalogEntryID(t.Context(), f.catalogID)
	require.NoError(t, err)
	require.Empty(t, entries)
}
