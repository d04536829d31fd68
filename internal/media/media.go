// Package media implements the upload, retrieval, replacement and deletion
// pipelines that tie stored blobs to ledger entries.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/eteran/meshvault/internal/catalog"
	"github.com/eteran/meshvault/internal/ledger"
	"github.com/eteran/meshvault/internal/metrics"
	"github.com/eteran/meshvault/internal/storage"

	"github.com/google/uuid"
)

var (
	// ErrValidation is returned for a missing or malformed input, before any
	// store has been touched.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the ledger entry, its blob or the owning
	// catalog entry does not exist. The lower-level sentinel is wrapped
	// alongside it.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by Replace when another replacement of the same
	// entry won the race.
	ErrConflict = errors.New("conflicting update")

	// ErrStorage is returned when the blob store or the ledger fails on the
	// primary path of an operation.
	ErrStorage = errors.New("storage failure")
)

// Ledger is the subset of the ledger store used by the pipelines.
type Ledger interface {
	Create(ctx context.Context, kind ledger.Kind, catalogEntryID string, blobID string, fileName string) (ledger.Entry, error)
	FindByID(ctx context.Context, kind ledger.Kind, id string) (ledger.Entry, error)
	FindAllByCatalogEntryID(ctx context.Context, kind ledger.Kind, catalogEntryID string) ([]ledger.Entry, error)
	ListAll(ctx context.Context, kind ledger.Kind) ([]ledger.Entry, error)
	Update(ctx context.Context, kind ledger.Kind, id string, expectedVersion int64, blobID string, fileName string) (ledger.Entry, error)
	Delete(ctx context.Context, kind ledger.Kind, id string) error
}

// Catalog answers whether a catalog entry exists.
type Catalog interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// UploadRequest describes a new payload to attach to a catalog entry.
type UploadRequest struct {
	CatalogEntryID string
	FileName       string
	Content        io.Reader
}

// ReplaceRequest describes new content for an existing ledger entry.
type ReplaceRequest struct {
	ID       string
	FileName string
	Content  io.Reader
}

// Content is an open stream over a stored payload. The caller must close
// Reader.
type Content struct {
	Reader      io.ReadCloser
	ContentType string
	FileName    string
	Entry       ledger.Entry
}

// Service runs the pipelines for a single kind of payload.
type Service struct {
	kind    ledger.Kind
	ledger  Ledger
	blobs   storage.Store
	catalog Catalog
	metrics *metrics.Metrics
}

// NewService returns a Service for kind. m may be nil.
func NewService(kind ledger.Kind, entries Ledger, blobs storage.Store, catalog Catalog, m *metrics.Metrics) *Service {
	return &Service{
		kind:    kind,
		ledger:  entries,
		blobs:   blobs,
		catalog: catalog,
		metrics: m,
	}
}

// Kind returns the kind of payload the service manages.
func (s *Service) Kind() ledger.Kind {
	return s.kind
}

func (s *Service) bucket() string {
	return s.kind.Bucket()
}

func (s *Service) defaultFileName() string {
	return fmt.Sprintf("%s-%d", s.kind, time.Now().UnixMilli())
}

// Upload stores the content and records a new ledger entry for it.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (ledger.Entry, error) {
	catalogEntryID := strings.TrimSpace(req.CatalogEntryID)
	if catalogEntryID == "" {
		return ledger.Entry{}, fmt.Errorf("%w: catalog entry id is required", ErrValidation)
	}
	if _, err := uuid.Parse(catalogEntryID); err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: malformed catalog entry id %q", ErrValidation, catalogEntryID)
	}
	if req.Content == nil {
		return ledger.Entry{}, fmt.Errorf("%w: no file uploaded", ErrValidation)
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = s.defaultFileName()
	}

	exists, err := s.catalog.Exists(ctx, catalogEntryID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: check catalog entry: %w", ErrStorage, err)
	}
	if !exists {
		return ledger.Entry{}, fmt.Errorf("%w: %w: %s", ErrNotFound, catalog.ErrNotFound, catalogEntryID)
	}

	blob, err := s.blobs.Put(ctx, s.bucket(), req.Content, fileName)
	if err != nil {
		s.metrics.Upload(string(s.kind), "storage_error", 0)
		return ledger.Entry{}, fmt.Errorf("%w: store %s: %w", ErrStorage, s.kind, err)
	}

	entry, err := s.ledger.Create(ctx, s.kind, catalogEntryID, blob.ID, fileName)
	if err != nil {
		slog.Error("Ledger write failed after storing blob", "kind", s.kind, "blob_id", blob.ID, "err", err)
		s.metrics.OrphanedBlob(string(s.kind))
		s.metrics.Upload(string(s.kind), "ledger_error", 0)
		s.discardBlob(ctx, blob.ID, "upload")
		return ledger.Entry{}, fmt.Errorf("%w: record %s: %w", ErrStorage, s.kind, err)
	}

	s.metrics.Upload(string(s.kind), "ok", blob.Size)
	slog.Info("Stored upload", "kind", s.kind, "id", entry.ID, "blob_id", blob.ID, "size", blob.Size, "name", fileName)
	return entry, nil
}

// Get returns the metadata of a single ledger entry.
func (s *Service) Get(ctx context.Context, id string) (ledger.Entry, error) {
	entry, err := s.ledger.FindByID(ctx, s.kind, id)
	if err != nil {
		return ledger.Entry{}, s.ledgerError(err)
	}
	return entry, nil
}

// List returns every ledger entry of the service's kind, oldest first.
func (s *Service) List(ctx context.Context) ([]ledger.Entry, error) {
	entries, err := s.ledger.ListAll(ctx, s.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return entries, nil
}

// ListByCatalogEntryID returns the entries owned by a catalog entry, oldest
// first. An unknown catalog entry yields an empty list.
func (s *Service) ListByCatalogEntryID(ctx context.Context, catalogEntryID string) ([]ledger.Entry, error) {
	entries, err := s.ledger.FindAllByCatalogEntryID(ctx, s.kind, catalogEntryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return entries, nil
}

// StreamByID opens the payload referenced by a ledger entry.
func (s *Service) StreamByID(ctx context.Context, id string) (Content, error) {
	entry, err := s.ledger.FindByID(ctx, s.kind, id)
	if err != nil {
		return Content{}, s.ledgerError(err)
	}

	rc, err := s.blobs.Get(ctx, s.bucket(), entry.BlobID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("Ledger entry references a missing blob", "kind", s.kind, "id", entry.ID, "blob_id", entry.BlobID)
		return Content{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return Content{}, fmt.Errorf("%w: open %s %s: %w", ErrStorage, s.kind, entry.ID, err)
	}

	return Content{
		Reader:      rc,
		ContentType: ContentTypeFor(entry.OriginalFileName),
		FileName:    entry.OriginalFileName,
		Entry:       entry,
	}, nil
}

// Replace swaps the payload of an existing entry for new content. The entry
// keeps its id and catalog entry. Deleting the previous blob is best-effort.
func (s *Service) Replace(ctx context.Context, req ReplaceRequest) (ledger.Entry, error) {
	current, err := s.ledger.FindByID(ctx, s.kind, req.ID)
	if err != nil {
		return ledger.Entry{}, s.ledgerError(err)
	}

	if req.Content == nil {
		return ledger.Entry{}, fmt.Errorf("%w: no file uploaded", ErrValidation)
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = s.defaultFileName()
	}

	s.discardBlob(ctx, current.BlobID, "replace")

	blob, err := s.blobs.Put(ctx, s.bucket(), req.Content, fileName)
	if err != nil {
		s.metrics.Upload(string(s.kind), "storage_error", 0)
		return ledger.Entry{}, fmt.Errorf("%w: store %s: %w", ErrStorage, s.kind, err)
	}

	updated, err := s.ledger.Update(ctx, s.kind, current.ID, current.Version, blob.ID, fileName)
	if err != nil {
		s.discardBlob(ctx, blob.ID, "replace")

		switch {
		case errors.Is(err, ledger.ErrVersionConflict):
			s.metrics.Upload(string(s.kind), "conflict", 0)
			return ledger.Entry{}, fmt.Errorf("%w: %w", ErrConflict, err)
		case errors.Is(err, ledger.ErrNotFound):
			s.metrics.Upload(string(s.kind), "ledger_error", 0)
			return ledger.Entry{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		default:
			s.metrics.OrphanedBlob(string(s.kind))
			s.metrics.Upload(string(s.kind), "ledger_error", 0)
			return ledger.Entry{}, fmt.Errorf("%w: update %s: %w", ErrStorage, s.kind, err)
		}
	}

	s.metrics.Upload(string(s.kind), "ok", blob.Size)
	slog.Info("Replaced payload", "kind", s.kind, "id", updated.ID, "old_blob_id", current.BlobID, "blob_id", blob.ID)
	return updated, nil
}

// DeleteByID removes the ledger entry and then its blob. A failure to remove
// the blob is logged and counted but not returned.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	entry, err := s.ledger.FindByID(ctx, s.kind, id)
	if err != nil {
		return s.ledgerError(err)
	}

	if err := s.ledger.Delete(ctx, s.kind, entry.ID); err != nil {
		return s.ledgerError(err)
	}

	s.discardBlob(ctx, entry.BlobID, "delete")
	slog.Info("Deleted entry", "kind", s.kind, "id", entry.ID, "blob_id", entry.BlobID)
	return nil
}

// DeleteAllForCatalogEntry deletes every entry owned by the catalog entry and
// returns how many were removed.
func (s *Service) DeleteAllForCatalogEntry(ctx context.Context, catalogEntryID string) (int, error) {
	entries, err := s.ListByCatalogEntryID(ctx, catalogEntryID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		err := s.DeleteByID(ctx, entry.ID)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, ErrNotFound):
			// Removed concurrently.
		default:
			return deleted, err
		}
	}

	return deleted, nil
}

// discardBlob is the best-effort cleanup shared by every pipeline. It runs
// even if ctx was cancelled so an aborted request still cleans up after
// itself.
func (s *Service) discardBlob(ctx context.Context, blobID string, op string) {
	err := s.blobs.Delete(context.WithoutCancel(ctx), s.bucket(), blobID)
	if err == nil {
		return
	}

	if errors.Is(err, storage.ErrNotFound) {
		slog.Debug("Blob already gone", "kind", s.kind, "op", op, "blob_id", blobID)
		return
	}

	slog.Warn("Failed to delete blob", "kind", s.kind, "op", op, "blob_id", blobID, "err", err)
	s.metrics.CleanupFailure(string(s.kind), op)
}

func (s *Service) ledgerError(err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
