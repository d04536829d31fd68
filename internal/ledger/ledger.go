package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when no ledger entry of the requested kind has
	// the given id.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrVersionConflict is returned by Update when the entry changed since
	// the caller read it.
	ErrVersionConflict = errors.New("ledger entry was modified concurrently")

	// ErrInvalid is returned when a required field is missing.
	ErrInvalid = errors.New("invalid ledger entry")
)

// Kind tags what a ledger entry points at. Both kinds share one schema.
type Kind string

const (
	KindModel     Kind = "model"
	KindThumbnail Kind = "thumbnail"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindModel || k == KindThumbnail
}

// Bucket returns the blob namespace that payloads of this kind live in.
func (k Kind) Bucket() string {
	switch k {
	case KindModel:
		return "models"
	case KindThumbnail:
		return "thumbnails"
	default:
		return ""
	}
}

// Entry links one stored blob to the catalog entry that owns it.
type Entry struct {
	ID               string    `db:"id" json:"id"`
	Kind             Kind      `db:"kind" json:"kind"`
	CatalogEntryID   string    `db:"catalog_entry_id" json:"catalogEntryId"`
	BlobID           string    `db:"blob_id" json:"blobId"`
	OriginalFileName string    `db:"original_file_name" json:"originalFileName"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

const entryColumns = `id, kind, catalog_entry_id, blob_id, original_file_name, version, created_at, updated_at`

// Store persists ledger entries in a SQL database.
type Store struct {
	db *sqlx.DB
}

// NewStore returns a Store using db, whose schema must already be applied.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create records a new entry pointing at blobID. The caller is responsible
// for checking that catalogEntryID exists.
func (s *Store) Create(ctx context.Context, kind Kind, catalogEntryID string, blobID string, fileName string) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	if catalogEntryID == "" || blobID == "" {
		return Entry{}, fmt.Errorf("%w: catalog entry id and blob id are required", ErrInvalid)
	}

	now := time.Now().UTC()
	entry := Entry{
		ID:               uuid.NewString(),
		Kind:             kind,
		CatalogEntryID:   catalogEntryID,
		BlobID:           blobID,
		OriginalFileName: fileName,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO ledger_entries(`+entryColumns+`)
		 VALUES(:id, :kind, :catalog_entry_id, :blob_id, :original_file_name, :version, :created_at, :updated_at)`,
		entry,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	return entry, nil
}

// FindByID loads a single entry.
func (s *Store) FindByID(ctx context.Context, kind Kind, id string) (Entry, error) {
	var entry Entry
	err := s.db.GetContext(ctx, &entry,
		s.db.Rebind(`SELECT `+entryColumns+` FROM ledger_entries WHERE kind = ? AND id = ?`),
		kind, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("select ledger entry: %w", err)
	}
	return entry, nil
}

// FindAllByCatalogEntryID returns every entry of the kind owned by the
// catalog entry, oldest first.
func (s *Store) FindAllByCatalogEntryID(ctx context.Context, kind Kind, catalogEntryID string) ([]Entry, error) {
	entries := []Entry{}
	err := s.db.SelectContext(ctx, &entries,
		s.db.Rebind(`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE kind = ? AND catalog_entry_id = ?
		 ORDER BY created_at, id`),
		kind, catalogEntryID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries by catalog entry: %w", err)
	}
	return entries, nil
}

// ListAll returns every entry of the kind, oldest first.
func (s *Store) ListAll(ctx context.Context, kind Kind) ([]Entry, error) {
	entries := []Entry{}
	err := s.db.SelectContext(ctx, &entries,
		s.db.Rebind(`SELECT `+entryColumns+` FROM ledger_entries WHERE kind = ? ORDER BY created_at, id`),
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	return entries, nil
}

// Update points the entry at a new blob. When expectedVersion is non-zero
// the update only applies if the stored version still matches, otherwise it
// fails with ErrVersionConflict. The catalog entry id is never changed.
func (s *Store) Update(ctx context.Context, kind Kind, id string, expectedVersion int64, blobID string, fileName string) (Entry, error) {
	if blobID == "" {
		return Entry{}, fmt.Errorf("%w: blob id is required", ErrInvalid)
	}

	now := time.Now().UTC()

	query := `UPDATE ledger_entries
		 SET blob_id = ?, original_file_name = ?, updated_at = ?, version = version + 1
		 WHERE kind = ? AND id = ?`
	args := []any{blobID, fileName, now, kind, id}
	if expectedVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return Entry{}, fmt.Errorf("update ledger entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("update ledger entry: %w", err)
	}

	if rows == 0 {
		// Either the entry is gone or someone else bumped the version.
		if _, err := s.FindByID(ctx, kind, id); err != nil {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("%w: %s %s", ErrVersionConflict, kind, id)
	}

	return s.FindByID(ctx, kind, id)
}

// Delete removes the entry. It does not touch the referenced blob.
func (s *Store) Delete(ctx context.Context, kind Kind, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM ledger_entries WHERE kind = ? AND id = ?`),
		kind, id,
	)
	if err != nil {
		return fmt.Errorf("delete ledger entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ledger entry: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
