package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a blob id is unknown to the store.
var ErrNotFound = errors.New("blob not found")

// Blob describes a stored payload. The payload itself is only ever accessed
// as a stream.
type Blob struct {
	ID         string    `json:"id"`
	Bucket     string    `json:"bucket"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store defines the interface for a storage backend that manages binary
// payloads organized into buckets and addressed by opaque, store-minted ids.
type Store interface {
	// Put consumes r until EOF and persists its contents under a newly minted
	// id. Either the whole stream is stored and the id returned, or an error
	// is returned and nothing is visible to readers.
	Put(ctx context.Context, bucket string, r io.Reader, suggestedName string) (Blob, error)

	// Get opens a forward-only stream over a stored payload. The caller must
	// close it.
	Get(ctx context.Context, bucket string, id string) (io.ReadCloser, error)

	// Delete removes the payload associated with id.
	Delete(ctx context.Context, bucket string, id string) error

	// Stat returns metadata for a stored payload without opening it.
	Stat(ctx context.Context, bucket string, id string) (Blob, error)

	// List calls fn for every payload in the bucket. Iteration stops at the
	// first error returned by fn.
	List(ctx context.Context, bucket string, fn func(Blob) error) error
}

// NewID mints a new blob id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id has the shape of an id minted by NewID. Stores
// use it to reject ids that could escape their bucket.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}
